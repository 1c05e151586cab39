package pipeline_test

import (
	"context"
	"fmt"
	"log"

	"github.com/cwbudde/algo-specstack/normalize"
	"github.com/cwbudde/algo-specstack/pipeline"
	"github.com/cwbudde/algo-specstack/spectra"
)

func ExamplePipeline_Run() {
	p, err := pipeline.New(pipeline.Config{
		GridMin:    1000,
		GridMax:    1004,
		GridStep:   1,
		GridKind:   spectra.StepLinear,
		Regions:    []normalize.Region{{Start: 1000, End: 1004}},
		MainRegion: 0,
		Stacker:    pipeline.StackMean,
	})
	if err != nil {
		log.Fatal(err)
	}

	wavelength := p.Grid().Wavelength()
	flat := func(id int64, level float64) *spectra.Spectrum {
		flux := make([]float64, len(wavelength))
		ivar := make([]float64, len(wavelength))
		for i := range flux {
			flux[i] = level
			ivar[i] = 1
		}
		s, err := spectra.New(id, 0, flux, ivar, wavelength)
		if err != nil {
			log.Fatal(err)
		}
		return s
	}

	res, err := p.Run(context.Background(), []*spectra.Spectrum{
		flat(1, 4),
		flat(2, 8),
	}, nil)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("%.2f %.2f %.2f %.2f\n",
		res.Stack.Flux[0], res.Stack.Flux[1], res.Stack.Flux[2], res.Stack.Flux[3])
	fmt.Printf("factors: %.0f %.0f\n", res.Factors.FinalFactor[0], res.Factors.FinalFactor[1])
	// Output:
	// 1.00 1.00 1.00 1.00
	// factors: 4 8
}
