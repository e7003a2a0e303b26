package bkgsub

import (
	"fmt"
	"math"
	"sync"

	"github.com/rs/zerolog"
)

// Accumulator combines one or more background exposures into a single
// averaged background matched to a target exposure's pixel frame, then
// optionally subtracts it. Sigma and MaxIters control every clip pass;
// MaxIters <= 0 means iterate until convergence.
type Accumulator struct {
	Sigma    float64
	MaxIters int

	log zerolog.Logger
}

// NewAccumulator returns an accumulator with the standard clip settings
// (3 sigma, 5 iterations) reporting through log.
func NewAccumulator(log zerolog.Logger) *Accumulator {
	return &Accumulator{
		Sigma:    3.0,
		MaxIters: 5,
		log:      log,
	}
}

// Average combines the named background exposures into a single 2D
// background exposure aligned with target. Each file contributes one frame:
// directly for single-integration files, or the sigma-clipped mean over
// integrations for stacks. Files with no spatial overlap contribute NaNs and
// are excluded by the final cross-file clip rather than treated as errors.
// The averaged error is the propagated uncertainty in the mean; pixels where
// every contribution was clipped come out NaN.
func (a *Accumulator) Average(target *Exposure, sources []string, open Opener) (*Exposure, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("no background exposures given")
	}

	tgt, err := NewImageSubset(target)
	if err != nil {
		return nil, fmt.Errorf("target geometry: %w", err)
	}

	h, w := target.Data.H(), target.Data.W()
	num := len(sources)

	// Map phase: every file computes its contribution into its own slot, so
	// the files can run concurrently without shared writes.
	cdata := NewCube(num, h, w)
	cerr := NewCube(num, h, w)
	fileDQ := make([]*DQCube, num)
	fileErr := make([]error, num)

	var wg sync.WaitGroup
	for i, src := range sources {
		wg.Add(1)
		go func(slot int, source string) {
			defer wg.Done()
			fileDQ[slot], fileErr[slot] = a.accumulateOne(tgt, source, open,
				cdata.Plane(slot), cerr.Plane(slot))
		}(i, src)
	}
	wg.Wait()

	for _, e := range fileErr {
		if e != nil {
			return nil, e
		}
	}

	// Reduce phase: OR the per-file bitmasks, then clip across files.
	accumDQ := NewDQCube(1, h, w)
	for _, d := range fileDQ {
		if d != nil {
			accumDQ.OrInto(d)
		}
	}

	a.log.Debug().Float64("sigma", a.Sigma).Int("maxiters", a.MaxIters).Msg("clipping across background files")
	rejected := sigmaClipAxis0(cdata, a.Sigma, a.MaxIters)

	avgData := NewCube(1, h, w)
	meanAxis0Into(avgData.Plane(0), cdata, rejected)

	// Uncertainty in the mean: sqrt of the summed retained variances over
	// the retained count. A pixel with nothing retained has a non-positive
	// denominator and propagates as NaN.
	varSums, nrej := sumCountAxis0(cerr, rejected)
	avgErr := NewCube(1, h, w)
	errVals := avgErr.Plane(0)
	for p, s := range varSums {
		denom := float64(num - nrej[p])
		if denom <= 0 {
			errVals[p] = math.NaN()
		} else {
			errVals[p] = math.Sqrt(s) / denom
		}
	}

	avg := &Exposure{
		Data: avgData,
		Err:  avgErr,
		DQ:   accumDQ,
		NDim: 2,
		Meta: Metadata{
			Filename:   "averaged background",
			Instrument: target.Meta.Instrument,
		},
	}
	if target.Meta.Subarray != nil {
		sub := *target.Meta.Subarray
		avg.Meta.Subarray = &sub
	}
	return avg, nil
}

// accumulateOne computes one background file's single-frame contribution
// into dataSlot/errSlot (errSlot receives variances) and returns the file's
// collapsed bitmask, or nil when the file does not overlap the target.
func (a *Accumulator) accumulateOne(tgt *ImageSubset, source string, open Opener,
	dataSlot, errSlot []float64) (*DQCube, error) {

	a.log.Info().Str("background", source).Msg("accumulating background exposure")

	exp, err := open.Open(source)
	if err != nil {
		return nil, fmt.Errorf("open background %s: %w", source, err)
	}
	defer exp.Close()

	bkg, err := NewImageSubset(exp)
	if err != nil {
		return nil, fmt.Errorf("background %s geometry: %w", source, err)
	}

	if !bkg.Overlaps(tgt) {
		a.log.Debug().Str("background", source).Msg("does not overlap target, contributing NaNs")
		for i := range dataSlot {
			dataSlot[i] = math.NaN()
			errSlot[i] = math.NaN()
		}
		return nil, nil
	}

	data, errOv, dq := tgt.ExtractOverlap(bkg)

	if data.N() == 1 {
		copy(dataSlot, data.Plane(0))
		for i, v := range errOv.Plane(0) {
			errSlot[i] = v * v
		}
		return dq, nil
	}

	// Multi-integration file: clip data and squared errors along the
	// integration axis and average the survivors into one frame.
	sq := errOv
	sqVals := sq.Vals()
	for i, v := range sqVals {
		sqVals[i] = v * v
	}
	rejData := sigmaClipAxis0(data, a.Sigma, a.MaxIters)
	rejErr := sigmaClipAxis0(sq, a.Sigma, a.MaxIters)
	meanAxis0Into(dataSlot, data, rejData)
	meanAxis0Into(errSlot, sq, rejErr)

	collapsed := NewDQCube(1, dq.H(), dq.W())
	collapsed.OrInto(dq)
	return collapsed, nil
}

// Subtract averages the named background exposures and subtracts the result
// from target. Both the averaged background and the subtracted exposure are
// returned.
func (a *Accumulator) Subtract(target *Exposure, sources []string, open Opener) (avg, result *Exposure, err error) {
	avg, err = a.Average(target, sources, open)
	if err != nil {
		return nil, nil, err
	}
	a.log.Info().Str("target", target.Meta.Filename).Msg("subtracting averaged background")
	result, err = SubtractExposure(target, avg)
	if err != nil {
		return nil, nil, err
	}
	return avg, result, nil
}
