package bkgsub

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"
)

// ErrInsufficientBackground signals that too few usable background pixels
// remain outside the cataloged source regions; callers branch on it with
// errors.Is and treat the subtraction as skipped.
var ErrInsufficientBackground = errors.New("insufficient background pixels")

// ErrNoData signals that no finite values were available for a statistic.
var ErrNoData = errors.New("no finite data")

// WFSS scales and subtracts a background reference template from slitless
// spectroscopy exposures, using only pixels outside the bounding boxes of
// cataloged sources to fit the scale factor.
type WFSS struct {
	// Catalog supplies per-source, per-order bounding boxes. When nil the
	// scaler runs in degraded mode with no source exclusion.
	Catalog GrismCatalog

	// MinPixels is the usable-pixel count the source mask must exceed for
	// the subtraction to proceed.
	MinPixels int

	// Percentile band retained by the robust means.
	LowPercentile  float64
	HighPercentile float64

	log zerolog.Logger
}

// NewWFSS returns a scaler with the standard gate (100 pixels) and trim band
// ([25, 75] percentiles) reporting through log.
func NewWFSS(catalog GrismCatalog, log zerolog.Logger) *WFSS {
	return &WFSS{
		Catalog:        catalog,
		MinPixels:      100,
		LowPercentile:  25,
		HighPercentile: 75,
		log:            log,
	}
}

// SufficientBackgroundPixels counts the mask-selected pixels whose bitmask
// does not carry the do-not-use flag and reports whether the count exceeds
// minPixels.
func SufficientBackgroundPixels(dq *DQCube, mask *BoolMask, minPixels int) bool {
	sel := mask.Vals()
	count := 0
	for k := 0; k < dq.N(); k++ {
		plane := dq.Plane(k)
		for i, v := range plane {
			if sel[i] && usableDQ(v) {
				count++
			}
		}
	}
	return count > minPixels
}

// NoNaN returns e unchanged when its data contains no NaNs; otherwise it
// returns a copy with NaNs replaced by fill, leaving e untouched.
func NoNaN(e *Exposure, fill float64) *Exposure {
	if !e.Data.HasNaN() {
		return e
	}
	out := e.Copy()
	vals := out.Data.Vals()
	for i, v := range vals {
		if math.IsNaN(v) {
			vals[i] = fill
		}
	}
	return out
}

// MaskFromSourceCat builds the background-pixel mask for target: true
// everywhere except inside the bounding box of any cataloged source for any
// spectral order. Box extents are inclusive real-valued pixel coordinates;
// the minimum is floored and the maximum is ceiled plus one to form a
// half-open pixel slice, clipped to the frame.
func (s *WFSS) MaskFromSourceCat(target *Exposure, wavelengthRange string, minMagnitude float64) (*BoolMask, error) {
	h, w := target.Data.H(), target.Data.W()
	mask := NewBoolMask(h, w, true)

	objects, err := s.Catalog.GrismObjects(target, wavelengthRange, minMagnitude)
	if err != nil {
		return nil, fmt.Errorf("grism bounding boxes: %w", err)
	}

	for _, obj := range objects {
		for _, box := range obj.OrderBounding {
			xmin := int(math.Floor(box.XMin))
			xmax := int(math.Ceil(box.XMax)) + 1
			ymin := int(math.Floor(box.YMin))
			ymax := int(math.Ceil(box.YMax)) + 1
			xmin = max(xmin, 0)
			xmax = min(xmax, w)
			ymin = max(ymin, 0)
			ymax = min(ymax, h)
			for j := ymin; j < ymax; j++ {
				row := mask.Vals()[j*w : j*w+w]
				for i := xmin; i < xmax; i++ {
					row[i] = false
				}
			}
		}
	}
	return mask, nil
}

// RobustMean computes the mean of x after dropping NaNs and trimming to the
// inclusive [lowPct, highPct] percentile band. ErrNoData is returned when no
// finite values remain after NaN removal.
func RobustMean(x []float64, lowPct, highPct float64) (float64, error) {
	cleaned := make([]float64, 0, len(x))
	for _, v := range x {
		if !math.IsNaN(v) {
			cleaned = append(cleaned, v)
		}
	}
	if len(cleaned) == 0 {
		return 0, ErrNoData
	}

	sorted := make([]float64, len(cleaned))
	copy(sorted, cleaned)
	sort.Float64s(sorted)
	lo := percentile(sorted, lowPct)
	hi := percentile(sorted, highPct)

	kept := cleaned[:0]
	for _, v := range cleaned {
		if v >= lo && v <= hi {
			kept = append(kept, v)
		}
	}
	// The band bounds come from the data itself, so kept is never empty.
	return stat.Mean(kept, nil), nil
}

// percentile computes the p-th percentile of sorted by linear interpolation
// between the two nearest order statistics.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

// maskedValues gathers the mask-selected elements of every plane of c.
func maskedValues(c *Cube, mask *BoolMask) []float64 {
	sel := mask.Vals()
	out := make([]float64, 0, c.N()*mask.Count())
	for k := 0; k < c.N(); k++ {
		plane := c.Plane(k)
		for i, v := range plane {
			if sel[i] {
				out = append(out, v)
			}
		}
	}
	return out
}

// Subtract scales the background reference to match target over the
// source-free pixels and subtracts it. When the target carries a source
// catalog, the mask is built from it and the usable-pixel gate applies;
// failing the gate returns ErrInsufficientBackground. Without a catalog the
// whole frame is used. A reference whose masked robust mean is exactly zero
// cannot be scaled, so the data passes through unchanged. The result's
// bitmask is always the OR of both inputs.
func (s *WFSS) Subtract(target, bkgRef *Exposure, wavelengthRange string, minMagnitude float64) (*Exposure, error) {
	ref := NoNaN(bkgRef, 0)

	h, w := target.Data.H(), target.Data.W()
	if ref.Data.H() != h || ref.Data.W() != w {
		return nil, fmt.Errorf("background reference shape %dx%d does not match target %dx%d",
			ref.Data.H(), ref.Data.W(), h, w)
	}

	var mask *BoolMask
	if target.Meta.SourceCatalog != "" && s.Catalog != nil {
		var err error
		mask, err = s.MaskFromSourceCat(target, wavelengthRange, minMagnitude)
		if err != nil {
			return nil, err
		}
		if !SufficientBackgroundPixels(target.DQ, mask, s.MinPixels) {
			s.log.Warn().Msg("not enough background pixels to work with, skipping")
			return nil, ErrInsufficientBackground
		}
	} else {
		s.log.Warn().Msg("no source catalog available, using the full frame")
		mask = NewBoolMask(h, w, true)
	}

	sciMean, err := RobustMean(maskedValues(target.Data, mask), s.LowPercentile, s.HighPercentile)
	if err != nil {
		return nil, fmt.Errorf("target robust mean: %w", err)
	}
	refMean, err := RobustMean(maskedValues(ref.Data, mask), s.LowPercentile, s.HighPercentile)
	if err != nil {
		return nil, fmt.Errorf("reference robust mean: %w", err)
	}
	s.log.Debug().
		Float64("target_mean", sciMean).
		Float64("reference_mean", refMean).
		Msg("masked robust means")

	result := target.Copy()
	if refMean != 0 {
		factor := sciMean / refMean
		refData := ref.Data.Plane(0)
		for k := 0; k < result.Data.N(); k++ {
			plane := result.Data.Plane(k)
			for i := range plane {
				plane[i] -= factor * refData[i]
			}
		}
		s.log.Info().Float64("scale", factor).Msg("scaled background subtracted")
	} else {
		s.log.Warn().Msg("background reference has zero mean, nothing subtracted")
	}

	for k := 0; k < result.DQ.N(); k++ {
		dst := result.DQ.Plane(k)
		src := ref.DQ.Plane(0)
		for i := range dst {
			dst[i] |= src[i]
		}
	}
	return result, nil
}
