package bkgsub

import (
	"fmt"
	"math"
	"strings"
)

// Known full-frame readout sizes used when placement metadata is missing.
const (
	miriFullWidth  = 1032
	miriFullHeight = 1024
	fullFrameSize  = 2048
)

// ImageSubset places an exposure's pixel grid on the full detector frame so
// that exposures read out from different subarrays can be compared. Bounds
// are half-open, 0-indexed: [imin,imax) along x and [jmin,jmax) along y.
type ImageSubset struct {
	imin, imax int
	jmin, jmax int
	ndim       int

	data *Cube
	err  *Cube
	dq   *DQCube
}

// NewImageSubset wraps an exposure in its detector-frame geometry. When the
// subarray placement keywords are absent, full-frame bounds are inferred
// only if the data shape matches the instrument family's full frame;
// anything else is a configuration error.
func NewImageSubset(exp *Exposure) (*ImageSubset, error) {
	h, w := exp.Data.H(), exp.Data.W()

	sub := exp.Meta.Subarray
	if sub == nil {
		if strings.EqualFold(exp.Meta.Instrument, "MIRI") {
			if w != miriFullWidth || h != miriFullHeight {
				return nil, fmt.Errorf("%s: subarray start values not found in metadata", exp.Meta.Filename)
			}
			sub = &SubarrayBounds{XStart: 1, YStart: 1, XSize: miriFullWidth, YSize: miriFullHeight}
		} else {
			if w != fullFrameSize || h != fullFrameSize {
				return nil, fmt.Errorf("%s: subarray start values not found in metadata", exp.Meta.Filename)
			}
			sub = &SubarrayBounds{XStart: 1, YStart: 1, XSize: fullFrameSize, YSize: fullFrameSize}
		}
	}

	s := &ImageSubset{
		imin: sub.XStart - 1,
		jmin: sub.YStart - 1,
		ndim: exp.NDim,
		data: exp.Data,
		err:  exp.Err,
		dq:   exp.DQ,
	}
	s.imax = s.imin + sub.XSize
	s.jmax = s.jmin + sub.YSize

	if s.data.H() != sub.YSize || s.data.W() != sub.XSize {
		return nil, fmt.Errorf("%s: data shape %dx%d does not match subarray size %dx%d",
			exp.Meta.Filename, s.data.H(), s.data.W(), sub.YSize, sub.XSize)
	}
	return s, nil
}

// Overlaps reports whether the two subsets share any pixels. Rectangles that
// only touch at an edge do not overlap.
func (s *ImageSubset) Overlaps(o *ImageSubset) bool {
	return !(s.imax <= o.imin ||
		o.imax <= s.imin ||
		s.jmax <= o.jmin ||
		o.jmax <= s.jmin)
}

// ExtractOverlap remaps the overlapping pixels of o into s's pixel frame.
// The outputs are shaped by s's 2D extent, with o's integration count on the
// leading axis when o is a 3D stack. Pixels outside the intersection are NaN
// in data/err and zero in the bitmask; an empty intersection yields fully
// NaN/zero outputs rather than an error.
func (s *ImageSubset) ExtractOverlap(o *ImageSubset) (*Cube, *Cube, *DQCube) {
	imin := max(s.imin, o.imin)
	imax := min(s.imax, o.imax)
	jmin := max(s.jmin, o.jmin)
	jmax := min(s.jmax, o.jmax)

	// Empty intersections collapse to zero width.
	if imax < imin {
		imax = imin
	}
	if jmax < jmin {
		jmax = jmin
	}

	outN := 1
	if o.ndim == 3 {
		outN = o.data.N()
	}
	h, w := s.data.H(), s.data.W()

	data := NewCubeFilled(outN, h, w, math.NaN())
	errp := NewCubeFilled(outN, h, w, math.NaN())
	dq := NewDQCube(outN, h, w)

	for k := 0; k < outN; k++ {
		srcK := k
		if o.data.N() == 1 {
			srcK = 0
		}
		srcData := o.data.Plane(srcK)
		srcErr := o.err.Plane(srcK)
		srcDQ := o.dq.Plane(srcK)
		dstData := data.Plane(k)
		dstErr := errp.Plane(k)
		dstDQ := dq.Plane(k)

		for j := jmin; j < jmax; j++ {
			srcOff := (j-o.jmin)*o.data.W() + (imin - o.imin)
			dstOff := (j-s.jmin)*w + (imin - s.imin)
			n := imax - imin
			copy(dstData[dstOff:dstOff+n], srcData[srcOff:srcOff+n])
			copy(dstErr[dstOff:dstOff+n], srcErr[srcOff:srcOff+n])
			copy(dstDQ[dstOff:dstOff+n], srcDQ[srcOff:srcOff+n])
		}
	}
	return data, errp, dq
}
