package bkgsub

import "math"

// Cube is a stack of equally sized 2D float64 image planes. A single-frame
// exposure is a Cube with N() == 1; a multi-integration exposure keeps one
// plane per integration on the leading axis.
type Cube struct {
	vals    []float64
	n, h, w int
}

// NewCube creates a zero-filled cube of n planes of h rows by w columns.
func NewCube(n, h, w int) *Cube {
	return &Cube{
		vals: make([]float64, n*h*w),
		n:    n,
		h:    h,
		w:    w,
	}
}

// NewCubeFilled creates a cube with every element set to v.
func NewCubeFilled(n, h, w int, v float64) *Cube {
	c := NewCube(n, h, w)
	for i := range c.vals {
		c.vals[i] = v
	}
	return c
}

func (c *Cube) N() int { return c.n }
func (c *Cube) H() int { return c.h }
func (c *Cube) W() int { return c.w }

// Vals returns the flat backing slice, plane-major then row-major.
func (c *Cube) Vals() []float64 { return c.vals }

// Plane returns the backing slice of plane k.
func (c *Cube) Plane(k int) []float64 {
	sz := c.h * c.w
	return c.vals[k*sz : (k+1)*sz]
}

func (c *Cube) At(k, j, i int) float64 {
	return c.vals[(k*c.h+j)*c.w+i]
}

func (c *Cube) Set(k, j, i int, v float64) {
	c.vals[(k*c.h+j)*c.w+i] = v
}

// Clone returns a deep copy.
func (c *Cube) Clone() *Cube {
	out := NewCube(c.n, c.h, c.w)
	copy(out.vals, c.vals)
	return out
}

// HasNaN reports whether any element is NaN.
func (c *Cube) HasNaN() bool {
	for _, v := range c.vals {
		if math.IsNaN(v) {
			return true
		}
	}
	return false
}

// DQCube is a stack of per-pixel data-quality bitmask planes matching the
// layout of Cube.
type DQCube struct {
	vals    []uint32
	n, h, w int
}

// NewDQCube creates a zero-filled bitmask cube.
func NewDQCube(n, h, w int) *DQCube {
	return &DQCube{
		vals: make([]uint32, n*h*w),
		n:    n,
		h:    h,
		w:    w,
	}
}

func (c *DQCube) N() int { return c.n }
func (c *DQCube) H() int { return c.h }
func (c *DQCube) W() int { return c.w }

// Vals returns the flat backing slice, plane-major then row-major.
func (c *DQCube) Vals() []uint32 { return c.vals }

// Plane returns the backing slice of plane k.
func (c *DQCube) Plane(k int) []uint32 {
	sz := c.h * c.w
	return c.vals[k*sz : (k+1)*sz]
}

func (c *DQCube) At(k, j, i int) uint32 {
	return c.vals[(k*c.h+j)*c.w+i]
}

func (c *DQCube) Set(k, j, i int, v uint32) {
	c.vals[(k*c.h+j)*c.w+i] = v
}

// Clone returns a deep copy.
func (c *DQCube) Clone() *DQCube {
	out := NewDQCube(c.n, c.h, c.w)
	copy(out.vals, c.vals)
	return out
}

// OrInto ORs every plane of other into plane 0 of c, collapsing
// multi-integration bitmasks in the process.
func (c *DQCube) OrInto(other *DQCube) {
	dst := c.Plane(0)
	for k := 0; k < other.n; k++ {
		src := other.Plane(k)
		for i, v := range src {
			dst[i] |= v
		}
	}
}

// BoolMask is a 2D boolean pixel selection; true marks a usable pixel.
type BoolMask struct {
	vals []bool
	h, w int
}

// NewBoolMask creates a mask of h rows by w columns with every element set
// to initial.
func NewBoolMask(h, w int, initial bool) *BoolMask {
	m := &BoolMask{
		vals: make([]bool, h*w),
		h:    h,
		w:    w,
	}
	if initial {
		for i := range m.vals {
			m.vals[i] = true
		}
	}
	return m
}

func (m *BoolMask) H() int { return m.h }
func (m *BoolMask) W() int { return m.w }

// Vals returns the flat backing slice, row-major.
func (m *BoolMask) Vals() []bool { return m.vals }

func (m *BoolMask) At(j, i int) bool {
	return m.vals[j*m.w+i]
}

func (m *BoolMask) Set(j, i int, v bool) {
	m.vals[j*m.w+i] = v
}

// Count returns the number of true elements.
func (m *BoolMask) Count() int {
	n := 0
	for _, v := range m.vals {
		if v {
			n++
		}
	}
	return n
}
