package bkgsub

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// sigmaClipAxis0 iteratively rejects outliers along the leading axis of c,
// independently for every pixel column. Each pass computes the mean and
// population standard deviation of the retained values, rejects values
// farther than sigma spreads from the mean, and repeats until no value is
// newly rejected or maxIters passes have run. NaNs are rejected up front.
// The returned slice matches c.Vals(); true marks a rejected element.
func sigmaClipAxis0(c *Cube, sigma float64, maxIters int) []bool {
	n, h, w := c.N(), c.H(), c.W()
	sz := h * w
	vals := c.Vals()

	rejected := make([]bool, n*sz)
	for i, v := range vals {
		if math.IsNaN(v) {
			rejected[i] = true
		}
	}
	if maxIters <= 0 {
		maxIters = math.MaxInt
	}

	buf := make([]float64, 0, n)
	for p := 0; p < sz; p++ {
		for iter := 0; iter < maxIters; iter++ {
			buf = buf[:0]
			for k := 0; k < n; k++ {
				idx := k*sz + p
				if !rejected[idx] {
					buf = append(buf, vals[idx])
				}
			}
			if len(buf) == 0 {
				break
			}
			center := stat.Mean(buf, nil)
			spread := stat.PopStdDev(buf, nil)

			changed := false
			for k := 0; k < n; k++ {
				idx := k*sz + p
				if rejected[idx] {
					continue
				}
				if math.Abs(vals[idx]-center) > sigma*spread {
					rejected[idx] = true
					changed = true
				}
			}
			if !changed {
				break
			}
		}
	}
	return rejected
}

// meanAxis0Into writes the per-pixel mean of the retained values of c into
// dst, which must have H*W elements. Pixels with every value rejected get
// NaN.
func meanAxis0Into(dst []float64, c *Cube, rejected []bool) {
	n := c.N()
	sz := c.H() * c.W()
	vals := c.Vals()
	for p := 0; p < sz; p++ {
		sum := 0.0
		cnt := 0
		for k := 0; k < n; k++ {
			idx := k*sz + p
			if !rejected[idx] {
				sum += vals[idx]
				cnt++
			}
		}
		if cnt == 0 {
			dst[p] = math.NaN()
		} else {
			dst[p] = sum / float64(cnt)
		}
	}
}

// sumCountAxis0 returns, per pixel, the sum of the retained values of c and
// the number of rejected values.
func sumCountAxis0(c *Cube, rejected []bool) (sums []float64, nrej []int) {
	n := c.N()
	sz := c.H() * c.W()
	vals := c.Vals()
	sums = make([]float64, sz)
	nrej = make([]int, sz)
	for p := 0; p < sz; p++ {
		for k := 0; k < n; k++ {
			idx := k*sz + p
			if rejected[idx] {
				nrej[p]++
			} else {
				sums[p] += vals[idx]
			}
		}
	}
	return sums, nrej
}
