package bkgsub

import (
	"math"
	"testing"
)

func columnCube(vals ...float64) *Cube {
	c := NewCube(len(vals), 1, 1)
	for k, v := range vals {
		c.Set(k, 0, 0, v)
	}
	return c
}

func TestSigmaClipKeepsCleanData(t *testing.T) {
	c := columnCube(10, 10, 10, 10)
	rej := sigmaClipAxis0(c, 3, 5)
	for i, r := range rej {
		if r {
			t.Fatalf("element %d rejected from constant data", i)
		}
	}
}

func TestSigmaClipRejectsOutlier(t *testing.T) {
	c := columnCube(1, 1, 1, 1, 10)
	rej := sigmaClipAxis0(c, 1, 5)
	want := []bool{false, false, false, false, true}
	for i := range want {
		if rej[i] != want[i] {
			t.Fatalf("rejected[%d]=%v, want %v", i, rej[i], want[i])
		}
	}
}

func TestSigmaClipRejectsNaN(t *testing.T) {
	c := columnCube(5, math.NaN(), 5, 5)
	rej := sigmaClipAxis0(c, 3, 5)
	if !rej[1] {
		t.Fatal("NaN not rejected")
	}
	if rej[0] || rej[2] || rej[3] {
		t.Fatal("finite values rejected alongside NaN")
	}
}

func TestSigmaClipIterates(t *testing.T) {
	// The 50 hides the 5 on the first pass; the second pass catches it.
	c := columnCube(0, 0, 0, 0, 5, 50)
	rej := sigmaClipAxis0(c.Clone(), 1, 5)
	if !rej[5] || !rej[4] {
		t.Fatalf("want both 50 and 5 rejected after iteration, got %v", rej)
	}

	capped := sigmaClipAxis0(c, 1, 1)
	if !capped[5] {
		t.Fatal("50 not rejected on the first pass")
	}
	if capped[4] {
		t.Fatal("5 rejected despite the one-iteration cap")
	}
}

func TestSigmaClipAllNaNColumn(t *testing.T) {
	c := columnCube(math.NaN(), math.NaN())
	rej := sigmaClipAxis0(c, 3, 5)
	if !rej[0] || !rej[1] {
		t.Fatal("all-NaN column must be fully rejected")
	}

	dst := make([]float64, 1)
	meanAxis0Into(dst, c, rej)
	if !math.IsNaN(dst[0]) {
		t.Fatalf("mean of fully rejected column = %v, want NaN", dst[0])
	}
}

func TestSigmaClipPerPixelIndependence(t *testing.T) {
	// Two pixels: one clean column, one with an outlier.
	c := NewCube(4, 1, 2)
	for k := 0; k < 4; k++ {
		c.Set(k, 0, 0, 2)
		c.Set(k, 0, 1, 3)
	}
	c.Set(3, 0, 1, 300)

	rej := sigmaClipAxis0(c, 1, 5)
	sz := 2
	for k := 0; k < 4; k++ {
		if rej[k*sz+0] {
			t.Fatalf("clean pixel rejected at integration %d", k)
		}
	}
	if !rej[3*sz+1] {
		t.Fatal("outlier in second pixel not rejected")
	}
}
