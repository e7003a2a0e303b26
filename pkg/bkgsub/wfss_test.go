package bkgsub

import (
	"errors"
	"math"
	"testing"

	"github.com/rs/zerolog"
)

type fakeCatalog []GrismObject

func (c fakeCatalog) GrismObjects(_ *Exposure, _ string, _ float64) ([]GrismObject, error) {
	return c, nil
}

func TestRobustMeanIntegers(t *testing.T) {
	// Values 0..99 trimmed to the [25, 75] percentile band keep 25..74.
	orders := [][]float64{make([]float64, 100), make([]float64, 100)}
	for i := 0; i < 100; i++ {
		orders[0][i] = float64(i)
		orders[1][i] = float64(99 - i)
	}
	for _, vals := range orders {
		got, err := RobustMean(vals, 25, 75)
		if err != nil {
			t.Fatalf("RobustMean: %v", err)
		}
		if math.Abs(got-49.5) > 1e-9 {
			t.Fatalf("RobustMean = %v, want 49.5", got)
		}
	}
}

func TestRobustMeanDropsNaN(t *testing.T) {
	vals := []float64{math.NaN(), 5, 5, math.NaN(), 5}
	got, err := RobustMean(vals, 25, 75)
	if err != nil {
		t.Fatalf("RobustMean: %v", err)
	}
	if got != 5 {
		t.Fatalf("RobustMean = %v, want 5", got)
	}
}

func TestRobustMeanNoData(t *testing.T) {
	_, err := RobustMean([]float64{math.NaN(), math.NaN()}, 25, 75)
	if !errors.Is(err, ErrNoData) {
		t.Fatalf("err = %v, want ErrNoData", err)
	}
}

func TestMaskFromSourceCat(t *testing.T) {
	target := makeExposure2D(50, 50, 1, 1, 0, 0)
	cat := fakeCatalog{{
		ID: 1,
		OrderBounding: map[int]BoundingBox{
			1: {YMin: 10.2, YMax: 20.7, XMin: 5.1, XMax: 15.9},
		},
	}}

	s := NewWFSS(cat, zerolog.Nop())
	mask, err := s.MaskFromSourceCat(target, "wlrange", 0)
	if err != nil {
		t.Fatalf("MaskFromSourceCat: %v", err)
	}

	for j := 0; j < 50; j++ {
		for i := 0; i < 50; i++ {
			inBox := j >= 10 && j <= 21 && i >= 5 && i <= 16
			if mask.At(j, i) == inBox {
				t.Fatalf("mask[%d][%d]=%v, want %v", j, i, !inBox, inBox)
			}
		}
	}
}

func TestMaskFromSourceCatClipsToFrame(t *testing.T) {
	target := makeExposure2D(10, 10, 1, 1, 0, 0)
	cat := fakeCatalog{{
		OrderBounding: map[int]BoundingBox{
			1: {YMin: -5, YMax: 3, XMin: 7, XMax: 40},
		},
	}}

	s := NewWFSS(cat, zerolog.Nop())
	mask, err := s.MaskFromSourceCat(target, "wlrange", 0)
	if err != nil {
		t.Fatalf("MaskFromSourceCat: %v", err)
	}
	if mask.At(0, 7) || mask.At(3, 9) {
		t.Fatal("clipped box interior should be masked")
	}
	if !mask.At(4, 9) || !mask.At(0, 6) {
		t.Fatal("pixels outside the clipped box should stay usable")
	}
}

func TestMaskFromSourceCatOverlappingBoxes(t *testing.T) {
	target := makeExposure2D(20, 20, 1, 1, 0, 0)
	cat := fakeCatalog{
		{OrderBounding: map[int]BoundingBox{1: {YMin: 0, YMax: 5, XMin: 0, XMax: 5}}},
		{OrderBounding: map[int]BoundingBox{1: {YMin: 3, YMax: 8, XMin: 3, XMax: 8}}},
	}

	s := NewWFSS(cat, zerolog.Nop())
	mask, err := s.MaskFromSourceCat(target, "wlrange", 0)
	if err != nil {
		t.Fatalf("MaskFromSourceCat: %v", err)
	}
	// Union of exclusions: both boxes masked, including the overlap.
	if mask.At(4, 4) || mask.At(7, 7) || mask.At(0, 0) {
		t.Fatal("box pixels should be masked")
	}
	if !mask.At(0, 10) {
		t.Fatal("pixel outside both boxes should be usable")
	}
}

func TestSufficientBackgroundPixels(t *testing.T) {
	dq := NewDQCube(1, 20, 20)
	mask := NewBoolMask(20, 20, false)

	// 50 selected pixels, every one flagged do-not-use.
	for i := 0; i < 50; i++ {
		mask.Set(i/20, i%20, true)
		dq.Set(0, i/20, i%20, DQDoNotUse)
	}
	if SufficientBackgroundPixels(dq, mask, 100) {
		t.Fatal("50 flagged pixels should not be sufficient")
	}

	// 150 selected pixels, none flagged.
	dq = NewDQCube(1, 20, 20)
	mask = NewBoolMask(20, 20, false)
	for i := 0; i < 150; i++ {
		mask.Set(i/20, i%20, true)
	}
	if !SufficientBackgroundPixels(dq, mask, 100) {
		t.Fatal("150 clean pixels should be sufficient")
	}

	// Exactly minPixels is not enough: the count must exceed it.
	mask = NewBoolMask(20, 20, false)
	for i := 0; i < 100; i++ {
		mask.Set(i/20, i%20, true)
	}
	if SufficientBackgroundPixels(dq, mask, 100) {
		t.Fatal("exactly 100 pixels should not pass a >100 gate")
	}
}

func TestNoNaN(t *testing.T) {
	clean := makeExposure2D(4, 4, 1, 1, 7, 1)
	if got := NoNaN(clean, 0); got != clean {
		t.Fatal("clean exposure should come back as the same reference")
	}

	dirty := makeExposure2D(4, 4, 1, 1, 7, 1)
	dirty.Data.Set(0, 2, 2, math.NaN())
	got := NoNaN(dirty, 0)
	if got == dirty {
		t.Fatal("exposure with NaNs should come back as a copy")
	}
	if got.Data.At(0, 2, 2) != 0 {
		t.Fatalf("NaN not replaced: %v", got.Data.At(0, 2, 2))
	}
	if !math.IsNaN(dirty.Data.At(0, 2, 2)) {
		t.Fatal("original exposure modified")
	}
}

func TestWFSSSubtractScales(t *testing.T) {
	target := makeExposure2D(30, 30, 1, 1, 10, 1)
	ref := makeExposure2D(30, 30, 1, 1, 5, 1)

	s := NewWFSS(nil, zerolog.Nop())
	result, err := s.Subtract(target, ref, "wlrange", 0)
	if err != nil {
		t.Fatalf("Subtract: %v", err)
	}
	// Scale factor 10/5 = 2: the background fully cancels the target.
	for i, v := range result.Data.Vals() {
		if math.Abs(v) > 1e-12 {
			t.Fatalf("data[%d]=%v, want 0", i, v)
		}
	}
}

func TestWFSSSubtractMasksSources(t *testing.T) {
	target := makeExposure2D(30, 30, 1, 1, 10, 1)
	// A bright source that would skew the mean if not excluded.
	for j := 0; j < 5; j++ {
		for i := 0; i < 5; i++ {
			target.Data.Set(0, j, i, 10000)
		}
	}
	target.Meta.SourceCatalog = "cat.ecsv"
	ref := makeExposure2D(30, 30, 1, 1, 5, 1)

	cat := fakeCatalog{{
		OrderBounding: map[int]BoundingBox{1: {YMin: 0, YMax: 4, XMin: 0, XMax: 4}},
	}}
	s := NewWFSS(cat, zerolog.Nop())
	result, err := s.Subtract(target, ref, "wlrange", 0)
	if err != nil {
		t.Fatalf("Subtract: %v", err)
	}
	// Background pixels cancel; the source region keeps its excess.
	if got := result.Data.At(0, 20, 20); math.Abs(got) > 1e-12 {
		t.Fatalf("background pixel = %v, want 0", got)
	}
	if got := result.Data.At(0, 2, 2); math.Abs(got-9990) > 1e-9 {
		t.Fatalf("source pixel = %v, want 9990", got)
	}
}

func TestWFSSSubtractZeroMeanReference(t *testing.T) {
	target := makeExposure2D(20, 20, 1, 1, 10, 1)
	target.DQ.Set(0, 3, 3, DQSaturated)
	ref := makeExposure2D(20, 20, 1, 1, 0, 1)
	ref.DQ.Set(0, 3, 3, DQDoNotUse)
	ref.DQ.Set(0, 4, 4, DQJumpDet)

	s := NewWFSS(nil, zerolog.Nop())
	result, err := s.Subtract(target, ref, "wlrange", 0)
	if err != nil {
		t.Fatalf("Subtract: %v", err)
	}
	for i, v := range result.Data.Vals() {
		if v != target.Data.Vals()[i] {
			t.Fatalf("data[%d]=%v changed despite zero-mean reference", i, v)
		}
	}
	if result.DQ.At(0, 3, 3) != (DQSaturated | DQDoNotUse) {
		t.Fatalf("dq[3][3]=%v, want OR of both inputs", result.DQ.At(0, 3, 3))
	}
	if result.DQ.At(0, 4, 4) != DQJumpDet {
		t.Fatalf("dq[4][4]=%v, want %v", result.DQ.At(0, 4, 4), DQJumpDet)
	}
}

func TestWFSSSubtractSkipsWhenMasked(t *testing.T) {
	target := makeExposure2D(20, 20, 1, 1, 10, 1)
	target.Meta.SourceCatalog = "cat.ecsv"
	ref := makeExposure2D(20, 20, 1, 1, 5, 1)

	// One source covering the whole frame leaves nothing to fit.
	cat := fakeCatalog{{
		OrderBounding: map[int]BoundingBox{1: {YMin: 0, YMax: 19, XMin: 0, XMax: 19}},
	}}
	s := NewWFSS(cat, zerolog.Nop())
	_, err := s.Subtract(target, ref, "wlrange", 0)
	if !errors.Is(err, ErrInsufficientBackground) {
		t.Fatalf("err = %v, want ErrInsufficientBackground", err)
	}
}

func TestWFSSSubtractNaNReference(t *testing.T) {
	target := makeExposure2D(20, 20, 1, 1, 10, 1)
	ref := makeExposure2D(20, 20, 1, 1, 5, 1)
	ref.Data.Set(0, 0, 0, math.NaN())

	s := NewWFSS(nil, zerolog.Nop())
	result, err := s.Subtract(target, ref, "wlrange", 0)
	if err != nil {
		t.Fatalf("Subtract: %v", err)
	}
	// The NaN is replaced by zero before scaling, so the pixel keeps its
	// full target value and stays finite.
	if got := result.Data.At(0, 0, 0); math.IsNaN(got) || got != 10 {
		t.Fatalf("data[0][0]=%v, want 10", got)
	}
	if !math.IsNaN(ref.Data.At(0, 0, 0)) {
		t.Fatal("reference exposure modified")
	}
}
