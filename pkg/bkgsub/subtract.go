package bkgsub

import (
	"fmt"
	"math"
)

// SubtractExposure subtracts a background exposure from a science exposure
// elementwise: data is differenced, errors combine in quadrature, and the
// bitmasks are ORed. A single-frame background is broadcast across every
// integration of a 3D science stack. The two exposures must share the same
// 2D extent.
func SubtractExposure(sci, bkg *Exposure) (*Exposure, error) {
	h, w := sci.Data.H(), sci.Data.W()
	if bkg.Data.H() != h || bkg.Data.W() != w {
		return nil, fmt.Errorf("background shape %dx%d does not match science shape %dx%d",
			bkg.Data.H(), bkg.Data.W(), h, w)
	}
	if bkg.Data.N() != 1 && bkg.Data.N() != sci.Data.N() {
		return nil, fmt.Errorf("background has %d integrations, science has %d",
			bkg.Data.N(), sci.Data.N())
	}

	out := sci.Copy()
	for k := 0; k < sci.Data.N(); k++ {
		bk := k
		if bkg.Data.N() == 1 {
			bk = 0
		}
		sData, bData := sci.Data.Plane(k), bkg.Data.Plane(bk)
		sErr, bErr := sci.Err.Plane(k), bkg.Err.Plane(bk)
		sDQ, bDQ := sci.DQ.Plane(k), bkg.DQ.Plane(bk)

		oData := out.Data.Plane(k)
		oErr := out.Err.Plane(k)
		oDQ := out.DQ.Plane(k)
		for i := range oData {
			oData[i] = sData[i] - bData[i]
			oErr[i] = math.Sqrt(sErr[i]*sErr[i] + bErr[i]*bErr[i])
			oDQ[i] = sDQ[i] | bDQ[i]
		}
	}
	return out, nil
}
