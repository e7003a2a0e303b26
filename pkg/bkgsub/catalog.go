package bkgsub

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

// BoundingBox is an inclusive real-valued pixel extent, ((ymin, ymax),
// (xmin, xmax)), enclosing one source's spectral trace for one dispersion
// order.
type BoundingBox struct {
	YMin, YMax float64
	XMin, XMax float64
}

// GrismObject is one cataloged source with a bounding box per dispersion
// order.
type GrismObject struct {
	ID            int
	ABMagnitude   float64
	OrderBounding map[int]BoundingBox
}

// GrismCatalog produces the bounding boxes of the sources expected to
// disperse onto a slitless exposure. Implementations consume the target's
// pointing and the named wavelength-range reference; sources fainter than
// minMagnitude are excluded when minMagnitude is positive.
type GrismCatalog interface {
	GrismObjects(target *Exposure, wavelengthRange string, minMagnitude float64) ([]GrismObject, error)
}

// FileCatalog is a GrismCatalog backed by a JSON source list with
// precomputed per-order boxes, for running the scaler without a WCS solver.
type FileCatalog struct {
	Path string
}

type fileCatalogEntry struct {
	ID     int                `json:"id"`
	ABMag  float64            `json:"abmag"`
	Orders map[string]fileBox `json:"orders"`
}

type fileBox struct {
	YMin float64 `json:"ymin"`
	YMax float64 `json:"ymax"`
	XMin float64 `json:"xmin"`
	XMax float64 `json:"xmax"`
}

// GrismObjects loads the source list and applies the magnitude cut. The
// wavelength-range reference is unused: the boxes are already per order.
func (c *FileCatalog) GrismObjects(_ *Exposure, _ string, minMagnitude float64) ([]GrismObject, error) {
	raw, err := os.ReadFile(c.Path)
	if err != nil {
		return nil, fmt.Errorf("read source catalog %s: %w", c.Path, err)
	}
	var entries []fileCatalogEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parse source catalog %s: %w", c.Path, err)
	}

	objects := make([]GrismObject, 0, len(entries))
	for _, e := range entries {
		if minMagnitude > 0 && e.ABMag > minMagnitude {
			continue
		}
		obj := GrismObject{
			ID:            e.ID,
			ABMagnitude:   e.ABMag,
			OrderBounding: make(map[int]BoundingBox, len(e.Orders)),
		}
		for key, b := range e.Orders {
			order, err := strconv.Atoi(key)
			if err != nil {
				return nil, fmt.Errorf("source catalog %s: bad order %q: %w", c.Path, key, err)
			}
			obj.OrderBounding[order] = BoundingBox{
				YMin: b.YMin, YMax: b.YMax,
				XMin: b.XMin, XMax: b.XMax,
			}
		}
		objects = append(objects, obj)
	}
	return objects, nil
}
