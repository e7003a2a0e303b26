package bkgsub

import (
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/astrogo/fitsio"
)

// FITSOpener opens exposures stored as FITS files. Data, error, and bitmask
// planes are read from the SCI, ERR, and DQ image extensions; a file with no
// SCI extension falls back to the primary HDU for data. Missing ERR fills
// with NaN and missing DQ with zeros.
type FITSOpener struct{}

// Open implements Opener.
func (FITSOpener) Open(path string) (*Exposure, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	fits, err := fitsio.Open(f)
	if err != nil {
		return nil, fmt.Errorf("read FITS %s: %w", path, err)
	}
	defer fits.Close()

	sci := findImageHDU(fits, "SCI")
	if sci == nil {
		if img, ok := fits.HDU(0).(fitsio.Image); ok && len(img.Header().Axes()) >= 2 {
			sci = img
		} else {
			return nil, fmt.Errorf("%s: no SCI extension and no primary image", path)
		}
	}

	data, ndim, err := readFloatCube(sci)
	if err != nil {
		return nil, fmt.Errorf("%s SCI: %w", path, err)
	}

	exp := &Exposure{
		Data: data,
		NDim: ndim,
		Meta: readMetadata(fits, sci, path),
	}

	if errHDU := findImageHDU(fits, "ERR"); errHDU != nil {
		exp.Err, _, err = readFloatCube(errHDU)
		if err != nil {
			return nil, fmt.Errorf("%s ERR: %w", path, err)
		}
	} else {
		exp.Err = NewCubeFilled(data.N(), data.H(), data.W(), math.NaN())
	}

	if dqHDU := findImageHDU(fits, "DQ"); dqHDU != nil {
		exp.DQ, err = readDQCube(dqHDU)
		if err != nil {
			return nil, fmt.Errorf("%s DQ: %w", path, err)
		}
	} else {
		exp.DQ = NewDQCube(data.N(), data.H(), data.W())
	}

	if exp.Err.N() != data.N() || exp.Err.H() != data.H() || exp.Err.W() != data.W() ||
		exp.DQ.N() != data.N() || exp.DQ.H() != data.H() || exp.DQ.W() != data.W() {
		return nil, fmt.Errorf("%s: SCI/ERR/DQ extension shapes differ", path)
	}
	return exp, nil
}

func findImageHDU(f *fitsio.File, name string) fitsio.Image {
	for _, hdu := range f.HDUs() {
		img, ok := hdu.(fitsio.Image)
		if !ok {
			continue
		}
		card := img.Header().Get("EXTNAME")
		if card == nil {
			continue
		}
		if s, ok := card.Value.(string); ok && strings.EqualFold(strings.TrimSpace(s), name) {
			return img
		}
	}
	return nil
}

func cubeAxes(hdr *fitsio.Header) (n, h, w, ndim int, err error) {
	axes := hdr.Axes()
	switch len(axes) {
	case 2:
		return 1, axes[1], axes[0], 2, nil
	case 3:
		return axes[2], axes[1], axes[0], 3, nil
	default:
		return 0, 0, 0, 0, fmt.Errorf("unsupported NAXIS=%d", len(axes))
	}
}

func readFloatCube(img fitsio.Image) (*Cube, int, error) {
	hdr := img.Header()
	n, h, w, ndim, err := cubeAxes(hdr)
	if err != nil {
		return nil, 0, err
	}
	c := NewCube(n, h, w)
	dst := c.Vals()

	switch hdr.Bitpix() {
	case -64:
		raw := make([]float64, len(dst))
		if err := img.Read(&raw); err != nil {
			return nil, 0, fmt.Errorf("read pixels: %w", err)
		}
		copy(dst, raw)
	case -32:
		raw := make([]float32, len(dst))
		if err := img.Read(&raw); err != nil {
			return nil, 0, fmt.Errorf("read pixels: %w", err)
		}
		for i, v := range raw {
			dst[i] = float64(v)
		}
	case 16:
		raw := make([]int16, len(dst))
		if err := img.Read(&raw); err != nil {
			return nil, 0, fmt.Errorf("read pixels: %w", err)
		}
		for i, v := range raw {
			dst[i] = float64(v)
		}
	case 32:
		raw := make([]int32, len(dst))
		if err := img.Read(&raw); err != nil {
			return nil, 0, fmt.Errorf("read pixels: %w", err)
		}
		for i, v := range raw {
			dst[i] = float64(v)
		}
	default:
		return nil, 0, fmt.Errorf("unsupported BITPIX=%d", hdr.Bitpix())
	}
	return c, ndim, nil
}

func readDQCube(img fitsio.Image) (*DQCube, error) {
	hdr := img.Header()
	n, h, w, _, err := cubeAxes(hdr)
	if err != nil {
		return nil, err
	}
	c := NewDQCube(n, h, w)
	raw := make([]int32, n*h*w)
	if err := img.Read(&raw); err != nil {
		return nil, fmt.Errorf("read pixels: %w", err)
	}
	dst := c.Vals()
	for i, v := range raw {
		dst[i] = uint32(v)
	}
	return c, nil
}

func readMetadata(f *fitsio.File, sci fitsio.Image, path string) Metadata {
	meta := Metadata{Filename: path}

	// Keywords live in the primary header on pipeline products, but simple
	// files may carry them alongside the image.
	headers := []*fitsio.Header{}
	if img, ok := f.HDU(0).(fitsio.Image); ok {
		headers = append(headers, img.Header())
	}
	headers = append(headers, sci.Header())

	meta.Instrument, _ = headerString(headers, "INSTRUME")
	meta.SourceCatalog, _ = headerString(headers, "SCATFILE")

	xstart, ok1 := headerInt(headers, "SUBSTRT1")
	ystart, ok2 := headerInt(headers, "SUBSTRT2")
	xsize, ok3 := headerInt(headers, "SUBSIZE1")
	ysize, ok4 := headerInt(headers, "SUBSIZE2")
	if ok1 && ok2 && ok3 && ok4 {
		meta.Subarray = &SubarrayBounds{XStart: xstart, YStart: ystart, XSize: xsize, YSize: ysize}
	}
	return meta
}

func headerString(headers []*fitsio.Header, key string) (string, bool) {
	for _, hdr := range headers {
		if card := hdr.Get(key); card != nil {
			if s, ok := card.Value.(string); ok {
				return strings.TrimSpace(s), true
			}
		}
	}
	return "", false
}

func headerInt(headers []*fitsio.Header, key string) (int, bool) {
	for _, hdr := range headers {
		card := hdr.Get(key)
		if card == nil {
			continue
		}
		switch v := card.Value.(type) {
		case int:
			return v, true
		case int64:
			return int(v), true
		case float64:
			return int(v), true
		}
	}
	return 0, false
}

// WriteExposure writes an exposure as a FITS file with SCI, ERR, and DQ
// image extensions and the subarray placement keywords.
func WriteExposure(path string, e *Exposure) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	fits, err := fitsio.Create(f)
	if err != nil {
		return fmt.Errorf("create FITS %s: %w", path, err)
	}
	defer fits.Close()

	phdu := fitsio.NewImage(8, []int{})
	defer phdu.Close()
	cards := []fitsio.Card{}
	if e.Meta.Instrument != "" {
		cards = append(cards, fitsio.Card{Name: "INSTRUME", Value: e.Meta.Instrument})
	}
	if e.Meta.SourceCatalog != "" {
		cards = append(cards, fitsio.Card{Name: "SCATFILE", Value: e.Meta.SourceCatalog})
	}
	if sub := e.Meta.Subarray; sub != nil {
		cards = append(cards,
			fitsio.Card{Name: "SUBSTRT1", Value: sub.XStart},
			fitsio.Card{Name: "SUBSTRT2", Value: sub.YStart},
			fitsio.Card{Name: "SUBSIZE1", Value: sub.XSize},
			fitsio.Card{Name: "SUBSIZE2", Value: sub.YSize},
		)
	}
	if len(cards) > 0 {
		if err := phdu.Header().Append(cards...); err != nil {
			return fmt.Errorf("%s primary header: %w", path, err)
		}
	}
	if err := fits.Write(phdu); err != nil {
		return fmt.Errorf("%s primary: %w", path, err)
	}

	axes := []int{e.Data.W(), e.Data.H()}
	if e.NDim == 3 {
		axes = append(axes, e.Data.N())
	}

	sci := make([]float32, len(e.Data.Vals()))
	for i, v := range e.Data.Vals() {
		sci[i] = float32(v)
	}
	if err := writeImageExt(fits, "SCI", -32, axes, &sci); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	errs := make([]float32, len(e.Err.Vals()))
	for i, v := range e.Err.Vals() {
		errs[i] = float32(v)
	}
	if err := writeImageExt(fits, "ERR", -32, axes, &errs); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	dq := make([]int32, len(e.DQ.Vals()))
	for i, v := range e.DQ.Vals() {
		dq[i] = int32(v)
	}
	if err := writeImageExt(fits, "DQ", 32, axes, &dq); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

func writeImageExt(f *fitsio.File, name string, bitpix int, axes []int, ptr interface{}) error {
	img := fitsio.NewImage(bitpix, axes)
	defer img.Close()
	if err := img.Header().Append(fitsio.Card{Name: "EXTNAME", Value: name}); err != nil {
		return fmt.Errorf("%s header: %w", name, err)
	}
	if err := img.Write(ptr); err != nil {
		return fmt.Errorf("%s pixels: %w", name, err)
	}
	if err := f.Write(img); err != nil {
		return fmt.Errorf("%s extension: %w", name, err)
	}
	return nil
}
