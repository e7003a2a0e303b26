package bkgsub

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"os"
	"sort"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// RenderPreview writes a grayscale JPEG of the first plane of frame with a
// [1, 99] percentile contrast stretch and a caption, for quick-look
// inspection of an averaged background.
func RenderPreview(frame *Cube, caption, outputPath string) error {
	if frame == nil || frame.N() < 1 {
		return fmt.Errorf("no frame to render")
	}

	vals := frame.Plane(0)
	finite := make([]float64, 0, len(vals))
	for _, v := range vals {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			finite = append(finite, v)
		}
	}
	if len(finite) == 0 {
		return fmt.Errorf("frame has no finite pixels to render")
	}
	sort.Float64s(finite)
	lo := percentile(finite, 1)
	hi := percentile(finite, 99)
	if hi <= lo {
		hi = lo + 1
	}

	h, w := frame.H(), frame.W()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for j := 0; j < h; j++ {
		for i := 0; i < w; i++ {
			v := vals[j*w+i]
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			g := (v - lo) / (hi - lo) * 255
			if g < 0 {
				g = 0
			} else if g > 255 {
				g = 255
			}
			img.SetGray(i, j, color.Gray{Y: uint8(g)})
		}
	}

	drawCaption(img, caption)

	f, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("create preview file: %w", err)
	}
	defer f.Close()

	return jpeg.Encode(f, img, &jpeg.Options{Quality: 90})
}

func drawCaption(img *image.Gray, text string) {
	if text == "" {
		return
	}
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.White),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(8, 16),
	}
	d.DrawString(text)
}
