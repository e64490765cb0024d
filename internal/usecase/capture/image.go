package capture

import (
	"fmt"
	"image"
	"image/color"

	"github.com/fogleman/gg"
	"golang.org/x/image/draw"
)

// fit scales img down so neither side exceeds maxDim. Smaller images are
// copied unchanged.
func fit(img image.Image, maxDim int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxDim && h <= maxDim {
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
		return dst
	}

	nw, nh := maxDim, maxDim
	if w >= h {
		nh = h * maxDim / w
	} else {
		nw = w * maxDim / h
	}
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

// stamp draws the capture time and position in a band along the bottom edge.
func stamp(img image.Image, meta Metadata) image.Image {
	b := img.Bounds()
	dc := gg.NewContextForImage(img)

	lines := []string{meta.CapturedAt.UTC().Format("2006-01-02 15:04:05 UTC")}
	if meta.GPSAvailable {
		lines = append(lines, fmt.Sprintf("%.5f, %.5f", meta.Latitude, meta.Longitude))
	} else {
		lines = append(lines, "GPS unavailable")
	}

	const lineHeight = 16.0
	band := lineHeight*float64(len(lines)) + 8
	height := float64(b.Dy())
	dc.SetColor(color.NRGBA{A: 150})
	dc.DrawRectangle(0, height-band, float64(b.Dx()), band)
	dc.Fill()

	dc.SetColor(color.White)
	for i, line := range lines {
		dc.DrawString(line, 6, height-band+lineHeight*float64(i+1))
	}
	return dc.Image()
}
