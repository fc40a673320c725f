// internal/img/bleed.go
package img

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

// nearBlackThreshold is the luma below which DarkenNearBlack pushes a pixel to pure black.
const nearBlackThreshold = 40

// ExtendBleed grows src by px on every side, filling the new margin by
// replicating the nearest edge pixel.
func ExtendBleed(src image.Image, px int) *image.NRGBA {
	base := imaging.Clone(src)
	if px <= 0 {
		return base
	}

	w, h := base.Bounds().Dx(), base.Bounds().Dy()
	dst := image.NewNRGBA(image.Rect(0, 0, w+2*px, h+2*px))
	for y := 0; y < h+2*px; y++ {
		sy := clamp(y-px, 0, h-1)
		for x := 0; x < w+2*px; x++ {
			sx := clamp(x-px, 0, w-1)
			si := sy*base.Stride + sx*4
			di := y*dst.Stride + x*4
			copy(dst.Pix[di:di+4], base.Pix[si:si+4])
		}
	}
	return dst
}

// TrimBleed removes px from every side of src. It returns a 1x1 image if the
// trim would consume the whole source.
func TrimBleed(src image.Image, px int) *image.NRGBA {
	b := src.Bounds()
	if px <= 0 {
		return imaging.Clone(src)
	}
	if 2*px >= b.Dx() || 2*px >= b.Dy() {
		return imaging.Resize(src, 1, 1, imaging.NearestNeighbor)
	}
	return imaging.Crop(src, image.Rect(b.Min.X+px, b.Min.Y+px, b.Max.X-px, b.Max.Y-px))
}

// DarkenNearBlack maps pixels whose luma is under the near-black threshold to
// pure black, keeping alpha. Printers render dark greys as washed-out black.
func DarkenNearBlack(src image.Image) *image.NRGBA {
	return imaging.AdjustFunc(src, func(c color.NRGBA) color.NRGBA {
		luma := (299*int(c.R) + 587*int(c.G) + 114*int(c.B)) / 1000
		if luma >= nearBlackThreshold {
			return c
		}
		return color.NRGBA{A: c.A}
	})
}

// NormalizeBleed resizes src to the card trim size at dpi and applies the
// requested bleed mode, returning the image and the bleed width (mm) it carries.
func NormalizeBleed(src image.Image, mode BleedMode, targetMM, existingMM float64, dpi int) (*image.NRGBA, float64) {
	trimW := MMToPixels(CardWidthMM, dpi)
	trimH := MMToPixels(CardHeightMM, dpi)

	switch mode {
	case BleedExisting:
		if existingMM <= 0 {
			return NormalizeBleed(src, BleedGenerate, targetMM, 0, dpi)
		}
		fullW := MMToPixels(CardWidthMM+2*existingMM, dpi)
		fullH := MMToPixels(CardHeightMM+2*existingMM, dpi)
		scaled := imaging.Resize(src, fullW, fullH, imaging.Lanczos)
		diff := MMToPixels(existingMM-targetMM, dpi)
		if targetMM < existingMM {
			return TrimBleed(scaled, diff), targetMM
		}
		return ExtendBleed(scaled, MMToPixels(targetMM-existingMM, dpi)), targetMM

	case BleedNone:
		trimmed := src
		if existingMM > 0 {
			trimmed = TrimBleed(src, bleedPixelsInSource(src, existingMM))
		}
		return imaging.Resize(trimmed, trimW, trimH, imaging.Lanczos), 0

	default:
		trimmed := src
		if existingMM > 0 {
			trimmed = TrimBleed(src, bleedPixelsInSource(src, existingMM))
		}
		scaled := imaging.Resize(trimmed, trimW, trimH, imaging.Lanczos)
		return ExtendBleed(scaled, MMToPixels(targetMM, dpi)), targetMM
	}
}

// bleedPixelsInSource estimates how many source pixels a built-in bleed of mm
// covers, from the source's own width.
func bleedPixelsInSource(src image.Image, mm float64) int {
	w := float64(src.Bounds().Dx())
	return int(w*mm/(CardWidthMM+2*mm) + 0.5)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
