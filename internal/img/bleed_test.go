package img

import (
	"image"
	"image/color"
	"testing"
)

func solidImage(w, h int, c color.NRGBA) *image.NRGBA {
	m := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			m.SetNRGBA(x, y, c)
		}
	}
	return m
}

func TestExtendBleedReplicatesEdges(t *testing.T) {
	src := solidImage(4, 4, color.NRGBA{R: 10, G: 20, B: 30, A: 255})
	src.SetNRGBA(0, 0, color.NRGBA{R: 255, A: 255})

	out := ExtendBleed(src, 3)
	if out.Bounds().Dx() != 10 || out.Bounds().Dy() != 10 {
		t.Fatalf("unexpected size: %v", out.Bounds())
	}
	if got := out.NRGBAAt(0, 0); got.R != 255 {
		t.Fatalf("corner not replicated from source corner: %+v", got)
	}
	if got := out.NRGBAAt(9, 9); got != (color.NRGBA{R: 10, G: 20, B: 30, A: 255}) {
		t.Fatalf("far corner not replicated: %+v", got)
	}
}

func TestExtendBleedZeroIsCopy(t *testing.T) {
	src := solidImage(5, 7, color.NRGBA{G: 200, A: 255})
	out := ExtendBleed(src, 0)
	if out.Bounds().Dx() != 5 || out.Bounds().Dy() != 7 {
		t.Fatalf("unexpected size: %v", out.Bounds())
	}
}

func TestTrimBleed(t *testing.T) {
	src := solidImage(20, 30, color.NRGBA{B: 255, A: 255})
	out := TrimBleed(src, 2)
	if out.Bounds().Dx() != 16 || out.Bounds().Dy() != 26 {
		t.Fatalf("unexpected size after trim: %v", out.Bounds())
	}

	tiny := TrimBleed(src, 15)
	if tiny.Bounds().Dx() != 1 || tiny.Bounds().Dy() != 1 {
		t.Fatalf("expected 1x1 for oversized trim, got %v", tiny.Bounds())
	}
}

func TestDarkenNearBlack(t *testing.T) {
	src := solidImage(2, 1, color.NRGBA{R: 20, G: 20, B: 20, A: 200})
	src.SetNRGBA(1, 0, color.NRGBA{R: 120, G: 120, B: 120, A: 255})

	out := DarkenNearBlack(src)
	if got := out.NRGBAAt(0, 0); got != (color.NRGBA{A: 200}) {
		t.Fatalf("near-black pixel not darkened: %+v", got)
	}
	if got := out.NRGBAAt(1, 0); got.R != 120 {
		t.Fatalf("mid-grey pixel changed: %+v", got)
	}
}

func TestNormalizeBleed(t *testing.T) {
	const dpi = 100
	src := solidImage(250, 350, color.NRGBA{R: 90, G: 90, B: 90, A: 255})
	trimW, trimH := MMToPixels(CardWidthMM, dpi), MMToPixels(CardHeightMM, dpi)

	tests := []struct {
		name      string
		mode      BleedMode
		target    float64
		existing  float64
		wantBleed float64
		wantW     int
		wantH     int
	}{
		{"none", BleedNone, 3, 0, 0, trimW, trimH},
		{"generate", BleedGenerate, 3, 0, 3, trimW + 2*MMToPixels(3, dpi), trimH + 2*MMToPixels(3, dpi)},
		{"existing trims", BleedExisting, 1, 3,
			1,
			MMToPixels(CardWidthMM+6, dpi) - 2*MMToPixels(2, dpi),
			MMToPixels(CardHeightMM+6, dpi) - 2*MMToPixels(2, dpi)},
		{"existing extends", BleedExisting, 3, 1,
			3,
			MMToPixels(CardWidthMM+2, dpi) + 2*MMToPixels(2, dpi),
			MMToPixels(CardHeightMM+2, dpi) + 2*MMToPixels(2, dpi)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, bleed := NormalizeBleed(src, tt.mode, tt.target, tt.existing, dpi)
			if bleed != tt.wantBleed {
				t.Errorf("bleed = %v, want %v", bleed, tt.wantBleed)
			}
			if out.Bounds().Dx() != tt.wantW || out.Bounds().Dy() != tt.wantH {
				t.Errorf("size = %dx%d, want %dx%d", out.Bounds().Dx(), out.Bounds().Dy(), tt.wantW, tt.wantH)
			}
		})
	}
}

func TestMMToPixels(t *testing.T) {
	if got := MMToPixels(25.4, 300); got != 300 {
		t.Fatalf("MMToPixels(25.4, 300) = %d", got)
	}
	if got := MMToPixels(-1, 300); got != 0 {
		t.Fatalf("negative length should map to 0, got %d", got)
	}
	if got := ToMM(0.125, UnitInch); got != 3.175 {
		t.Fatalf("ToMM inch = %v", got)
	}
}
