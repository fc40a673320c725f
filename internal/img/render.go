// internal/img/render.go
package img

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"net/http"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
)

const (
	DefaultExportDPI  = 1200
	DefaultDisplayDPI = 300

	displayQuality = 90
)

// Renderer is the Computer that turns one source card image into its display
// and export variants.
type Renderer struct {
	fetcher *Fetcher
	logger  *slog.Logger
}

// NewRenderer creates a renderer that resolves URLs through fetcher.
func NewRenderer(fetcher *Fetcher, logger *slog.Logger) *Renderer {
	if fetcher == nil {
		fetcher = NewFetcher("")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Renderer{fetcher: fetcher, logger: logger}
}

// Compute implements Computer. Unreachable or undecodable sources yield a
// Result with Error set; context cancellation is returned as an error.
func (r *Renderer) Compute(ctx context.Context, msg Message) (*Result, error) {
	logger := r.logger.With("content_key", msg.ContentKey)

	data, cacheHit := msg.Source, false
	if len(data) == 0 {
		var err error
		data, cacheHit, err = r.fetcher.Fetch(ctx, msg.URL, msg.APIBase)
		if err != nil {
			if errors.Is(err, ErrSourceUnavailable) {
				logger.Warn("source unavailable", "url", msg.URL, "err", err)
				return &Result{ContentKey: msg.ContentKey, Error: err.Error()}, nil
			}
			return nil, err
		}
	}

	src, err := Decode(data)
	if err != nil {
		logger.Warn("decode failed", "err", err)
		return &Result{ContentKey: msg.ContentKey, Error: err.Error()}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	exportDPI := msg.DPI
	if exportDPI <= 0 {
		exportDPI = DefaultExportDPI
	}
	displayDPI := msg.DisplayDPI
	if displayDPI <= 0 || displayDPI > exportDPI {
		displayDPI = min(DefaultDisplayDPI, exportDPI)
	}

	existing := 0.0
	if msg.HasBuiltInBleed {
		existing = msg.ExistingBleedMM
	}
	export, bleedMM := NormalizeBleed(src, msg.BleedMode, msg.BleedMM(), existing, exportDPI)
	display := scaleToDPI(export, exportDPI, displayDPI)

	res := &Result{
		ContentKey:        msg.ContentKey,
		DisplayDPI:        displayDPI,
		ExportDPI:         exportDPI,
		DisplayBleedWidth: bleedMM,
		ExportBleedWidth:  bleedMM,
		ImageCacheHit:     cacheHit,
	}

	if res.ExportBlob, err = EncodePNG(export); err != nil {
		return nil, fmt.Errorf("encode export: %w", err)
	}
	if res.DisplayBlob, err = EncodeWebP(display); err != nil {
		return nil, fmt.Errorf("encode display: %w", err)
	}

	if msg.DarkenNearBlack {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if res.ExportBlobDarkened, err = EncodePNG(DarkenNearBlack(export)); err != nil {
			return nil, fmt.Errorf("encode darkened export: %w", err)
		}
		if res.DisplayBlobDarkened, err = EncodeWebP(DarkenNearBlack(display)); err != nil {
			return nil, fmt.Errorf("encode darkened display: %w", err)
		}
	}

	logger.Debug("rendered variants",
		"export_dpi", exportDPI,
		"display_dpi", displayDPI,
		"bleed_mm", bleedMM,
		"cache_hit", cacheHit)
	return res, nil
}

func scaleToDPI(src *image.NRGBA, fromDPI, toDPI int) *image.NRGBA {
	if fromDPI == toDPI {
		return src
	}
	b := src.Bounds()
	w := max(1, b.Dx()*toDPI/fromDPI)
	h := max(1, b.Dy()*toDPI/fromDPI)
	return imaging.Resize(src, w, h, imaging.Lanczos)
}

// Decode sniffs the format of data and decodes it, honouring EXIF orientation.
func Decode(data []byte) (image.Image, error) {
	if http.DetectContentType(data) == "image/webp" {
		m, err := webp.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decode webp: %w", err)
		}
		return m, nil
	}
	m, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return m, nil
}

// EncodePNG encodes m losslessly for export.
func EncodePNG(m image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, m, imaging.PNG); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeWebP encodes m as lossy WebP for on-screen display.
func EncodeWebP(m image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := webp.Encode(&buf, m, &webp.Options{Lossless: false, Quality: displayQuality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
