// Package settings holds the user preferences that drive image generation.
package settings

import (
	"fmt"
	"os"
	"strconv"
	"sync/atomic"

	"github.com/tendant/simple-proxyprep/internal/img"
)

// Settings is an immutable snapshot of the generation preferences.
type Settings struct {
	DisplayDPI      int
	ExportDPI       int
	BleedWidth      float64
	Unit            img.Unit
	DarkenNearBlack bool

	// UploadBleedMode applies to sources without built-in bleed.
	UploadBleedMode img.BleedMode
	// BuiltInBleedMode applies to sources that already carry bleed.
	BuiltInBleedMode img.BleedMode
	// BuiltInBleedMM is the bleed assumed for sources that carry it.
	BuiltInBleedMM float64

	APIBase  string
	Hydrated bool
}

// Default returns the hydrated defaults used when nothing is configured.
func Default() Settings {
	return Settings{
		DisplayDPI:       img.DefaultDisplayDPI,
		ExportDPI:        img.DefaultExportDPI,
		BleedWidth:       3,
		Unit:             img.UnitMM,
		UploadBleedMode:  img.BleedGenerate,
		BuiltInBleedMode: img.BleedExisting,
		BuiltInBleedMM:   3.175,
		Hydrated:         true,
	}
}

// BleedModeFor picks the bleed mode for a source.
func (s Settings) BleedModeFor(hasBuiltInBleed bool) img.BleedMode {
	if hasBuiltInBleed {
		return s.BuiltInBleedMode
	}
	return s.UploadBleedMode
}

// ExpectedBleedWidth is the export bleed in millimetres a record generated
// under mode must carry.
func (s Settings) ExpectedBleedWidth(mode img.BleedMode) float64 {
	if mode == img.BleedNone {
		return 0
	}
	return img.ToMM(s.BleedWidth, s.Unit)
}

// Fingerprint identifies the generation parameters a record was built with.
type Fingerprint struct {
	HasBuiltInBleed bool
	BleedMode       img.BleedMode
	BleedWidth      float64
}

func (f Fingerprint) String() string {
	return fmt.Sprintf("builtin=%t mode=%s bleed=%g", f.HasBuiltInBleed, f.BleedMode, f.BleedWidth)
}

// FingerprintFor returns the fingerprint expected for a source under s.
func (s Settings) FingerprintFor(hasBuiltInBleed bool) Fingerprint {
	mode := s.BleedModeFor(hasBuiltInBleed)
	return Fingerprint{
		HasBuiltInBleed: hasBuiltInBleed,
		BleedMode:       mode,
		BleedWidth:      s.ExpectedBleedWidth(mode),
	}
}

// Provider exposes a synchronous settings snapshot.
type Provider interface {
	Snapshot() Settings
}

// Static is a Provider whose snapshot can be swapped atomically.
type Static struct {
	v atomic.Pointer[Settings]
}

// NewStatic returns a provider serving s.
func NewStatic(s Settings) *Static {
	p := &Static{}
	p.Set(s)
	return p
}

// Snapshot implements Provider.
func (p *Static) Snapshot() Settings {
	if s := p.v.Load(); s != nil {
		return *s
	}
	return Settings{}
}

// Set replaces the served snapshot.
func (p *Static) Set(s Settings) { p.v.Store(&s) }

// Update applies fn to a copy of the current snapshot and stores the result.
func (p *Static) Update(fn func(*Settings)) {
	s := p.Snapshot()
	fn(&s)
	p.Set(s)
}

// FromEnv overlays environment variables on Default.
func FromEnv() (Settings, error) {
	s := Default()

	var err error
	if s.DisplayDPI, err = envInt("DISPLAY_DPI", s.DisplayDPI); err != nil {
		return Settings{}, err
	}
	if s.ExportDPI, err = envInt("EXPORT_DPI", s.ExportDPI); err != nil {
		return Settings{}, err
	}
	if s.BleedWidth, err = envFloat("BLEED_WIDTH", s.BleedWidth); err != nil {
		return Settings{}, err
	}
	if s.BuiltInBleedMM, err = envFloat("BUILTIN_BLEED_MM", s.BuiltInBleedMM); err != nil {
		return Settings{}, err
	}
	if v := os.Getenv("BLEED_UNIT"); v != "" {
		if v != string(img.UnitMM) && v != string(img.UnitInch) {
			return Settings{}, fmt.Errorf("invalid BLEED_UNIT %q (want mm or in)", v)
		}
		s.Unit = img.Unit(v)
	}
	if s.UploadBleedMode, err = envMode("UPLOAD_BLEED_MODE", s.UploadBleedMode); err != nil {
		return Settings{}, err
	}
	if s.BuiltInBleedMode, err = envMode("BUILTIN_BLEED_MODE", s.BuiltInBleedMode); err != nil {
		return Settings{}, err
	}
	s.DarkenNearBlack = os.Getenv("DARKEN_NEAR_BLACK") == "true"
	s.APIBase = os.Getenv("IMAGE_API_BASE")
	return s, nil
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%s must be greater than zero (got %d)", key, n)
	}
	return n, nil
}

func envFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if f < 0 {
		return 0, fmt.Errorf("%s must not be negative (got %g)", key, f)
	}
	return f, nil
}

func envMode(key string, def img.BleedMode) (img.BleedMode, error) {
	switch v := img.BleedMode(os.Getenv(key)); v {
	case "":
		return def, nil
	case img.BleedGenerate, img.BleedExisting, img.BleedNone:
		return v, nil
	default:
		return "", fmt.Errorf("invalid %s %q", key, v)
	}
}
