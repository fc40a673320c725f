package settings

import (
	"testing"

	"github.com/tendant/simple-proxyprep/internal/img"
)

func TestFromEnvDefaults(t *testing.T) {
	for _, k := range []string{"DISPLAY_DPI", "EXPORT_DPI", "BLEED_WIDTH", "BLEED_UNIT", "UPLOAD_BLEED_MODE", "BUILTIN_BLEED_MODE", "BUILTIN_BLEED_MM", "DARKEN_NEAR_BLACK", "IMAGE_API_BASE"} {
		t.Setenv(k, "")
	}

	s, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv returned error: %v", err)
	}
	if s != Default() {
		t.Fatalf("unexpected settings: %+v", s)
	}
	if !s.Hydrated {
		t.Fatal("defaults must be hydrated")
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("EXPORT_DPI", "600")
	t.Setenv("BLEED_WIDTH", "0.125")
	t.Setenv("BLEED_UNIT", "in")
	t.Setenv("UPLOAD_BLEED_MODE", "none")
	t.Setenv("DARKEN_NEAR_BLACK", "true")

	s, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv returned error: %v", err)
	}
	if s.ExportDPI != 600 || s.BleedWidth != 0.125 || s.Unit != img.UnitInch {
		t.Fatalf("overrides not applied: %+v", s)
	}
	if s.UploadBleedMode != img.BleedNone || !s.DarkenNearBlack {
		t.Fatalf("overrides not applied: %+v", s)
	}
}

func TestFromEnvRejectsInvalid(t *testing.T) {
	tests := []struct{ key, value string }{
		{"EXPORT_DPI", "not-a-number"},
		{"EXPORT_DPI", "0"},
		{"BLEED_WIDTH", "-1"},
		{"BLEED_UNIT", "cm"},
		{"BUILTIN_BLEED_MODE", "mirror"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := FromEnv(); err == nil {
				t.Fatalf("expected error for %s=%s", tt.key, tt.value)
			}
		})
	}
}

func TestFingerprintFor(t *testing.T) {
	s := Default()
	s.UploadBleedMode = img.BleedNone

	fp := s.FingerprintFor(false)
	if fp.BleedMode != img.BleedNone || fp.BleedWidth != 0 {
		t.Fatalf("unexpected upload fingerprint: %v", fp)
	}

	fp = s.FingerprintFor(true)
	if fp.BleedMode != img.BleedExisting || fp.BleedWidth != s.BleedWidth || !fp.HasBuiltInBleed {
		t.Fatalf("unexpected built-in fingerprint: %v", fp)
	}
}

func TestStaticUpdate(t *testing.T) {
	p := NewStatic(Default())
	p.Update(func(s *Settings) { s.BleedWidth = 1 })
	if p.Snapshot().BleedWidth != 1 {
		t.Fatalf("update not applied: %+v", p.Snapshot())
	}

	var empty Static
	if empty.Snapshot().Hydrated {
		t.Fatal("zero provider must not report hydrated")
	}
}

func TestExpectedBleedWidthInMillimetres(t *testing.T) {
	s := Default()
	s.Unit = img.UnitInch
	s.BleedWidth = 0.125

	if got := s.ExpectedBleedWidth(img.BleedGenerate); got != 3.175 {
		t.Fatalf("ExpectedBleedWidth = %g, want 3.175", got)
	}
	if got := s.ExpectedBleedWidth(img.BleedNone); got != 0 {
		t.Fatalf("ExpectedBleedWidth(none) = %g, want 0", got)
	}
}
