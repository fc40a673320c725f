package store

import (
	"time"
)

// Record is the persisted state of one card image, keyed by content key.
type Record struct {
	ID           string `gorm:"primaryKey"`
	Name         string
	SourceURL    string
	OriginalBlob []byte

	HasBuiltInBleed bool
	IsUserUpload    bool

	DisplayBlob         []byte
	DisplayBlobDarkened []byte
	ExportBlob          []byte
	ExportBlobDarkened  []byte
	DisplayDPI          int `gorm:"column:display_dpi"`
	ExportDPI           int `gorm:"column:export_dpi"`
	DisplayBleedWidth   float64
	ExportBleedWidth    float64

	// GeneratedHasBuiltInBleed and GeneratedBleedMode record the parameters the
	// blobs were generated with; an empty mode means nothing was generated yet.
	GeneratedHasBuiltInBleed bool
	GeneratedBleedMode       string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName pins the table name.
func (Record) TableName() string { return "image_records" }

// Generated reports whether the record carries generated variants.
func (r *Record) Generated() bool {
	return r != nil && r.GeneratedBleedMode != "" && len(r.ExportBlob) > 0
}

// Generated is the partial update written after a successful processing run.
type Generated struct {
	DisplayBlob              []byte
	DisplayBlobDarkened      []byte
	ExportBlob               []byte
	ExportBlobDarkened       []byte
	DisplayDPI               int
	ExportDPI                int
	DisplayBleedWidth        float64
	ExportBleedWidth         float64
	GeneratedHasBuiltInBleed bool
	GeneratedBleedMode       string
}

func (g Generated) columns() map[string]any {
	return map[string]any{
		"display_blob":                 g.DisplayBlob,
		"display_blob_darkened":        g.DisplayBlobDarkened,
		"export_blob":                  g.ExportBlob,
		"export_blob_darkened":         g.ExportBlobDarkened,
		"display_dpi":                  g.DisplayDPI,
		"export_dpi":                   g.ExportDPI,
		"display_bleed_width":          g.DisplayBleedWidth,
		"export_bleed_width":           g.ExportBleedWidth,
		"generated_has_built_in_bleed": g.GeneratedHasBuiltInBleed,
		"generated_bleed_mode":         g.GeneratedBleedMode,
	}
}
