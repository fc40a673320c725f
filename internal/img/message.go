// internal/img/message.go
package img

import (
	"context"
)

// BleedMode selects how the renderer treats the margin around the card trim line.
type BleedMode string

const (
	// BleedGenerate synthesizes a bleed margin by replicating the outer edge.
	BleedGenerate BleedMode = "generate"
	// BleedExisting keeps the source's own bleed, trimming or extending it to the target width.
	BleedExisting BleedMode = "existing"
	// BleedNone outputs the card at trim size.
	BleedNone BleedMode = "none"
)

// Unit is the unit a bleed width is expressed in.
type Unit string

const (
	UnitMM   Unit = "mm"
	UnitInch Unit = "in"
)

// Card trim size in millimetres (poker size).
const (
	CardWidthMM  = 63.0
	CardHeightMM = 88.0
)

// Message is the request payload handed to a worker.
type Message struct {
	ContentKey      string
	URL             string
	Source          []byte // raw source bytes; takes precedence over URL
	BleedEdgeWidth  float64
	Unit            Unit
	APIBase         string
	IsUserUpload    bool
	HasBuiltInBleed bool
	BleedMode       BleedMode
	ExistingBleedMM float64
	DPI             int
	DisplayDPI      int
	DarkenNearBlack bool
}

// Result is the worker response. A non-empty Error marks a logical failure:
// the worker ran to completion but could not produce the variants.
type Result struct {
	ContentKey          string
	DisplayBlob         []byte
	DisplayBlobDarkened []byte
	ExportBlob          []byte
	ExportBlobDarkened  []byte
	DisplayDPI          int
	ExportDPI           int
	DisplayBleedWidth   float64
	ExportBleedWidth    float64
	ImageCacheHit       bool
	Error               string
}

// Failed reports whether the result encodes a logical error.
func (r *Result) Failed() bool { return r != nil && r.Error != "" }

// Computer is the opaque "process one image" operation run inside a worker.
// A returned error is a runtime failure of the worker itself; semantic
// failures are reported through Result.Error instead.
type Computer interface {
	Compute(ctx context.Context, msg Message) (*Result, error)
}

// ComputerFunc adapts a function to the Computer interface.
type ComputerFunc func(ctx context.Context, msg Message) (*Result, error)

func (f ComputerFunc) Compute(ctx context.Context, msg Message) (*Result, error) {
	return f(ctx, msg)
}

// BleedMM converts the message bleed width to millimetres.
func (m Message) BleedMM() float64 {
	return ToMM(m.BleedEdgeWidth, m.Unit)
}

// ToMM converts a length in the given unit to millimetres. Unknown units are
// treated as millimetres.
func ToMM(v float64, unit Unit) float64 {
	if unit == UnitInch {
		return v * 25.4
	}
	return v
}

// MMToPixels converts a length in millimetres to whole pixels at dpi.
func MMToPixels(mm float64, dpi int) int {
	if mm <= 0 || dpi <= 0 {
		return 0
	}
	return int(mm/25.4*float64(dpi) + 0.5)
}
