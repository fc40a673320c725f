// cmd/test-render provides a standalone CLI tool for rendering one card image
// into its display and export variants without a database.
//
// Usage:
//
//	./test-render -input card.png
//	./test-render -input https://example.com/card.jpg -bleed 0.125 -unit in -out ./out
//	./test-render -input card_bleed.png -builtin -mode existing -probe
package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tendant/simple-proxyprep/internal/img"
	"github.com/tendant/simple-proxyprep/internal/processor"
)

func main() {
	input := flag.String("input", "", "Input image path or URL (required)")
	outDir := flag.String("out", ".", "Output directory")
	bleed := flag.Float64("bleed", 3, "Bleed width")
	unit := flag.String("unit", "mm", "Bleed unit (mm or in)")
	mode := flag.String("mode", string(img.BleedGenerate), "Bleed mode (generate, existing, none)")
	builtin := flag.Bool("builtin", false, "Source already carries bleed")
	existing := flag.Float64("existing", 3.175, "Built-in bleed of the source in mm")
	dpi := flag.Int("dpi", img.DefaultExportDPI, "Export DPI")
	displayDPI := flag.Int("display-dpi", img.DefaultDisplayDPI, "Display DPI")
	darken := flag.Bool("darken", false, "Also write near-black darkened variants")
	probe := flag.Bool("probe", false, "Show source metadata only (don't render)")
	timeout := flag.Int("timeout", 60, "Render timeout in seconds")
	verbose := flag.Bool("v", false, "Verbose output")

	flag.Parse()

	if *input == "" {
		fmt.Println("Error: -input flag is required")
		flag.Usage()
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(*timeout)*time.Second)
	defer cancel()

	if *probe {
		data, _, err := img.NewFetcher("").Fetch(ctx, *input, "")
		if err != nil {
			log.Fatalf("❌ Failed to read source: %v", err)
		}
		m, err := img.Decode(data)
		if err != nil {
			log.Fatalf("❌ Failed to decode source: %v", err)
		}
		printSourceInfo(*input, m, int64(len(data)))
		return
	}

	msg := img.Message{
		ContentKey:      filepath.Base(*input),
		URL:             *input,
		BleedEdgeWidth:  *bleed,
		Unit:            img.Unit(*unit),
		HasBuiltInBleed: *builtin,
		BleedMode:       img.BleedMode(*mode),
		DPI:             *dpi,
		DisplayDPI:      *displayDPI,
		DarkenNearBlack: *darken,
	}
	if *builtin {
		msg.ExistingBleedMM = *existing
	}

	if *verbose {
		fmt.Printf("📄 Input: %s\n", *input)
		fmt.Printf("🔧 Mode: %s, bleed %g%s, %d dpi\n", msg.BleedMode, msg.BleedEdgeWidth, msg.Unit, msg.DPI)
	}

	proc := processor.New(img.NewRenderer(nil, nil), processor.WithMaxWorkers(1))
	defer proc.Destroy()

	fmt.Printf("\n🎨 Rendering variants...\n")
	start := time.Now()

	res, err := proc.Process(msg, processor.High).Wait(ctx)
	if err != nil {
		log.Fatalf("❌ Render failed: %v", err)
	}
	if res.Failed() {
		log.Fatalf("❌ Render failed: %s", res.Error)
	}
	duration := time.Since(start)

	base := strings.TrimSuffix(filepath.Base(*input), filepath.Ext(*input))
	outputs := []struct {
		suffix string
		data   []byte
	}{
		{"_export.png", res.ExportBlob},
		{"_display.webp", res.DisplayBlob},
		{"_export_dark.png", res.ExportBlobDarkened},
		{"_display_dark.webp", res.DisplayBlobDarkened},
	}

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		log.Fatalf("❌ Failed to create output directory: %v", err)
	}

	fmt.Printf("\n✅ Render successful!\n")
	fmt.Println(strings.Repeat("-", 40))
	for _, o := range outputs {
		if len(o.data) == 0 {
			continue
		}
		path := filepath.Join(*outDir, base+o.suffix)
		if err := os.WriteFile(path, o.data, 0o644); err != nil {
			log.Fatalf("❌ Failed to write %s: %v", path, err)
		}
		fmt.Printf("📁 %s (%s)\n", path, formatBytes(int64(len(o.data))))
	}
	fmt.Printf("📏 Bleed: %.3f mm export, %.3f mm display\n", res.ExportBleedWidth, res.DisplayBleedWidth)
	fmt.Printf("🖨️  DPI: %d export, %d display\n", res.ExportDPI, res.DisplayDPI)
	fmt.Printf("⏱️  Time: %v\n", duration.Round(time.Millisecond))
	fmt.Println()
}

// printSourceInfo prints source metadata in a readable format
func printSourceInfo(src string, m image.Image, size int64) {
	b := m.Bounds()
	fmt.Println("\n📊 Source Metadata:")
	fmt.Println(strings.Repeat("-", 40))
	fmt.Printf("Source: %s\n", src)
	fmt.Printf("Dimensions: %dx%d pixels\n", b.Dx(), b.Dy())
	fmt.Printf("Aspect: %.3f (card %.3f)\n", float64(b.Dx())/float64(b.Dy()), img.CardWidthMM/img.CardHeightMM)
	fmt.Printf("Effective DPI: %.0f\n", float64(b.Dx())/(img.CardWidthMM/25.4))
	fmt.Printf("File Size: %s\n", formatBytes(size))
}

// formatBytes formats bytes into human-readable format
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
