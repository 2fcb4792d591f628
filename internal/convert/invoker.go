// Package convert wraps the external grib-to-json converter behind a
// file-in/file-out contract. The converter is an opaque executable; this
// package never inspects the data it produces.
package convert

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// Invoker converts a raw artifact into a structured artifact on disk.
type Invoker interface {
	// Convert reads rawPath and produces outPath, or fails leaving no
	// usable output. The caller must not consider the key cached on error.
	Convert(ctx context.Context, rawPath, outPath string) error
}

// GribConverter invokes the grib2json executable synchronously.
type GribConverter struct {
	bin string
}

// NewGribConverter creates an Invoker around the converter binary at bin.
func NewGribConverter(bin string) *GribConverter {
	return &GribConverter{bin: bin}
}

// Convert runs the converter. A non-zero exit is a failure; stderr is
// folded into the returned error. Any partial output file is removed so
// the structured area never holds a half-written artifact.
func (c *GribConverter) Convert(ctx context.Context, rawPath, outPath string) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	cmd := exec.CommandContext(ctx, c.bin, "--data", "--names", "--compact", "--output", outPath, rawPath)
	if out, err := cmd.CombinedOutput(); err != nil {
		os.Remove(outPath)
		return fmt.Errorf("converter %s failed for %s: %w (output: %s)", c.bin, rawPath, err, out)
	}
	return nil
}
