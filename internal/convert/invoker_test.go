package convert

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

// writeScript creates a small shell script acting as a stand-in converter.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "converter.sh")
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestConvertProducesOutput(t *testing.T) {
	// Copies the input (last arg) to the --output path (arg after --output).
	bin := writeScript(t, `
out=""
prev=""
for a in "$@"; do
  if [ "$prev" = "--output" ]; then out="$a"; fi
  prev="$a"
  last="$a"
done
cp "$last" "$out"`)

	dir := t.TempDir()
	raw := filepath.Join(dir, "2024030100.grib2")
	outPath := filepath.Join(dir, "data", "2024030100.json")
	if err := os.WriteFile(raw, []byte(`{"wind":[]}`), 0o644); err != nil {
		t.Fatalf("write raw: %v", err)
	}

	inv := NewGribConverter(bin)
	if err := inv.Convert(context.Background(), raw, outPath); err != nil {
		t.Fatalf("Convert: %v", err)
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(data) != `{"wind":[]}` {
		t.Errorf("output = %q", data)
	}
}

func TestConvertFailureLeavesNoOutput(t *testing.T) {
	// Writes partial output, then exits non-zero.
	bin := writeScript(t, `
prev=""
for a in "$@"; do
  if [ "$prev" = "--output" ]; then echo partial > "$a"; fi
  prev="$a"
done
exit 3`)

	dir := t.TempDir()
	raw := filepath.Join(dir, "2024030100.grib2")
	outPath := filepath.Join(dir, "data", "2024030100.json")
	if err := os.WriteFile(raw, []byte("x"), 0o644); err != nil {
		t.Fatalf("write raw: %v", err)
	}

	inv := NewGribConverter(bin)
	if err := inv.Convert(context.Background(), raw, outPath); err == nil {
		t.Fatal("Convert succeeded, want error")
	}

	if _, err := os.Stat(outPath); !os.IsNotExist(err) {
		t.Errorf("partial output survived a failed conversion")
	}
	if _, err := os.Stat(raw); err != nil {
		t.Errorf("raw artifact should be retained on failure: %v", err)
	}
}

func TestConvertMissingBinary(t *testing.T) {
	inv := NewGribConverter(filepath.Join(t.TempDir(), "does-not-exist"))
	err := inv.Convert(context.Background(), "in", filepath.Join(t.TempDir(), "out.json"))
	if err == nil {
		t.Fatal("Convert with missing binary succeeded")
	}
}
