// Package export persists forensic reports as JSON, as a rendered text
// document, and to S3-compatible storage.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"rawdiag/forensic"
)

// WriteJSON writes r as indented JSON.
func WriteJSON(w io.Writer, r *forensic.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// BaseName is the file name stem for r, unique per report.
func BaseName(r *forensic.Report) string {
	id := r.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("rawdiag-report-%s-%s", r.CapturedAt.UTC().Format("20060102T150405Z"), id)
}

// Files are the paths Save wrote.
type Files struct {
	JSON string
	Text string
}

// Save writes the JSON and text renditions of r into dir.
func Save(dir string, r *forensic.Report) (Files, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Files{}, fmt.Errorf("create report directory: %w", err)
	}
	base := filepath.Join(dir, BaseName(r))
	files := Files{JSON: base + ".json", Text: base + ".txt"}

	f, err := os.Create(files.JSON)
	if err != nil {
		return Files{}, err
	}
	if err := WriteJSON(f, r); err != nil {
		_ = f.Close()
		return Files{}, fmt.Errorf("write %s: %w", files.JSON, err)
	}
	if err := f.Close(); err != nil {
		return Files{}, err
	}
	if err := os.WriteFile(files.Text, []byte(Render(r)), 0o644); err != nil {
		return Files{}, fmt.Errorf("write %s: %w", files.Text, err)
	}
	return files, nil
}
