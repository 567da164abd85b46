package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const fileTimeLayout = "20060102_150405.000"

// Writer stores cycle records under a directory.
type Writer struct {
	dir string
}

// NewWriter returns a writer rooted at dir (defaults to ./journal).
func NewWriter(dir string) *Writer {
	if strings.TrimSpace(dir) == "" {
		dir = "journal"
	}
	return &Writer{dir: dir}
}

// Dir is the directory records are written to.
func (w *Writer) Dir() string { return w.dir }

// Write stores rec as cycle_<timestamp>.json and returns its path. The file is written
// to a temp name first so readers never see a partial record.
func (w *Writer) Write(rec *CycleRecord) (string, error) {
	if rec == nil {
		return "", fmt.Errorf("journal: nil record")
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("journal: create dir %s: %w", w.dir, err)
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", fmt.Errorf("journal: encode %s: %w", rec.CycleID, err)
	}

	name := "cycle_" + rec.Timestamp.UTC().Format(fileTimeLayout) + ".json"
	path := filepath.Join(w.dir, name)
	tmp, err := os.CreateTemp(w.dir, ".cycle-*.tmp")
	if err != nil {
		return "", fmt.Errorf("journal: temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("journal: write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("journal: write %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("journal: rename %s: %w", path, err)
	}
	return path, nil
}
