package journal

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrNotFound is returned by Find when no cycle carries the requested id.
var ErrNotFound = errors.New("journal: cycle not found")

// Reader loads cycle files written by Writer.
type Reader struct {
	dir string
}

// NewReader returns a reader rooted at dir (defaults to ./journal).
func NewReader(dir string) *Reader {
	if strings.TrimSpace(dir) == "" {
		dir = "journal"
	}
	return &Reader{dir: dir}
}

// List returns cycle file paths, oldest first. If limit > 0 only the latest N are returned.
func (r *Reader) List(limit int) ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("journal: list dir %s: %w", r.dir, err)
	}
	files := make([]string, 0, len(entries))
	for _, ent := range entries {
		name := ent.Name()
		if ent.IsDir() || !strings.HasPrefix(name, "cycle_") || !strings.HasSuffix(name, ".json") {
			continue
		}
		files = append(files, filepath.Join(r.dir, name))
	}
	sort.Strings(files)
	if limit > 0 && len(files) > limit {
		files = files[len(files)-limit:]
	}
	return files, nil
}

// Load reads a single cycle file. Records without a cycle id are rejected.
func (r *Reader) Load(path string) (*CycleRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("journal: read %s: %w", path, err)
	}
	var rec CycleRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("journal: decode %s: %w", path, err)
	}
	if rec.CycleID == "" {
		return nil, fmt.Errorf("journal: %s has no cycle_id", path)
	}
	return &rec, nil
}

// Find scans the journal, newest first, for the cycle with the given id and returns the
// record with its path.
func (r *Reader) Find(cycleID string) (*CycleRecord, string, error) {
	files, err := r.List(0)
	if err != nil {
		return nil, "", err
	}
	for i := len(files) - 1; i >= 0; i-- {
		rec, err := r.Load(files[i])
		if err != nil {
			continue
		}
		if rec.CycleID == cycleID {
			return rec, files[i], nil
		}
	}
	return nil, "", fmt.Errorf("%w: %s", ErrNotFound, cycleID)
}
