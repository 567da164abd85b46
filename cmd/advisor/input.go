package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"magnus-advisor/pkg/position"
)

// snapshotFile accepts either a bare list or {"positions": [...]}.
type snapshotFile struct {
	Positions []position.Snapshot `json:"positions" yaml:"positions"`
}

// readSnapshots decodes JSON or YAML by extension; "-" reads JSON from stdin.
func readSnapshots(path string, stdin io.Reader) ([]position.Snapshot, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read positions: %w", err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}

	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".yaml" || ext == ".yml" {
		var list []position.Snapshot
		if err := yaml.Unmarshal(data, &list); err == nil {
			return list, nil
		}
		var wrapped snapshotFile
		if err := yaml.Unmarshal(data, &wrapped); err != nil {
			return nil, fmt.Errorf("decode positions %s: %w", path, err)
		}
		return wrapped.Positions, nil
	}

	if data[0] == '[' {
		var list []position.Snapshot
		if err := json.Unmarshal(data, &list); err != nil {
			return nil, fmt.Errorf("decode positions %s: %w", path, err)
		}
		return list, nil
	}
	var wrapped snapshotFile
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("decode positions %s: %w", path, err)
	}
	return wrapped.Positions, nil
}
