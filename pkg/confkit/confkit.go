package confkit

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/joho/godotenv"
)

var dotenvOnce sync.Once

// LoadDotenvOnce loads .env from the working directory or the project root the first
// time it is called. Missing files are ignored; variables already set win.
func LoadDotenvOnce() {
	dotenvOnce.Do(func() {
		candidates := []string{".env"}
		if root, err := ProjectRoot(); err == nil {
			candidates = append(candidates, filepath.Join(root, ".env"))
		}
		for _, path := range candidates {
			if _, err := os.Stat(path); err != nil {
				continue
			}
			_ = godotenv.Load(path)
			return
		}
	})
}

// ProjectRoot walks up from the working directory until it finds go.mod.
func ProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("confkit: go.mod not found above working directory")
		}
		dir = parent
	}
}

// ProjectPath resolves rel against the project root.
func ProjectPath(rel string) (string, error) {
	if filepath.IsAbs(rel) {
		return rel, nil
	}
	root, err := ProjectRoot()
	if err != nil {
		return "", err
	}
	return filepath.Join(root, rel), nil
}

// MustProjectPath is ProjectPath that panics on failure. Intended for tests and main.
func MustProjectPath(rel string) string {
	path, err := ProjectPath(rel)
	if err != nil {
		panic(err)
	}
	return path
}

// ResolvePath keeps a relative path that exists under the working directory and
// otherwise anchors it at the project root. Empty and absolute paths pass through.
func ResolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	if _, err := os.Stat(p); err == nil {
		return p
	}
	if abs, err := ProjectPath(p); err == nil {
		if _, err := os.Stat(abs); err == nil {
			return abs
		}
	}
	return p
}
