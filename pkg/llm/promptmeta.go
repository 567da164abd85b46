package llm

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/zeromicro/go-zero/core/logx"
)

const defaultPromptHeaderScanLimit = 8 * 1024

var versionHeaderRegexp = regexp.MustCompile(`(?i)version:\s*([a-z0-9._-]+)`)

// TemplateVersionGuard checks that a prompt template declares the version the output
// schema was written against.
type TemplateVersionGuard struct {
	Component            string
	ExpectedVersion      string
	RequireVersionHeader bool
	StrictMode           bool
	ScanLimit            int
}

// Check validates the header in content and returns the declared version.
func (g TemplateVersionGuard) Check(name string, content []byte) (string, error) {
	version, err := ExtractTemplateVersion(name, content, g.scanLimit())
	if err != nil {
		if g.RequireVersionHeader {
			return "", err
		}
		logx.Infof("%s: %v", g.componentName(), err)
		return "", nil
	}
	expected := strings.TrimSpace(g.ExpectedVersion)
	if expected != "" && version != expected {
		err := fmt.Errorf("%s template %s declared version %s but expected %s", g.componentName(), name, version, expected)
		if g.StrictMode {
			return "", err
		}
		logx.Errorf("%v", err)
	}
	return version, nil
}

// ExtractTemplateVersion scans the head of content for a {{/* Version: ... */}} header.
func ExtractTemplateVersion(name string, content []byte, scanLimit int) (string, error) {
	if scanLimit <= 0 {
		scanLimit = defaultPromptHeaderScanLimit
	}
	if scanLimit > len(content) {
		scanLimit = len(content)
	}
	matches := versionHeaderRegexp.FindSubmatch(content[:scanLimit])
	if len(matches) < 2 {
		return "", fmt.Errorf("prompt template %s missing Version header (expected {{/* Version: <semver> */}})", name)
	}
	return strings.TrimSpace(string(matches[1])), nil
}

func (g TemplateVersionGuard) scanLimit() int {
	if g.ScanLimit > 0 {
		return g.ScanLimit
	}
	return defaultPromptHeaderScanLimit
}

func (g TemplateVersionGuard) componentName() string {
	if strings.TrimSpace(g.Component) != "" {
		return g.Component
	}
	return "prompt"
}
