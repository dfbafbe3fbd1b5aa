package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"adaptive-proxy/pkg/models"
)

// DomainPattern matches a domain and all of its subdomains.
type DomainPattern struct {
	labels []string
}

// ParseDomainPattern accepts "example.com", ".example.com" or "*.example.com";
// all three match example.com and every name below it.
func ParseDomainPattern(pattern string) (DomainPattern, error) {
	p := strings.TrimPrefix(strings.TrimPrefix(string(models.NewSite(pattern)), "*"), ".")
	if p == "" {
		return DomainPattern{}, fmt.Errorf("empty domain pattern %q", pattern)
	}
	labels := strings.Split(p, ".")
	for _, l := range labels {
		if l == "" || strings.ContainsAny(l, "*/: ") {
			return DomainPattern{}, fmt.Errorf("invalid domain pattern %q", pattern)
		}
	}
	return DomainPattern{labels: labels}, nil
}

// Matches compares label by label from the right, so "ample.com" does not
// match example.com.
func (p DomainPattern) Matches(site models.Site) bool {
	labels := strings.Split(string(site), ".")
	if len(labels) < len(p.labels) {
		return false
	}
	offset := len(labels) - len(p.labels)
	for i, l := range p.labels {
		if labels[offset+i] != l {
			return false
		}
	}
	return true
}

func (p DomainPattern) String() string {
	return strings.Join(p.labels, ".")
}

// ReadDomainPatterns reads one pattern per line. Blank lines and lines
// starting with # are ignored.
func ReadDomainPatterns(r io.Reader) ([]DomainPattern, error) {
	var patterns []DomainPattern
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		p, err := ParseDomainPattern(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		patterns = append(patterns, p)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return patterns, nil
}

func readDomainPatternFile(path string) ([]DomainPattern, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open domain list: %w", err)
	}
	defer f.Close()

	patterns, err := ReadDomainPatterns(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read domain list %s: %w", path, err)
	}
	return patterns, nil
}
