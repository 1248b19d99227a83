// Package pool loads puzzle string pools from files.
package pool

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/verte-zerg/proofwork/internal/puzzle"
)

var defaultPool = []string{
	"PROOF",
	"EFFORT",
	"SKILLS",
	"RANK UP",
	"WELL DONE",
}

// Default returns the built-in pool.
func Default() []string {
	out := make([]string, len(defaultPool))
	copy(out, defaultPool)
	return out
}

// yamlPool is the document shape of a YAML pool file. A bare list is
// accepted too.
type yamlPool struct {
	Strings []string `yaml:"strings"`
}

// Load reads a pool from path: one string per line for text files, or a
// YAML list (or a mapping with a "strings" list) for .yaml/.yml files.
// Entries are kept when filter returns true; a nil filter keeps all.
func Load(path string, filter FilterFunc) ([]string, error) {
	var (
		entries []string
		err     error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		entries, err = loadYAML(path)
	default:
		entries, err = loadLines(path)
	}
	if err != nil {
		return nil, err
	}

	out := entries[:0]
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if filter != nil && !filter(entry) {
			continue
		}
		out = append(out, entry)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s", puzzle.ErrEmptyPool, path)
	}
	return out, nil
}

// LoadOrDefault loads path, or returns the default pool when path is empty.
func LoadOrDefault(path string, filter FilterFunc) ([]string, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	return Load(path, filter)
}

func loadLines(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := file.Close(); cerr != nil {
			// Best-effort close for read-only pool file.
			_ = cerr
		}
	}()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

func loadYAML(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var list []string
	if err := yaml.Unmarshal(data, &list); err == nil {
		return list, nil
	}
	var doc yamlPool
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse pool %s: %w", path, err)
	}
	return doc.Strings, nil
}
