package params

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// FileStore serves parameters from a YAML document. Nested mappings are
// flattened into slash separated paths, so
//
//	deploy:
//	  slack: https://hooks.example.com/x
//
// answers "/deploy/slack".
type FileStore struct {
	values map[string]string
}

// LoadFileStore reads and flattens a YAML file.
func LoadFileStore(path string) (*FileStore, error) {
	clean := filepath.Clean(path)
	// #nosec G304 -- path is provided by user configuration
	data, err := os.ReadFile(clean)
	if err != nil {
		return nil, fmt.Errorf("failed to read parameter file %s: %w", clean, err)
	}
	return ParseFileStore(data)
}

// ParseFileStore flattens a YAML document.
func ParseFileStore(data []byte) (*FileStore, error) {
	var doc map[string]interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse parameter file: %w", err)
	}
	fs := &FileStore{values: map[string]string{}}
	flatten("", doc, fs.values)
	return fs, nil
}

func flatten(prefix string, v interface{}, out map[string]string) {
	switch t := v.(type) {
	case map[string]interface{}:
		for k, child := range t {
			flatten(prefix+"/"+strings.Trim(k, "/"), child, out)
		}
	case nil:
		out[prefix] = ""
	default:
		out[prefix] = fmt.Sprint(t)
	}
}

func (s *FileStore) Lookup(_ context.Context, path string) (string, error) {
	p := "/" + strings.Trim(strings.TrimSpace(path), "/")
	if v, ok := s.values[p]; ok {
		return v, nil
	}
	return "", notFound(path)
}

// Len returns the number of flattened parameters.
func (s *FileStore) Len() int { return len(s.values) }
