package httptts

import (
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// File is the on-disk format for importing and exporting engines.
type File struct {
	Engines []Engine `yaml:"engines"`
}

// LoadYAML reads and validates engines. Duplicate names are rejected.
func LoadYAML(r io.Reader) ([]Engine, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to parse engines: %w", err)
	}

	seen := make(map[string]bool, len(f.Engines))
	for i, e := range f.Engines {
		if err := e.Validate(); err != nil {
			return nil, fmt.Errorf("engine #%d: %w", i+1, err)
		}
		if seen[e.Name] {
			return nil, fmt.Errorf("engine #%d: %w: duplicate name %q", i+1, ErrInvalidEngine, e.Name)
		}
		seen[e.Name] = true
	}
	return f.Engines, nil
}

// WriteYAML writes engines in the format LoadYAML reads.
func WriteYAML(w io.Writer, engines []Engine) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(File{Engines: engines}); err != nil {
		return fmt.Errorf("failed to encode engines: %w", err)
	}
	return enc.Close()
}
