package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tailscale/hujson"

	"github.com/Sternrassler/wbpanel/pkg/panel"
)

// ParseMapping decodes a JSON object of code to name into an ordered
// Mapping. Comments and trailing commas are accepted. Key order is kept.
func ParseMapping(s string) (panel.Mapping, error) {
	std, err := hujson.Standardize([]byte(s))
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(std))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, errors.New("expected a JSON object of code to name")
	}

	var (
		m    panel.Mapping
		seen = make(map[string]bool)
	)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		code := tok.(string)

		var name string
		if err := dec.Decode(&name); err != nil {
			return nil, fmt.Errorf("value of %q: %w", code, err)
		}
		if seen[code] {
			return nil, fmt.Errorf("duplicate key %q", code)
		}
		seen[code] = true
		m = append(m, panel.Pair{Code: code, Name: name})
	}

	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return m, nil
}
