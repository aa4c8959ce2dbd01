package panel

import (
	"errors"
	"fmt"
)

// Pair associates a code with its display name.
type Pair struct {
	Code string
	Name string
}

// Mapping is an ordered list of code/name pairs as configured.
type Mapping []Pair

// Codes returns the codes in mapping order.
func (m Mapping) Codes() []string {
	codes := make([]string, len(m))
	for i, p := range m {
		codes[i] = p.Code
	}
	return codes
}

// Validate checks that codes are non-empty and unique.
func (m Mapping) Validate() error {
	seen := make(map[string]bool, len(m))
	for _, p := range m {
		if p.Code == "" {
			return errors.New("empty code")
		}
		if seen[p.Code] {
			return fmt.Errorf("duplicate code %q", p.Code)
		}
		seen[p.Code] = true
	}
	return nil
}

// ColumnName is the panel column for a country under an indicator's display name.
func ColumnName(displayName, country string) string {
	return displayName + "_" + country
}
