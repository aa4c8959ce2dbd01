package indicator

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	errMissing  = errors.New("missing")
	errNotYear  = errors.New("not an integer year")
	errNotFloat = errors.New("not a number or null")
)

// envelope is one decoded response page: [metadata, records|null].
type envelope struct {
	meta    pageMeta
	records []Observation
	// empty is set when the service returned no record list.
	empty bool
}

// pageMeta is the pagination element. The service has sent per_page both
// as a number and as a string, so every counter is decoded leniently.
type pageMeta struct {
	Page    flexInt      `json:"page"`
	Pages   flexInt      `json:"pages"`
	PerPage flexInt      `json:"per_page"`
	Total   flexInt      `json:"total"`
	Message []apiMessage `json:"message"`
}

// apiMessage is the service's in-band error shape, e.g. an unknown indicator.
type apiMessage struct {
	ID    string `json:"id"`
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (m apiMessage) String() string {
	return strings.TrimSpace(fmt.Sprintf("%s %s: %s", m.ID, m.Key, m.Value))
}

// rawRecord is the intermediate form of one record. Pointer and raw fields
// distinguish a missing key from an empty one.
type rawRecord struct {
	Country *struct {
		ID *string `json:"id"`
	} `json:"country"`
	Date  *string         `json:"date"`
	Value json.RawMessage `json:"value"`
}

type flexInt int

func (n *flexInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(data)), `"`)
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("decode counter %q: %w", s, err)
	}
	*n = flexInt(v)
	return nil
}

// decodeEnvelope validates one response page. indicator and page only feed
// error messages.
func decodeEnvelope(data []byte, indicator string, page int) (envelope, error) {
	envErr := func(field string, err error) error {
		return &ParseError{Indicator: indicator, Page: page, Record: -1, Field: field, Err: err}
	}

	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return envelope{}, envErr("envelope", err)
	}

	var env envelope
	if len(parts) > 0 && !isNull(parts[0]) {
		if err := json.Unmarshal(parts[0], &env.meta); err != nil {
			if len(parts) >= 2 {
				return envelope{}, envErr("metadata", err)
			}
			// A lone metadata element carries no data either way.
			env.meta = pageMeta{}
		}
	}

	if len(parts) < 2 || isNull(parts[1]) {
		env.empty = true
		return env, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(parts[1], &items); err != nil {
		return envelope{}, envErr("records", err)
	}

	env.records = make([]Observation, 0, len(items))
	for i, item := range items {
		obs, field, err := decodeRecord(item)
		if err != nil {
			return envelope{}, &ParseError{Indicator: indicator, Page: page, Record: i, Field: field, Err: err}
		}
		env.records = append(env.records, obs)
	}

	return env, nil
}

// decodeRecord normalizes one record and names the offending field on error.
func decodeRecord(item json.RawMessage) (Observation, string, error) {
	var rec rawRecord
	if err := json.Unmarshal(item, &rec); err != nil {
		return Observation{}, "record", err
	}

	if rec.Country == nil || rec.Country.ID == nil || *rec.Country.ID == "" {
		return Observation{}, "country.id", errMissing
	}

	if rec.Date == nil {
		return Observation{}, "date", errMissing
	}
	year, err := strconv.Atoi(strings.TrimSpace(*rec.Date))
	if err != nil {
		return Observation{}, "date", fmt.Errorf("%w: %q", errNotYear, *rec.Date)
	}

	if rec.Value == nil {
		return Observation{}, "value", errMissing
	}

	obs := Observation{Country: *rec.Country.ID, Year: year}
	if !isNull(rec.Value) {
		var v float64
		if err := json.Unmarshal(rec.Value, &v); err != nil {
			return Observation{}, "value", fmt.Errorf("%w: %s", errNotFloat, rec.Value)
		}
		obs.Value = v
		obs.Present = true
	}

	return obs, "", nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
