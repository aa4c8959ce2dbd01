// Package testutil provides a mock World Bank API server for tests.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Record is one row served by the mock. A nil Value is sent as JSON null.
type Record struct {
	Country string
	Date    string
	Value   *float64
}

// Float returns a pointer to v for Record literals.
func Float(v float64) *float64 {
	return &v
}

// MockResponse defines a fixed response for an indicator.
type MockResponse struct {
	StatusCode int
	Body       string
	Delay      time.Duration
}

// Request is the decoded form of one call to the mock.
type Request struct {
	Countries []string
	Indicator string
	Date      string
	PerPage   int
	Page      int
}

// MockWorldBank is a configurable mock of the /country/{c}/indicator/{i}
// endpoint.
type MockWorldBank struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]http.HandlerFunc

	requests []Request
}

// NewMockWorldBank creates and starts a mock server.
func NewMockWorldBank() *MockWorldBank {
	mock := &MockWorldBank{
		handlers: make(map[string]http.HandlerFunc),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req, ok := parseRequest(r)
		if !ok {
			http.NotFound(w, r)
			return
		}

		mock.mu.Lock()
		mock.requests = append(mock.requests, req)
		handler, exists := mock.handlers[req.Indicator]
		mock.mu.Unlock()

		if exists {
			handler(w, r)
			return
		}

		mock.defaultHandler(w, r)
	}))

	return mock
}

// URL returns the mock server URL, usable as the API base URL.
func (m *MockWorldBank) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockWorldBank) Close() {
	m.server.Close()
}

// Reset clears recorded requests.
func (m *MockWorldBank) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
}

// Requests returns a copy of every request received so far.
func (m *MockWorldBank) Requests() []Request {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockWorldBank) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.requests)
}

// SetHandler sets a custom handler for an indicator code.
func (m *MockWorldBank) SetHandler(indicator string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[indicator] = handler
}

// SetResponse configures a fixed response for an indicator.
func (m *MockWorldBank) SetResponse(indicator string, resp MockResponse) {
	m.SetHandler(indicator, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}
		w.Header().Set("Content-Type", "application/json;charset=utf-8")
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// SetRecords serves records for an indicator the way the real service does:
// filtered by the requested countries and date range, then paginated by
// per_page/page.
func (m *MockWorldBank) SetRecords(indicator string, records []Record) {
	m.SetHandler(indicator, func(w http.ResponseWriter, r *http.Request) {
		req, _ := parseRequest(r)

		matched := filterRecords(records, req)
		perPage := req.PerPage
		if perPage <= 0 {
			perPage = 50
		}
		page := req.Page
		if page <= 0 {
			page = 1
		}

		pages := (len(matched) + perPage - 1) / perPage
		if len(matched) == 0 {
			w.Header().Set("Content-Type", "application/json;charset=utf-8")
			w.Write([]byte(NullEnvelope()))
			return
		}

		lo := min((page-1)*perPage, len(matched))
		hi := min(lo+perPage, len(matched))

		w.Header().Set("Content-Type", "application/json;charset=utf-8")
		w.Write([]byte(Envelope(page, pages, perPage, len(matched), matched[lo:hi])))
	})
}

// defaultHandler mimics the service's answer for an unknown indicator.
func (m *MockWorldBank) defaultHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json;charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(MessageEnvelope("175", "Invalid format", "The indicator was not found. It may have been deleted or archived.")))
}

// Envelope renders a [metadata, records] page.
func Envelope(page, pages, perPage, total int, records []Record) string {
	type country struct {
		ID    string `json:"id"`
		Value string `json:"value"`
	}
	type record struct {
		Indicator       map[string]string `json:"indicator"`
		Country         country           `json:"country"`
		CountryISO3Code string            `json:"countryiso3code"`
		Date            string            `json:"date"`
		Value           *float64          `json:"value"`
		Unit            string            `json:"unit"`
		ObsStatus       string            `json:"obs_status"`
		Decimal         int               `json:"decimal"`
	}

	rows := make([]record, 0, len(records))
	for _, rec := range records {
		rows = append(rows, record{
			Indicator:       map[string]string{"id": "MOCK", "value": "Mock indicator"},
			Country:         country{ID: rec.Country, Value: rec.Country},
			CountryISO3Code: rec.Country,
			Date:            rec.Date,
			Value:           rec.Value,
		})
	}

	meta := map[string]any{
		"page":        page,
		"pages":       pages,
		"per_page":    perPage,
		"total":       total,
		"sourceid":    "2",
		"lastupdated": "2025-07-01",
	}

	body, err := json.Marshal([]any{meta, rows})
	if err != nil {
		panic(err)
	}
	return string(body)
}

// NullEnvelope renders the "no data" answer: records element is null.
func NullEnvelope() string {
	return `[{"page":1,"pages":0,"per_page":50,"total":0,"sourceid":null,"lastupdated":null},null]`
}

// MessageEnvelope renders the service's one-element error envelope.
func MessageEnvelope(id, key, value string) string {
	return fmt.Sprintf(`[{"message":[{"id":%q,"key":%q,"value":%q}]}]`, id, key, value)
}

// parseRequest extracts the path and query parameters of an indicator call.
func parseRequest(r *http.Request) (Request, bool) {
	segments := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	for i := 0; i+3 < len(segments); i++ {
		if segments[i] != "country" || segments[i+2] != "indicator" {
			continue
		}
		q := r.URL.Query()
		perPage, _ := strconv.Atoi(q.Get("per_page"))
		page, _ := strconv.Atoi(q.Get("page"))
		return Request{
			Countries: strings.Split(segments[i+1], ";"),
			Indicator: segments[i+3],
			Date:      q.Get("date"),
			PerPage:   perPage,
			Page:      page,
		}, true
	}
	return Request{}, false
}

func filterRecords(records []Record, req Request) []Record {
	wanted := make(map[string]bool, len(req.Countries))
	for _, c := range req.Countries {
		wanted[c] = true
	}

	start, end := 0, 1<<31-1
	if from, to, ok := strings.Cut(req.Date, ":"); ok {
		start, _ = strconv.Atoi(from)
		end, _ = strconv.Atoi(to)
	}

	var out []Record
	for _, rec := range records {
		year, err := strconv.Atoi(rec.Date)
		if err != nil {
			out = append(out, rec)
			continue
		}
		if !wanted[rec.Country] && !wanted["all"] {
			continue
		}
		if year < start || year > end {
			continue
		}
		out = append(out, rec)
	}
	return out
}
