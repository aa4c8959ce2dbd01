// Package indicator fetches one World Bank indicator for a set of countries
// and normalizes the response into observations.
package indicator

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/Sternrassler/wbpanel/pkg/pagination"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultPerPage is large enough for decades of annual data per country.
const DefaultPerPage = 1000

// Observation is one (country, year, value) data point. Present is false
// when the service reported null for that country-year.
type Observation struct {
	Country string
	Year    int
	Value   float64
	Present bool
}

// Getter performs a GET against the API root. *client.Client implements it.
type Getter interface {
	Get(ctx context.Context, path string, query url.Values) ([]byte, error)
}

// Config controls request shape.
type Config struct {
	// PerPage is the per_page query parameter.
	PerPage int

	// Paginate follows every page announced by the metadata. When false
	// only page 1 is read and results beyond PerPage are lost.
	Paginate bool

	// Pages configures the page walker when Paginate is set.
	Pages pagination.Config
}

// DefaultConfig returns a paginating configuration.
func DefaultConfig() Config {
	return Config{
		PerPage:  DefaultPerPage,
		Paginate: true,
		Pages:    pagination.DefaultConfig(),
	}
}

// Fetcher retrieves indicator observations.
type Fetcher struct {
	api    Getter
	config Config
	logger zerolog.Logger
}

// NewFetcher creates a fetcher on top of api.
func NewFetcher(api Getter, cfg Config) *Fetcher {
	if cfg.PerPage <= 0 {
		cfg.PerPage = DefaultPerPage
	}
	return &Fetcher{
		api:    api,
		config: cfg,
		logger: log.With().Str("component", "indicator-fetcher").Logger(),
	}
}

// Fetch returns every observation of code for countries within the inclusive
// year range. A response without records yields an empty slice and no error.
func (f *Fetcher) Fetch(ctx context.Context, code string, countries []string, start, end int) ([]Observation, error) {
	if err := validate(code, countries, start, end); err != nil {
		return nil, err
	}

	src := &pageSource{
		api:       f.api,
		indicator: code,
		path:      "/country/" + strings.Join(countries, ";") + "/indicator/" + code,
		query: url.Values{
			"date":     []string{fmt.Sprintf("%d:%d", start, end)},
			"format":   []string{"json"},
			"per_page": []string{strconv.Itoa(f.config.PerPage)},
		},
		decoded: make(map[int]envelope),
	}

	pageCount := 1
	if f.config.Paginate {
		pages, err := pagination.NewBatchFetcher(src, f.config.Pages).FetchAllPages(ctx)
		if err != nil {
			return nil, err
		}
		pageCount = len(pages)
	} else {
		if _, _, err := src.FetchPage(ctx, 1); err != nil {
			return nil, err
		}
	}

	first := src.decoded[1]
	if first.empty {
		for _, msg := range first.meta.Message {
			f.logger.Warn().
				Str("indicator", code).
				Str("message", msg.String()).
				Msg("Service returned a message instead of data")
		}
	} else if !f.config.Paginate && int(first.meta.Pages) > 1 {
		f.logger.Warn().
			Str("indicator", code).
			Int("pages", int(first.meta.Pages)).
			Int("total", int(first.meta.Total)).
			Msg("Result truncated to the first page")
	}

	var observations []Observation
	for page := 1; page <= pageCount; page++ {
		observations = append(observations, src.decoded[page].records...)
	}

	f.logger.Debug().
		Str("indicator", code).
		Strs("countries", countries).
		Int("pages", pageCount).
		Int("observations", len(observations)).
		Msg("Indicator fetched")

	if observations == nil {
		observations = []Observation{}
	}
	return observations, nil
}

func validate(code string, countries []string, start, end int) error {
	if strings.TrimSpace(code) == "" {
		return fmt.Errorf("%w: indicator code is empty", ErrInvalidRequest)
	}
	if len(countries) == 0 {
		return fmt.Errorf("%w: no country codes", ErrInvalidRequest)
	}
	for _, c := range countries {
		if strings.TrimSpace(c) == "" {
			return fmt.Errorf("%w: empty country code", ErrInvalidRequest)
		}
	}
	if start > end {
		return fmt.Errorf("%w: start year %d after end year %d", ErrInvalidRequest, start, end)
	}
	return nil
}

// pageSource adapts one indicator request to pagination.PageFetcher and
// keeps each decoded page for assembly.
type pageSource struct {
	api       Getter
	indicator string
	path      string
	query     url.Values

	mu      sync.Mutex
	decoded map[int]envelope
}

func (s *pageSource) FetchPage(ctx context.Context, pageNum int) ([]byte, int, error) {
	query := url.Values{}
	for k, v := range s.query {
		query[k] = v
	}
	query.Set("page", strconv.Itoa(pageNum))

	data, err := s.api.Get(ctx, s.path, query)
	if err != nil {
		return nil, 0, err
	}

	env, err := decodeEnvelope(data, s.indicator, pageNum)
	if err != nil {
		return nil, 0, err
	}

	s.mu.Lock()
	s.decoded[pageNum] = env
	s.mu.Unlock()

	pages := int(env.meta.Pages)
	if env.empty {
		pages = 1
	}
	return data, pages, nil
}
