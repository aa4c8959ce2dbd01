// Package panel turns per-indicator observations into one wide table:
// one row per year, one column per (indicator, country).
package panel

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Sternrassler/wbpanel/pkg/indicator"
	"github.com/Sternrassler/wbpanel/pkg/logging"
)

var (
	indicatorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wb_indicators_total",
			Help: "Indicators processed by outcome (fetched, empty, failed)",
		},
		[]string{"outcome"},
	)

	observationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wb_observations_total",
			Help: "Normalized observations received from the World Bank API",
		},
	)
)

// ErrInvalidRequest is returned by Build for a request it cannot serve.
var ErrInvalidRequest = errors.New("invalid panel request")

// Fetcher retrieves the observations of one indicator.
type Fetcher interface {
	Fetch(ctx context.Context, code string, countries []string, startYear, endYear int) ([]indicator.Observation, error)
}

// Progress is notified after each indicator is processed.
type Progress interface {
	Add(n int) error
}

// Request describes the panel to build.
type Request struct {
	Countries  Mapping
	Indicators Mapping
	StartYear  int
	EndYear    int
}

// Options tunes a Builder.
type Options struct {
	// Concurrency is the number of indicators fetched at once (default: 1).
	Concurrency int

	// Progress receives one Add(1) per indicator. Optional.
	Progress Progress
}

// Builder fetches every configured indicator and merges the results.
type Builder struct {
	fetcher     Fetcher
	concurrency int
	progress    Progress
	logger      zerolog.Logger
}

// NewBuilder creates a Builder on top of fetcher.
func NewBuilder(fetcher Fetcher, opts Options) *Builder {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	return &Builder{
		fetcher:     fetcher,
		concurrency: opts.Concurrency,
		progress:    opts.Progress,
		logger:      logging.NewLogger("panel-builder"),
	}
}

// Build fetches the indicators of req, pivots each into a year × country
// table and outer-joins them in indicator order. Indicators without data
// are skipped. Any fetch failure aborts the build and no table is returned.
// When every indicator is skipped the result is an empty, non-nil Table.
func (b *Builder) Build(ctx context.Context, req Request) (*Table, error) {
	if len(req.Countries) == 0 {
		return nil, fmt.Errorf("%w: no countries", ErrInvalidRequest)
	}
	if err := req.Countries.Validate(); err != nil {
		return nil, fmt.Errorf("%w: countries: %v", ErrInvalidRequest, err)
	}
	if err := req.Indicators.Validate(); err != nil {
		return nil, fmt.Errorf("%w: indicators: %v", ErrInvalidRequest, err)
	}

	var (
		tables []*Table
		err    error
	)
	if b.concurrency == 1 || len(req.Indicators) <= 1 {
		tables, err = b.fetchSequential(ctx, req)
	} else {
		tables, err = b.fetchConcurrent(ctx, req)
	}
	if err != nil {
		return nil, err
	}

	merged := Empty()
	for _, t := range tables {
		if t == nil {
			continue
		}
		merged, err = OuterJoin(merged, t)
		if err != nil {
			return nil, err
		}
	}

	if merged.IsEmpty() {
		b.logger.Info().Int("indicators", len(req.Indicators)).Msg("No indicator returned data")
	} else {
		b.logger.Info().
			Int("rows", merged.Len()).
			Int("columns", merged.Width()).
			Msg("Panel built")
	}

	return merged, nil
}

func (b *Builder) fetchSequential(ctx context.Context, req Request) ([]*Table, error) {
	tables := make([]*Table, len(req.Indicators))
	for i, pair := range req.Indicators {
		t, err := b.fetchOne(ctx, pair, req)
		if err != nil {
			return nil, err
		}
		tables[i] = t
		b.advance()
	}
	return tables, nil
}

// fetchConcurrent runs up to b.concurrency fetches at once. The reported
// error is the first failing indicator in request order, ignoring failures
// caused only by the group's own cancellation.
func (b *Builder) fetchConcurrent(ctx context.Context, req Request) ([]*Table, error) {
	tables := make([]*Table, len(req.Indicators))
	errs := make([]error, len(req.Indicators))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)

	for i, pair := range req.Indicators {
		i, pair := i, pair
		g.Go(func() error {
			t, err := b.fetchOne(gctx, pair, req)
			if err != nil {
				errs[i] = err
				return err
			}
			tables[i] = t
			b.advance()
			return nil
		})
	}

	waitErr := g.Wait()
	if waitErr == nil {
		return tables, nil
	}

	if ctx.Err() == nil {
		for _, err := range errs {
			if err != nil && !errors.Is(err, context.Canceled) {
				return nil, err
			}
		}
	}
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return nil, waitErr
}

// fetchOne returns the renamed table for one indicator, or nil when the
// indicator has no data.
func (b *Builder) fetchOne(ctx context.Context, pair Pair, req Request) (*Table, error) {
	logger := b.logger.With().Str("indicator", pair.Code).Str("name", pair.Name).Logger()

	observations, err := b.fetcher.Fetch(ctx, pair.Code, req.Countries.Codes(), req.StartYear, req.EndYear)
	if err != nil {
		indicatorsTotal.WithLabelValues("failed").Inc()
		logger.Error().Err(err).Msg("Indicator fetch failed")
		return nil, fmt.Errorf("indicator %s: %w", pair.Code, err)
	}

	if len(observations) == 0 {
		indicatorsTotal.WithLabelValues("empty").Inc()
		logger.Warn().Msg("No data for indicator")
		return nil, nil
	}

	observationsTotal.Add(float64(len(observations)))

	pivoted := Pivot(observations, req.Countries.Codes())
	renamed, err := pivoted.RenameColumns(func(country string) string {
		return ColumnName(pair.Name, country)
	})
	if err != nil {
		return nil, fmt.Errorf("indicator %s: %w", pair.Code, err)
	}

	indicatorsTotal.WithLabelValues("fetched").Inc()
	logger.Info().
		Int("observations", len(observations)).
		Int("rows", renamed.Len()).
		Int("columns", renamed.Width()).
		Msg("Indicator fetched")

	return renamed, nil
}

func (b *Builder) advance() {
	if b.progress == nil {
		return
	}
	if err := b.progress.Add(1); err != nil {
		b.logger.Debug().Err(err).Msg("Progress update failed")
	}
}
