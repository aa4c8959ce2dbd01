// Command wbpanel downloads World Bank indicators for a set of countries and
// writes them as one wide table: one row per year, one column per
// indicator and country.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/Sternrassler/wbpanel/pkg/client"
	"github.com/Sternrassler/wbpanel/pkg/config"
	"github.com/Sternrassler/wbpanel/pkg/indicator"
	"github.com/Sternrassler/wbpanel/pkg/logging"
	"github.com/Sternrassler/wbpanel/pkg/metrics"
	"github.com/Sternrassler/wbpanel/pkg/pagination"
	"github.com/Sternrassler/wbpanel/pkg/panel"
	"github.com/Sternrassler/wbpanel/pkg/ratelimit"
	"github.com/Sternrassler/wbpanel/pkg/sink"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		log.Error().Err(err).Msg("Export failed")
		os.Exit(1)
	}
}

// flags holds command-line overrides for the environment settings.
type flags struct {
	envFile     string
	output      string
	logLevel    string
	pretty      bool
	metricsFile string
	noProgress  bool
}

func newRootCommand() *cobra.Command {
	f := &flags{}

	cmd := &cobra.Command{
		Use:   "wbpanel",
		Short: "Export World Bank indicators as a wide year x country panel",
		Long: `wbpanel fetches every configured World Bank indicator for the configured
countries and year range, pivots each into one column per country and
joins them on year. The result is written to OUTPUT_FILE (.xlsx, .csv or
.parquet).

Settings come from the environment and an optional .env file:
COUNTRIES and INDICATORS are JSON objects of code to name, START_YEAR,
END_YEAR and PER_PAGE are integers.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logging.Setup(logging.Config{Level: logging.LevelInfo, Output: cmd.ErrOrStderr()})

			cfg, err := loadConfig(cmd, f)
			if err != nil {
				return err
			}

			logging.Setup(logging.Config{
				Level:  logging.LogLevel(cfg.LogLevel),
				Pretty: cfg.LogPretty,
				Output: cmd.ErrOrStderr(),
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var progress io.Writer
			if !f.noProgress {
				progress = cmd.ErrOrStderr()
			}
			return run(ctx, cfg, progress)
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.envFile, "env-file", "", "Read settings from this file (default .env, if present)")
	fl.StringVarP(&f.output, "output", "o", "", "Output file, overrides OUTPUT_FILE")
	fl.StringVar(&f.logLevel, "log-level", "", "Log level (debug, info, warn, error), overrides LOG_LEVEL")
	fl.BoolVar(&f.pretty, "pretty", false, "Human-readable logs, overrides LOG_PRETTY")
	fl.StringVar(&f.metricsFile, "metrics-file", "", "Write Prometheus metrics to this textfile, overrides METRICS_FILE")
	fl.BoolVar(&f.noProgress, "no-progress", false, "Disable the progress bar")

	return cmd
}

// loadConfig reads the environment and applies flags the user set.
func loadConfig(cmd *cobra.Command, f *flags) (*config.Config, error) {
	cfg, err := config.Load(f.envFile)
	if err != nil {
		return nil, err
	}

	fl := cmd.Flags()
	if fl.Changed("output") {
		cfg.OutputFile = f.output
	}
	if fl.Changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if fl.Changed("pretty") {
		cfg.LogPretty = f.pretty
	}
	if fl.Changed("metrics-file") {
		cfg.MetricsFile = f.metricsFile
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// run performs one export. progress receives the progress bar; nil disables it.
// Nothing is written when any indicator fails or when no indicator has data.
func run(ctx context.Context, cfg *config.Config, progress io.Writer) error {
	logger := logging.NewLogger("wbpanel")
	started := time.Now()

	if cfg.MetricsFile != "" {
		defer func() {
			if werr := metrics.WriteTextfile(cfg.MetricsFile); werr != nil {
				logger.Warn().Err(werr).Str("path", cfg.MetricsFile).Msg("Metrics textfile not written")
			}
		}()
	}

	limiter, closeLimiter, err := newLimiter(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeLimiter()

	api, err := client.New(client.Config{
		BaseURL:   cfg.BaseURL,
		UserAgent: cfg.UserAgent,
		Timeout:   cfg.RequestTimeout,
		Limiter:   limiter,
	})
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}

	fetcher := indicator.NewFetcher(api, indicator.Config{
		PerPage:  cfg.PerPage,
		Paginate: cfg.Paginate,
		Pages:    pagination.DefaultConfig(),
	})

	opts := panel.Options{Concurrency: cfg.Concurrency}
	if progress != nil {
		opts.Progress = newProgressBar(len(cfg.Indicators), progress)
	}

	logger.Info().
		Int("indicators", len(cfg.Indicators)).
		Strs("countries", cfg.Countries.Codes()).
		Int("start_year", cfg.StartYear).
		Int("end_year", cfg.EndYear).
		Msg("Export started")

	table, err := panel.NewBuilder(fetcher, opts).Build(ctx, cfg.PanelRequest())
	if err != nil {
		return err
	}

	if table.IsEmpty() {
		logger.Warn().Msg("No data downloaded; check indicators or connectivity")
		return nil
	}

	if err := sink.Save(table, cfg.OutputFile); err != nil {
		return err
	}

	logger.Info().
		Str("path", cfg.OutputFile).
		Dur("elapsed", time.Since(started)).
		Msg("Export finished")
	return nil
}

// newLimiter returns the Redis-backed limiter when REDIS_URL is set and the
// in-process one otherwise, plus a function releasing its resources.
func newLimiter(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (ratelimit.Limiter, func(), error) {
	opts, err := cfg.RedisOptions()
	if err != nil {
		return nil, nil, fmt.Errorf("redis options: %w", err)
	}
	if opts == nil {
		return ratelimit.NewInterval(cfg.RequestDelay), func() {}, nil
	}

	redisClient := redis.NewClient(opts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		redisClient.Close()
		return nil, nil, fmt.Errorf("connect to redis at %s: %w", opts.Addr, err)
	}
	logger.Info().Str("addr", opts.Addr).Msg("Connected to Redis, sharing request spacing")

	limiter := ratelimit.NewRedisLimiter(redisClient, ratelimit.DefaultRedisKey, cfg.RequestDelay, logger)
	return limiter, func() { redisClient.Close() }, nil
}

func newProgressBar(total int, w io.Writer) *progressbar.ProgressBar {
	return progressbar.NewOptions(
		total,
		progressbar.OptionSetDescription("Fetching indicators"),
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(w, "\n")
		}),
	)
}
