package pagination

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrTooManyPages is returned when the first page announces more pages than
// the configured cap.
var ErrTooManyPages = errors.New("too many pages")

// Config holds batch fetcher configuration.
type Config struct {
	// MaxConcurrency is the maximum number of parallel page requests.
	// The default of 1 keeps requests strictly sequential.
	MaxConcurrency int

	// Timeout per page fetch. Zero leaves the caller's deadline in charge.
	Timeout time.Duration

	// MaxPages caps the number of pages a single fetch may follow.
	MaxPages int
}

// DefaultConfig returns the sequential default configuration.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 1,
		MaxPages:       1000,
	}
}

// PageFetcher fetches a single page and reports the total page count.
type PageFetcher interface {
	FetchPage(ctx context.Context, pageNum int) (data []byte, totalPages int, err error)
}

// PageResult represents the result of fetching a single page.
type PageResult struct {
	PageNumber int
	Data       []byte
	Error      error
}

// BatchFetcher fetches all pages of one paginated resource.
type BatchFetcher struct {
	fetcher PageFetcher
	config  Config
}

// NewBatchFetcher creates a new batch fetcher.
func NewBatchFetcher(fetcher PageFetcher, config Config) *BatchFetcher {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 1
	}
	if config.MaxPages <= 0 {
		config.MaxPages = 1000
	}

	return &BatchFetcher{
		fetcher: fetcher,
		config:  config,
	}
}

// FetchAllPages returns the body of every page, index i holding page i+1.
func (bf *BatchFetcher) FetchAllPages(ctx context.Context) ([][]byte, error) {
	start := time.Now()

	firstPageData, totalPages, err := bf.fetchPage(ctx, 1)
	if err != nil {
		return nil, fmt.Errorf("fetch page 1: %w", err)
	}

	if totalPages <= 1 {
		return [][]byte{firstPageData}, nil
	}

	if totalPages > bf.config.MaxPages {
		return nil, fmt.Errorf("%w: %d pages announced, limit is %d", ErrTooManyPages, totalPages, bf.config.MaxPages)
	}

	log.Debug().
		Int("total_pages", totalPages).
		Int("workers", bf.config.MaxConcurrency).
		Msg("Fetching remaining pages")

	results := make([][]byte, totalPages)
	received := make([]bool, totalPages)
	results[0] = firstPageData
	received[0] = true

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	pageQueue := make(chan int, totalPages-1)
	for page := 2; page <= totalPages; page++ {
		pageQueue <- page
	}
	close(pageQueue)

	pageResults := make(chan PageResult, totalPages-1)

	var wg sync.WaitGroup
	workers := min(bf.config.MaxConcurrency, totalPages-1)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go bf.worker(ctx, cancel, pageQueue, pageResults, &wg, i)
	}

	go func() {
		wg.Wait()
		close(pageResults)
	}()

	pageErrs := make(map[int]error)
	for result := range pageResults {
		if result.Error != nil {
			pageErrs[result.PageNumber] = result.Error
			continue
		}
		results[result.PageNumber-1] = result.Data
		received[result.PageNumber-1] = true
	}

	if err := firstPageError(pageErrs, totalPages); err != nil {
		return nil, err
	}

	for i, ok := range received {
		if !ok {
			// Only reachable when the parent context ended mid-walk.
			return nil, fmt.Errorf("fetch page %d: %w", i+1, context.Cause(ctx))
		}
	}

	log.Debug().
		Int("pages", totalPages).
		Dur("duration", time.Since(start)).
		Msg("Fetch complete")

	return results, nil
}

// worker processes pages from the queue until it is drained or a page fails.
func (bf *BatchFetcher) worker(ctx context.Context, cancel context.CancelFunc, pageQueue <-chan int, results chan<- PageResult, wg *sync.WaitGroup, workerID int) {
	defer wg.Done()

	for pageNum := range pageQueue {
		if ctx.Err() != nil {
			return
		}

		data, _, err := bf.fetchPage(ctx, pageNum)
		if err != nil {
			log.Debug().
				Err(err).
				Int("worker_id", workerID).
				Int("page", pageNum).
				Msg("Page fetch failed")
			cancel()
		}

		// results is buffered for every page, so this never blocks.
		results <- PageResult{PageNumber: pageNum, Data: data, Error: err}

		if err != nil {
			return
		}
	}
}

func (bf *BatchFetcher) fetchPage(ctx context.Context, pageNum int) ([]byte, int, error) {
	if bf.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, bf.config.Timeout)
		defer cancel()
	}
	return bf.fetcher.FetchPage(ctx, pageNum)
}

// firstPageError picks the lowest-numbered failure that was not caused by
// the cancellation following another page's failure.
func firstPageError(pageErrs map[int]error, totalPages int) error {
	var fallback error
	for page := 2; page <= totalPages; page++ {
		err, ok := pageErrs[page]
		if !ok {
			continue
		}
		wrapped := fmt.Errorf("fetch page %d: %w", page, err)
		if !errors.Is(err, context.Canceled) {
			return wrapped
		}
		if fallback == nil {
			fallback = wrapped
		}
	}
	return fallback
}
