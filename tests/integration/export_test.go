//go:build integration

package integration

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/xuri/excelize/v2"

	"github.com/Sternrassler/wbpanel/internal/testutil"
	"github.com/Sternrassler/wbpanel/pkg/client"
	"github.com/Sternrassler/wbpanel/pkg/indicator"
	"github.com/Sternrassler/wbpanel/pkg/panel"
	"github.com/Sternrassler/wbpanel/pkg/ratelimit"
	"github.com/Sternrassler/wbpanel/pkg/sink"
)

// setupRedis creates a Redis container for integration testing.
func setupRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})

	cleanup := func() {
		redisClient.Close()
		container.Terminate(ctx)
	}

	return redisClient, cleanup
}

// testTransport sends requests for the real API host to the mock server.
type testTransport struct {
	mockServer *testutil.MockWorldBank
}

func (t *testTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.URL.Scheme = "http"
	if req.URL.Host == "" || req.URL.Host == "api.worldbank.org" {
		mockURL := t.mockServer.URL()
		req.URL.Host = mockURL[7:] // Remove "http://"
	}
	return http.DefaultTransport.RoundTrip(req)
}

func newClient(t *testing.T, mock *testutil.MockWorldBank, limiter ratelimit.Limiter) *client.Client {
	t.Helper()

	cfg := client.DefaultConfig("wbpanel-integration/1.0")
	cfg.Limiter = limiter

	c, err := client.New(cfg)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	c.SetHTTPClient(&http.Client{
		Transport: &testTransport{mockServer: mock},
		Timeout:   30 * time.Second,
	})
	return c
}

// TestFullExportFlow runs Redis-spaced fetching, pivot, join and xlsx output.
func TestFullExportFlow(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockWorldBank()
	defer mock.Close()

	mock.SetRecords("NY.GDP.PCAP.CD", []testutil.Record{
		{Country: "USA", Date: "2016", Value: testutil.Float(57900)},
		{Country: "USA", Date: "2015", Value: testutil.Float(56800)},
		{Country: "COL", Date: "2016", Value: testutil.Float(5900)},
		{Country: "COL", Date: "2015", Value: testutil.Float(6100)},
	})
	mock.SetRecords("SP.POP.TOTL", []testutil.Record{
		{Country: "USA", Date: "2016", Value: testutil.Float(323)},
		{Country: "COL", Date: "2016", Value: nil},
	})

	interval := 50 * time.Millisecond
	limiter := ratelimit.NewRedisLimiter(redisClient, "wb:test:full-flow", interval, zerolog.Nop())
	c := newClient(t, mock, limiter)

	fetcher := indicator.NewFetcher(c, indicator.Config{PerPage: 1, Paginate: true})
	builder := panel.NewBuilder(fetcher, panel.Options{})

	start := time.Now()
	table, err := builder.Build(context.Background(), panel.Request{
		Countries:  panel.Mapping{{Code: "USA", Name: "United States"}, {Code: "COL", Name: "Colombia"}},
		Indicators: panel.Mapping{{Code: "NY.GDP.PCAP.CD", Name: "GDP"}, {Code: "SP.POP.TOTL", Name: "POP"}},
		StartYear:  2015,
		EndYear:    2016,
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	elapsed := time.Since(start)

	// 4 pages for GDP plus 2 for POP at per_page=1.
	if got := mock.GetRequestCount(); got != 6 {
		t.Errorf("requests = %d, want 6", got)
	}
	if floor := 5 * interval; elapsed < floor {
		t.Errorf("elapsed = %s, want >= %s with Redis spacing", elapsed, floor)
	}

	path := filepath.Join(t.TempDir(), "wb_data_wide.xlsx")
	if err := sink.Save(table, path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile() error = %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(sink.SheetName)
	if err != nil {
		t.Fatalf("GetRows() error = %v", err)
	}
	want := [][]string{
		{"year", "GDP_USA", "GDP_COL", "POP_USA", "POP_COL"},
		{"2015", "56800", "6100"},
		{"2016", "57900", "5900", "323"},
	}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}
}

// TestSharedRedisSpacing checks that two limiters on one key space requests
// as if they were one.
func TestSharedRedisSpacing(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	interval := 100 * time.Millisecond
	a := ratelimit.NewRedisLimiter(redisClient, "wb:test:shared", interval, zerolog.Nop())
	b := ratelimit.NewRedisLimiter(redisClient, "wb:test:shared", interval, zerolog.Nop())

	ctx := context.Background()
	start := time.Now()

	var wg sync.WaitGroup
	for _, l := range []*ratelimit.RedisLimiter{a, b} {
		l := l
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 3; i++ {
				if err := l.Wait(ctx); err != nil {
					t.Errorf("Wait() error = %v", err)
				}
			}
		}()
	}
	wg.Wait()

	// Six slots, the first one immediate.
	if elapsed, floor := time.Since(start), 5*interval; elapsed < floor {
		t.Errorf("elapsed = %s, want >= %s", elapsed, floor)
	}
}

// TestNoRetryOnServerError checks that a 5xx fails the build after one request.
func TestNoRetryOnServerError(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockWorldBank()
	defer mock.Close()
	mock.SetResponse("NY.GDP.PCAP.CD", testutil.MockResponse{StatusCode: http.StatusServiceUnavailable, Body: "maintenance"})

	limiter := ratelimit.NewRedisLimiter(redisClient, "wb:test:no-retry", 10*time.Millisecond, zerolog.Nop())
	c := newClient(t, mock, limiter)
	builder := panel.NewBuilder(indicator.NewFetcher(c, indicator.DefaultConfig()), panel.Options{})

	_, err := builder.Build(context.Background(), panel.Request{
		Countries:  panel.Mapping{{Code: "USA", Name: "United States"}},
		Indicators: panel.Mapping{{Code: "NY.GDP.PCAP.CD", Name: "GDP"}},
		StartYear:  2015,
		EndYear:    2016,
	})

	var apiErr *client.APIError
	if !errors.As(err, &apiErr) || apiErr.ErrorClass != client.ErrorClassServer {
		t.Fatalf("error = %v, want a server APIError", err)
	}
	if mock.GetRequestCount() != 1 {
		t.Errorf("requests = %d, want 1 (no retries)", mock.GetRequestCount())
	}
}
