package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/Sternrassler/wbpanel/internal/testutil"
	"github.com/Sternrassler/wbpanel/pkg/client"
	"github.com/Sternrassler/wbpanel/pkg/config"
	"github.com/Sternrassler/wbpanel/pkg/panel"
)

func testConfig(mock *testutil.MockWorldBank, output string) *config.Config {
	return &config.Config{
		Countries:      panel.Mapping{{Code: "USA", Name: "United States"}, {Code: "COL", Name: "Colombia"}},
		Indicators:     panel.Mapping{{Code: "NY.GDP.PCAP.CD", Name: "GDP_per_capita"}},
		StartYear:      2015,
		EndYear:        2016,
		PerPage:        1000,
		OutputFile:     output,
		BaseURL:        mock.URL(),
		RequestDelay:   0,
		RequestTimeout: 5 * time.Second,
		Paginate:       true,
		Concurrency:    1,
		UserAgent:      "wbpanel-test",
		LogLevel:       "info",
	}
}

func gdpRecords() []testutil.Record {
	return []testutil.Record{
		{Country: "USA", Date: "2016", Value: testutil.Float(57900)},
		{Country: "USA", Date: "2015", Value: testutil.Float(56800)},
		{Country: "COL", Date: "2016", Value: testutil.Float(5900)},
		{Country: "COL", Date: "2015", Value: testutil.Float(6100)},
	}
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	return records
}

func TestRun_WritesPanel(t *testing.T) {
	mock := testutil.NewMockWorldBank()
	defer mock.Close()
	mock.SetRecords("NY.GDP.PCAP.CD", gdpRecords())

	out := filepath.Join(t.TempDir(), "panel.csv")
	progress := &bytes.Buffer{}

	if err := run(context.Background(), testConfig(mock, out), progress); err != nil {
		t.Fatalf("run() error = %v", err)
	}

	want := [][]string{
		{"year", "GDP_per_capita_USA", "GDP_per_capita_COL"},
		{"2015", "56800", "6100"},
		{"2016", "57900", "5900"},
	}
	if diff := cmp.Diff(want, readCSV(t, out)); diff != "" {
		t.Errorf("output mismatch (-want +got):\n%s", diff)
	}
	if !strings.Contains(progress.String(), "Fetching indicators") {
		t.Errorf("progress output = %q, want the progress bar", progress.String())
	}
}

func TestRun_SkipsEmptyIndicator(t *testing.T) {
	mock := testutil.NewMockWorldBank()
	defer mock.Close()
	mock.SetResponse("EMPTY", testutil.MockResponse{StatusCode: http.StatusOK, Body: testutil.NullEnvelope()})
	mock.SetRecords("NY.GDP.PCAP.CD", gdpRecords())

	out := filepath.Join(t.TempDir(), "panel.csv")
	cfg := testConfig(mock, out)
	cfg.Indicators = panel.Mapping{{Code: "EMPTY", Name: "Nothing"}, {Code: "NY.GDP.PCAP.CD", Name: "GDP_per_capita"}}

	if err := run(context.Background(), cfg, nil); err != nil {
		t.Fatalf("run() error = %v", err)
	}

	header := readCSV(t, out)[0]
	if diff := cmp.Diff([]string{"year", "GDP_per_capita_USA", "GDP_per_capita_COL"}, header); diff != "" {
		t.Errorf("header mismatch (-want +got):\n%s", diff)
	}
}

func TestRun_AllEmptyWritesNothing(t *testing.T) {
	mock := testutil.NewMockWorldBank()
	defer mock.Close()
	mock.SetResponse("A", testutil.MockResponse{StatusCode: http.StatusOK, Body: testutil.NullEnvelope()})
	mock.SetResponse("B", testutil.MockResponse{StatusCode: http.StatusOK, Body: `[]`})

	out := filepath.Join(t.TempDir(), "panel.xlsx")
	cfg := testConfig(mock, out)
	cfg.Indicators = panel.Mapping{{Code: "A", Name: "a"}, {Code: "B", Name: "b"}}

	if err := run(context.Background(), cfg, nil); err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Errorf("output file should not exist, stat error = %v", err)
	}
}

func TestRun_HTTPErrorWritesNothing(t *testing.T) {
	mock := testutil.NewMockWorldBank()
	defer mock.Close()
	mock.SetRecords("A", gdpRecords())
	mock.SetResponse("B", testutil.MockResponse{StatusCode: http.StatusInternalServerError, Body: "boom"})
	mock.SetRecords("C", gdpRecords())

	out := filepath.Join(t.TempDir(), "panel.xlsx")
	cfg := testConfig(mock, out)
	cfg.Indicators = panel.Mapping{{Code: "A", Name: "a"}, {Code: "B", Name: "b"}, {Code: "C", Name: "c"}}

	err := run(context.Background(), cfg, nil)

	var apiErr *client.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *client.APIError", err)
	}
	if apiErr.StatusCode != http.StatusInternalServerError {
		t.Errorf("StatusCode = %d, want 500", apiErr.StatusCode)
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Errorf("output file should not exist, stat error = %v", err)
	}
	for _, req := range mock.Requests() {
		if req.Indicator == "C" {
			t.Error("indicator C requested after B failed")
		}
	}
}

func TestRun_WritesMetricsTextfile(t *testing.T) {
	mock := testutil.NewMockWorldBank()
	defer mock.Close()
	mock.SetRecords("NY.GDP.PCAP.CD", gdpRecords())

	dir := t.TempDir()
	cfg := testConfig(mock, filepath.Join(dir, "panel.parquet"))
	cfg.MetricsFile = filepath.Join(dir, "wbpanel.prom")

	if err := run(context.Background(), cfg, nil); err != nil {
		t.Fatalf("run() error = %v", err)
	}

	data, err := os.ReadFile(cfg.MetricsFile)
	if err != nil {
		t.Fatalf("metrics file: %v", err)
	}
	for _, name := range []string{"wb_requests_total", "wb_indicators_total", "wb_observations_total"} {
		if !strings.Contains(string(data), name) {
			t.Errorf("metrics file missing %s", name)
		}
	}
}

func TestRun_RedisUnavailable(t *testing.T) {
	mock := testutil.NewMockWorldBank()
	defer mock.Close()

	cfg := testConfig(mock, filepath.Join(t.TempDir(), "panel.xlsx"))
	cfg.RedisURL = "localhost:1"

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx, cfg, nil)
	if err == nil || !strings.Contains(err.Error(), "connect to redis") {
		t.Fatalf("error = %v, want a redis connection error", err)
	}
	if mock.GetRequestCount() != 0 {
		t.Errorf("requests = %d, want none before the limiter is ready", mock.GetRequestCount())
	}
}

func TestRootCommand_FlagsOverrideEnvFile(t *testing.T) {
	mock := testutil.NewMockWorldBank()
	defer mock.Close()
	mock.SetRecords("NY.GDP.PCAP.CD", gdpRecords())

	dir := t.TempDir()
	envFile := filepath.Join(dir, "wb.env")
	content := strings.Join([]string{
		`COUNTRIES='{"USA": "United States", "COL": "Colombia"}'`,
		`INDICATORS='{"NY.GDP.PCAP.CD": "GDP_per_capita"}'`,
		`START_YEAR=2015`,
		`END_YEAR=2016`,
		`PER_PAGE=100`,
		`REQUEST_DELAY=0s`,
		`WB_BASE_URL=` + mock.URL(),
		`OUTPUT_FILE=` + filepath.Join(dir, "ignored.xlsx"),
	}, "\n")
	if err := os.WriteFile(envFile, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	out := filepath.Join(dir, "from_flag.csv")
	cmd := newRootCommand()
	cmd.SetArgs([]string{"--env-file", envFile, "--output", out, "--log-level", "warn", "--no-progress"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if _, err := os.Stat(out); err != nil {
		t.Errorf("flag output not written: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "ignored.xlsx")); !os.IsNotExist(err) {
		t.Error("OUTPUT_FILE from the env file should be overridden by --output")
	}
}

func TestRootCommand_InvalidConfig(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), "bad.env")
	if err := os.WriteFile(envFile, []byte("START_YEAR=abc\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cmd := newRootCommand()
	cmd.SetArgs([]string{"--env-file", envFile})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	if err := cmd.Execute(); !errors.Is(err, config.ErrInvalidConfig) {
		t.Fatalf("error = %v, want config.ErrInvalidConfig", err)
	}
}

func TestRootCommand_RejectsArgs(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetArgs([]string{"extra"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	if err := cmd.Execute(); err == nil {
		t.Fatal("expected an error for positional arguments")
	}
}
