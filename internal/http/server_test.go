package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"iter"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"salesinsight/internal/core"
	"salesinsight/internal/feed"
	applog "salesinsight/internal/log"
	"salesinsight/internal/services"
	"salesinsight/internal/storage/memory"
)

func exampleFeed() []feed.RawRecord {
	return []feed.RawRecord{
		{"id": float64(1), "title": "Shirt", "price": float64(50), "description": "d", "category": "A", "image": "", "sold": true, "dateOfSale": "2021-03-01T00:00:00Z"},
		{"id": float64(2), "title": "Phone", "price": float64(150), "description": "d", "category": "B", "image": "", "sold": false, "dateOfSale": "2021-03-15T00:00:00Z"},
	}
}

type staticFetcher struct {
	records []feed.RawRecord
	err     error
}

func (f staticFetcher) Fetch(context.Context) ([]feed.RawRecord, error) {
	return f.records, f.err
}

// countingReader records whether the store was reached.
type countingReader struct {
	*memory.Store
	queries atomic.Int64
}

func (c *countingReader) QueryByMonth(ctx context.Context, key string, f core.MonthFilter) iter.Seq2[core.TransactionRecord, error] {
	c.queries.Add(1)
	return c.Store.QueryByMonth(ctx, key, f)
}

type testEnv struct {
	server *Server
	store  *memory.Store
	reader *countingReader
}

func newTestEnv(t *testing.T, fetcher feed.Fetcher, opts Options) *testEnv {
	t.Helper()
	store := memory.New()
	reader := &countingReader{Store: store}
	agg := services.NewAggregator(reader, services.AggregatorCaches{})
	ingest := services.NewIngestService(store, fetcher, nil, agg)

	if opts.Logger == nil {
		opts.Logger = applog.New(applog.Config{Output: &bytes.Buffer{}})
	}
	srv := NewServer(":0", Deps{
		Aggregates: agg,
		Reports:    services.NewReportComposer(agg),
		Loader:     ingest,
		Readiness:  store,
	}, opts)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return &testEnv{server: srv, store: store, reader: reader}
}

func (e *testEnv) get(t *testing.T, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	e.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestInitializeThenReport(t *testing.T) {
	env := newTestEnv(t, staticFetcher{records: exampleFeed()}, Options{})

	rec := env.get(t, "/initialize-database")
	if rec.Code != http.StatusOK {
		t.Fatalf("initialize status = %d: %s", rec.Code, rec.Body.String())
	}
	if got := decodeBody[messageBody](t, rec); got.Message != msgInitialized {
		t.Errorf("message = %q", got.Message)
	}

	rec = env.get(t, "/statistics?month=March")
	if rec.Code != http.StatusOK {
		t.Fatalf("statistics status = %d", rec.Code)
	}
	want := `{"totalSaleAmount":200,"totalSoldItems":1,"totalNotSoldItems":1}`
	if got := strings.TrimSpace(rec.Body.String()); got != want {
		t.Errorf("statistics = %s, want %s", got, want)
	}

	bars := decodeBody[[]core.PriceRangeCount](t, env.get(t, "/bar-chart?month=March"))
	wantBars := []core.PriceRangeCount{{PriceRange: "0 - 100", ItemCount: 1}, {PriceRange: "101 - 200", ItemCount: 1}}
	if len(bars) != len(wantBars) {
		t.Fatalf("bar chart = %+v, want %+v", bars, wantBars)
	}
	for i := range wantBars {
		if bars[i] != wantBars[i] {
			t.Errorf("bar[%d] = %+v, want %+v", i, bars[i], wantBars[i])
		}
	}

	pie := decodeBody[[]core.CategoryCount](t, env.get(t, "/pie-chart?month=March"))
	if len(pie) != 2 || pie[0] != (core.CategoryCount{Category: "A", ItemCount: 1}) || pie[1] != (core.CategoryCount{Category: "B", ItemCount: 1}) {
		t.Errorf("pie chart = %+v", pie)
	}
}

func TestCombinedShape(t *testing.T) {
	env := newTestEnv(t, staticFetcher{records: exampleFeed()}, Options{})
	env.get(t, "/initialize-database")

	rec := env.get(t, "/combined-data?month=March")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Statistics struct {
			TotalSaleAmount json.Number `json:"totalSaleAmount"`
		} `json:"statistics"`
		BarChart []json.RawMessage `json:"barChart"`
		PieChart []json.RawMessage `json:"pieChart"`
	}
	dec := json.NewDecoder(bytes.NewReader(rec.Body.Bytes()))
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !decimal.RequireFromString(body.Statistics.TotalSaleAmount.String()).Equal(decimal.NewFromInt(200)) {
		t.Errorf("totalSaleAmount = %s", body.Statistics.TotalSaleAmount)
	}
	if len(body.BarChart) != 2 || len(body.PieChart) != 2 {
		t.Errorf("combined = %s", rec.Body.String())
	}
}

func TestEmptyMonthEncodesEmptyLists(t *testing.T) {
	env := newTestEnv(t, staticFetcher{records: exampleFeed()}, Options{})
	env.get(t, "/initialize-database")

	for _, path := range []string{"/bar-chart?month=July", "/pie-chart?month=July"} {
		if got := strings.TrimSpace(env.get(t, path).Body.String()); got != "[]" {
			t.Errorf("%s = %s, want []", path, got)
		}
	}
	got := strings.TrimSpace(env.get(t, "/combined-data?month=July").Body.String())
	want := `{"statistics":{"totalSaleAmount":0,"totalSoldItems":0,"totalNotSoldItems":0},"barChart":[],"pieChart":[]}`
	if got != want {
		t.Errorf("combined = %s, want %s", got, want)
	}
}

func TestInvalidMonthNeverReachesStore(t *testing.T) {
	env := newTestEnv(t, staticFetcher{}, Options{})

	for _, target := range []string{
		"/statistics?month=Marc",
		"/bar-chart?month=march",
		"/pie-chart",
		"/combined-data?month=",
	} {
		t.Run(target, func(t *testing.T) {
			rec := env.get(t, target)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			if got := decodeBody[errorBody](t, rec); got.Error != msgInvalidMonth {
				t.Errorf("error = %q", got.Error)
			}
		})
	}
	if n := env.reader.queries.Load(); n != 0 {
		t.Errorf("store queried %d times for invalid months", n)
	}
}

type failingAggregator struct{ err error }

func (f failingAggregator) Statistics(context.Context, string) (core.Statistics, error) {
	return core.Statistics{}, f.err
}

func (f failingAggregator) Histogram(context.Context, string) ([]core.PriceRangeCount, error) {
	return nil, f.err
}

func (f failingAggregator) CategoryDistribution(context.Context, string) ([]core.CategoryCount, error) {
	return nil, f.err
}

func TestReportFailuresUseFixedMessages(t *testing.T) {
	agg := failingAggregator{err: core.Wrap(core.ErrAggregation, "statistics", errors.New("disk gone"))}
	srv := NewServer(":0", Deps{
		Aggregates: agg,
		Reports:    services.NewReportComposer(agg),
	}, Options{Logger: applog.New(applog.Config{Output: &bytes.Buffer{}})})
	defer srv.Shutdown(context.Background())

	tests := []struct {
		path string
		want string
	}{
		{"/statistics?month=March", msgStatisticsFailed},
		{"/bar-chart?month=March", msgBarChartFailed},
		{"/pie-chart?month=March", msgPieChartFailed},
		{"/combined-data?month=March", msgCombinedFailed},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			if got := decodeBody[errorBody](t, rec); got.Error != tt.want {
				t.Errorf("error = %q, want %q", got.Error, tt.want)
			}
			if strings.Contains(rec.Body.String(), "disk gone") {
				t.Errorf("internal cause leaked: %s", rec.Body.String())
			}
		})
	}
}

func TestReportLogsCarryRequestContext(t *testing.T) {
	var buf bytes.Buffer
	agg := failingAggregator{err: core.Wrap(core.ErrAggregation, "statistics", errors.New("disk gone"))}
	srv := NewServer(":0", Deps{Aggregates: agg, Reports: services.NewReportComposer(agg)},
		Options{Logger: applog.New(applog.Config{Output: &buf})})
	defer srv.Shutdown(context.Background())

	tests := []struct {
		path string
		want []string
	}{
		{"/statistics?month=March", []string{
			`msg="Report failed"`, "level=ERROR", "component=report", "operation=statistics",
			"month=March", "month_key=03", `error_kind="aggregation failure"`, "request_id=",
		}},
		{"/bar-chart?month=Marc", []string{
			`msg="Invalid month parameter"`, "level=WARN", "operation=bar_chart", "month=Marc", "request_id=",
		}},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			buf.Reset()
			srv.Handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, tt.path, nil))

			var line string
			for _, l := range strings.Split(buf.String(), "\n") {
				if strings.Contains(l, tt.want[0]) {
					line = l
				}
			}
			if line == "" {
				t.Fatalf("no %s line in: %s", tt.want[0], buf.String())
			}
			for _, want := range tt.want[1:] {
				if !strings.Contains(line, want) {
					t.Errorf("log line lacks %s: %s", want, line)
				}
			}
		})
	}
}

func TestInitializeFailure(t *testing.T) {
	tests := []struct {
		name    string
		fetcher feed.Fetcher
	}{
		{"fetch error", staticFetcher{err: core.Wrap(core.ErrFetch, "fetch feed", errors.New("timeout"))}},
		{"invalid record", staticFetcher{records: []feed.RawRecord{{"id": "x"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, tt.fetcher, Options{})
			rec := env.get(t, "/initialize-database")
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			if got := decodeBody[errorBody](t, rec); got.Error != msgInitializeFailed {
				t.Errorf("error = %q", got.Error)
			}
			if n, _ := env.store.Count(context.Background()); n != 0 {
				t.Errorf("store holds %d records after failure", n)
			}
		})
	}
}

func TestInitializeTwiceFailsOnDuplicates(t *testing.T) {
	env := newTestEnv(t, staticFetcher{records: exampleFeed()}, Options{})
	if rec := env.get(t, "/initialize-database"); rec.Code != http.StatusOK {
		t.Fatalf("first initialize = %d", rec.Code)
	}
	if rec := env.get(t, "/initialize-database"); rec.Code != http.StatusBadRequest {
		t.Fatalf("second initialize = %d, want 400", rec.Code)
	}
	if n, _ := env.store.Count(context.Background()); n != 2 {
		t.Errorf("count = %d, want 2", n)
	}
}

func TestInitializeRateLimit(t *testing.T) {
	env := newTestEnv(t, staticFetcher{}, Options{IngestRateLimit: 2})

	for i := 0; i < 2; i++ {
		if rec := env.get(t, "/initialize-database"); rec.Code != http.StatusOK {
			t.Fatalf("request %d status = %d", i, rec.Code)
		}
	}
	rec := env.get(t, "/initialize-database")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "60" {
		t.Errorf("Retry-After = %q", rec.Header().Get("Retry-After"))
	}
	if got := decodeBody[errorBody](t, rec); got.Error != msgRateLimited {
		t.Errorf("error = %q", got.Error)
	}

	// Reports are not limited.
	if rec := env.get(t, "/statistics?month=March"); rec.Code != http.StatusOK {
		t.Errorf("statistics status = %d", rec.Code)
	}
}

type brokenReadiness struct{}

func (brokenReadiness) Count(context.Context) (int64, error) { return 0, errors.New("closed") }

func TestHealthAndReadiness(t *testing.T) {
	env := newTestEnv(t, staticFetcher{}, Options{})
	if rec := env.get(t, "/healthz"); rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Errorf("healthz = %d %q", rec.Code, rec.Body.String())
	}
	if rec := env.get(t, "/readyz"); rec.Code != http.StatusOK || rec.Body.String() != "ready" {
		t.Errorf("readyz = %d %q", rec.Code, rec.Body.String())
	}

	srv := NewServer(":0", Deps{Readiness: brokenReadiness{}}, Options{Logger: applog.New(applog.Config{Output: &bytes.Buffer{}})})
	defer srv.Shutdown(context.Background())
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz with broken store = %d, want 503", rec.Code)
	}
}

func TestResponsesCarryRequestIDAndSecurityHeaders(t *testing.T) {
	env := newTestEnv(t, staticFetcher{}, Options{})
	rec := env.get(t, "/statistics?month=Marc")

	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID")
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", rec.Header().Get("X-Content-Type-Options"))
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestUnknownRouteAndMethod(t *testing.T) {
	env := newTestEnv(t, staticFetcher{}, Options{})
	if rec := env.get(t, "/nope"); rec.Code != http.StatusNotFound {
		t.Errorf("unknown route = %d", rec.Code)
	}
	rec := httptest.NewRecorder()
	env.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/statistics?month=March", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST = %d, want 405", rec.Code)
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	env := newTestEnv(t, staticFetcher{}, Options{IngestRateLimit: 1})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := env.server.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := env.server.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
}

func TestExtractClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{"direct peer", "203.0.113.9:5000", nil, "203.0.113.9"},
		{"untrusted peer forwarding headers ignored", "203.0.113.9:5000", map[string]string{"X-Forwarded-For": "1.2.3.4"}, "203.0.113.9"},
		{"trusted proxy XFF first hop", "10.0.0.2:80", map[string]string{"X-Forwarded-For": "198.51.100.1, 10.0.0.3"}, "198.51.100.1"},
		{"trusted proxy X-Real-IP", "127.0.0.1:80", map[string]string{"X-Real-IP": "198.51.100.2"}, "198.51.100.2"},
		{"trusted proxy garbage header", "192.168.1.1:80", map[string]string{"X-Forwarded-For": "not-an-ip"}, "192.168.1.1"},
		{"no port", "198.51.100.7", nil, "198.51.100.7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			if got := extractClientIP(r); got != tt.want {
				t.Errorf("extractClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestJSONResponseBuilder(t *testing.T) {
	rec := httptest.NewRecorder()
	ErrorResponse(http.StatusTeapot, "short and stout").Header("X-Extra", "1").Write(rec)
	if rec.Code != http.StatusTeapot || rec.Header().Get("X-Extra") != "1" {
		t.Errorf("got %d headers %v", rec.Code, rec.Header())
	}
	if got := strings.TrimSpace(rec.Body.String()); got != `{"error":"short and stout"}` {
		t.Errorf("body = %s", got)
	}

	rec = httptest.NewRecorder()
	OK(map[string]any{"bad": make(chan int)}).Write(rec)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("unencodable body status = %d, want 500", rec.Code)
	}
}
