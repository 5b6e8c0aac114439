package hostapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/rr-pulse/internal/pulse/common/log"
	"github.com/haukened/rr-pulse/internal/pulse/domain"
	"github.com/haukened/rr-pulse/internal/pulse/infra/metrics"
	"github.com/haukened/rr-pulse/internal/pulse/repos/rules"
	"github.com/haukened/rr-pulse/internal/pulse/services/classifier"
	"github.com/haukened/rr-pulse/internal/pulse/services/engine"
	"github.com/haukened/rr-pulse/internal/pulse/services/rewriter"
	"github.com/haukened/rr-pulse/internal/pulse/services/stats"
	"github.com/haukened/rr-pulse/internal/pulse/services/whitelist"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type memPersister struct {
	mu    sync.Mutex
	saved []string
	err   error
}

func (p *memPersister) Load() ([]string, error) { return nil, nil }

func (p *memPersister) Save(domains []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.saved = append([]string(nil), domains...)
	return p.err
}

type fixture struct {
	server    *Server
	engine    *engine.Engine
	store     *rules.Store
	persister *memPersister
	metrics   *metrics.Metrics
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	logger := log.NewNoopLogger()

	dc, err := domain.NewBlockEntry("doubleclick.net", false, "test")
	require.NoError(t, err)
	ga, err := domain.NewBlockEntry("google-analytics.com", true, "test")
	require.NoError(t, err)
	rs := domain.RuleSet{Blocks: []domain.BlockEntry{dc, ga}}

	m := metrics.New()
	store := rules.NewStore(rs, nil, rules.StoreOptions{Logger: logger, OnPublish: m.ObserveSnapshot})
	agg := stats.New(stats.Options{KBPerBlock: 15, Logger: logger})
	t.Cleanup(agg.Close)
	rw, err := rewriter.New(rewriter.Options{Logger: logger})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rw.Close() })

	eng, err := engine.New(engine.Options{
		Rules:      store,
		Classifier: classifier.New(classifier.Options{Logger: logger}),
		Stats:      agg,
		Rewriter:   rw,
		Observer:   m,
		Headers:    engine.HeaderOptions{UserAgent: "pulse-test", ChromeVersion: "133.0.0.0", DoNotTrack: true},
		Enabled:    true,
		Logger:     logger,
	})
	require.NoError(t, err)

	p := &memPersister{}
	wl := whitelist.New(whitelist.Options{Publisher: store, Store: p, Logger: logger})

	srv, err := New(Options{
		Addr:           "127.0.0.1:0",
		Hooks:          eng,
		Whitelist:      wl,
		Recorder:       m,
		MetricsHandler: m.Handler(),
		Logger:         logger,
	})
	require.NoError(t, err)
	return fixture{server: srv, engine: eng, store: store, persister: p, metrics: m}
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestNew_RequiresHooks(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestBeforeRequest(t *testing.T) {
	f := newFixture(t)
	h := f.server.Handler()

	tests := []struct {
		name       string
		body       beforeRequestBody
		wantKind   string
		wantReason string
		wantCancel bool
	}{
		{
			name:       "third-party ad domain",
			body:       beforeRequestBody{RequestID: "r1", URL: "https://ad.doubleclick.net/x.js", Referrer: "https://news.example/", ResourceType: "script"},
			wantKind:   "block",
			wantReason: "domain",
			wantCancel: true,
		},
		{
			name:       "first-party",
			body:       beforeRequestBody{RequestID: "r2", URL: "https://doubleclick.net/x.js", Referrer: "https://doubleclick.net/", ResourceType: "script"},
			wantKind:   "allow",
			wantReason: "first_party",
		},
		{
			name:       "malformed url fails open",
			body:       beforeRequestBody{RequestID: "r3", URL: "::not a url", ResourceType: "image"},
			wantKind:   "allow",
			wantReason: "malformed_url",
		},
		{
			name:       "unknown resource type still classified",
			body:       beforeRequestBody{RequestID: "r4", URL: "https://doubleclick.net/p", ResourceType: "hologram"},
			wantKind:   "block",
			wantReason: "domain",
			wantCancel: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/v1/hooks/before-request", tt.body)
			require.Equal(t, http.StatusOK, rec.Code)
			resp := decode[beforeRequestResponse](t, rec)
			assert.Equal(t, tt.body.RequestID, resp.RequestID)
			assert.Equal(t, tt.wantKind, resp.Decision.Kind)
			assert.Equal(t, tt.wantReason, resp.Decision.Reason)
			assert.Equal(t, tt.wantCancel, resp.Cancel)
		})
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.Decisions.WithLabelValues("block", "domain")))
}

func TestBeforeRequest_GeneratesRequestID(t *testing.T) {
	f := newFixture(t)
	rec := do(t, f.server.Handler(), http.MethodPost, "/v1/hooks/before-request",
		beforeRequestBody{URL: "https://example.com/"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decode[beforeRequestResponse](t, rec).RequestID)
}

func TestBeforeRequest_BadJSON(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/hooks/before-request", strings.NewReader("{"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBeforeSendHeaders(t *testing.T) {
	f := newFixture(t)
	rec := do(t, f.server.Handler(), http.MethodPost, "/v1/hooks/before-send-headers", headersBody{
		RequestHeaders: map[string]string{
			"User-Agent":        "Electron/30",
			"X-Electron-Is-Dev": "1",
			"Accept":            "text/html",
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[headersBody](t, rec).RequestHeaders

	assert.Equal(t, "pulse-test", got["User-Agent"])
	assert.Equal(t, "text/html", got["Accept"])
	assert.Equal(t, "1", got["Dnt"])
	assert.NotContains(t, got, "X-Electron-Is-Dev")
}

func TestResponseBody_UnknownIDPassesThrough(t *testing.T) {
	f := newFixture(t)
	payload := []byte(`{"adPlacements":[1],"videoDetails":{}}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/hooks/response-body/nope", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, payload, rec.Body.Bytes())
}

func TestResponseBody_TooLarge(t *testing.T) {
	f := newFixture(t)
	srv, err := New(Options{Hooks: f.engine, MaxRequestBytes: 4, Logger: log.NewNoopLogger()})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/hooks/response-body/x", strings.NewReader("0123456789"))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestState(t *testing.T) {
	f := newFixture(t)
	h := f.server.Handler()

	rec := do(t, h, http.MethodGet, "/v1/state", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[stateResponse](t, rec).Enabled)

	off := false
	rec = do(t, h, http.MethodPut, "/v1/state", stateBody{Enabled: &off})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[stateResponse](t, rec).Enabled)
	assert.False(t, f.engine.Enabled())
	assert.Equal(t, 0.0, testutil.ToFloat64(f.metrics.FilterEnabled))

	rec = do(t, h, http.MethodPut, "/v1/state", stateBody{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestState_DisableWithDomainWhitelists(t *testing.T) {
	f := newFixture(t)
	off := false
	rec := do(t, f.server.Handler(), http.MethodPut, "/v1/state",
		stateBody{Enabled: &off, Domain: "https://www.Example.com/watch"})
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[stateResponse](t, rec)
	assert.False(t, resp.Enabled)
	assert.Equal(t, "www.example.com", resp.Whitelisted)
	require.NotNil(t, resp.Persisted)
	assert.True(t, *resp.Persisted)
	assert.Equal(t, []string{"www.example.com"}, f.store.CurrentSnapshot().Whitelist())
}

func TestStats_GetAndReset(t *testing.T) {
	f := newFixture(t)
	h := f.server.Handler()
	do(t, h, http.MethodPost, "/v1/hooks/before-request",
		beforeRequestBody{URL: "https://google-analytics.com/collect", Referrer: "https://site.example/"})

	got := decode[domain.Stats](t, do(t, h, http.MethodGet, "/v1/stats", nil))
	assert.Equal(t, uint64(1), got.AdsBlocked)
	assert.Equal(t, uint64(1), got.TrackersBlocked)
	assert.Equal(t, uint64(15), got.DataSavedKBEstimate)

	got = decode[domain.Stats](t, do(t, h, http.MethodDelete, "/v1/stats", nil))
	assert.Zero(t, got.AdsBlocked)
	assert.Zero(t, got.RequestsTotal)
}

func TestWhitelistRoutes(t *testing.T) {
	f := newFixture(t)
	h := f.server.Handler()

	rec := do(t, h, http.MethodPost, "/v1/whitelist", whitelistBody{Domain: "News.Example"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, whitelistChange{Domain: "news.example", Changed: true, Persisted: true}, decode[whitelistChange](t, rec))

	rec = do(t, h, http.MethodGet, "/v1/whitelist", nil)
	assert.JSONEq(t, `{"domains":["news.example"]}`, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/v1/whitelist", whitelistBody{Domain: "   "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodDelete, "/v1/whitelist/news.example", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[whitelistChange](t, rec).Changed)

	rec = do(t, h, http.MethodDelete, "/v1/whitelist/news.example", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[whitelistChange](t, rec).Changed)
}

func TestWhitelist_PersistenceFailureStillApplies(t *testing.T) {
	f := newFixture(t)
	f.persister.err = errors.New("disk full")

	rec := do(t, f.server.Handler(), http.MethodPost, "/v1/whitelist", whitelistBody{Domain: "ads.example"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, whitelistChange{Domain: "ads.example", Changed: true, Persisted: false}, decode[whitelistChange](t, rec))

	_, ok := f.store.CurrentSnapshot().IsWhitelisted("ads.example")
	assert.True(t, ok)
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t)
	h := f.server.Handler()

	rec := do(t, h, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	health := decode[map[string]any](t, rec)
	assert.Equal(t, "ok", health["status"])
	assert.EqualValues(t, 2, health["blocklist"])

	do(t, h, http.MethodGet, "/v1/state", nil)
	rec = do(t, h, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `pulse_http_requests_total{method="GET",path="/v1/state",status="200"} 1`)
	assert.Contains(t, rec.Body.String(), "pulse_rules_blocked_domains 2")
}

func TestStatsStream(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewServer(f.server.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/stats/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var first domain.Stats
	require.NoError(t, conn.ReadJSON(&first))
	assert.Zero(t, first.AdsBlocked)

	do(t, f.server.Handler(), http.MethodPost, "/v1/hooks/before-request",
		beforeRequestBody{URL: "https://doubleclick.net/ad", Referrer: "https://site.example/"})

	var next domain.Stats
	require.NoError(t, conn.ReadJSON(&next))
	assert.Equal(t, uint64(1), next.AdsBlocked)

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(f.metrics.WSClients) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestStartStop(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, f.server.Start(ctx))
	assert.Error(t, f.server.Start(ctx))
	addr := f.server.Address()
	assert.NotEqual(t, "127.0.0.1:0", addr)

	resp, err := http.Get("http://" + addr + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, f.server.Stop())
	assert.NoError(t, f.server.Stop())
	assert.Equal(t, "127.0.0.1:0", f.server.Address())
}

func TestStart_ContextCancelStops(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, f.server.Start(ctx))
	cancel()
	assert.Eventually(t, func() bool {
		return f.server.Address() == "127.0.0.1:0"
	}, 2*time.Second, 10*time.Millisecond)
}
