package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/0xmhha/contactstore/contact"
	"github.com/0xmhha/contactstore/internal/testutil"
	"github.com/0xmhha/contactstore/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// brokenStore fails either when opening a transaction or when opening a cursor
type brokenStore struct {
	beginErr  error
	cursorErr error
}

func (s *brokenStore) BeginRead(ctx context.Context, collections ...string) (storage.ReadTxn, error) {
	if s.beginErr != nil {
		return nil, s.beginErr
	}
	return &brokenTxn{err: s.cursorErr}, nil
}

func (s *brokenStore) Close() error { return nil }

type brokenTxn struct{ err error }

func (t *brokenTxn) Cursor(string) (storage.Cursor, error) { return nil, t.err }
func (t *brokenTxn) Close() error                          { return nil }

func newTestServer(t *testing.T, store storage.Store, opts ...contact.SearcherOption) (*Server, *prometheus.Registry) {
	t.Helper()

	reg := prometheus.NewRegistry()
	opts = append(opts, contact.WithMetrics(contact.NewMetrics(reg, "")))
	searcher := contact.NewSearcher(store, opts...)

	server, err := NewServer(DefaultConfig(), zap.NewNop(), searcher, reg)
	require.NoError(t, err)
	return server, reg
}

func seededStore(t *testing.T) storage.Storage {
	t.Helper()
	st := testutil.NewTestStorage(t, storage.BackendPebble)
	testutil.Fill(t, st, "contacts",
		testutil.NewContact("Bob Smith", "bob@x.com"),
		testutil.NewContact("Ann Lee", "ann@bob.com"),
	)
	return st
}

func serve(server *Server, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	w := httptest.NewRecorder()
	server.Router().ServeHTTP(w, req)
	return w
}

func TestNewServer(t *testing.T) {
	searcher := contact.NewSearcher(&brokenStore{})

	tests := []struct {
		name     string
		config   *Config
		searcher *contact.Searcher
		wantErr  bool
	}{
		{
			name:     "valid default config",
			config:   DefaultConfig(),
			searcher: searcher,
			wantErr:  false,
		},
		{
			name: "invalid port",
			config: func() *Config {
				c := DefaultConfig()
				c.Port = 0
				return c
			}(),
			searcher: searcher,
			wantErr:  true,
		},
		{
			name:     "nil searcher",
			config:   DefaultConfig(),
			searcher: nil,
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, err := NewServer(tt.config, zap.NewNop(), tt.searcher, prometheus.NewRegistry())
			if (err != nil) != tt.wantErr {
				t.Errorf("NewServer() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && server == nil {
				t.Error("NewServer() returned nil server")
			}
		})
	}
}

func TestServerSearchEndpoint(t *testing.T) {
	server, _ := newTestServer(t, seededStore(t))

	tests := []struct {
		target string
		query  string
		want   []string
	}{
		{"/contacts/search?q=bob", "bob", []string{"Bob Smith", "Ann Lee"}},
		{"/contacts/search?q=ANN", "ANN", []string{"Ann Lee"}},
		{"/contacts/search?q=xyz", "xyz", []string{}},
		{"/contacts/search", "", []string{"Bob Smith", "Ann Lee"}},
		{"/contacts/search?q=%40x.com", "@x.com", []string{"Bob Smith"}},
	}

	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			w := serve(server, tt.target)
			require.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

			var resp SearchResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			assert.Equal(t, tt.query, resp.Query)
			assert.Equal(t, len(tt.want), resp.Count)

			got := make([]string, 0, len(resp.Contacts))
			for _, c := range resp.Contacts {
				got = append(got, c.Name)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestServerSearchEndpoint_EmptyIsArray(t *testing.T) {
	server, _ := newTestServer(t, seededStore(t))

	w := serve(server, "/contacts/search?q=nobody")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"contacts":[]`)
}

func TestServerSearchEndpoint_Errors(t *testing.T) {
	malformed := testutil.NewTestStorage(t, storage.BackendPebble)
	require.NoError(t, malformed.Put(context.Background(), "contacts", 3, []byte(`{"name":"Bob"}`)))

	tests := []struct {
		name       string
		store      storage.Store
		wantStatus int
		wantKind   string
	}{
		{"closed store", &brokenStore{beginErr: storage.ErrClosed}, http.StatusServiceUnavailable, contact.KindConnection},
		{"aborted transaction", &brokenStore{cursorErr: storage.ErrTxnAborted}, http.StatusInternalServerError, contact.KindTransaction},
		{"malformed record", malformed, http.StatusUnprocessableEntity, contact.KindRecord},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, _ := newTestServer(t, tt.store)

			w := serve(server, "/contacts/search?q=bob")
			assert.Equal(t, tt.wantStatus, w.Code)

			var resp ErrorResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			assert.Equal(t, tt.wantKind, resp.Kind)
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestServerSearchEndpoint_SkipPolicy(t *testing.T) {
	st := seededStore(t)
	_, err := st.Add(context.Background(), "contacts", []byte(`{"email":"bob@nowhere"}`))
	require.NoError(t, err)

	server, _ := newTestServer(t, st, contact.WithRecordPolicy(contact.PolicySkip))

	w := serve(server, "/contacts/search?q=bob")
	require.Equal(t, http.StatusOK, w.Code)

	var resp SearchResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, 2, resp.Count)
}

func TestServerSearchEndpoint_ClosedStorage(t *testing.T) {
	st := seededStore(t)
	server, _ := newTestServer(t, st)
	require.NoError(t, st.Close())

	w := serve(server, "/contacts/search?q=bob")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestServerMetricsEndpoint(t *testing.T) {
	server, _ := newTestServer(t, seededStore(t))

	require.Equal(t, http.StatusOK, serve(server, "/contacts/search?q=bob").Code)

	w := serve(server, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `contactstore_search_scans_total{outcome="success"} 1`)
	assert.Contains(t, body, "contactstore_search_records_visited_total 2")
}

func TestServerHealthEndpoint(t *testing.T) {
	server, _ := newTestServer(t, &brokenStore{})

	w := serve(server, "/health")

	if w.Code != http.StatusOK {
		t.Errorf("health endpoint returned wrong status code: got %v want %v",
			w.Code, http.StatusOK)
	}

	contentType := w.Header().Get("Content-Type")
	if contentType != "application/json" {
		t.Errorf("health endpoint returned wrong content type: got %v want %v",
			contentType, "application/json")
	}

	var resp HealthResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestServerVersionEndpoint(t *testing.T) {
	server, _ := newTestServer(t, &brokenStore{})

	w := serve(server, "/version")

	if w.Code != http.StatusOK {
		t.Errorf("version endpoint returned wrong status code: got %v want %v",
			w.Code, http.StatusOK)
	}

	var resp VersionResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "contactstore", resp.Name)
	assert.Equal(t, "dev", resp.Version)
}

func TestServerGracefulShutdown(t *testing.T) {
	config := DefaultConfig()
	config.Port = 8081
	config.EnableRateLimit = true

	server, err := NewServer(config, zap.NewNop(), contact.NewSearcher(&brokenStore{}), prometheus.NewRegistry())
	require.NoError(t, err)

	// Test graceful shutdown without actually starting the server
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Stop(ctx); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}

func TestServerStartStop(t *testing.T) {
	config := DefaultConfig()
	config.Host = "127.0.0.1"
	config.Port = 18089

	server, err := NewServer(config, zap.NewNop(), contact.NewSearcher(seededStore(t)), prometheus.NewRegistry())
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://127.0.0.1:18089/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, server.Stop(context.Background()))
	assert.NoError(t, <-errCh)
}

func TestServerMiddleware(t *testing.T) {
	config := DefaultConfig()
	config.EnableCORS = true
	config.AllowedOrigins = []string{"http://localhost:3000"}

	server, err := NewServer(config, zap.NewNop(), contact.NewSearcher(&brokenStore{}), prometheus.NewRegistry())
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodOptions, "/contacts/search", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "GET")
	w := httptest.NewRecorder()

	server.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK && w.Code != http.StatusNoContent {
		t.Errorf("OPTIONS request returned wrong status code: got %v", w.Code)
	}
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestServerRateLimit(t *testing.T) {
	config := DefaultConfig()
	config.EnableRateLimit = true
	config.RateLimitPerSecond = 1
	config.RateLimitBurst = 2

	server, err := NewServer(config, zap.NewNop(), contact.NewSearcher(&brokenStore{}), prometheus.NewRegistry())
	require.NoError(t, err)
	defer server.Stop(context.Background())

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		codes = append(codes, serve(server, "/health").Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid config", func(c *Config) {}, false},
		{"empty host", func(c *Config) { c.Host = "" }, true},
		{"negative port", func(c *Config) { c.Port = -1 }, true},
		{"port too large", func(c *Config) { c.Port = 70000 }, true},
		{"zero read timeout", func(c *Config) { c.ReadTimeout = 0 }, true},
		{"negative write timeout", func(c *Config) { c.WriteTimeout = -1 * time.Second }, true},
		{"zero idle timeout", func(c *Config) { c.IdleTimeout = 0 }, true},
		{"negative shutdown timeout", func(c *Config) { c.ShutdownTimeout = -1 * time.Second }, true},
		{"zero max header bytes", func(c *Config) { c.MaxHeaderBytes = 0 }, true},
		{"relative search path", func(c *Config) { c.SearchPath = "search" }, true},
		{"same search and metrics path", func(c *Config) { c.MetricsPath = c.SearchPath }, true},
		{"rate limit without rate", func(c *Config) { c.EnableRateLimit = true; c.RateLimitPerSecond = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(config)
			err := config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Config.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfigDefaults(t *testing.T) {
	config := DefaultConfig()

	if config.Host != "localhost" {
		t.Errorf("expected default host to be localhost, got %s", config.Host)
	}

	if config.Port != 8080 {
		t.Errorf("expected default port to be 8080, got %d", config.Port)
	}

	if config.SearchPath != "/contacts/search" {
		t.Errorf("expected default search path /contacts/search, got %s", config.SearchPath)
	}

	if !strings.HasPrefix(config.MetricsPath, "/") {
		t.Errorf("expected absolute metrics path, got %s", config.MetricsPath)
	}

	expectedAddr := "localhost:8080"
	if config.Address() != expectedAddr {
		t.Errorf("expected address %s, got %s", expectedAddr, config.Address())
	}
}
