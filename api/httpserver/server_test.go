package httpserver

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingRegistrar struct{}

func (pingRegistrar) RegisterRoutes(r chi.Router) {
	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("pong"))
	})
}

func setupTestServer(t *testing.T, cfg *HTTPServerConfig) *BaseServer {
	t.Helper()
	cfg.Log = slog.New(slog.NewTextHandler(io.Discard, nil))
	srv, err := New(cfg, pingRegistrar{})
	require.NoError(t, err)
	return srv
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthEndpoints(t *testing.T) {
	srv := setupTestServer(t, DefaultHTTPServerConfig())
	h := srv.Handler()

	rec := get(t, h, "/livez")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"alive"}`, rec.Body.String())

	rec = get(t, h, "/readyz")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = get(t, h, "/drain")
	assert.JSONEq(t, `{"status":"draining"}`, rec.Body.String())
	assert.False(t, srv.IsReady())

	rec = get(t, h, "/drain")
	assert.JSONEq(t, `{"status":"already draining"}`, rec.Body.String())

	rec = get(t, h, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = get(t, h, "/undrain")
	assert.JSONEq(t, `{"status":"ready"}`, rec.Body.String())
	assert.True(t, srv.IsReady())
}

func TestRegistrarRoutes(t *testing.T) {
	srv := setupTestServer(t, DefaultHTTPServerConfig())

	rec := get(t, srv.Handler(), "/ping")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pong", rec.Body.String())

	rec = get(t, srv.Handler(), "/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	cfg := DefaultHTTPServerConfig()
	cfg.AllowedOrigins = []string{"https://example.com"}
	srv := setupTestServer(t, cfg)

	req := httptest.NewRequest(http.MethodOptions, "/ping", nil)
	req.Header.Set("Origin", "https://example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "https://example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}
