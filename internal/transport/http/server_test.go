package httptransport

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestRouterLogsAndAppliesCORS(t *testing.T) {
	var buf bytes.Buffer
	r := NewRouter(RouterConfig{
		AllowedOrigins: []string{"http://localhost:5173"},
		RequestTimeout: time.Second,
		Logger:         zerolog.New(&buf),
	})
	r.Get("/ping", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusTeapot, rec.Code)
	require.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "/ping", line["path"])
	require.EqualValues(t, http.StatusTeapot, line["status"])
	require.NotEmpty(t, line["request_id"])
}

func TestRouterRecoversPanics(t *testing.T) {
	var buf bytes.Buffer
	r := NewRouter(RouterConfig{Logger: zerolog.New(&buf)})
	r.Get("/boom", func(http.ResponseWriter, *http.Request) { panic("boom") })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRouterAuthenticates(t *testing.T) {
	denied := func(http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		})
	}
	r := NewRouter(RouterConfig{Logger: zerolog.Nop(), Authenticate: denied})
	r.Get("/secret", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/secret", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestNewServer(t *testing.T) {
	srv := NewServer(ServerConfig{Address: ":0", ReadTimeout: time.Second, WriteTimeout: 2 * time.Second, IdleTimeout: 3 * time.Second}, http.NotFoundHandler())
	require.Equal(t, ":0", srv.Addr)
	require.Equal(t, time.Second, srv.ReadHeaderTimeout)
	require.Equal(t, 3*time.Second, srv.IdleTimeout)
}
