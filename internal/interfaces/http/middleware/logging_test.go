package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/ertviz/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/ertviz/internal/testutil"
)

func serveWith(mw func(http.Handler) http.Handler, status int, path string) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(mw)
	r.Get("/*", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte("ok"))
	})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestRequestLogging_Levels(t *testing.T) {
	cases := []struct {
		status int
		level  string
		msg    string
	}{
		{http.StatusOK, "info", "HTTP request completed"},
		{http.StatusNotFound, "warn", "HTTP request completed with client error"},
		{http.StatusBadGateway, "error", "HTTP request completed with server error"},
	}
	for _, tc := range cases {
		log := testutil.NewMockLogger()
		w := serveWith(RequestLogging(log, DefaultLoggingConfig()), tc.status, "/api/v1/ensembles?x=1")
		assert.Equal(t, tc.status, w.Code)
		assert.True(t, log.HasMessage(tc.level, tc.msg), "status %d", tc.status)

		path, ok := log.Field(tc.msg, "path")
		require.True(t, ok)
		assert.Equal(t, "/api/v1/ensembles?x=1", path)
		id, ok := log.Field(tc.msg, logging.FieldRequestID)
		require.True(t, ok)
		assert.NotEmpty(t, id)
	}
}

func TestRequestLogging_SkipPaths(t *testing.T) {
	log := testutil.NewMockLogger()
	serveWith(RequestLogging(log, DefaultLoggingConfig()), http.StatusOK, "/healthz")
	assert.Empty(t, log.GetMessages())
}

func TestRequestLogging_Slow(t *testing.T) {
	log := testutil.NewMockLogger()
	cfg := LoggingConfig{SlowThreshold: time.Nanosecond}
	serveWith(RequestLogging(log, cfg), http.StatusOK, "/")
	assert.True(t, log.HasMessage("warn", "HTTP request completed (slow)"))
}

func TestRequestLogging_StoresRequestID(t *testing.T) {
	var seen string
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(RequestLogging(logging.NewNopLogger(), LoggingConfig{}))
	r.Get("/", func(w http.ResponseWriter, req *http.Request) {
		seen = logging.RequestIDFromContext(req.Context())
	})
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, seen)
}

func TestStatusRecorder_DefaultsTo200(t *testing.T) {
	rec := newStatusRecorder(httptest.NewRecorder())
	_, err := rec.Write([]byte("abc"))
	require.NoError(t, err)
	rec.WriteHeader(http.StatusTeapot)
	assert.Equal(t, http.StatusOK, rec.status)
	assert.EqualValues(t, 3, rec.written)
}

func TestStatusRecorder_HijackUnsupported(t *testing.T) {
	rec := newStatusRecorder(httptest.NewRecorder())
	_, _, err := rec.Hijack()
	assert.Error(t, err)
}
