package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/cityingest/internal/metrics"
)

func TestLogger_RecordsRoutePattern(t *testing.T) {
	m := metrics.New()
	r := chi.NewRouter()
	r.Use(Logger(m))
	r.Get("/api/queue/batches/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/queue/batches/abc", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	count := testutil.CollectAndCount(m.RequestDuration)
	assert.Equal(t, 1, count)
	n, err := testutil.GatherAndCount(m.Registry(), "cityingest_http_request_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestLogger_NilMetrics(t *testing.T) {
	h := Logger(nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestResponseWriter_FirstStatusWins(t *testing.T) {
	rec := httptest.NewRecorder()
	ww := &responseWriter{ResponseWriter: rec, status: http.StatusOK}
	ww.WriteHeader(http.StatusAccepted)
	ww.WriteHeader(http.StatusInternalServerError)
	assert.Equal(t, http.StatusAccepted, ww.status)
	assert.Equal(t, rec, ww.Unwrap())
}

func TestTrustedRealIP(t *testing.T) {
	tests := []struct {
		name    string
		trusted []string
		remote  string
		headers map[string]string
		want    string
	}{
		{"no trusted proxies", nil, "10.0.0.1:1234", map[string]string{"X-Real-IP": "1.2.3.4"}, "10.0.0.1:1234"},
		{"trusted cidr uses x-real-ip", []string{"10.0.0.0/8"}, "10.0.0.1:1234", map[string]string{"X-Real-IP": "1.2.3.4"}, "1.2.3.4"},
		{"trusted single address", []string{"10.0.0.1"}, "10.0.0.1:1234", map[string]string{"X-Forwarded-For": "5.6.7.8, 10.0.0.1"}, "5.6.7.8"},
		{"untrusted source ignored", []string{"10.0.0.0/8"}, "192.168.1.1:1234", map[string]string{"X-Real-IP": "1.2.3.4"}, "192.168.1.1:1234"},
		{"invalid header ignored", []string{"10.0.0.0/8"}, "10.0.0.1:1234", map[string]string{"X-Real-IP": "not-an-ip"}, "10.0.0.1:1234"},
		{"invalid entry skipped", []string{"bogus", "10.0.0.0/8"}, "10.0.0.1:1234", map[string]string{"X-Real-IP": "1.2.3.4"}, "1.2.3.4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			h := TrustedRealIP(tt.trusted)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
				got = r.RemoteAddr
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)
			assert.Equal(t, tt.want, got)
		})
	}
}
