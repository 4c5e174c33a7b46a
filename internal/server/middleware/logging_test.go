package middleware

import (
	"bufio"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/causaltree/internal/metrics"
)

func TestLoggingMiddleware(t *testing.T) {
	tests := []struct {
		name           string
		method         string
		path           string
		wantLevel      string
		expectedStatus int
	}{
		{name: "GET 200", method: http.MethodGet, path: "/api/v1/channels/list/a/state", expectedStatus: http.StatusOK, wantLevel: "INFO"},
		{name: "POST 403", method: http.MethodPost, path: "/api/v1/channels/list/a/sync", expectedStatus: http.StatusForbidden, wantLevel: "WARN"},
		{name: "POST 500", method: http.MethodPost, path: "/api/v1/channels/list/b/sync", expectedStatus: http.StatusInternalServerError, wantLevel: "ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var logBuf strings.Builder
			logger := slog.New(slog.NewTextHandler(&logBuf, &slog.HandlerOptions{Level: slog.LevelInfo}))

			handler := LoggingMiddleware(logger, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.expectedStatus)
				_, _ = w.Write([]byte("body"))
			}))

			req := httptest.NewRequest(tt.method, tt.path, nil)
			req.RemoteAddr = "192.168.1.1:12345"
			req.Header.Set("User-Agent", "TestAgent/1.0")
			req.Header.Set("Authorization", "Bearer secret-token")
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)

			logOutput := logBuf.String()
			assert.Contains(t, logOutput, "HTTP request")
			assert.Contains(t, logOutput, tt.method)
			assert.Contains(t, logOutput, tt.path)
			assert.Contains(t, logOutput, "192.168.1.1:12345")
			assert.Contains(t, logOutput, "TestAgent/1.0")
			assert.Contains(t, logOutput, "bytes_written=4")
			assert.Contains(t, logOutput, "level="+tt.wantLevel)
			assert.NotContains(t, logOutput, "secret-token")
		})
	}
}

func TestLoggingMiddleware_CountsRequests(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	logger := slog.New(slog.NewTextHandler(&strings.Builder{}, nil))

	handler := LoggingMiddleware(logger, m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	for _, path := range []string{"/a", "/b", "/missing"} {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	count, err := testutil.GatherAndCount(reg, "causaltree_http_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count, "one series per status class")
}

func TestLoggingWithSkip(t *testing.T) {
	var logBuf strings.Builder
	logger := slog.New(slog.NewTextHandler(&logBuf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	handler := LoggingWithSkip(logger, nil, []string{"/api/v1/health", "/metrics"})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("ok"))
		}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Empty(t, logBuf.String())

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/channels", nil))
	assert.Contains(t, logBuf.String(), "/api/v1/channels")
}

// hijackRecorder httptest.ResponseRecorder с поддержкой Hijack
type hijackRecorder struct {
	*httptest.ResponseRecorder
	conn net.Conn
}

func (h *hijackRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return h.conn, bufio.NewReadWriter(bufio.NewReader(h.conn), bufio.NewWriter(h.conn)), nil
}

func TestResponseWriter_Hijack(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	rw := &responseWriter{ResponseWriter: &hijackRecorder{ResponseRecorder: httptest.NewRecorder(), conn: server}, statusCode: http.StatusOK}
	conn, _, err := rw.Hijack()
	require.NoError(t, err)
	assert.Equal(t, server, conn)
	assert.True(t, rw.hijacked)
	assert.Equal(t, http.StatusSwitchingProtocols, rw.statusCode)

	plain := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	_, _, err = plain.Hijack()
	assert.Error(t, err)
}

func TestResponseWriter_CapturesStatusAndBytes(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, statusCode: http.StatusOK}

	rw.WriteHeader(http.StatusCreated)
	n, err := rw.Write([]byte("Hello"))
	require.NoError(t, err)
	_, err = rw.Write([]byte(", World"))
	require.NoError(t, err)

	assert.Equal(t, 5, n)
	assert.Equal(t, http.StatusCreated, rw.statusCode)
	assert.Equal(t, int64(12), rw.written)
	assert.Equal(t, http.StatusCreated, rec.Code)
}
