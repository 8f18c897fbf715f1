package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRegistry(t *testing.T) *prometheus.Registry {
	t.Helper()
	registry := prometheus.NewRegistry()
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "sensor_humidity", Help: "test"})
	gauge.Set(48)
	require.NoError(t, registry.Register(gauge))
	return registry
}

func get(t *testing.T, handler http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestMetricsEndpoint(t *testing.T) {
	router := NewRouter(newRegistry(t), nil)

	rec := get(t, router, "/metrics")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "sensor_humidity 48")
}

func TestHealthEndpoint(t *testing.T) {
	rec := get(t, NewRouter(newRegistry(t), nil), "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestReadyEndpoint(t *testing.T) {
	ready := false
	router := NewRouter(newRegistry(t), func() bool { return ready })

	assert.Equal(t, http.StatusServiceUnavailable, get(t, router, "/ready").Code)
	ready = true
	assert.Equal(t, http.StatusOK, get(t, router, "/ready").Code)
}

func TestRootRedirectsToMetrics(t *testing.T) {
	rec := get(t, NewRouter(newRegistry(t), nil), "/")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/metrics", rec.Header().Get("Location"))
}

func TestServeShutsDownOnCancel(t *testing.T) {
	srv := NewHTTPServer("127.0.0.1:0", NewRouter(newRegistry(t), nil), nil)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/health")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "ok", string(body))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
