package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"gatekeeper/internal/models"
	"gatekeeper/internal/version"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func findFamily(families []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func TestNewMetricsServer(t *testing.T) {
	metrics := models.MetricsConfig{
		Enabled: true,
		Path:    "/metrics",
		Port:    9090,
	}
	obs := models.ObservabilityConfig{
		ServiceName: "test",
		Tracing:     models.TracingConfig{Enabled: false},
	}

	provider, err := Setup(metrics, obs, version.Info{})
	require.NoError(t, err)
	defer provider.Shutdown(context.Background())

	ms := NewMetricsServer(metrics.Port, metrics.Path, provider)
	assert.NotNil(t, ms)
	assert.NotNil(t, ms.server)
	assert.Equal(t, ":9090", ms.server.Addr)
}

func TestMetricsServer_ServesRegistry(t *testing.T) {
	metrics := models.MetricsConfig{Enabled: true, Path: "/metrics", Port: 9090}
	provider, err := Setup(metrics, models.ObservabilityConfig{ServiceName: "test"}, version.Info{})
	require.NoError(t, err)
	defer provider.Shutdown(context.Background())

	counter, err := provider.Meter("gatekeeper/test").Int64Counter("probe.hits")
	require.NoError(t, err)
	counter.Add(context.Background(), 3)

	ms := NewMetricsServer(metrics.Port, metrics.Path, provider)

	rr := httptest.NewRecorder()
	ms.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, "probe_hits")
	assert.Contains(t, body, "go_goroutines")
}

func TestProvider_RegistryGather(t *testing.T) {
	metrics := models.MetricsConfig{Enabled: true, Path: "/metrics", Port: 9090}
	provider, err := Setup(metrics, models.ObservabilityConfig{ServiceName: "test"}, version.Info{})
	require.NoError(t, err)
	defer provider.Shutdown(context.Background())

	counter, err := provider.Meter("gatekeeper/test").Int64Counter("gather.hits")
	require.NoError(t, err)
	counter.Add(context.Background(), 4)

	families, err := provider.Registry().Gather()
	require.NoError(t, err)

	mf := findFamily(families, "gather_hits_total")
	require.NotNil(t, mf)
	assert.Equal(t, dto.MetricType_COUNTER, mf.GetType())
	require.NotEmpty(t, mf.GetMetric())
	assert.Equal(t, 4.0, mf.GetMetric()[0].GetCounter().GetValue())
}

func TestMetricsServer_StartAndShutdown(t *testing.T) {
	metrics := models.MetricsConfig{
		Enabled: true,
		Path:    "/metrics",
		Port:    0,
	}
	obs := models.ObservabilityConfig{
		ServiceName: "test",
		Tracing:     models.TracingConfig{Enabled: false},
	}

	provider, err := Setup(metrics, obs, version.Info{})
	require.NoError(t, err)
	defer provider.Shutdown(context.Background())

	ms := NewMetricsServer(0, metrics.Path, provider)

	errCh := make(chan error, 1)
	go func() {
		errCh <- ms.Start()
	}()

	// Give the server time to start
	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = ms.Shutdown(ctx)
	assert.NoError(t, err)

	serverErr := <-errCh
	assert.Equal(t, http.ErrServerClosed, serverErr)
}

func TestNewMetricsServer_NilProvider(t *testing.T) {
	ms := NewMetricsServer(9090, "/metrics", nil)
	require.NotNil(t, ms)

	rr := httptest.NewRecorder()
	ms.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
