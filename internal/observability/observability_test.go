package observability

import (
	"context"
	"testing"

	"ratelimiter/internal/models"
	"ratelimiter/internal/version"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testVersion() version.Info {
	return version.Info{Version: "1.2.3", GitCommit: "abc123", InstanceID: "test-instance", Hostname: "test-host"}
}

func TestSetup(t *testing.T) {
	tests := []struct {
		name        string
		metrics     bool
		tracing     bool
		sampleRate  float64
		wantTracer  bool
		wantMetrics bool
	}{
		{"metrics only", true, false, 0, false, true},
		{"tracing only", false, true, 1.0, true, false},
		{"both enabled", true, true, 0.5, true, true},
		{"both disabled", false, false, 0, false, false},
		{"never sample", false, true, 0, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			metrics := models.MetricsConfig{Enabled: tt.metrics, Path: "/metrics", Port: 9090}
			obs := models.ObservabilityConfig{
				ServiceName: "ratelimiter-test",
				Tracing: models.TracingConfig{
					Enabled:    tt.tracing,
					Exporter:   "stdout",
					SampleRate: tt.sampleRate,
				},
			}

			provider, err := Setup(metrics, obs, testVersion())
			require.NoError(t, err)
			require.NotNil(t, provider)

			assert.Equal(t, tt.wantTracer, provider.tracerProvider != nil)
			assert.Equal(t, tt.wantMetrics, provider.Registry() != nil)

			assert.NoError(t, provider.Shutdown(context.Background()))
		})
	}
}

func TestSetup_InvalidExporter(t *testing.T) {
	obs := models.ObservabilityConfig{
		ServiceName: "ratelimiter-test",
		Tracing: models.TracingConfig{
			Enabled:    true,
			Exporter:   "zipkin",
			SampleRate: 1.0,
		},
	}

	provider, err := Setup(models.MetricsConfig{}, obs, testVersion())
	assert.Error(t, err)
	assert.Nil(t, provider)
	assert.Contains(t, err.Error(), "unsupported trace exporter")
}

func TestProvider_ShutdownNilProviders(t *testing.T) {
	p := &Provider{}
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestProvider_NilRegistry(t *testing.T) {
	var p *Provider
	assert.Nil(t, p.Registry())
}

func TestEnvironment(t *testing.T) {
	t.Setenv("DEPLOYMENT_ENV", "")
	assert.Equal(t, "development", environment())

	t.Setenv("DEPLOYMENT_ENV", "staging")
	assert.Equal(t, "staging", environment())
}
