package monitoring

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func value(t *testing.T, c prometheus.Metric) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	switch {
	case m.Counter != nil:
		return m.Counter.GetValue()
	case m.Gauge != nil:
		return m.Gauge.GetValue()
	}
	return 0
}

func TestIndependentRegistries(t *testing.T) {
	a := NewMetrics()
	b := NewMetrics()

	a.DispatchDropped.Inc()
	assert.Equal(t, float64(1), value(t, a.DispatchDropped))
	assert.Equal(t, float64(0), value(t, b.DispatchDropped))
}

func TestRegistryGathers(t *testing.T) {
	m := NewMetrics()
	m.ProcessesSpawned.WithLabelValues("pipe").Inc()
	m.Wrappers.WithLabelValues("pinned").Set(3)

	families, err := m.Registry.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["scriptbridge_dispatch_dropped_total"])
	assert.True(t, names["scriptbridge_processes_spawned_total"])
	assert.True(t, names["scriptbridge_uptime_seconds"])
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := NewMetrics()

	router := gin.New()
	router.Use(Middleware(m))
	router.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, float64(1), value(t, m.ControlRequests.WithLabelValues("GET", "/health", "200")))

	m.RecordControlRequest("POST", "/execute", "500", time.Millisecond)
	assert.Equal(t, float64(1), value(t, m.ControlRequests.WithLabelValues("POST", "/execute", "500")))
}
