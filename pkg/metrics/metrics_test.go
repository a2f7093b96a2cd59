package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNew tests that every collector is registered with the private registry
func TestNew(t *testing.T) {
	m, err := New("1.2.3")
	require.NoError(t, err)

	families, err := m.Registry().Gather()
	require.NoError(t, err)

	names := map[string]bool{}
	for _, family := range families {
		names[family.GetName()] = true
	}
	// Vectors without children are not gathered; build info always is.
	assert.True(t, names["bearer_build_info"])
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BuildInfo.WithLabelValues("1.2.3")))
}

// TestNew_Independent tests that two instances do not collide
func TestNew_Independent(t *testing.T) {
	_, err := New("a")
	require.NoError(t, err)
	_, err = New("b")
	require.NoError(t, err)
}

func TestRecordExchange(t *testing.T) {
	m, err := New("test")
	require.NoError(t, err)

	m.RecordExchange("refresh_token", "success", 120*time.Millisecond)
	m.RecordExchange("refresh_token", "success", 80*time.Millisecond)
	m.RecordExchange("authorization_code", "protocol_error", time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.TokenExchangesTotal.WithLabelValues("refresh_token", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TokenExchangesTotal.WithLabelValues("authorization_code", "protocol_error")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.TokenExchangeDurationSeconds))
}

func TestRecordCallbackRequestAndDecision(t *testing.T) {
	m, err := New("test")
	require.NoError(t, err)

	m.RecordCallbackRequest(404)
	m.RecordCallbackRequest(404)
	m.RecordCallbackRequest(302)
	m.RecordDecision("reuse")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.CallbackRequestsTotal.WithLabelValues("404")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CallbackRequestsTotal.WithLabelValues("302")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LifecycleDecisionsTotal.WithLabelValues("reuse")))
}

func TestSetTokenExpiry(t *testing.T) {
	m, err := New("test")
	require.NoError(t, err)

	expiresAt := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
	m.SetTokenExpiry("gandi", expiresAt)

	assert.Equal(t, float64(expiresAt.Unix()), testutil.ToFloat64(m.TokenExpiryTimestamp.WithLabelValues("gandi")))
}

func TestSetCircuitBreakerState(t *testing.T) {
	m, err := New("test")
	require.NoError(t, err)

	m.SetCircuitBreakerState("TokenEndpoint", 2)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.CircuitBreakerState.WithLabelValues("TokenEndpoint")))
}

// TestNilMetrics tests that recording on a nil receiver is a no-op
func TestNilMetrics(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.RecordExchange("refresh_token", "success", time.Second)
		m.RecordCallbackRequest(200)
		m.RecordDecision("refresh")
		m.SetTokenExpiry("c", time.Now())
		m.SetCircuitBreakerState("TokenEndpoint", 1)
	})
	assert.NoError(t, m.WriteTextfile(filepath.Join(t.TempDir(), "bearer.prom")))
}

func TestWriteTextfile(t *testing.T) {
	m, err := New("test")
	require.NoError(t, err)
	m.RecordDecision("refresh")

	path := filepath.Join(t.TempDir(), "bearer.prom")
	require.NoError(t, m.WriteTextfile(path))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), `bearer_lifecycle_decisions_total{action="refresh"} 1`)
	assert.Contains(t, string(content), "bearer_build_info")
}

func TestWriteTextfile_EmptyPath(t *testing.T) {
	m, err := New("test")
	require.NoError(t, err)

	assert.NoError(t, m.WriteTextfile(""))
}
