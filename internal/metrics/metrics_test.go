package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersByResult(t *testing.T) {
	m := New()
	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(m))

	m.Migration(nil)
	m.Migration(errors.New("boom"))
	m.Migration(nil)
	m.Registration("climate", nil)
	m.Deregistration("fan", errors.New("boom"))
	m.SetLoadedDevices(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.migrations.WithLabelValues(RESULT_SUCCESS)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.migrations.WithLabelValues(RESULT_FAILURE)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.registrations.WithLabelValues("climate", RESULT_SUCCESS)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deregistrations.WithLabelValues("fan", RESULT_FAILURE)))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.loadedEntries))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Migration(nil)
		m.Inference(errors.New("x"))
		m.Registration("fan", nil)
		m.Deregistration("fan", nil)
		m.SetLoadedDevices(1)
	})
}
