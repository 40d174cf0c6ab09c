package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.FrameSent()
	m.SetConnected(true)
	m.SetFPS(10)
	m.UpdateEncodeLatency(time.Millisecond, 10)
	m.UpdateRoundTrip(time.Now())
}

func TestCountersAndHandler(t *testing.T) {
	m := New()
	m.FrameCaptured()
	m.FrameSent()
	m.FrameSent()
	m.ParseFailed()
	m.SetConnected(true)
	m.SetFPS(10)

	assert.Equal(t, uint64(2), m.FramesSent.Load())
	assert.Equal(t, uint64(1), m.Connected.Load())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), "streamer_frames_sent_total 2")
	assert.Contains(t, string(body), "streamer_parse_errors_total 1")
	assert.Contains(t, string(body), "streamer_frames_per_second 10")
	assert.Contains(t, string(body), "streamer_connected 1")
}

func TestRegistryGathersGauges(t *testing.T) {
	m := New()
	m.ReconnectAttempt()

	families, err := m.Registry().Gather()
	require.NoError(t, err)

	values := make(map[string]float64, len(families))
	for _, mf := range families {
		values[mf.GetName()] = mf.GetMetric()[0].GetGauge().GetValue()
	}
	assert.Len(t, values, 13)
	assert.Equal(t, float64(1), values["streamer_reconnect_attempts_total"])
}
