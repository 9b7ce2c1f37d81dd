package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMetricsHandler(t *testing.T) {
	m := New()
	m.RegisterState(func() bool { return true }, func() bool { return false }, func() int { return 1 })
	m.Ticks.Add(3)
	m.ObserveInference(20*time.Millisecond, nil)
	m.ObserveInference(0, errors.New("timeout"))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	text := string(body)
	require.True(t, strings.Contains(text, "buddywatch_ticks_total 3"))
	require.True(t, strings.Contains(text, "buddywatch_inference_ok_total 1"))
	require.True(t, strings.Contains(text, "buddywatch_inference_failed_total 1"))
	require.True(t, strings.Contains(text, "buddywatch_surveilling 1"))
	require.True(t, strings.Contains(text, "buddywatch_recording 0"))
	require.True(t, strings.Contains(text, "buddywatch_inference_latency_seconds_count 1"))
}
