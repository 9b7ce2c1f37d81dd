package log

import (
	"testing"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
)

func TestThrottled(t *testing.T) {
	th := NewThrottled(logs.NewTestingLog(t), time.Hour)
	require.True(t, th.Errorf("predict", "predict failed: %v", "timeout"))
	require.False(t, th.Errorf("predict", "predict failed: %v", "timeout"))
	require.False(t, th.Errorf("predict", "predict failed: %v", "timeout"))
	// Different keys are independent
	require.True(t, th.Errorf("capture", "capture failed"))

	th.Interval = 0
	require.True(t, th.Errorf("predict", "predict failed: %v", "timeout"))
	require.Equal(t, 0, th.suppressed["predict"])
}

func TestThrottledWarn(t *testing.T) {
	th := NewThrottled(logs.NewTestingLog(t), time.Hour)
	require.True(t, th.Warnf("slow", "watcher is slow"))
	require.False(t, th.Warnf("slow", "watcher is slow"))
	// Errorf and Warnf share the same keys
	require.False(t, th.Errorf("slow", "watcher is slow"))
	require.Equal(t, 2, th.suppressed["slow"])
}

func TestPrefixLogger(t *testing.T) {
	l := NewPrefixLogger(logs.NewTestingLog(t), "Recorder")
	require.Equal(t, "Recorder ", l.Prefix)
	l.Infof("started %v", 1)
	l.Close()
}
