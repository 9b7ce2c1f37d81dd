package surveillance

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// Simulates the controller applying the policy's actions
func runPolicy(p *AutoRecordPolicy, confidences []float64) (startTick, stopTick int) {
	recording := false
	for i, c := range confidences {
		tick := i + 1
		switch p.Observe(c, recording, true) {
		case ActionStartRecording:
			recording = true
			startTick = tick
		case ActionStopRecording:
			recording = false
			stopTick = tick
		}
	}
	return
}

func TestPolicyStartStop(t *testing.T) {
	p := NewAutoRecordPolicy()
	p.Enabled = true
	seq := []float64{0.9, 0.9, 0.5, 0.5, 0.5, 0.5, 0.5, 0.5, 0.5, 0.5, 0.5, 0.5}
	start, stop := runPolicy(&p, seq)
	require.Equal(t, 1, start)
	require.Equal(t, 12, stop)
	require.Equal(t, 0, p.MissStreak)
}

func TestPolicyHitResetsMissStreak(t *testing.T) {
	p := NewAutoRecordPolicy()
	p.Enabled = true
	seq := []float64{0.9}
	for i := 0; i < 9; i++ {
		seq = append(seq, 0.2)
	}
	seq = append(seq, 0.71)
	for i := 0; i < 9; i++ {
		seq = append(seq, 0.2)
	}
	start, stop := runPolicy(&p, seq)
	require.Equal(t, 1, start)
	require.Equal(t, 0, stop)
	require.Equal(t, 9, p.MissStreak)
}

func TestPolicyBoundary(t *testing.T) {
	p := NewAutoRecordPolicy()
	p.Enabled = true
	// Exactly 0.7 is a miss
	require.Equal(t, ActionNone, p.Observe(0.7, false, true))
	require.Equal(t, ActionStartRecording, p.Observe(0.7001, false, true))
}

func TestPolicyNeedsSurveillanceToStart(t *testing.T) {
	p := NewAutoRecordPolicy()
	p.Enabled = true
	require.Equal(t, ActionNone, p.Observe(0.99, false, false))

	p.Enabled = false
	require.Equal(t, ActionNone, p.Observe(0.99, false, true))
}
