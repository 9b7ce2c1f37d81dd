package camera

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func ms(values ...int) []time.Duration {
	d := make([]time.Duration, len(values))
	for i, v := range values {
		d[i] = time.Duration(v) * time.Millisecond
	}
	return d
}

func TestEstimateFPS(t *testing.T) {
	cases := []struct {
		name      string
		intervals []time.Duration
		fps       float64
	}{
		{"no frames yet", nil, defaultFPS},
		{"zero intervals", ms(0, 0), defaultFPS},
		{"webcam 15", ms(66, 67, 66), 15},
		{"webcam 10 with jitter", ms(100, 101, 99, 101), 10},
		{"outlier ignored", ms(100, 100, 3000, 100, 5), 10},
		{"one per second", ms(1000, 1001, 999), 1},
		{"snapshot every 2s", ms(2000, 2001, 1999), 0.5},
		{"snapshot every 4s", ms(4005, 4008, 3950), 0.25},
		{"burst", ms(1, 2, 1, 1), maxEstimatedFPS},
	}
	for _, tc := range cases {
		require.Equal(t, tc.fps, EstimateFPS(tc.intervals), tc.name)
	}
}
