package camera

import (
	"math"
	"slices"
	"time"

	"github.com/buddywatch/buddywatch/pkg/gen"
)

// Frame rate we assume until we've seen enough frames to measure it
const defaultFPS = 10

// A camera that delivers buffered frames in a burst can produce tiny intervals.
// ffmpeg would then squash the recording, so we cap the estimate.
const maxEstimatedFPS = 60

// EstimateFPS returns the camera's frame rate, from the median of recent frame intervals.
// This becomes ffmpeg's input frame rate, so that a recording plays back in real time.
//
// Snapshot grabbers often run slower than 1 FPS. For those, the result is 1/N, where
// N is the whole number of seconds between snapshots.
func EstimateFPS(intervals []time.Duration) float64 {
	if len(intervals) == 0 {
		return defaultFPS
	}
	median := slices.Sorted(slices.Values(intervals))[len(intervals)/2]
	if median <= 0 {
		return defaultFPS
	}
	perSecond := 1 / median.Seconds()
	if perSecond < 0.9 {
		return 1 / math.Round(median.Seconds())
	}
	return gen.Clamp(math.Round(perSecond), 1, maxEstimatedFPS)
}
