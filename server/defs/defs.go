package defs

import (
	"fmt"

	"github.com/buddywatch/buddywatch/pkg/gen"
)

// defs contains some definitions that are shared by all systems

// Detections above this confidence count as a "hit" for auto-record
const AutoRecordConfidence = 0.7

// Number of consecutive misses during an auto-recording before we stop recording
const AutoRecordMissThreshold = 10

// The draw threshold is tunable, but must remain inside this range
const (
	DrawThresholdMin     = 0.6
	DrawThresholdMax     = 0.8
	DrawThresholdDefault = 0.8
)

// BBox is a bounding box in normalized coordinates [0,1], as [xmin, ymin, xmax, ymax]
type BBox [4]float64

func (b BBox) XMin() float64 { return b[0] }
func (b BBox) YMin() float64 { return b[1] }
func (b BBox) XMax() float64 { return b[2] }
func (b BBox) YMax() float64 { return b[3] }

// Valid is false if the box is inverted or falls outside of [0,1]
func (b BBox) Valid() bool {
	for _, v := range b {
		if v < 0 || v > 1 {
			return false
		}
	}
	return b.XMin() <= b.XMax() && b.YMin() <= b.YMax()
}

// Scale returns the box in pixel coordinates of a surface with the given size
func (b BBox) Scale(width, height int) (x, y, w, h float64) {
	fw := float64(width)
	fh := float64(height)
	return b.XMin() * fw, b.YMin() * fh, (b.XMax() - b.XMin()) * fw, (b.YMax() - b.YMin()) * fh
}

func (b BBox) String() string {
	return fmt.Sprintf("[%.3f,%.3f,%.3f,%.3f]", b.XMin(), b.YMin(), b.XMax(), b.YMax())
}

// SYNC-DETECTION-RESULT-JSON
type Detection struct {
	Success    bool    `json:"success"`
	Confidence float64 `json:"confidence"`
	Box        BBox    `json:"bbox"`
}

// IsHit returns true if a detection with this confidence counts as a positive sighting for auto-record.
// A failed or unsuccessful detection has confidence 0.
func IsHit(confidence float64) bool {
	return confidence > AutoRecordConfidence
}

// ClampDrawThreshold forces a user-supplied threshold into the allowed range.
// Zero means "use the default".
func ClampDrawThreshold(v float64) float64 {
	if v == 0 {
		return DrawThresholdDefault
	}
	return gen.Clamp(v, DrawThresholdMin, DrawThresholdMax)
}
