package surveillance

import "github.com/buddywatch/buddywatch/server/defs"

type Action int

const (
	ActionNone Action = iota
	ActionStartRecording
	ActionStopRecording
)

func (a Action) String() string {
	switch a {
	case ActionStartRecording:
		return "start"
	case ActionStopRecording:
		return "stop"
	}
	return "none"
}

// AutoRecordPolicy decides when detections should start and stop a recording.
// It is a pure state machine. The caller applies the returned Action.
type AutoRecordPolicy struct {
	Enabled       bool
	MissStreak    int // Consecutive misses while recording
	MissThreshold int
}

func NewAutoRecordPolicy() AutoRecordPolicy {
	return AutoRecordPolicy{
		MissThreshold: defs.AutoRecordMissThreshold,
	}
}

// Observe feeds one detection confidence into the policy.
// recording and surveilling are the controller's state at the moment the result is applied.
func (p *AutoRecordPolicy) Observe(confidence float64, recording, surveilling bool) Action {
	if !p.Enabled {
		return ActionNone
	}
	hit := defs.IsHit(confidence)
	switch {
	case hit && !recording && surveilling:
		p.MissStreak = 0
		return ActionStartRecording
	case hit && recording:
		p.MissStreak = 0
	case !hit && recording:
		p.MissStreak++
		if p.MissStreak >= p.MissThreshold {
			p.MissStreak = 0
			return ActionStopRecording
		}
	}
	return ActionNone
}

// Reset the miss counter. Called whenever the policy is toggled.
func (p *AutoRecordPolicy) Reset() {
	p.MissStreak = 0
}
