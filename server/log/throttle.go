package log

import (
	"sync"
	"time"

	"github.com/cyclopcam/logs"
)

// Throttled emits a message at most once per interval, per key.
// Suppressed messages are counted, and the count is reported with the next message that gets through.
// We use this in loops that run many times per second, where a persistent failure would
// otherwise flood the log.
type Throttled struct {
	Log      logs.Log
	Interval time.Duration

	lock       sync.Mutex
	last       map[string]time.Time
	suppressed map[string]int
}

func NewThrottled(log logs.Log, interval time.Duration) *Throttled {
	return &Throttled{
		Log:        log,
		Interval:   interval,
		last:       map[string]time.Time{},
		suppressed: map[string]int{},
	}
}

// Errorf logs the message if 'key' has not been logged within Interval.
// Returns true if the message was emitted.
func (t *Throttled) Errorf(key, format string, a ...interface{}) bool {
	return t.emit(t.Log.Errorf, key, format, a...)
}

// Warnf is Errorf at warning level
func (t *Throttled) Warnf(key, format string, a ...interface{}) bool {
	return t.emit(t.Log.Warnf, key, format, a...)
}

func (t *Throttled) emit(logf func(format string, a ...interface{}), key, format string, a ...interface{}) bool {
	t.lock.Lock()
	now := time.Now()
	if now.Sub(t.last[key]) < t.Interval {
		t.suppressed[key]++
		t.lock.Unlock()
		return false
	}
	nSuppressed := t.suppressed[key]
	t.suppressed[key] = 0
	t.last[key] = now
	t.lock.Unlock()

	if nSuppressed != 0 {
		logf(format+" (%v similar messages suppressed)", append(a, nSuppressed)...)
	} else {
		logf(format, a...)
	}
	return true
}
