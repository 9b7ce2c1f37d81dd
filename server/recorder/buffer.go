package recorder

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/buddywatch/buddywatch/server/camera"
	"github.com/buddywatch/buddywatch/server/metrics"
	"github.com/cyclopcam/logs"
)

var ErrNotRecording = errors.New("Not recording")
var ErrAlreadyRecording = errors.New("Already recording")

// Buffer records one camera stream at a time into memory
type Buffer struct {
	Log     logs.Log
	Metrics *metrics.Metrics // May be nil

	lock      sync.Mutex
	artifact  *Artifact // Non-nil while recording
	stream    camera.MediaStream
	cancel    context.CancelFunc
	drainDone chan bool
	stopping  bool // True while Stop waits for the previous stream to close
}

func NewBuffer(log logs.Log, m *metrics.Metrics) *Buffer {
	return &Buffer{
		Log:     log,
		Metrics: m,
	}
}

// Start recording the source. Returns camera.ErrNoMediaSource if the source has no live stream.
func (b *Buffer) Start(source camera.Source, owner string) error {
	b.lock.Lock()
	defer b.lock.Unlock()
	if b.artifact != nil || b.stopping {
		return ErrAlreadyRecording
	}

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := source.OpenStream(ctx)
	if err != nil {
		cancel()
		return err
	}

	b.artifact = &Artifact{
		StartTime: time.Now(),
		Owner:     owner,
	}
	b.stream = stream
	b.cancel = cancel
	b.drainDone = make(chan bool)
	go b.drain(b.artifact, stream, b.drainDone)

	if b.Metrics != nil {
		b.Metrics.RecordingsStarted.Add(1)
	}
	b.Log.Infof("Recording %v started", source.Name())
	return nil
}

// The stream must be drained until its channel closes, even while it is being closed,
// otherwise the encoder can't flush its final cluster.
func (b *Buffer) drain(art *Artifact, stream camera.MediaStream, done chan bool) {
	defer close(done)
	for chunk := range stream.Chunks() {
		b.lock.Lock()
		if !art.frozen {
			art.Chunks = append(art.Chunks, chunk)
		}
		b.lock.Unlock()
		if b.Metrics != nil {
			b.Metrics.ChunksRecorded.Add(1)
			b.Metrics.BytesRecorded.Add(uint64(len(chunk)))
		}
	}
}

// Stop the recording, and return the frozen artifact
func (b *Buffer) Stop() (*Artifact, error) {
	b.lock.Lock()
	art := b.artifact
	if art == nil || b.stopping {
		b.lock.Unlock()
		return nil, ErrNotRecording
	}
	stream, cancel, drainDone := b.stream, b.cancel, b.drainDone
	art.EndTime = time.Now()
	b.stopping = true
	b.lock.Unlock()

	if err := stream.Close(); err != nil {
		b.Log.Warnf("Error closing recording stream: %v", err)
	}
	cancel()
	<-drainDone

	b.lock.Lock()
	art.frozen = true
	b.artifact = nil
	b.stream = nil
	b.cancel = nil
	b.drainDone = nil
	b.stopping = false
	b.lock.Unlock()

	b.Log.Infof("Recording stopped after %.1f seconds. %v chunks, %v bytes", art.EndTime.Sub(art.StartTime).Seconds(), art.NumChunks(), art.Size())
	return art, nil
}

// IsRecording is true from Start until Stop returns
func (b *Buffer) IsRecording() bool {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.artifact != nil
}

// Progress of the current recording
type Progress struct {
	Recording bool      `json:"recording"`
	StartTime time.Time `json:"startTime,omitempty"`
	NumChunks int       `json:"numChunks"`
	Size      int64     `json:"size"`
}

func (b *Buffer) Progress() Progress {
	b.lock.Lock()
	defer b.lock.Unlock()
	if b.artifact == nil {
		return Progress{}
	}
	return Progress{
		Recording: true,
		StartTime: b.artifact.StartTime,
		NumChunks: b.artifact.NumChunks(),
		Size:      b.artifact.Size(),
	}
}
