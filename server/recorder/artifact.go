package recorder

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"
)

// Times in filenames and titles use this layout, in UTC
const FilenameTimeFormat = "20060102-150405"

// Artifact is a finished recording: an ordered list of webm chunks, and who recorded them.
// It is frozen when the recording stops. After that, the chunks must not be modified.
type Artifact struct {
	ID        int64 // Clip ID in the ledger. Zero until the first export attempt.
	Chunks    [][]byte
	StartTime time.Time
	EndTime   time.Time
	Owner     string
	frozen    bool
}

func (a *Artifact) NumChunks() int {
	return len(a.Chunks)
}

// Size is the total number of bytes
func (a *Artifact) Size() int64 {
	n := int64(0)
	for _, c := range a.Chunks {
		n += int64(len(c))
	}
	return n
}

func (a *Artifact) Frozen() bool {
	return a.frozen
}

// Reader streams the concatenated chunks, without copying them
func (a *Artifact) Reader() io.Reader {
	readers := make([]io.Reader, len(a.Chunks))
	for i, c := range a.Chunks {
		readers[i] = bytes.NewReader(c)
	}
	return io.MultiReader(readers...)
}

func (a *Artifact) Filename() string {
	return Filename(a.StartTime, a.EndTime, a.Owner)
}

func (a *Artifact) Title() string {
	return Title(a.StartTime, a.EndTime)
}

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9@._-]+`)

// Filename produces {start}_{end}_{owner}_buddywatch.webm
func Filename(start, end time.Time, owner string) string {
	owner = unsafeFilenameChars.ReplaceAllString(owner, "_")
	// Blob storage rejects names containing ".."
	owner = strings.ReplaceAll(owner, "..", "_")
	if owner == "" || owner == "." || owner == "_" {
		owner = "anonymous"
	}
	return fmt.Sprintf("%v_%v_%v_buddywatch.webm", start.UTC().Format(FilenameTimeFormat), end.UTC().Format(FilenameTimeFormat), owner)
}

// Title is the human readable name of an uploaded recording
func Title(start, end time.Time) string {
	return fmt.Sprintf("BuddyWatch %v - %v", start.UTC().Format(FilenameTimeFormat), end.UTC().Format(FilenameTimeFormat))
}
