package cliplog

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T, filename string) *ClipLog {
	t.Helper()
	db, err := NewClipLog(logs.NewTestingLog(t), filename)
	if err != nil {
		t.Fatalf("Failed to create ClipLog: %v", err)
	}
	return db
}

func TestClipLog(t *testing.T) {
	dbFile := filepath.Join(t.TempDir(), "clips.sqlite")
	db := setup(t, dbFile)

	start := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	clip := &Clip{
		Owner:     "alice",
		StartAt:   dbh.MakeIntTime(start),
		EndAt:     dbh.MakeIntTime(start.Add(5 * time.Minute)),
		NumChunks: 3,
		Size:      3000,
		Mode:      "upload",
	}
	require.NoError(t, db.Add(clip))
	require.NotZero(t, clip.ID)

	got, err := db.Get(clip.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, got.Status)
	require.Equal(t, start, got.StartAt.Get())

	require.NoError(t, db.MarkFailed(clip.ID, "upload", errors.New("HTTP 500")))
	got, _ = db.Get(clip.ID)
	require.Equal(t, StatusFailed, got.Status)
	require.Equal(t, "HTTP 500", got.Error)

	require.NoError(t, db.MarkExported(clip.ID, "download", "20240101-100000_20240101-100500_alice_buddywatch.webm"))
	got, _ = db.Get(clip.ID)
	require.Equal(t, StatusExported, got.Status)
	require.Equal(t, "", got.Error)
	require.Equal(t, "download", got.Mode)

	_, err = db.Get(12345)
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, db.MarkLost(12345), ErrNotFound)
}

func TestClipLogOrphans(t *testing.T) {
	dbFile := filepath.Join(t.TempDir(), "clips.sqlite")
	db := setup(t, dbFile)
	now := dbh.MakeIntTime(time.Now())
	a := &Clip{Owner: "bob", StartAt: now, EndAt: now, Mode: "upload"}
	b := &Clip{Owner: "bob", StartAt: now, EndAt: now, Mode: "upload"}
	require.NoError(t, db.Add(a))
	require.NoError(t, db.Add(b))
	require.NoError(t, db.MarkExported(a.ID, "upload", "x.webm"))
	require.NoError(t, db.MarkFailed(b.ID, "upload", errors.New("timeout")))

	// Reopen, as if after a restart
	db2 := setup(t, dbFile)
	n, err := db2.MarkOrphans()
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	clips, err := db2.List(10)
	require.NoError(t, err)
	require.Len(t, clips, 2)
	// Newest first
	require.Equal(t, b.ID, clips[0].ID)
	require.Equal(t, StatusLost, clips[0].Status)
	require.Equal(t, StatusExported, clips[1].Status)
}
