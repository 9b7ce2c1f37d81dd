package storage

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
)

func TestStorageFS(t *testing.T) {
	root := t.TempDir()
	s, err := NewStorageFS(logs.NewTestingLog(t), root)
	require.NoError(t, err)

	content := []byte("webm-bytes")
	require.NoError(t, WriteFile(s, "clips/a.webm", bytes.NewReader(content)))

	// No temp files are left behind
	all, _ := filepath.Glob(filepath.Join(root, "clips", ".partial-*"))
	require.Len(t, all, 0)

	b, err := ReadFile(s, "clips/a.webm")
	require.NoError(t, err)
	require.Equal(t, content, b)

	f, err := s.ReadFile("clips/a.webm")
	require.NoError(t, err)
	require.EqualValues(t, len(content), f.Size)
	f.Reader.Close()

	require.NoError(t, s.DeleteFile("clips/a.webm"))
	_, err = s.ReadFile("clips/a.webm")
	require.True(t, os.IsNotExist(err))
}

func TestStorageFSRejectsEscape(t *testing.T) {
	s, err := NewStorageFS(logs.NewTestingLog(t), t.TempDir())
	require.NoError(t, err)
	_, err = s.WriteFile("../evil.webm")
	require.True(t, errors.Is(err, ErrInvalidName))
	_, err = s.WriteFile("/abs.webm")
	require.True(t, errors.Is(err, ErrInvalidName))
}

func TestContentType(t *testing.T) {
	require.Equal(t, "video/webm", contentTypeFor("x_buddywatch.webm"))
	require.Equal(t, "application/octet-stream", contentTypeFor("x.bin"))
}
