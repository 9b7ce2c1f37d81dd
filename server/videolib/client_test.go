package videolib

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
)

type library struct {
	lock  sync.Mutex
	store map[int64][]byte
}

func (l *library) get(id int64) []byte {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.store[id]
}

func newLibrary(t *testing.T) (*Client, *library) {
	lib := &library{
		store: map[int64][]byte{
			7: []byte("video-7"),
		},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/videos/upload/", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "POST", r.Method)
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		if r.FormValue("title") == "reject" {
			http.Error(w, "quota exceeded", http.StatusRequestEntityTooLarge)
			return
		}
		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		require.True(t, strings.HasSuffix(hdr.Filename, ".webm"))
		b, _ := io.ReadAll(f)
		lib.lock.Lock()
		lib.store[int64(len(lib.store)+100)] = b
		lib.lock.Unlock()
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("/api/videos/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"id": 7, "title": "BuddyWatch clip", "file": "http://x/7.webm", "thumbnail": "", "created_at": "2024-01-01T10:05:00Z"}]`))
	})
	mux.HandleFunc("/api/videos/delete/7", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "DELETE", r.Method)
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/api/videos/delete/8", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	mux.HandleFunc("/api/videos/download/7", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/webm")
		w.Write(lib.get(7))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return NewClient(logs.NewTestingLog(t), srv.URL), lib
}

func TestUpload(t *testing.T) {
	c, lib := newLibrary(t)
	require.NoError(t, c.Upload(context.Background(), "tok", "a_buddywatch.webm", "clip", bytes.NewReader([]byte("abc"))))
	require.Equal(t, []byte("abc"), lib.get(101))

	err := c.Upload(context.Background(), "tok", "a_buddywatch.webm", "reject", bytes.NewReader([]byte("abc")))
	var uErr *UploadError
	require.True(t, errors.As(err, &uErr))
	require.Equal(t, http.StatusRequestEntityTooLarge, uErr.StatusCode)
}

func TestListDeleteDownload(t *testing.T) {
	c, _ := newLibrary(t)
	videos, err := c.List(context.Background(), "tok")
	require.NoError(t, err)
	require.Len(t, videos, 1)
	require.EqualValues(t, 7, videos[0].ID)
	require.Equal(t, 2024, videos[0].CreatedAt.Year())

	require.NoError(t, c.Delete(context.Background(), "tok", 7))
	require.ErrorIs(t, c.Delete(context.Background(), "tok", 8), ErrNotFound)

	buf := &bytes.Buffer{}
	ct, err := c.Download(context.Background(), "tok", 7, buf)
	require.NoError(t, err)
	require.Equal(t, "video/webm", ct)
	require.Equal(t, "video-7", buf.String())
}

func TestUploadUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	c := NewClient(logs.NewTestingLog(t), url)
	err := c.Upload(context.Background(), "tok", "a.webm", "t", bytes.NewReader([]byte("abc")))
	var uErr *UploadError
	require.True(t, errors.As(err, &uErr))
	require.Equal(t, 0, uErr.StatusCode)
}
