package videolib

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/www"
)

// Video is an entry in the remote video library
// SYNC-VIDEO-JSON
type Video struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	File      string    `json:"file"`      // URL of the video file
	Thumbnail string    `json:"thumbnail"` // URL of the thumbnail, may be empty
	CreatedAt time.Time `json:"created_at"`
}

// UploadError is returned when the backend does not accept an upload
type UploadError struct {
	StatusCode int // Zero if the request never got a response
	Message    string
}

func (e *UploadError) Error() string {
	if e.StatusCode == 0 {
		return "Upload failed: " + e.Message
	}
	return fmt.Sprintf("Upload failed (HTTP %v): %v", e.StatusCode, e.Message)
}

var ErrNotFound = errors.New("Video not found")

// Uploader is the subset of the library that the recorder needs
type Uploader interface {
	Upload(ctx context.Context, token, filename, title string, content io.Reader) error
}

// Client talks to the remote video library
type Client struct {
	Log     logs.Log
	baseURL string
	client  *http.Client
}

func NewClient(log logs.Log, baseURL string) *Client {
	return &Client{
		Log:     log,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
	}
}

func (c *Client) newRequest(ctx context.Context, method, path, token string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func isSuccess(resp *http.Response) bool {
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// Upload posts the video as multipart fields "file" and "title".
// The body is streamed, so content is not buffered in memory a second time.
func (c *Client) Upload(ctx context.Context, token, filename, title string, content io.Reader) error {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		err := mw.WriteField("title", title)
		if err == nil {
			var part io.Writer
			part, err = mw.CreateFormFile("file", filename)
			if err == nil {
				_, err = io.Copy(part, content)
			}
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := c.newRequest(ctx, "POST", "/api/videos/upload/", token, pr)
	if err != nil {
		pr.Close()
		return &UploadError{Message: err.Error()}
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := c.client.Do(req)
	// Unblock the writer goroutine if the request ended early
	pr.Close()
	if err != nil {
		return &UploadError{Message: www.FailedRequestSummary(resp, err)}
	}
	if !isSuccess(resp) {
		return &UploadError{StatusCode: resp.StatusCode, Message: www.FailedRequestSummary(resp, nil)}
	}
	resp.Body.Close()
	c.Log.Infof("Uploaded %v as '%v'", filename, title)
	return nil
}

// List returns all videos in the library
func (c *Client) List(ctx context.Context, token string) ([]Video, error) {
	req, err := c.newRequest(ctx, "GET", "/api/videos/", token, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil || !isSuccess(resp) {
		return nil, errors.New("Failed to list videos: " + www.FailedRequestSummary(resp, err))
	}
	defer resp.Body.Close()
	videos := []Video{}
	if err := json.NewDecoder(resp.Body).Decode(&videos); err != nil {
		return nil, fmt.Errorf("Invalid video list: %w", err)
	}
	return videos, nil
}

// Delete removes a video. Any 2xx response is success (the backend returns 204).
func (c *Client) Delete(ctx context.Context, token string, id int64) error {
	req, err := c.newRequest(ctx, "DELETE", fmt.Sprintf("/api/videos/delete/%v", id), token, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err == nil && resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return ErrNotFound
	}
	if err != nil || !isSuccess(resp) {
		return errors.New("Failed to delete video: " + www.FailedRequestSummary(resp, err))
	}
	resp.Body.Close()
	c.Log.Infof("Deleted video %v", id)
	return nil
}

// Download streams the video into w, and returns the content type reported by the backend
func (c *Client) Download(ctx context.Context, token string, id int64, w io.Writer) (contentType string, err error) {
	req, err := c.newRequest(ctx, "GET", fmt.Sprintf("/api/videos/download/%v", id), token, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.client.Do(req)
	if err == nil && resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return "", ErrNotFound
	}
	if err != nil || !isSuccess(resp) {
		return "", errors.New("Failed to download video: " + www.FailedRequestSummary(resp, err))
	}
	defer resp.Body.Close()
	if _, err := io.Copy(w, resp.Body); err != nil {
		return "", err
	}
	return resp.Header.Get("Content-Type"), nil
}
