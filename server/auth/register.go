package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sort"
	"strings"

	"github.com/cyclopcam/www"
)

// RegisterError is returned when the backend rejects a registration, for example because
// the username is taken. Fields holds the per-field messages.
type RegisterError struct {
	StatusCode int
	Fields     map[string][]string
}

// Error joins the field errors as "field: msg1, msg2", one field per line, sorted by field name
func (e *RegisterError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	lines := []string{}
	for _, k := range keys {
		lines = append(lines, k+": "+strings.Join(e.Fields[k], ", "))
	}
	if len(lines) == 0 {
		return fmt.Sprintf("Registration failed (HTTP %v)", e.StatusCode)
	}
	return strings.Join(lines, "\n")
}

// Register creates a new account on the backend. It does not log in.
func (s *Session) Register(ctx context.Context, username, password string) error {
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	mw.WriteField("username", username)
	mw.WriteField("password", password)
	if err := mw.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.baseURL+"/api/user/register/", body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := s.client.Do(req)
	if err != nil {
		return errors.New("Registration failed: " + www.FailedRequestSummary(resp, err))
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		s.Log.Infof("Registered new user %v", username)
		return nil
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	return parseRegisterError(resp.StatusCode, raw)
}

// The backend returns either {"field": ["msg", ...]} or {"field": "msg"}
func parseRegisterError(statusCode int, raw []byte) error {
	rErr := &RegisterError{
		StatusCode: statusCode,
		Fields:     map[string][]string{},
	}
	generic := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		if len(raw) != 0 {
			rErr.Fields["error"] = []string{strings.TrimSpace(string(raw))}
		}
		return rErr
	}
	for k, v := range generic {
		var list []string
		var single string
		if err := json.Unmarshal(v, &list); err == nil {
			rErr.Fields[k] = list
		} else if err := json.Unmarshal(v, &single); err == nil {
			rErr.Fields[k] = []string{single}
		} else {
			rErr.Fields[k] = []string{string(v)}
		}
	}
	return rErr
}
