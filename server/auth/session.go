package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/www"
)

var (
	ErrAuthExpired        = errors.New("Session expired, please log in again")
	ErrNotLoggedIn        = errors.New("Not logged in")
	ErrInvalidCredentials = errors.New("Invalid username or password")
)

// We consider a token expired this long before its 'exp' claim, so that
// a request doesn't race against the expiry on the backend.
const expirySkew = 5 * time.Second

// Tokens is the response of the token endpoint
// SYNC-TOKEN-PAIR-JSON
type Tokens struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// Info is a read-only snapshot of the session, safe to hand to the UI
type Info struct {
	Username         string    `json:"username"`
	LoggedIn         bool      `json:"loggedIn"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}

// Session holds the access and refresh tokens of the logged-in user, and
// refreshes the access token when it expires.
type Session struct {
	Log logs.Log

	// OnExpired is called (from whichever goroutine discovered it) when both tokens have expired,
	// or when the backend rejects our refresh token.
	OnExpired func()

	baseURL string
	client  *http.Client
	now     func() time.Time

	refreshLock sync.Mutex // Serializes token refreshes

	lock       sync.Mutex // Guards everything below
	username   string
	tokens     Tokens
	accessExp  time.Time // Zero if the token carries no expiry
	refreshExp time.Time
}

func NewSession(log logs.Log, baseURL string) *Session {
	return &Session{
		Log:     log,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 15 * time.Second},
		now:     time.Now,
	}
}

// Login exchanges a username and password for a token pair
func (s *Session) Login(ctx context.Context, username, password string) error {
	body, _ := json.Marshal(map[string]string{
		"username": username,
		"password": password,
	})
	req, err := http.NewRequestWithContext(ctx, "POST", s.baseURL+"/api/token/", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil || resp.StatusCode != http.StatusOK {
		if err == nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusBadRequest) {
			resp.Body.Close()
			return ErrInvalidCredentials
		}
		return errors.New("Login failed: " + www.FailedRequestSummary(resp, err))
	}
	defer resp.Body.Close()

	tokens := Tokens{}
	if err := json.NewDecoder(resp.Body).Decode(&tokens); err != nil {
		return fmt.Errorf("Invalid token response: %w", err)
	}
	if tokens.Access == "" || tokens.Refresh == "" {
		return fmt.Errorf("Token response is missing the access or refresh token")
	}
	return s.SetTokens(username, tokens)
}

// SetTokens installs a token pair, for example one restored from an earlier login
func (s *Session) SetTokens(username string, tokens Tokens) error {
	accessExp, err := tokenExpiry(tokens.Access)
	if err != nil {
		return fmt.Errorf("Invalid access token: %w", err)
	}
	refreshExp, err := tokenExpiry(tokens.Refresh)
	if err != nil {
		return fmt.Errorf("Invalid refresh token: %w", err)
	}
	s.lock.Lock()
	s.username = username
	s.tokens = tokens
	s.accessExp = accessExp
	s.refreshExp = refreshExp
	s.lock.Unlock()
	s.Log.Infof("Logged in as %v (access token valid until %v)", username, fmtExpiry(accessExp))
	return nil
}

func (s *Session) Logout() {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.username != "" {
		s.Log.Infof("Logged out %v", s.username)
	}
	s.username = ""
	s.tokens = Tokens{}
	s.accessExp = time.Time{}
	s.refreshExp = time.Time{}
}

// Username returns the name of the logged-in user, or an empty string
func (s *Session) Username() string {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.username
}

func (s *Session) Info() Info {
	s.lock.Lock()
	defer s.lock.Unlock()
	return Info{
		Username:         s.username,
		LoggedIn:         s.tokens.Access != "",
		AccessExpiresAt:  s.accessExp,
		RefreshExpiresAt: s.refreshExp,
	}
}

// AccessToken returns a valid access token, refreshing it if necessary.
// If both the access and refresh tokens have expired, the session is invalidated
// and ErrAuthExpired is returned.
func (s *Session) AccessToken(ctx context.Context) (string, error) {
	tok, needRefresh, err := s.current()
	if err != nil || !needRefresh {
		return tok, err
	}

	s.refreshLock.Lock()
	defer s.refreshLock.Unlock()

	// Another goroutine may have refreshed while we waited for the lock
	tok, needRefresh, err = s.current()
	if err != nil || !needRefresh {
		return tok, err
	}
	return s.refresh(ctx)
}

// current returns the access token if it's still valid, or tells the caller to refresh
func (s *Session) current() (token string, needRefresh bool, err error) {
	s.lock.Lock()
	if s.tokens.Access == "" {
		s.lock.Unlock()
		return "", false, ErrNotLoggedIn
	}
	now := s.now()
	if isValid(s.accessExp, now) {
		tok := s.tokens.Access
		s.lock.Unlock()
		return tok, false, nil
	}
	if isValid(s.refreshExp, now) {
		s.lock.Unlock()
		return "", true, nil
	}
	s.lock.Unlock()
	s.invalidate("both tokens expired")
	return "", false, ErrAuthExpired
}

func (s *Session) refresh(ctx context.Context) (string, error) {
	s.lock.Lock()
	refreshToken := s.tokens.Refresh
	s.lock.Unlock()

	body, _ := json.Marshal(map[string]string{"refresh": refreshToken})
	req, err := http.NewRequestWithContext(ctx, "POST", s.baseURL+"/api/token/refresh/", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil || resp.StatusCode != http.StatusOK {
		if err == nil && resp.StatusCode == http.StatusUnauthorized {
			resp.Body.Close()
			s.invalidate("refresh token rejected")
			return "", ErrAuthExpired
		}
		// Transient failure. Keep the session, so that the next call can try again.
		return "", errors.New("Token refresh failed: " + www.FailedRequestSummary(resp, err))
	}
	defer resp.Body.Close()

	fresh := Tokens{}
	if err := json.NewDecoder(resp.Body).Decode(&fresh); err != nil {
		return "", fmt.Errorf("Invalid refresh response: %w", err)
	}
	accessExp, err := tokenExpiry(fresh.Access)
	if err != nil {
		return "", fmt.Errorf("Invalid access token from refresh: %w", err)
	}

	s.lock.Lock()
	defer s.lock.Unlock()
	if s.tokens.Refresh != refreshToken {
		// Logged out or logged in as somebody else while we were refreshing
		return "", ErrNotLoggedIn
	}
	s.tokens.Access = fresh.Access
	s.accessExp = accessExp
	if fresh.Refresh != "" {
		// Backend rotates refresh tokens
		if refreshExp, err := tokenExpiry(fresh.Refresh); err == nil {
			s.tokens.Refresh = fresh.Refresh
			s.refreshExp = refreshExp
		}
	}
	s.Log.Debugf("Refreshed access token for %v, valid until %v", s.username, fmtExpiry(accessExp))
	return fresh.Access, nil
}

func (s *Session) invalidate(reason string) {
	s.lock.Lock()
	wasLoggedIn := s.tokens.Access != ""
	username := s.username
	s.username = ""
	s.tokens = Tokens{}
	s.accessExp = time.Time{}
	s.refreshExp = time.Time{}
	onExpired := s.OnExpired
	s.lock.Unlock()

	if !wasLoggedIn {
		return
	}
	s.Log.Warnf("Session for %v invalidated: %v", username, reason)
	if onExpired != nil {
		onExpired()
	}
}

// A zero expiry means the token doesn't carry an 'exp' claim, so we treat it as valid
func isValid(exp, now time.Time) bool {
	return exp.IsZero() || now.Add(expirySkew).Before(exp)
}

func fmtExpiry(t time.Time) string {
	if t.IsZero() {
		return "forever"
	}
	return t.UTC().Format(time.RFC3339)
}
