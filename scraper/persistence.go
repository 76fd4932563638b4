package scraper

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"
)

// sessionSnapshot is the on-disk form of an authenticated session. It holds
// everything needed to rebuild the HTTP client's state without contacting
// the portal: the cookie set, the base URL and the validity window.
type sessionSnapshot struct {
	BaseURL        string           `json:"base_url"`
	Cookies        []snapshotCookie `json:"cookies"`
	CreatedAt      time.Time        `json:"created_at"`
	LastValidated  time.Time        `json:"last_validated_at"`
	TimeoutSeconds int              `json:"timeout_seconds"`
}

type snapshotCookie struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Domain string `json:"domain,omitempty"`
	Path   string `json:"path,omitempty"`
	Secure bool   `json:"secure,omitempty"`
}

// save writes the session snapshot, overwriting any previous file. The
// write goes to a temp file first and is renamed into place so a crash can
// never leave a half-written snapshot behind.
func (s *SessionManager) save() error {
	if s.sessionFile == "" {
		return nil
	}

	base, err := url.Parse(s.baseURL)
	if err != nil {
		return fmt.Errorf("parsing base URL: %w", err)
	}

	snap := sessionSnapshot{
		BaseURL:        s.baseURL,
		CreatedAt:      s.createdAt,
		LastValidated:  s.lastValidated,
		TimeoutSeconds: int(s.timeout / time.Second),
	}
	for _, c := range s.client.Jar.Cookies(base) {
		domain := c.Domain
		if domain == "" {
			domain = base.Hostname()
		}
		snap.Cookies = append(snap.Cookies, snapshotCookie{
			Name:   c.Name,
			Value:  c.Value,
			Domain: domain,
			Path:   c.Path,
			Secure: c.Secure,
		})
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding session snapshot: %w", err)
	}

	dir := filepath.Dir(s.sessionFile)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating session directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".session-*.json")
	if err != nil {
		return fmt.Errorf("creating temp session file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing session snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("closing temp session file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.sessionFile); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replacing session file: %w", err)
	}

	s.logger.Info("session saved", "file", s.sessionFile)
	return nil
}

// adoptSnapshot tries to resume from the persisted session file. The
// snapshot is only adopted when its validity window has not elapsed and one
// probe request confirms the portal still accepts the cookies.
func (s *SessionManager) adoptSnapshot() bool {
	if s.sessionFile == "" {
		return false
	}

	data, err := os.ReadFile(s.sessionFile)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("reading session file failed", "error", err)
		}
		return false
	}

	var snap sessionSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		s.logger.Warn("session file is corrupt", "error", err)
		return false
	}

	window := s.timeout
	if snap.TimeoutSeconds > 0 {
		window = time.Duration(snap.TimeoutSeconds) * time.Second
	}
	if snap.LastValidated.IsZero() || time.Since(snap.LastValidated) > window {
		s.logger.Info("persisted session has expired", "last_validated", snap.LastValidated)
		return false
	}

	base, err := url.Parse(s.baseURL)
	if err != nil {
		return false
	}
	cookies := make([]*http.Cookie, 0, len(snap.Cookies))
	for _, c := range snap.Cookies {
		cookies = append(cookies, &http.Cookie{
			Name:   c.Name,
			Value:  c.Value,
			Domain: c.Domain,
			Path:   c.Path,
			Secure: c.Secure,
		})
	}
	s.client.Jar.SetCookies(base, cookies)

	// Server-side invalidation happens independently of the local timer.
	if !s.probe() {
		s.logger.Info("persisted session rejected by portal")
		s.loggedIn = false
		return false
	}

	s.loggedIn = true
	s.createdAt = snap.CreatedAt
	s.lastValidated = snap.LastValidated
	return true
}

func readBody(resp *http.Response) ([]byte, error) {
	return io.ReadAll(resp.Body)
}
