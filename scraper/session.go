package scraper

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"
)

// PortalResponse is a fully-read portal reply. Bodies are small HTML pages,
// so reading them eagerly keeps expiry detection (which needs the content)
// simple and lets callers parse without worrying about the connection.
type PortalResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	FinalURL   *url.URL
}

// ExpiredPredicate reports whether a portal reply is really the login page
// served in place of the requested payload. The portal has no fixed protocol
// field for this, so the check is pluggable.
type ExpiredPredicate func(*PortalResponse) bool

// DefaultExpiredPredicate detects the login redirect by final URL and by the
// login form markers in the body.
func DefaultExpiredPredicate(resp *PortalResponse) bool {
	if resp == nil {
		return false
	}
	if resp.FinalURL != nil {
		p := resp.FinalURL.Path
		if strings.Contains(p, "/xk/LoginToXk") || strings.Contains(strings.ToLower(p), "/login") {
			return true
		}
		if p == "/jsxsd" || p == "/jsxsd/" {
			return true
		}
	}
	body := string(resp.Body)
	return strings.Contains(body, "RANDOMCODE") || strings.Contains(body, "用户登录")
}

// SessionManager owns one authenticated portal session: the cookie-jar HTTP
// client, the persisted snapshot file, expiry detection and transparent
// re-login. Portal access is serialized through one mutex, so concurrent
// callers (the read API serves each request on its own goroutine) never
// overlap requests against the portal. The snapshot file must not be shared
// between processes.
type SessionManager struct {
	baseURL     string
	sessionFile string
	timeout     time.Duration
	client      *http.Client
	login       *LoginManager
	logger      *slog.Logger
	expired     ExpiredPredicate

	mu sync.Mutex

	loggedIn      bool
	createdAt     time.Time
	lastValidated time.Time

	username    string
	password    string
	autoCaptcha bool
	maxRetries  int
}

// NewSessionManager builds a SessionManager for baseURL persisting its
// session to sessionFile. timeout is the local validity window after the
// last confirmed portal contact.
func NewSessionManager(baseURL, sessionFile string, timeout time.Duration, solver CaptchaSolver, logger *slog.Logger) *SessionManager {
	if logger == nil {
		logger = slog.Default()
	}
	jar, _ := cookiejar.New(nil)
	client := &http.Client{
		Jar:     jar,
		Timeout: 15 * time.Second,
	}
	base := strings.TrimRight(baseURL, "/")
	return &SessionManager{
		baseURL:     base,
		sessionFile: sessionFile,
		timeout:     timeout,
		client:      client,
		login:       NewLoginManager(base, client, solver, logger),
		logger:      logger,
		expired:     DefaultExpiredPredicate,
		autoCaptcha: true,
		maxRetries:  3,
	}
}

// SetLoginCredentials stores the credentials used for automatic (re-)login.
// No network activity happens here.
func (s *SessionManager) SetLoginCredentials(username, password string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.username = username
	s.password = password
}

// SetExpiredPredicate replaces the login-page detection rule.
func (s *SessionManager) SetExpiredPredicate(p ExpiredPredicate) {
	if p != nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.expired = p
	}
}

// SetMaxRetries bounds the captcha/network retry budget of automatic logins.
func (s *SessionManager) SetMaxRetries(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n > 0 {
		s.maxRetries = n
	}
}

// SetAutoCaptcha toggles automatic captcha solving during logins. With it
// off, logins that hit a captcha fail instead of consulting the solver.
func (s *SessionManager) SetAutoCaptcha(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.autoCaptcha = enabled
}

// EnsureLoggedIn makes the session usable: it trusts an in-memory session
// still inside its validity window, otherwise adopts a persisted snapshot
// (confirmed by one probe request, since the portal can invalidate sessions
// server-side), otherwise performs a fresh login and persists the result.
func (s *SessionManager) EnsureLoggedIn() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureLoggedIn()
}

// ensureLoggedIn does the EnsureLoggedIn work. Callers hold s.mu.
func (s *SessionManager) ensureLoggedIn() error {
	if s.sessionValid() {
		return nil
	}

	if s.adoptSnapshot() {
		s.logger.Info("reusing persisted session", "file", s.sessionFile)
		return nil
	}

	return s.autoLogin()
}

// Request performs an authenticated portal call. When the reply turns out to
// be the login page, one transparent re-login and one retry happen before
// the error is surfaced. Concurrent callers queue on the session mutex, one
// portal request in flight at a time.
func (s *SessionManager) Request(method, path string, params url.Values) (*PortalResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoggedIn(); err != nil {
		return nil, err
	}

	resp, err := s.do(method, path, params)
	if err != nil {
		return nil, err
	}

	if s.expired(resp) {
		s.logger.Warn("session rejected by portal, re-authenticating", "path", path)
		s.loggedIn = false
		if err := s.autoLogin(); err != nil {
			return nil, fmt.Errorf("%w: re-login failed: %v", ErrSessionExpired, err)
		}
		resp, err = s.do(method, path, params)
		if err != nil {
			return nil, err
		}
		if s.expired(resp) {
			return nil, fmt.Errorf("%w: portal still serves the login page after re-login", ErrSessionExpired)
		}
	}

	s.lastValidated = time.Now()
	return resp, nil
}

// Get is shorthand for Request with GET.
func (s *SessionManager) Get(path string, params url.Values) (*PortalResponse, error) {
	return s.Request(http.MethodGet, path, params)
}

// Post is shorthand for Request with POST form data.
func (s *SessionManager) Post(path string, params url.Values) (*PortalResponse, error) {
	return s.Request(http.MethodPost, path, params)
}

// BaseURL returns the portal base URL without a trailing slash.
func (s *SessionManager) BaseURL() string { return s.baseURL }

// SessionInfo describes the current session state for diagnostics.
type SessionInfo struct {
	LoggedIn       bool      `json:"logged_in"`
	BaseURL        string    `json:"base_url"`
	SessionFile    string    `json:"session_file"`
	CreatedAt      time.Time `json:"created_at"`
	LastValidated  time.Time `json:"last_validated_at"`
	TimeoutSeconds int       `json:"timeout_seconds"`
	HasCredentials bool      `json:"has_credentials"`
}

// Info returns a snapshot of the session state.
func (s *SessionManager) Info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionInfo{
		LoggedIn:       s.loggedIn,
		BaseURL:        s.baseURL,
		SessionFile:    s.sessionFile,
		CreatedAt:      s.createdAt,
		LastValidated:  s.lastValidated,
		TimeoutSeconds: int(s.timeout / time.Second),
		HasCredentials: s.username != "",
	}
}

// Clear logs the session out of the portal, drops the in-memory state and
// deletes the snapshot file. The portal-side logout is best effort; local
// state is wiped either way.
func (s *SessionManager) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loggedIn {
		if _, err := s.do(http.MethodGet, "/jsxsd/logout", nil); err != nil {
			s.logger.Warn("portal logout failed", "error", err)
		}
	}

	s.loggedIn = false
	s.lastValidated = time.Time{}
	s.createdAt = time.Time{}
	if jar, err := cookiejar.New(nil); err == nil {
		s.client.Jar = jar
	}
	if s.sessionFile != "" {
		if err := os.Remove(s.sessionFile); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("removing session file failed", "error", err)
		}
	}
}

func (s *SessionManager) sessionValid() bool {
	return s.loggedIn && !s.lastValidated.IsZero() && time.Since(s.lastValidated) <= s.timeout
}

// do performs one raw request through the session client. GET parameters go
// into the query string, POST parameters into a form body.
func (s *SessionManager) do(method, path string, params url.Values) (*PortalResponse, error) {
	target := path
	if !strings.HasPrefix(target, "http") {
		target = s.baseURL + path
	}

	var body *strings.Reader
	if method == http.MethodGet {
		if len(params) > 0 {
			target = target + "?" + params.Encode()
		}
		body = strings.NewReader("")
	} else {
		body = strings.NewReader(params.Encode())
	}

	req, err := http.NewRequest(method, target, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", browserUserAgent)
	req.Header.Set("Referer", s.baseURL+"/jsxsd/framework/xsMain.jsp")
	if method != http.MethodGet {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", ErrNetwork, method, path, err)
	}
	defer resp.Body.Close()

	data, err := readBody(resp)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s %s: %v", ErrNetwork, method, path, err)
	}

	return &PortalResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
		FinalURL:   resp.Request.URL,
	}, nil
}

// probe confirms the portal still honors the current cookies by requesting
// the main frame outside the Request retry path.
func (s *SessionManager) probe() bool {
	resp, err := s.do(http.MethodGet, "/jsxsd/framework/xsMain.jsp", nil)
	if err != nil {
		s.logger.Warn("session probe failed", "error", err)
		return false
	}
	if resp.StatusCode != http.StatusOK || s.expired(resp) {
		return false
	}
	return true
}

// autoLogin performs a credentialed login and persists the fresh session.
func (s *SessionManager) autoLogin() error {
	if s.username == "" {
		return ErrNoCredentials
	}

	result := s.login.Login(s.username, s.password, s.autoCaptcha, s.maxRetries)
	if !result.Success {
		if result.Reason != nil {
			return fmt.Errorf("%w: %s", result.Reason, result.Message)
		}
		return fmt.Errorf("login failed: %s", result.Message)
	}

	now := time.Now()
	s.loggedIn = true
	s.createdAt = now
	s.lastValidated = now

	if err := s.save(); err != nil {
		// A session that cannot be persisted is still usable.
		s.logger.Warn("saving session failed", "error", err)
	}
	return nil
}
