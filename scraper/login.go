package scraper

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// CaptchaSolver turns a captcha image into its text answer. Implementations
// must not retry internally: a rejected answer invalidates the image, so the
// login loop has to fetch a fresh one before asking again.
type CaptchaSolver interface {
	Solve(image []byte) (string, error)
}

// LoginResult is the structured outcome of a login call. When Success is
// false, Reason carries one of the scraper sentinel errors so callers can
// branch without parsing Message.
type LoginResult struct {
	Success bool
	Message string
	Reason  error
}

// loginState enumerates the steps of one login call. Keeping the retry loop
// as an explicit machine keeps the budget accounting in one place.
type loginState int

const (
	stateStart loginState = iota
	stateFetchPage
	stateFetchCaptcha
	stateSolve
	stateSubmit
	stateSuccess
	stateExhausted
)

// LoginManager drives the captcha-gated login handshake against the portal.
// It shares the HTTP client (and therefore the cookie jar) with the
// SessionManager that owns it.
type LoginManager struct {
	baseURL    string
	client     *http.Client
	solver     CaptchaSolver
	logger     *slog.Logger
	retryDelay time.Duration
}

// NewLoginManager builds a LoginManager talking to baseURL through client.
func NewLoginManager(baseURL string, client *http.Client, solver CaptchaSolver, logger *slog.Logger) *LoginManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoginManager{
		baseURL:    strings.TrimRight(baseURL, "/"),
		client:     client,
		solver:     solver,
		logger:     logger,
		retryDelay: 2 * time.Second,
	}
}

// Login runs the handshake: fetch login page, fetch captcha, solve, submit,
// verify. Captcha rejections and transport failures are retried up to
// maxRetries full cycles, each with a freshly fetched captcha image. A
// credential rejection is surfaced immediately without burning the budget.
func (m *LoginManager) Login(username, password string, autoCaptcha bool, maxRetries int) LoginResult {
	if maxRetries < 1 {
		maxRetries = 1
	}

	var (
		state   = stateStart
		attempt = 0
		hidden  url.Values
		image   []byte
		answer  string
		lastErr error
	)

	for {
		switch state {
		case stateStart:
			state = stateFetchPage

		case stateFetchPage:
			values, err := m.fetchLoginPage()
			if err != nil {
				lastErr = err
				m.logger.Warn("login page fetch failed", "error", err)
				if attempt++; attempt >= maxRetries {
					state = stateExhausted
					continue
				}
				time.Sleep(m.retryDelay)
				continue
			}
			hidden = values
			state = stateFetchCaptcha

		case stateFetchCaptcha:
			if !autoCaptcha {
				return LoginResult{Message: "captcha required but automatic solving is disabled"}
			}
			img, err := m.fetchCaptcha()
			if err != nil {
				lastErr = err
				m.logger.Warn("captcha fetch failed", "error", err)
				if attempt++; attempt >= maxRetries {
					state = stateExhausted
					continue
				}
				time.Sleep(m.retryDelay)
				continue
			}
			image = img
			state = stateSolve

		case stateSolve:
			text, err := m.solver.Solve(image)
			if err != nil {
				lastErr = err
				m.logger.Warn("captcha solving failed", "error", err)
				if attempt++; attempt >= maxRetries {
					state = stateExhausted
					continue
				}
				// A fresh image sometimes recognizes where this one did not.
				state = stateFetchCaptcha
				continue
			}
			answer = text
			state = stateSubmit

		case stateSubmit:
			err := m.submit(username, password, answer, hidden)
			if err == nil {
				state = stateSuccess
				continue
			}
			lastErr = err
			switch {
			case isWrongCredentials(err):
				m.logger.Error("portal rejected credentials", "username", username)
				return LoginResult{Message: err.Error(), Reason: ErrWrongCredentials}
			case isWrongCaptcha(err):
				m.logger.Info("portal rejected captcha", "answer", answer)
			default:
				m.logger.Warn("login submit failed", "error", err)
			}
			if attempt++; attempt >= maxRetries {
				state = stateExhausted
				continue
			}
			time.Sleep(m.retryDelay)
			state = stateFetchCaptcha

		case stateSuccess:
			m.logger.Info("login succeeded", "username", username)
			return LoginResult{Success: true, Message: "login succeeded"}

		case stateExhausted:
			msg := fmt.Sprintf("login failed after %d attempts", maxRetries)
			if lastErr != nil {
				msg = fmt.Sprintf("%s: %v", msg, lastErr)
			}
			return LoginResult{Message: msg, Reason: ErrExhausted}
		}
	}
}

// fetchLoginPage establishes the portal session and scrapes the hidden
// anti-forgery inputs the login form expects back.
func (m *LoginManager) fetchLoginPage() (url.Values, error) {
	req, err := http.NewRequest(http.MethodGet, m.baseURL+"/jsxsd/", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", browserUserAgent)

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: fetching login page: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: login page returned status %d", ErrNetwork, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parsing login page: %w", err)
	}

	hidden := url.Values{}
	doc.Find("input[type=hidden]").Each(func(i int, s *goquery.Selection) {
		name, ok := s.Attr("name")
		if !ok || name == "" {
			return
		}
		hidden.Add(name, s.AttrOr("value", ""))
	})
	return hidden, nil
}

// fetchCaptcha pulls a fresh captcha image tied to the current session. The
// cache-busting query parameters mirror what the portal's own login page
// sends.
func (m *LoginManager) fetchCaptcha() ([]byte, error) {
	ts := time.Now().UnixMilli()
	captchaURL := fmt.Sprintf("%s/jsxsd/verifycode.servlet?t=%d&_=%d", m.baseURL, ts, ts+int64(rand.Intn(999)+1))

	req, err := http.NewRequest(http.MethodGet, captchaURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", browserUserAgent)
	req.Header.Set("Referer", m.baseURL+"/jsxsd/")
	req.Header.Set("Accept", "image/webp,image/apng,image/*,*/*;q=0.8")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: fetching captcha: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: captcha endpoint returned status %d", ErrNetwork, resp.StatusCode)
	}

	image, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading captcha image: %v", ErrNetwork, err)
	}
	if len(image) == 0 {
		return nil, fmt.Errorf("%w: captcha endpoint returned empty image", ErrNetwork)
	}
	return image, nil
}

// submit posts the credentials and captcha answer. The portal answers 200 on
// failure too, so success is judged by the post-redirect URL and failure by
// the error banner scraped from the body.
func (m *LoginManager) submit(username, password, captcha string, hidden url.Values) error {
	form := url.Values{}
	for name, values := range hidden {
		for _, v := range values {
			form.Add(name, v)
		}
	}
	form.Set("encoded", encodeCredentials(username, password))
	// The captcha answer is case-sensitive, send it exactly as solved.
	form.Set("RANDOMCODE", captcha)

	req, err := http.NewRequest(http.MethodPost, m.baseURL+"/jsxsd/xk/LoginToXk", strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", browserUserAgent)
	req.Header.Set("Referer", m.baseURL+"/jsxsd/")
	req.Header.Set("Origin", m.baseURL)

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: submitting login form: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	if strings.Contains(resp.Request.URL.Path, "xsMain") {
		return nil
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return fmt.Errorf("parsing login response: %w", err)
	}

	banner := strings.TrimSpace(doc.Find("font[color]").First().Text())
	return classifyLoginError(banner)
}

// classifyLoginError maps the portal's error banner to the taxonomy. An
// unknown banner is treated as non-retriable so we do not hammer the portal
// on conditions we do not understand.
func classifyLoginError(banner string) error {
	switch {
	case banner == "":
		return fmt.Errorf("%w: login rejected without an error banner", ErrWrongCredentials)
	case strings.Contains(banner, "验证码"):
		return fmt.Errorf("%w: %s", ErrWrongCaptcha, banner)
	case strings.Contains(banner, "密码"), strings.Contains(banner, "用户名"), strings.Contains(banner, "账号"):
		return fmt.Errorf("%w: %s", ErrWrongCredentials, banner)
	default:
		return fmt.Errorf("%w: %s", ErrWrongCredentials, banner)
	}
}

func isWrongCredentials(err error) bool { return errors.Is(err, ErrWrongCredentials) }
func isWrongCaptcha(err error) bool     { return errors.Is(err, ErrWrongCaptcha) }

// encodeCredentials builds the portal's "encoded" login field: base64 of
// each credential joined by a literal %%% marker.
func encodeCredentials(username, password string) string {
	u := base64.StdEncoding.EncodeToString([]byte(strings.TrimSpace(username)))
	p := base64.StdEncoding.EncodeToString([]byte(password))
	return u + "%%%" + p
}
