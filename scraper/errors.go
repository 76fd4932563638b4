package scraper

import "errors"

var (
	// ErrWrongCredentials means the portal rejected the username/password.
	// Retrying with the same credentials will not help.
	ErrWrongCredentials = errors.New("scraper: wrong username or password")

	// ErrWrongCaptcha means the portal rejected the captcha answer.
	ErrWrongCaptcha = errors.New("scraper: captcha rejected by portal")

	// ErrNetwork covers transport failures talking to the portal.
	ErrNetwork = errors.New("scraper: network error")

	// ErrExhausted is returned after the login retry budget is spent.
	ErrExhausted = errors.New("scraper: login retries exhausted")

	// ErrSessionExpired means the portal stopped honoring the session and a
	// transparent re-login also failed.
	ErrSessionExpired = errors.New("scraper: session expired")

	// ErrNoCredentials means a re-login was needed but SetLoginCredentials
	// was never called.
	ErrNoCredentials = errors.New("scraper: login credentials not set")
)
