package captcha

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// ErrRecognitionUnavailable means neither the OCR backend nor manual entry
// could produce a captcha answer.
var ErrRecognitionUnavailable = errors.New("captcha: recognition unavailable")

// Recognizer is an automatic captcha OCR backend.
type Recognizer interface {
	Recognize(image []byte) (string, error)
}

// Solver answers captcha images. The configured OCR backend is tried first;
// when it fails or returns garbage, the solver falls back to prompting the
// operator if interactive mode is on. There is no internal retry: a rejected
// answer needs a fresh image, which only the login loop can fetch.
type Solver struct {
	recognizer  Recognizer
	interactive bool
	diag        *Diagnostics
	logger      *slog.Logger

	promptIn  io.Reader
	promptOut io.Writer
}

// NewSolver builds a Solver. recognizer and diag may be nil.
func NewSolver(recognizer Recognizer, interactive bool, diag *Diagnostics, logger *slog.Logger) *Solver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Solver{
		recognizer:  recognizer,
		interactive: interactive,
		diag:        diag,
		logger:      logger,
		promptIn:    os.Stdin,
		promptOut:   os.Stderr,
	}
}

// Solve returns the text answer for image. The image is dumped to the
// diagnostics sinks first so a failed recognition can be inspected later;
// diagnostics failures are logged, never surfaced.
func (s *Solver) Solve(image []byte) (string, error) {
	var savedPath string
	if s.diag != nil {
		savedPath = s.diag.Save(image)
	}

	if s.recognizer != nil {
		text, err := s.recognizer.Recognize(image)
		if err != nil {
			s.logger.Warn("ocr recognition failed", "error", err)
		} else if answer := cleanAnswer(text); answer != "" {
			s.logger.Info("captcha recognized", "answer", answer)
			return answer, nil
		} else {
			s.logger.Warn("ocr result unusable", "raw", text)
		}
	}

	if s.interactive {
		return s.promptOperator(savedPath)
	}

	return "", ErrRecognitionUnavailable
}

// promptOperator blocks until a human types the captcha text.
func (s *Solver) promptOperator(imagePath string) (string, error) {
	if imagePath != "" {
		fmt.Fprintf(s.promptOut, "captcha image saved to %s\n", imagePath)
	}
	fmt.Fprint(s.promptOut, "enter captcha text: ")

	answer, err := bufio.NewReader(s.promptIn).ReadString('\n')
	if err != nil && answer == "" {
		return "", fmt.Errorf("%w: reading manual entry: %v", ErrRecognitionUnavailable, err)
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return "", ErrRecognitionUnavailable
	}
	return answer, nil
}

// cleanAnswer strips an OCR result down to the alphanumeric answer the
// portal expects. The captcha is four characters; longer results are
// truncated, three characters are accepted as a best effort, anything
// shorter is unusable. Case is preserved, the portal checks it.
func cleanAnswer(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			b.WriteRune(r)
		}
	}
	cleaned := b.String()
	switch {
	case len(cleaned) >= 4:
		return cleaned[:4]
	case len(cleaned) == 3:
		return cleaned
	default:
		return ""
	}
}
