package captcha

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRecognizer struct {
	result string
	err    error
	calls  int
}

func (r *stubRecognizer) Recognize(image []byte) (string, error) {
	r.calls++
	return r.result, r.err
}

func TestSolveWithRecognizer(t *testing.T) {
	rec := &stubRecognizer{result: "Ab12"}
	solver := NewSolver(rec, false, nil, nil)

	answer, err := solver.Solve([]byte("png"))
	require.NoError(t, err)
	assert.Equal(t, "Ab12", answer)
	assert.Equal(t, 1, rec.calls)
}

func TestSolveCleansRecognizerOutput(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{" a b 1 2 ", "ab12"},
		{"ab12xy", "ab12"},
		{"ab1", "ab1"}, // three characters accepted as a best effort
	}
	for _, tt := range tests {
		solver := NewSolver(&stubRecognizer{result: tt.raw}, false, nil, nil)
		answer, err := solver.Solve(nil)
		require.NoError(t, err)
		assert.Equal(t, tt.want, answer)
	}
}

func TestSolveRecognizerFailureNotInteractive(t *testing.T) {
	solver := NewSolver(&stubRecognizer{err: errors.New("engine down")}, false, nil, nil)
	_, err := solver.Solve(nil)
	assert.ErrorIs(t, err, ErrRecognitionUnavailable)
}

func TestSolveShortResultUnusable(t *testing.T) {
	solver := NewSolver(&stubRecognizer{result: "ab"}, false, nil, nil)
	_, err := solver.Solve(nil)
	assert.ErrorIs(t, err, ErrRecognitionUnavailable)
}

func TestSolveNoBackendNotInteractive(t *testing.T) {
	solver := NewSolver(nil, false, nil, nil)
	_, err := solver.Solve(nil)
	assert.ErrorIs(t, err, ErrRecognitionUnavailable)
}

func TestSolveManualFallback(t *testing.T) {
	solver := NewSolver(&stubRecognizer{err: errors.New("engine down")}, true, nil, nil)
	solver.promptIn = strings.NewReader("xy9z\n")
	solver.promptOut = io.Discard

	answer, err := solver.Solve(nil)
	require.NoError(t, err)
	assert.Equal(t, "xy9z", answer)
}

func TestSolveManualEmptyEntry(t *testing.T) {
	solver := NewSolver(nil, true, nil, nil)
	solver.promptIn = strings.NewReader("\n")
	solver.promptOut = io.Discard

	_, err := solver.Solve(nil)
	assert.ErrorIs(t, err, ErrRecognitionUnavailable)
}

func TestDiagnosticsSave(t *testing.T) {
	dir := t.TempDir()
	diag := NewDiagnostics(dir, nil, nil)

	path := diag.Save([]byte("fake-png"))
	require.NotEmpty(t, path)
	assert.Equal(t, dir, filepath.Dir(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "fake-png", string(data))

	// Every save gets its own file.
	other := diag.Save([]byte("fake-png-2"))
	assert.NotEqual(t, path, other)
}

func TestDiagnosticsDisabled(t *testing.T) {
	diag := NewDiagnostics("", nil, nil)
	assert.Empty(t, diag.Save([]byte("png")))

	var nilDiag *Diagnostics
	assert.Empty(t, nilDiag.Save([]byte("png")))
}

func TestSolveDumpsDiagnostics(t *testing.T) {
	dir := t.TempDir()
	solver := NewSolver(&stubRecognizer{result: "ab12"}, false, NewDiagnostics(dir, nil, nil), nil)

	_, err := solver.Solve([]byte("png"))
	require.NoError(t, err)

	files, err := filepath.Glob(filepath.Join(dir, "captcha_*.png"))
	require.NoError(t, err)
	assert.Len(t, files, 1)
}
