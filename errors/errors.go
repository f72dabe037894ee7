package errors

import (
	stderrors "errors"
	"fmt"
	"path/filepath"
	"runtime"
)

// Conditions callers are expected to test for with Is.
var (
	// ErrProcessUnavailable is returned when a command is submitted and no
	// kernel process is running.
	ErrProcessUnavailable = stderrors.New("kernel process is not running")

	// ErrUnsupported is returned by operations that need a back-channel
	// from the kernel, which a stdio transport does not have.
	ErrUnsupported = stderrors.New("back-channel not supported by this transport")

	// ErrNoPort is returned when a listener never reported a TCP port.
	ErrNoPort = stderrors.New("can't get port")

	// ErrProcessExited is returned when the kernel dies before reporting ready.
	ErrProcessExited = stderrors.New("kernel process exited before it was ready")

	ErrAlreadyStarted        = stderrors.New("kernel process already started")
	ErrExternalURIAlreadySet = stderrors.New("external uri already set")
)

// New creates a new error with file and line number information.
func New(format string, a ...interface{}) error {
	file, line := caller()
	return fmt.Errorf("[%s:%d] %s", file, line, fmt.Sprintf(format, a...))
}

// Wrapf adds context (including file and line number) to an existing error.
// If the provided error is nil, Wrapf returns nil.
func Wrapf(err error, format string, a ...interface{}) error {
	if err == nil {
		return nil
	}
	file, line := caller()
	return fmt.Errorf("[%s:%d] %s: %w", file, line, fmt.Sprintf(format, a...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

func caller() (string, int) {
	_, file, line, ok := runtime.Caller(2)
	if !ok {
		return "???", 0
	}
	return filepath.Base(file), line
}
