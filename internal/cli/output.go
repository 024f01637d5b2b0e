package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Exit codes.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // expectations or validation failed
	ExitCommandError = 2 // bad arguments, unreadable files, engine errors
)

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error { return e.Err }

func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode returns ExitFailure for errors that are not an *ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// Response is the envelope for --format=json output.
type Response struct {
	Status string `json:"status"` // "ok" or "error"
	Data   any    `json:"data,omitempty"`
	Error  string `json:"error,omitempty"`
}

type formatter struct {
	format  string
	out     io.Writer
	errOut  io.Writer // verbose lines, kept off stdout so JSON stays parseable
	verbose bool
}

func (f *formatter) json() bool { return f.format == "json" }

func (f *formatter) writeJSON(status string, data any, errText string) error {
	enc := json.NewEncoder(f.out)
	enc.SetIndent("", "  ")
	return enc.Encode(Response{Status: status, Data: data, Error: errText})
}

func (f *formatter) verbosef(format string, args ...any) {
	if !f.verbose {
		return
	}
	fmt.Fprintf(f.errOut, format+"\n", args...)
}
