// Package transcriber abstracts the three transcription strategies: the
// synchronous cloud speech endpoint, the polled remote job service, and
// locally loaded models.
package transcriber

import (
	"context"
	"fmt"
)

// Result carries the two text forms every strategy produces: a speaker-labeled
// dialogue for display and the flat plain text fed to analysis.
type Result struct {
	Dialogue  string
	PlainText string
}

// Job is one file to transcribe. Progress, when set, receives remote-job
// percentages as they are observed.
type Job struct {
	Path     string
	Filename string
	ModelID  string
	Progress func(percent int)
}

// Provider is one resolved transcription strategy.
type Provider interface {
	Transcribe(ctx context.Context, job Job) (Result, error)
}

// ProviderError is a transcription backend failure. Error returns the
// human-readable cause verbatim so it can become the file's terminal status.
type ProviderError struct {
	Cause string
	Err   error
}

func (e *ProviderError) Error() string { return e.Cause }
func (e *ProviderError) Unwrap() error { return e.Err }

// ConnectionError is a network failure talking to an external service,
// distinguishable from provider logic errors.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection failed during %s: %v", e.Op, e.Err)
}
func (e *ConnectionError) Unwrap() error { return e.Err }
