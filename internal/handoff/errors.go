package handoff

import (
	"fmt"
	"unicode/utf8"
)

// HandoffError represents errors of the post-recording pipeline.
type HandoffError struct {
	message string
}

func NewHandoffError(message string) *HandoffError {
	return &HandoffError{message: message}
}

func (e *HandoffError) Error() string {
	return e.message
}

var (
	ErrUpstream          = NewHandoffError("downstream service failed")
	ErrPersistenceFailed = NewHandoffError("failed to persist session data")
	ErrResultNotFound    = NewHandoffError("session result not found")
	ErrArtifactNotFound  = NewHandoffError("no recording is left to process for this session")
	ErrResultExists      = NewHandoffError("session has already been processed")
	ErrInProgress        = NewHandoffError("session is already being processed")
)

// maxErrorBody bounds how much of an upstream response is kept.
const maxErrorBody = 512

// UpstreamError is a failed call to the transcription or summarization
// service. StatusCode is zero when no response was received.
type UpstreamError struct {
	Stage      Stage
	StatusCode int
	Body       string
	Err        error
}

func (e *UpstreamError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Body != "":
		return fmt.Sprintf("%s: upstream returned HTTP %d: %s", e.Stage, e.StatusCode, e.Body)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: upstream returned HTTP %d", e.Stage, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Stage, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Stage, e.Body)
	}
}

func (e *UpstreamError) Is(target error) bool {
	return target == ErrUpstream
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// truncate keeps at most n bytes of s without splitting a character.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}

	return s[:n] + "..."
}
