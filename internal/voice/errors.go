package voice

// VoiceError represents errors specific to the recording engine. Callers
// match them with errors.Is; wrapped causes carry the detail.
type VoiceError struct {
	message string
}

func NewVoiceError(message string) *VoiceError {
	return &VoiceError{message: message}
}

func (e *VoiceError) Error() string {
	return e.message
}

// Error definitions
var (
	ErrPermissionDenied     = NewVoiceError("missing permission to join the voice channel")
	ErrNotInVoiceChannel    = NewVoiceError("user is not in a voice channel")
	ErrConnectionTimeout    = NewVoiceError("timed out waiting for the voice connection")
	ErrSessionAlreadyActive = NewVoiceError("a recording session is already active in this server")
	ErrSessionNotFound      = NewVoiceError("no active recording session")
	ErrSessionStopping      = NewVoiceError("the recording session is already stopping")
	ErrMaxSessionsReached   = NewVoiceError("maximum concurrent sessions reached")
	ErrInvalidTransition    = NewVoiceError("invalid session state transition")
	ErrDecodeFailed         = NewVoiceError("failed to decode audio frame")
	ErrEncodeFailed         = NewVoiceError("failed to encode recording")
	ErrNothingRecorded      = NewVoiceError("no audio was captured")
	ErrMuxerClosed          = NewVoiceError("recording sink is closed")
)
