package core

import "errors"

// Error kinds surfaced by the voice client. Components wrap these with
// context; callers match with errors.Is.
var (
	// ErrConnection means the transport failed to open or closed unexpectedly.
	ErrConnection = errors.New("connection error")
	// ErrNotConnected rejects an operation that needs an open session.
	ErrNotConnected = errors.New("not connected")
	// ErrMicrophoneAccess covers permission denial and missing devices.
	ErrMicrophoneAccess = errors.New("microphone access error")
	// ErrMalformedMessage marks an inbound structured frame that failed to parse.
	ErrMalformedMessage = errors.New("malformed message")
	// ErrAudioOutput means the speaker failed to initialize or play a chunk.
	ErrAudioOutput = errors.New("audio output error")
)

// RemoteError is an error reported by the peer in an "error" event. Its
// message is shown verbatim.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return e.Message
}

// UserMessage maps an error to the text shown to the user.
func UserMessage(err error) string {
	var remote *RemoteError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &remote):
		return remote.Message
	case errors.Is(err, ErrNotConnected):
		return "Not connected. Please wait..."
	case errors.Is(err, ErrMicrophoneAccess):
		return "Could not access microphone. Please check permissions."
	case errors.Is(err, ErrAudioOutput):
		return "Audio playback failed."
	case errors.Is(err, ErrConnection):
		return "Connection error. Please try again."
	default:
		return err.Error()
	}
}
