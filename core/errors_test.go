package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUserMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"connection", fmt.Errorf("session: dial: %w", ErrConnection), "Connection error. Please try again."},
		{"not connected", ErrNotConnected, "Not connected. Please wait..."},
		{"microphone", fmt.Errorf("capture: open: %w", ErrMicrophoneAccess), "Could not access microphone. Please check permissions."},
		{"audio output", fmt.Errorf("playback: %w", ErrAudioOutput), "Audio playback failed."},
		{"remote", &RemoteError{Message: "Rate limited"}, "Rate limited"},
		{"other", errors.New("weird"), "weird"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, UserMessage(tt.err))
		})
	}
}
