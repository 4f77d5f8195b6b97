package factories

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"stride/capture"
	"stride/playback"
	"stride/session"
	ws "stride/transports/websocket"
	"stride/utils/audio"
	"stride/voicechat"
)

// AudioSettings configures capture and playback.
type AudioSettings struct {
	// FrameSize is the number of samples per outbound frame.
	FrameSize        int  `json:"frame_size"`
	EchoCancellation bool `json:"echo_cancellation"`
	NoiseSuppression bool `json:"noise_suppression"`
}

// TransportSettings configures the WebSocket.
type TransportSettings struct {
	HandshakeTimeoutSeconds float64 `json:"handshake_timeout_seconds"`
	WriteTimeoutSeconds     float64 `json:"write_timeout_seconds"`
}

// RunsSettings configures the training-record client.
type RunsSettings struct {
	Limit          int     `json:"limit"`
	TimeoutSeconds float64 `json:"timeout_seconds"`
}

// Settings is the top-level config loaded from settings.json and the
// environment.
type Settings struct {
	// ServerURL is the coaching backend root, e.g. http://localhost:8000.
	ServerURL string `json:"server_url"`
	UserID    string `json:"user_id"`
	// LogLevel is one of trace, debug, info, warn, error.
	LogLevel string `json:"log_level"`
	// LogDir, when set, receives one JSONL file per session.
	LogDir    string            `json:"log_dir,omitempty"`
	Audio     AudioSettings     `json:"audio"`
	Transport TransportSettings `json:"transport"`
	Runs      RunsSettings      `json:"runs"`
}

// DefaultSettings returns Settings pre-filled with defaults.
func DefaultSettings() Settings {
	capDefaults := capture.DefaultConfig()
	wsDefaults := ws.DefaultConfig()
	return Settings{
		ServerURL: "http://localhost:8000",
		UserID:    "1",
		LogLevel:  "info",
		Audio: AudioSettings{
			FrameSize:        capDefaults.FrameSize,
			EchoCancellation: capDefaults.EchoCancellation,
			NoiseSuppression: capDefaults.NoiseSuppression,
		},
		Transport: TransportSettings{
			HandshakeTimeoutSeconds: wsDefaults.HandshakeTimeout.Seconds(),
			WriteTimeoutSeconds:     wsDefaults.WriteTimeout.Seconds(),
		},
		Runs: RunsSettings{
			Limit:          20,
			TimeoutSeconds: 10,
		},
	}
}

// SettingsFromJSON overlays a JSON blob on the defaults.
func SettingsFromJSON(data []byte) (Settings, error) {
	s := DefaultSettings()
	if err := json.Unmarshal(data, &s); err != nil {
		return DefaultSettings(), fmt.Errorf("settings: %w", err)
	}
	return s, nil
}

// SettingsFromFile reads and parses settings from a JSON file.
func SettingsFromFile(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return DefaultSettings(), fmt.Errorf("settings: read %q: %w", path, err)
	}
	return SettingsFromJSON(data)
}

// ApplyEnv overrides fields from environment variables. lookup is usually
// os.LookupEnv.
func (s *Settings) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("STRIDE_SERVER_URL"); ok && v != "" {
		s.ServerURL = v
	}
	if v, ok := lookup("STRIDE_USER_ID"); ok && v != "" {
		s.UserID = v
	}
	if v, ok := lookup("LOG_LEVEL"); ok && v != "" {
		s.LogLevel = v
	}
	if v, ok := lookup("STRIDE_LOG_DIR"); ok {
		s.LogDir = v
	}
	if v, ok := lookup("STRIDE_FRAME_SIZE"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("settings: STRIDE_FRAME_SIZE: %w", err)
		}
		s.Audio.FrameSize = n
	}
	return nil
}

// Validate checks the settings are usable.
func (s Settings) Validate() error {
	var errs []error
	if s.ServerURL == "" {
		errs = append(errs, errors.New("server_url is required"))
	}
	if s.UserID == "" {
		errs = append(errs, errors.New("user_id is required"))
	}
	if s.Audio.FrameSize <= 0 {
		errs = append(errs, fmt.Errorf("audio.frame_size must be positive, got %d", s.Audio.FrameSize))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("settings: %w", err)
	}
	return nil
}

// VoiceChatConfig converts settings to the client configuration.
func (s Settings) VoiceChatConfig(sessionID string) voicechat.Config {
	transport := ws.DefaultConfig()
	if s.Transport.HandshakeTimeoutSeconds > 0 {
		transport.HandshakeTimeout = seconds(s.Transport.HandshakeTimeoutSeconds)
	}
	if s.Transport.WriteTimeoutSeconds > 0 {
		transport.WriteTimeout = seconds(s.Transport.WriteTimeoutSeconds)
	}

	return voicechat.Config{
		Session: session.Config{
			ID:        sessionID,
			BaseURL:   s.ServerURL,
			UserID:    s.UserID,
			Transport: transport,
		},
		Capture: capture.Config{
			SampleRate:       audio.SampleRate,
			FrameSize:        s.Audio.FrameSize,
			EchoCancellation: s.Audio.EchoCancellation,
			NoiseSuppression: s.Audio.NoiseSuppression,
		},
		Playback: playback.Config{SampleRate: audio.SampleRate},
	}
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
