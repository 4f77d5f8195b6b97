package factories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"stride/conversation"
	"stride/core"
	"stride/runs"
	"stride/voicechat"
)

// Session is one fully wired conversation attempt plus its supporting
// services. Close releases all of it.
type Session struct {
	Client    *voicechat.Client
	Runs      *runs.Client
	Refresher *runs.Refresher
	Logger    *core.Logger
	UserID    string
	RunsLimit int

	logWriter *core.SessionLogWriter
}

// BuildSession creates the voice client, the session logger and the runs
// refresher. Every function call reported by the agent triggers a runs
// refresh delivered to onRuns.
func BuildSession(ctx context.Context, s Settings, devices voicechat.Devices, base *core.Logger, onRuns func([]runs.Run)) (*Session, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if base == nil {
		base = core.GetLogger()
	}

	sessionID := uuid.New().String()
	logger := base
	var writer *core.SessionLogWriter
	if s.LogDir != "" {
		w, err := core.NewSessionLogWriter(s.LogDir, sessionID, s.UserID)
		if err != nil {
			base.With(map[string]interface{}{"error": err}).Warn("session log disabled")
		} else {
			writer = w
			logger = core.NewSessionLogger(base, w)
		}
	}

	client, err := voicechat.New(s.VoiceChatConfig(sessionID), devices, logger)
	if err != nil {
		if writer != nil {
			writer.Close()
		}
		return nil, fmt.Errorf("build session: %w", err)
	}

	runsClient := runs.NewClient(s.ServerURL, time.Duration(s.Runs.TimeoutSeconds*float64(time.Second)))
	refresher := runs.NewRefresher(runsClient, s.UserID, s.Runs.Limit, logger)
	refresher.OnRuns = onRuns
	client.Conversation().OnFunctionCall = func(conversation.FunctionCall) {
		refresher.Trigger()
	}
	refresher.Start(ctx)

	return &Session{
		Client:    client,
		Runs:      runsClient,
		Refresher: refresher,
		Logger:    logger,
		UserID:    s.UserID,
		RunsLimit: s.Runs.Limit,
		logWriter: writer,
	}, nil
}

// LogPath is the session JSONL file, empty when session logging is off.
func (s *Session) LogPath() string {
	if s.logWriter == nil {
		return ""
	}
	return s.logWriter.Path()
}

// Close tears down the client, stops refreshing and flushes the session log.
func (s *Session) Close() {
	s.Client.Close()
	s.Refresher.Stop()
	if s.logWriter != nil {
		s.logWriter.Close()
	}
}
