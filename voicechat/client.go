// Package voicechat ties the protocol session, capture pipeline, playback
// sequencer and conversation state into one object per conversation attempt.
package voicechat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"stride/capture"
	"stride/conversation"
	"stride/core"
	"stride/playback"
	"stride/protocol"
	"stride/session"
)

// Config bundles the per-component configuration.
type Config struct {
	Session  session.Config  `json:"session"`
	Capture  capture.Config  `json:"capture"`
	Playback playback.Config `json:"playback"`
}

// Devices are the platform audio endpoints.
type Devices struct {
	Microphone capture.Microphone
	Speaker    playback.Output
}

// Client is one conversation attempt. Build it with New, use it, Close it;
// a fresh Client is created for the next attempt.
type Client struct {
	logger *core.Logger

	session      *session.Session
	capture      *capture.Pipeline
	playback     *playback.Sequencer
	conversation *conversation.State

	closeOnce sync.Once
}

// New wires the components together. Nothing is opened until Connect.
func New(config Config, devices Devices, logger *core.Logger) (*Client, error) {
	if devices.Microphone == nil || devices.Speaker == nil {
		return nil, errors.New("voicechat: microphone and speaker are required")
	}
	if logger == nil {
		logger = core.GetLogger()
	}

	c := &Client{logger: logger}
	c.conversation = conversation.New(logger)
	c.playback = playback.NewSequencer(devices.Speaker, config.Playback, logger)
	c.session = session.New(config.Session, c.playback, c.conversation, logger)
	c.capture = capture.NewPipeline(devices.Microphone, c.session, config.Capture, logger)
	c.session.SetStopper(c.capture)

	c.conversation.Bind(
		conversation.IndicatorFunc(c.session.Connected),
		conversation.IndicatorFunc(c.capture.Listening),
		conversation.IndicatorFunc(c.playback.Speaking),
	)

	c.session.OnConnected = c.conversation.ClearError
	c.session.OnError = c.conversation.SetError
	c.session.OnStateChange = func(_, _ session.State) { c.conversation.Changed() }
	c.playback.OnError = c.conversation.SetError
	c.playback.OnSpeakingChange = func(bool) { c.conversation.Changed() }
	c.capture.OnListeningChange = func(bool) { c.conversation.Changed() }
	c.capture.OnError = c.conversation.SetError

	c.logger = logger.With(map[string]interface{}{"component": "voicechat", "session_id": c.session.ID()})
	return c, nil
}

// SessionID identifies this conversation attempt.
func (c *Client) SessionID() string {
	return c.session.ID()
}

// Conversation exposes the read side for the presentation layer.
func (c *Client) Conversation() *conversation.State {
	return c.conversation
}

// Snapshot is shorthand for Conversation().Snapshot().
func (c *Client) Snapshot() conversation.Snapshot {
	return c.conversation.Snapshot()
}

// State is the protocol session's connection state.
func (c *Client) State() session.State {
	return c.session.State()
}

// Stats are audio counters for diagnostics.
type Stats struct {
	FramesSent    uint64
	ChunksPlayed  uint64
	ChunksPending int
}

// Stats reads the capture and playback counters.
func (c *Client) Stats() Stats {
	return Stats{
		FramesSent:    c.capture.FramesSent(),
		ChunksPlayed:  c.playback.Played(),
		ChunksPending: c.playback.Pending(),
	}
}

// Connect opens the session. Errors are also recorded in the conversation's
// error slot.
func (c *Client) Connect(ctx context.Context) error {
	return c.session.Connect(ctx)
}

// Disconnect stops capture and closes the session. Safe to call repeatedly.
func (c *Client) Disconnect() {
	c.session.Disconnect()
}

// StartListening begins streaming the microphone. Failures are surfaced in
// the error slot and returned; listening stays off.
func (c *Client) StartListening(ctx context.Context) error {
	if err := c.capture.Start(ctx); err != nil {
		c.conversation.SetError(err)
		return err
	}
	if c.capture.Listening() {
		c.conversation.ResetUserTranscript()
	}
	return nil
}

// StopListening ends the utterance and commits it.
func (c *Client) StopListening() {
	c.capture.Stop()
}

// SendTextMessage sends typed input and echoes it into the history. When
// disconnected the message is neither sent nor recorded.
func (c *Client) SendTextMessage(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if !c.session.Connected() {
		return fmt.Errorf("voicechat: send text: %w", core.ErrNotConnected)
	}
	if err := c.session.SendControl(protocol.NewTextMessage(text)); err != nil {
		c.logger.With(map[string]interface{}{"error": err}).Warn("failed to send text message")
		return err
	}
	c.conversation.AppendUserText(text)
	return nil
}

// Close tears everything down: capture, transport, then playback.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.session.Disconnect()
		c.playback.Close()
		c.logger.Debug("closed")
	})
}
