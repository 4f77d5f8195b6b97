// Package session owns the duplex connection for one conversation attempt:
// the connect/disconnect state machine, the outbound send primitives and the
// inbound dispatch of audio and events.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"

	"stride/core"
	"stride/protocol"
	ws "stride/transports/websocket"
	"stride/utils/audio"
)

// State is the connection status.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// AudioSink receives inbound binary frames verbatim, in arrival order.
type AudioSink interface {
	Enqueue(chunk []byte)
}

// EventSink receives decoded structured events, in arrival order.
type EventSink interface {
	HandleEvent(ev protocol.Event)
}

// Stopper is stopped before the transport closes. The capture pipeline
// registers here so no frame is written on a closing connection.
type Stopper interface {
	Stop()
}

// Config describes where to connect.
type Config struct {
	// ID names the session in logs. A random UUID is used when empty.
	ID string `json:"id,omitempty"`
	// BaseURL is the server root, http(s) or ws(s). The chat endpoint is
	// derived as ws(s)://host/ws/chat/{UserID}.
	BaseURL   string    `json:"base_url"`
	UserID    string    `json:"user_id"`
	Transport ws.Config `json:"transport"`
}

// EndpointURL builds the per-user WebSocket URL.
func (c Config) EndpointURL() (string, error) {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return "", fmt.Errorf("session: parse base url: %w", err)
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws", "":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("session: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("session: base url %q has no host", c.BaseURL)
	}
	if c.UserID == "" {
		return "", errors.New("session: user id is required")
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws/chat/" + url.PathEscape(c.UserID)
	u.RawQuery = ""
	return u.String(), nil
}

// Session is the protocol session. Send operations are dropped silently
// unless the session is connected.
type Session struct {
	id     string
	config Config
	logger *core.Logger

	audio  AudioSink
	events EventSink

	// OnStateChange fires on every state transition.
	OnStateChange func(old, new State)
	// OnConnected fires after a successful handshake.
	OnConnected func()
	// OnError receives connection failures wrapping core.ErrConnection.
	OnError func(err error)

	mu      sync.Mutex
	state   State
	conn    *ws.Conn
	stopper Stopper
	attempt uint64
	// cancelDial aborts the handshake of the attempt in flight.
	cancelDial context.CancelFunc
	readers    sync.WaitGroup
}

// New creates a disconnected session delivering inbound traffic to audio and
// events.
func New(config Config, audio AudioSink, events EventSink, logger *core.Logger) *Session {
	if logger == nil {
		logger = core.GetLogger()
	}
	id := config.ID
	if id == "" {
		id = uuid.New().String()
	}
	return &Session{
		id:     id,
		config: config,
		audio:  audio,
		events: events,
		logger: logger.With(map[string]interface{}{"component": "session", "session_id": id}),
	}
}

// ID is the unique identifier of this session.
func (s *Session) ID() string {
	return s.id
}

// SetStopper registers the component stopped ahead of every transport close.
func (s *Session) SetStopper(stopper Stopper) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopper = stopper
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connected reports whether the session is connected.
func (s *Session) Connected() bool {
	return s.State() == StateConnected
}

// Connect opens the transport. It does nothing when the session is already
// connecting or connected. There is exactly one attempt and no retry.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateDisconnected {
		s.mu.Unlock()
		return nil
	}
	old := s.state
	s.state = StateConnecting
	s.attempt++
	attempt := s.attempt
	dialCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.cancelDial = cancel
	s.mu.Unlock()
	s.notifyState(old, StateConnecting)

	endpoint, err := s.config.EndpointURL()
	if err != nil {
		return s.connectFailed(attempt, err)
	}

	s.logger.With(map[string]interface{}{"url": endpoint}).Info("connecting")
	conn, err := ws.Dial(dialCtx, endpoint, s.config.Transport)
	if err != nil {
		return s.connectFailed(attempt, err)
	}

	s.mu.Lock()
	if s.state != StateConnecting || s.attempt != attempt {
		// Disconnect ran during the handshake.
		s.mu.Unlock()
		conn.Close()
		return nil
	}
	s.conn = conn
	s.state = StateConnected
	s.cancelDial = nil
	s.readers.Add(1)
	s.mu.Unlock()

	s.logger.Info("connected")
	s.notifyState(StateConnecting, StateConnected)
	if s.OnConnected != nil {
		s.OnConnected()
	}
	// Started after OnConnected so an early server error is not wiped.
	go s.readLoop(conn)
	return nil
}

// connectFailed reports a failed attempt. An attempt abandoned by Disconnect
// is not an error.
func (s *Session) connectFailed(attempt uint64, cause error) error {
	s.mu.Lock()
	current := s.attempt == attempt && s.state == StateConnecting
	if current {
		s.state = StateDisconnected
		s.cancelDial = nil
	}
	s.mu.Unlock()
	if !current {
		s.logger.With(map[string]interface{}{"error": cause}).Debug("abandoned connect attempt ended")
		return nil
	}
	s.notifyState(StateConnecting, StateDisconnected)

	err := fmt.Errorf("session: connect: %w: %v", core.ErrConnection, cause)
	s.logger.With(map[string]interface{}{"error": cause}).Error("connection failed")
	s.reportError(err)
	return err
}

// Disconnect stops capture, closes the transport and forces the session to
// disconnected. It is idempotent.
func (s *Session) Disconnect() {
	s.mu.Lock()
	stopper := s.stopper
	s.mu.Unlock()

	// Capture goes first so the last frame cannot race the close.
	if stopper != nil {
		stopper.Stop()
	}

	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	cancelDial := s.cancelDial
	s.cancelDial = nil
	old := s.state
	s.state = StateDisconnected
	s.mu.Unlock()

	if cancelDial != nil {
		cancelDial()
	}

	if conn != nil {
		if err := conn.Close(); err != nil {
			s.logger.With(map[string]interface{}{"error": err}).Debug("close transport")
		}
	}
	s.readers.Wait()
	if old != StateDisconnected {
		s.logger.Info("disconnected")
		s.notifyState(old, StateDisconnected)
	}
}

// SendBinary writes one audio frame. Dropped when not connected.
func (s *Session) SendBinary(frame []byte) error {
	conn := s.liveConn()
	if conn == nil {
		return nil
	}
	return conn.WriteBinary(frame)
}

// SendControl serializes msg as JSON and writes it as a text frame. Dropped
// when not connected.
func (s *Session) SendControl(msg interface{}) error {
	conn := s.liveConn()
	if conn == nil {
		return nil
	}
	data, err := protocol.EncodeControl(msg)
	if err != nil {
		return err
	}
	return conn.WriteText(data)
}

func (s *Session) liveConn() *ws.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnected {
		return nil
	}
	return s.conn
}

func (s *Session) readLoop(conn *ws.Conn) {
	defer s.readers.Done()

	for {
		kind, data, err := conn.ReadFrame()
		if err != nil {
			s.transportClosed(conn, err)
			return
		}

		switch kind {
		case ws.FrameBinary:
			if err := audio.ValidatePCMData(data, audio.Channels); err != nil {
				s.logger.With(map[string]interface{}{"error": err}).Debug("trailing byte of audio frame ignored")
			}
			s.audio.Enqueue(data)
		case ws.FrameText:
			ev, err := protocol.DecodeEvent(data)
			if err != nil {
				s.logger.With(map[string]interface{}{"error": err, "size": len(data)}).Warn("dropping malformed message")
				continue
			}
			s.events.HandleEvent(ev)
		}
	}
}

// transportClosed handles a close or error seen by the reader. A close we
// initiated has already cleared s.conn and is ignored.
func (s *Session) transportClosed(conn *ws.Conn, cause error) {
	s.mu.Lock()
	if s.conn != conn {
		s.mu.Unlock()
		return
	}
	stopper := s.stopper
	s.mu.Unlock()

	if stopper != nil {
		stopper.Stop()
	}

	s.mu.Lock()
	if s.conn != conn {
		s.mu.Unlock()
		return
	}
	s.conn = nil
	old := s.state
	s.state = StateDisconnected
	s.mu.Unlock()

	conn.Close()
	s.notifyState(old, StateDisconnected)

	if ws.IsNormalClose(cause) {
		s.logger.Info("connection closed by server")
		return
	}
	s.logger.With(map[string]interface{}{"error": cause}).Warn("connection lost")
	s.reportError(fmt.Errorf("session: read: %w: %v", core.ErrConnection, cause))
}

func (s *Session) notifyState(old, new State) {
	if old != new && s.OnStateChange != nil {
		s.OnStateChange(old, new)
	}
}

func (s *Session) reportError(err error) {
	if s.OnError != nil {
		s.OnError(err)
	}
}
