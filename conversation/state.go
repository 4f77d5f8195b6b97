// Package conversation is the single consumer of inbound protocol events. It
// keeps the live transcripts, the finalized message history, the function
// call log and the current user-visible error, and is the only state the
// presentation layer reads.
package conversation

import (
	"encoding/json"
	"sync"
	"time"

	"stride/core"
	"stride/protocol"
)

// Role identifies who produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one finalized turn. Messages are never edited once appended.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// FunctionCall is a tool invocation reported by the agent. Arguments and
// Result are kept as opaque JSON.
type FunctionCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Indicator exposes a boolean owned by another component, read-only.
type Indicator interface {
	Active() bool
}

// IndicatorFunc adapts a func to Indicator.
type IndicatorFunc func() bool

func (f IndicatorFunc) Active() bool { return f() }

// Snapshot is a copy of everything the presentation layer renders.
type Snapshot struct {
	Connected           bool
	Listening           bool
	Speaking            bool
	UserTranscript      string
	AssistantTranscript string
	Messages            []Message
	FunctionCalls       []FunctionCall
	Error               string
}

// State applies events strictly in the order they are handed in.
type State struct {
	logger *core.Logger
	now    func() time.Time

	connected Indicator
	listening Indicator
	speaking  Indicator

	// OnChange fires after every mutation.
	OnChange func()
	// OnFunctionCall fires after a function call is appended to the log.
	OnFunctionCall func(call FunctionCall)

	mu            sync.RWMutex
	userLive      string
	assistantLive string
	messages      []Message
	functionCalls []FunctionCall
	err           error
	errMessage    string
}

// New creates an empty conversation.
func New(logger *core.Logger) *State {
	if logger == nil {
		logger = core.GetLogger()
	}
	return &State{
		logger: logger.With(map[string]interface{}{"component": "conversation"}),
		now:    time.Now,
	}
}

// Bind attaches the connection, capture and playback status indicators.
// Nil indicators read as false.
func (s *State) Bind(connected, listening, speaking Indicator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = connected
	s.listening = listening
	s.speaking = speaking
}

// HandleEvent applies one inbound event. Unknown types leave state untouched.
func (s *State) HandleEvent(ev protocol.Event) {
	if !ev.Known() {
		s.logger.With(map[string]interface{}{"type": string(ev.Type)}).Debug("ignoring event")
		return
	}

	var call *FunctionCall
	s.mu.Lock()
	switch ev.Type {
	case protocol.MsgUserTranscript:
		// User transcripts arrive already final.
		s.userLive = ev.Text
		s.messages = append(s.messages, Message{Role: RoleUser, Content: ev.Text})

	case protocol.MsgAssistantTranscriptDelta:
		s.assistantLive += ev.Text

	case protocol.MsgAssistantTranscript:
		// The final text wins over the accumulated deltas.
		s.messages = append(s.messages, Message{Role: RoleAssistant, Content: ev.Text})
		s.assistantLive = ""

	case protocol.MsgFunctionCall:
		fc := FunctionCall{
			Name:      ev.Name,
			Arguments: ev.Arguments,
			Result:    ev.Result,
			Timestamp: s.now(),
		}
		s.functionCalls = append(s.functionCalls, fc)
		call = &fc

	case protocol.MsgError:
		s.setErrorLocked(&core.RemoteError{Message: ev.Message})
	}
	s.mu.Unlock()

	if call != nil {
		s.logger.With(map[string]interface{}{
			"name":      call.Name,
			"arguments": string(call.Arguments),
			"result":    string(call.Result),
		}).Info("function call")
		if s.OnFunctionCall != nil {
			s.OnFunctionCall(*call)
		}
	}
	s.changed()
}

// AppendUserText records a typed message as a user turn.
func (s *State) AppendUserText(text string) {
	s.mu.Lock()
	s.messages = append(s.messages, Message{Role: RoleUser, Content: text})
	s.mu.Unlock()
	s.changed()
}

// ResetUserTranscript clears the live user line, done when a new utterance starts.
func (s *State) ResetUserTranscript() {
	s.mu.Lock()
	s.userLive = ""
	s.mu.Unlock()
	s.changed()
}

// SetError replaces the current user-visible error. Only the latest error is
// kept.
func (s *State) SetError(err error) {
	if err == nil {
		s.ClearError()
		return
	}
	s.mu.Lock()
	s.setErrorLocked(err)
	s.mu.Unlock()
	s.changed()
}

func (s *State) setErrorLocked(err error) {
	s.err = err
	s.errMessage = core.UserMessage(err)
}

// ClearError empties the error slot.
func (s *State) ClearError() {
	s.mu.Lock()
	s.err = nil
	s.errMessage = ""
	s.mu.Unlock()
	s.changed()
}

// Err returns the current error, if any.
func (s *State) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// Messages returns a copy of the history.
func (s *State) Messages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Message(nil), s.messages...)
}

// FunctionCalls returns a copy of the function call log.
func (s *State) FunctionCalls() []FunctionCall {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]FunctionCall(nil), s.functionCalls...)
}

// Snapshot copies the full view.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Connected:           active(s.connected),
		Listening:           active(s.listening),
		Speaking:            active(s.speaking),
		UserTranscript:      s.userLive,
		AssistantTranscript: s.assistantLive,
		Messages:            append([]Message(nil), s.messages...),
		FunctionCalls:       append([]FunctionCall(nil), s.functionCalls...),
		Error:               s.errMessage,
	}
}

// Changed lets status owners (capture, playback, session) request a redraw.
func (s *State) Changed() {
	s.changed()
}

func (s *State) changed() {
	if s.OnChange != nil {
		s.OnChange()
	}
}

func active(i Indicator) bool {
	return i != nil && i.Active()
}
