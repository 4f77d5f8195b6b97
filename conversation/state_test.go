package conversation

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stride/core"
	"stride/protocol"
)

func newTestState() *State {
	s := New(core.NewNopLogger())
	s.now = func() time.Time { return time.Date(2026, 10, 16, 7, 30, 0, 0, time.UTC) }
	return s
}

func ev(t protocol.MessageType, text string) protocol.Event {
	return protocol.Event{Type: t, Text: text}
}

func TestState_TranscriptAssembly(t *testing.T) {
	s := newTestState()

	s.HandleEvent(ev(protocol.MsgAssistantTranscriptDelta, "Hel"))
	assert.Equal(t, "Hel", s.Snapshot().AssistantTranscript)
	s.HandleEvent(ev(protocol.MsgAssistantTranscriptDelta, "lo"))
	assert.Equal(t, "Hello", s.Snapshot().AssistantTranscript)
	assert.Empty(t, s.Messages(), "deltas are not history")

	s.HandleEvent(ev(protocol.MsgAssistantTranscript, "Hello there"))
	snap := s.Snapshot()
	assert.Empty(t, snap.AssistantTranscript)
	assert.Equal(t, []Message{{Role: RoleAssistant, Content: "Hello there"}}, snap.Messages)
}

func TestState_UserTranscriptIsFinal(t *testing.T) {
	s := newTestState()
	s.HandleEvent(ev(protocol.MsgUserTranscript, "I ran five miles"))

	snap := s.Snapshot()
	assert.Equal(t, "I ran five miles", snap.UserTranscript)
	assert.Equal(t, []Message{{Role: RoleUser, Content: "I ran five miles"}}, snap.Messages)

	s.HandleEvent(ev(protocol.MsgUserTranscript, "in 45 minutes"))
	assert.Equal(t, "in 45 minutes", s.Snapshot().UserTranscript, "live user line is replaced")

	s.ResetUserTranscript()
	assert.Empty(t, s.Snapshot().UserTranscript)
	assert.Len(t, s.Messages(), 2)
}

func TestState_HistoryIsAppendOnly(t *testing.T) {
	s := newTestState()
	var want []Message
	for i := 0; i < 10; i++ {
		if i%3 == 0 {
			text := fmt.Sprintf("assistant %d", i)
			s.HandleEvent(ev(protocol.MsgAssistantTranscriptDelta, "partial"))
			s.HandleEvent(ev(protocol.MsgAssistantTranscript, text))
			want = append(want, Message{RoleAssistant, text})
		} else {
			text := fmt.Sprintf("user %d", i)
			s.HandleEvent(ev(protocol.MsgUserTranscript, text))
			want = append(want, Message{RoleUser, text})
		}

		got := s.Messages()
		require.Len(t, got, len(want))
		assert.Equal(t, want, got, "prior entries unchanged after event %d", i)
	}
}

func TestState_MessagesReturnsCopy(t *testing.T) {
	s := newTestState()
	s.AppendUserText("hi")
	msgs := s.Messages()
	msgs[0].Content = "mutated"
	assert.Equal(t, "hi", s.Messages()[0].Content)
}

func TestState_FunctionCall(t *testing.T) {
	s := newTestState()
	var hooked []FunctionCall
	s.OnFunctionCall = func(c FunctionCall) { hooked = append(hooked, c) }

	s.HandleEvent(protocol.Event{
		Type:      protocol.MsgFunctionCall,
		Name:      "log_run",
		Arguments: []byte(`{"distance_miles":5}`),
		Result:    []byte(`{"success":true}`),
	})

	calls := s.FunctionCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "log_run", calls[0].Name)
	assert.JSONEq(t, `{"distance_miles":5}`, string(calls[0].Arguments))
	assert.JSONEq(t, `{"success":true}`, string(calls[0].Result))
	assert.Equal(t, time.Date(2026, 10, 16, 7, 30, 0, 0, time.UTC), calls[0].Timestamp)
	assert.Equal(t, calls, hooked)
	assert.Empty(t, s.Messages())
}

func TestState_ErrorSlotOverwrites(t *testing.T) {
	s := newTestState()

	s.HandleEvent(protocol.Event{Type: protocol.MsgError, Message: "first"})
	assert.Equal(t, "first", s.Snapshot().Error)

	s.SetError(fmt.Errorf("capture: %w", core.ErrMicrophoneAccess))
	assert.Equal(t, "Could not access microphone. Please check permissions.", s.Snapshot().Error)
	assert.True(t, errors.Is(s.Err(), core.ErrMicrophoneAccess))

	s.ClearError()
	assert.Empty(t, s.Snapshot().Error)
	assert.NoError(t, s.Err())
}

func TestState_UnknownEventLeavesStateUnchanged(t *testing.T) {
	s := newTestState()
	s.HandleEvent(ev(protocol.MsgUserTranscript, "hello"))
	s.HandleEvent(ev(protocol.MsgAssistantTranscriptDelta, "Hi"))
	before := s.Snapshot()

	changes := 0
	s.OnChange = func() { changes++ }
	s.HandleEvent(protocol.Event{Type: "rate_limits.updated", Text: "ignored", Message: "ignored"})
	// Outbound types echoed back by a server are not inbound events either.
	s.HandleEvent(protocol.Event{Type: protocol.MsgTextMessage, Text: "ignored"})

	assert.Equal(t, before, s.Snapshot())
	assert.Zero(t, changes)
	assert.NoError(t, s.Err())
}

func TestState_SnapshotReadsIndicators(t *testing.T) {
	s := newTestState()
	assert.False(t, s.Snapshot().Speaking)

	speaking := false
	s.Bind(IndicatorFunc(func() bool { return true }), nil, IndicatorFunc(func() bool { return speaking }))
	snap := s.Snapshot()
	assert.True(t, snap.Connected)
	assert.False(t, snap.Listening)
	assert.False(t, snap.Speaking)

	speaking = true
	assert.True(t, s.Snapshot().Speaking)
}

func TestState_OnChangeFires(t *testing.T) {
	s := newTestState()
	changes := 0
	s.OnChange = func() { changes++ }

	s.HandleEvent(ev(protocol.MsgAssistantTranscriptDelta, "a"))
	s.AppendUserText("b")
	s.SetError(errors.New("c"))
	assert.Equal(t, 3, changes)
}
