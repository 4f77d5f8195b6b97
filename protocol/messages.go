package protocol

import "encoding/json"

// MessageType is the "type" discriminant of every structured frame.
type MessageType string

const (
	// Client -> server
	MsgCommitAudio MessageType = "commit_audio"
	MsgTextMessage MessageType = "text_message"

	// Server -> client
	MsgUserTranscript           MessageType = "user_transcript"
	MsgAssistantTranscriptDelta MessageType = "assistant_transcript_delta"
	MsgAssistantTranscript      MessageType = "assistant_transcript"
	MsgFunctionCall             MessageType = "function_call"
	MsgError                    MessageType = "error"
)

// --- Client -> server ---

// CommitAudio marks the end of the current user utterance.
type CommitAudio struct {
	Type MessageType `json:"type"`
}

// NewCommitAudio builds the commit_audio control message.
func NewCommitAudio() CommitAudio {
	return CommitAudio{Type: MsgCommitAudio}
}

// TextMessage sends typed input in place of speech.
type TextMessage struct {
	Type MessageType `json:"type"`
	Text string      `json:"text"`
}

// NewTextMessage builds a text_message control message.
func NewTextMessage(text string) TextMessage {
	return TextMessage{Type: MsgTextMessage, Text: text}
}

// --- Server -> client ---

// Event is an inbound structured frame. Which payload fields are set depends
// on Type:
//
//	user_transcript, assistant_transcript_delta, assistant_transcript: Text
//	function_call: Name, Arguments, Result
//	error: Message
//
// Arguments and Result are opaque JSON and are never interpreted here.
type Event struct {
	Type      MessageType     `json:"type"`
	Text      string          `json:"text,omitempty"`
	Name      string          `json:"name,omitempty"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Message   string          `json:"message,omitempty"`
}

// Known reports whether the event type is one the client acts on.
func (e Event) Known() bool {
	switch e.Type {
	case MsgUserTranscript, MsgAssistantTranscriptDelta, MsgAssistantTranscript, MsgFunctionCall, MsgError:
		return true
	default:
		return false
	}
}
