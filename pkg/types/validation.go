package types

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Inbound is a decoded client event. Payload holds *AudioChunk or *TextMessage
// for the events that carry data and is nil otherwise.
type Inbound struct {
	Event   string
	Payload any
}

// DecodeInbound parses and validates one client frame.
func DecodeInbound(data []byte) (Inbound, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Inbound{}, ErrEmptyFrame
	}

	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return Inbound{}, badRequest("invalid json frame", "")
	}
	event := strings.TrimSpace(frame.Event)
	if event == "" {
		return Inbound{}, badRequest("missing event", "event")
	}

	switch event {
	case EventAudioChunk:
		var chunk AudioChunk
		if !hasObject(frame.Data) {
			return Inbound{}, badRequest("audio_chunk requires a data object", "data")
		}
		if err := json.Unmarshal(frame.Data, &chunk); err != nil {
			return Inbound{}, badRequest("invalid audio_chunk", "data")
		}
		return Inbound{Event: event, Payload: &chunk}, nil
	case EventTextMessage:
		var msg TextMessage
		if !hasObject(frame.Data) {
			return Inbound{}, badRequest("text_message requires a data object", "data")
		}
		if err := json.Unmarshal(frame.Data, &msg); err != nil {
			return Inbound{}, badRequest("invalid text_message", "data")
		}
		return Inbound{Event: event, Payload: &msg}, nil
	default:
		if !IsValidInboundEvent(event) {
			return Inbound{}, unsupported("unsupported event", "event")
		}
		return Inbound{Event: event}, nil
	}
}

// IsValidInboundEvent reports whether the client is allowed to send event.
func IsValidInboundEvent(event string) bool {
	switch event {
	case EventStartRecording,
		EventStopRecording,
		EventAudioChunk,
		EventTextMessage,
		EventNextPart,
		EventGetFeedback,
		EventPauseSession,
		EventResumeSession,
		EventPing,
		EventGetSessionStats:
		return true
	default:
		return false
	}
}

func hasObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}
