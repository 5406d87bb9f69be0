package websocket

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// MessageType defines the type of a control message. Audio frames travel as
// binary messages; everything else is JSON text.
type MessageType string

// Client to server.
const (
	MessageTypeTTSStart     MessageType = "tts_start"
	MessageTypeTTSStop      MessageType = "tts_stop"
	MessageTypeClearHistory MessageType = "clear_history"
	MessageTypeSetSpeed     MessageType = "set_speed"
)

// Server to client.
const (
	MessageTypePartialUserRequest     MessageType = "partial_user_request"
	MessageTypeFinalUserRequest       MessageType = "final_user_request"
	MessageTypePartialAssistantAnswer MessageType = "partial_assistant_answer"
	MessageTypeFinalAssistantAnswer   MessageType = "final_assistant_answer"
	MessageTypeTTSChunk               MessageType = "tts_chunk"
	MessageTypeTTSInterruption        MessageType = "tts_interruption"
	MessageTypeStopTTS                MessageType = "stop_tts"
	MessageTypeError                  MessageType = "error"
)

// ControlMessage is the wire shape of every JSON control message, inbound
// and outbound. Unused fields are omitted from the encoding.
type ControlMessage struct {
	Type      MessageType `json:"type"`
	Content   string      `json:"content,omitempty"`
	Speed     int         `json:"speed,omitempty"`
	Timestamp string      `json:"timestamp,omitempty"`
}

// ParseControlMessage decodes and validates an inbound control message.
func ParseControlMessage(data []byte) (*ControlMessage, error) {
	var msg ControlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("invalid JSON format: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("message missing type field")
	}

	switch msg.Type {
	case MessageTypeTTSStart, MessageTypeTTSStop, MessageTypeClearHistory:
	case MessageTypeSetSpeed:
		if msg.Speed == 0 {
			return nil, fmt.Errorf("set_speed requires a speed field")
		}
	default:
		return nil, fmt.Errorf("unsupported message type: %s", msg.Type)
	}
	return &msg, nil
}

// NewTextMessage builds an outbound message carrying transcript or answer
// text.
func NewTextMessage(t MessageType, content string) *ControlMessage {
	return &ControlMessage{
		Type:      t,
		Content:   content,
		Timestamp: time.Now().Format(time.RFC3339),
	}
}

// NewTTSChunkMessage builds an outbound synthesized-audio message. The PCM
// payload is base64 encoded into the content field.
func NewTTSChunkMessage(pcm []byte) *ControlMessage {
	return &ControlMessage{
		Type:      MessageTypeTTSChunk,
		Content:   base64.StdEncoding.EncodeToString(pcm),
		Timestamp: time.Now().Format(time.RFC3339),
	}
}

// NewSignalMessage builds an outbound message with no payload, such as
// tts_interruption or stop_tts.
func NewSignalMessage(t MessageType) *ControlMessage {
	return &ControlMessage{
		Type:      t,
		Timestamp: time.Now().Format(time.RFC3339),
	}
}

// NewErrorMessage builds an outbound error message.
func NewErrorMessage(err error) *ControlMessage {
	return &ControlMessage{
		Type:      MessageTypeError,
		Content:   err.Error(),
		Timestamp: time.Now().Format(time.RFC3339),
	}
}

// Encode marshals the message for the wire.
func (m *ControlMessage) Encode() []byte {
	data, _ := json.Marshal(m)
	return data
}
