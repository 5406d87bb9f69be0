package websocket

import (
	"encoding/base64"
	"encoding/json"
	"testing"
)

func TestParseControlMessage(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		wantErr bool
		want    MessageType
	}{
		{"tts start", `{"type":"tts_start"}`, false, MessageTypeTTSStart},
		{"tts stop", `{"type":"tts_stop"}`, false, MessageTypeTTSStop},
		{"clear history", `{"type":"clear_history"}`, false, MessageTypeClearHistory},
		{"set speed", `{"type":"set_speed","speed":120}`, false, MessageTypeSetSpeed},
		{"set speed missing value", `{"type":"set_speed"}`, true, ""},
		{"missing type", `{"speed":100}`, true, ""},
		{"unknown type", `{"type":"reboot"}`, true, ""},
		{"server-only type", `{"type":"tts_chunk"}`, true, ""},
		{"invalid json", `{`, true, ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msg, err := ParseControlMessage([]byte(tc.payload))
			if tc.wantErr {
				if err == nil {
					t.Fatalf("Expected error for %s, got nil", tc.payload)
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected successful parse, got error: %v", err)
			}
			if msg.Type != tc.want {
				t.Errorf("Expected type %s, got %s", tc.want, msg.Type)
			}
		})
	}
}

func TestParseSetSpeedCarriesValue(t *testing.T) {
	msg, err := ParseControlMessage([]byte(`{"type":"set_speed","speed":85}`))
	if err != nil {
		t.Fatalf("Expected successful parse, got error: %v", err)
	}
	if msg.Speed != 85 {
		t.Errorf("Expected speed 85, got %d", msg.Speed)
	}
}

func TestTTSChunkMessageEncodesBase64(t *testing.T) {
	pcm := []byte{0x01, 0x02, 0x03, 0x04}
	msg := NewTTSChunkMessage(pcm)

	if msg.Type != MessageTypeTTSChunk {
		t.Errorf("Expected type tts_chunk, got %s", msg.Type)
	}

	decoded, err := base64.StdEncoding.DecodeString(msg.Content)
	if err != nil {
		t.Fatalf("Expected base64 content, got error: %v", err)
	}
	if string(decoded) != string(pcm) {
		t.Errorf("Expected PCM payload round trip, got %v", decoded)
	}
}

func TestOutboundMessageEncoding(t *testing.T) {
	msg := NewTextMessage(MessageTypeFinalUserRequest, "hello")
	data := msg.Encode()

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Expected valid JSON, got error: %v", err)
	}
	if decoded["type"] != "final_user_request" {
		t.Errorf("Expected type final_user_request, got %v", decoded["type"])
	}
	if decoded["content"] != "hello" {
		t.Errorf("Expected content hello, got %v", decoded["content"])
	}

	signal := NewSignalMessage(MessageTypeStopTTS).Encode()
	decoded = map[string]interface{}{}
	if err := json.Unmarshal(signal, &decoded); err != nil {
		t.Fatalf("Expected valid JSON, got error: %v", err)
	}
	if _, ok := decoded["content"]; ok {
		t.Errorf("Expected signal message without content field")
	}
}
