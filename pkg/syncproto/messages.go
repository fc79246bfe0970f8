package syncproto

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/astromechza/notesync/pkg/notes"
)

const (
	TypeInitialContent = "initial_content"
	TypeContentUpdate  = "content_update"
	TypeGetContent     = "get_content"
	TypeError          = "error"
)

// ErrMalformedMessage is returned for streaming payloads that can not be understood at all.
var ErrMalformedMessage = errors.New("malformed message")

type Inbound struct {
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content,omitempty"`
	Sender  string          `json:"sender,omitempty"`
}

type Outbound struct {
	Type        string    `json:"type"`
	Content     string    `json:"content"`
	LastUpdated time.Time `json:"lastUpdated"`
	Sender      string    `json:"sender,omitempty"`
}

type ErrorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func DecodeInbound(raw []byte) (Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		return Inbound{}, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}
	switch in.Type {
	case TypeContentUpdate, TypeGetContent:
		return in, nil
	case "":
		return Inbound{}, fmt.Errorf("%w: missing type", ErrMalformedMessage)
	default:
		return Inbound{}, fmt.Errorf("%w: unknown type %q", ErrMalformedMessage, in.Type)
	}
}

// DecodeContent accepts only a JSON string. Missing, null, numeric, or structured content is ErrInvalidPayload.
func DecodeContent(raw json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return "", fmt.Errorf("%w: content is required", notes.ErrInvalidPayload)
	}
	if trimmed[0] != '"' {
		return "", fmt.Errorf("%w: content must be a string", notes.ErrInvalidPayload)
	}
	var content string
	if err := json.Unmarshal(trimmed, &content); err != nil {
		return "", fmt.Errorf("%w: %w", notes.ErrInvalidPayload, err)
	}
	return content, nil
}

func encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func contentMessage(typ string, n notes.Note, sender string) ([]byte, error) {
	return encode(Outbound{Type: typ, Content: n.Content, LastUpdated: n.LastUpdated, Sender: sender})
}
