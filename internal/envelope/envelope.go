package envelope

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Envelope errors.
var (
	ErrDecode       = errors.New("envelope: decode failed")
	ErrMissingTopic = errors.New("envelope: missing topic")
)

// Publication is the {topic, payload} document exchanged between local
// processes and the broker. The payload is opaque JSON, held compacted.
// A Publication is immutable once constructed.
type Publication struct {
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}

// wire mirrors Publication with a nullable topic so a missing key can be
// told apart from an empty one.
type wire struct {
	Topic   *string         `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}

// New builds a Publication from a topic and a raw JSON payload.
// A nil or empty payload becomes JSON null.
func New(topic string, payload []byte) (Publication, error) {
	if topic == "" {
		return Publication{}, ErrMissingTopic
	}
	compacted, err := compact(payload)
	if err != nil {
		return Publication{}, err
	}
	return Publication{Topic: topic, Payload: compacted}, nil
}

// Decode parses one envelope line.
//
// Returns:
//   - Publication: The decoded envelope
//   - error: ErrDecode for malformed JSON, ErrMissingTopic (also matching
//     ErrDecode) when the topic key is absent or empty
func Decode(line string) (Publication, error) {
	var w wire
	if err := json.Unmarshal([]byte(strings.TrimSpace(line)), &w); err != nil {
		return Publication{}, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if w.Topic == nil || *w.Topic == "" {
		return Publication{}, fmt.Errorf("%w: %w", ErrDecode, ErrMissingTopic)
	}
	return New(*w.Topic, w.Payload)
}

// DecodePayload validates a raw payload line and returns it compacted.
func DecodePayload(line string) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty line", ErrDecode)
	}
	return compact([]byte(trimmed))
}

// Encode renders p as a single JSON line without a trailing newline.
func Encode(p Publication) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(p); err != nil {
		return "", fmt.Errorf("encoding publication: %w", err)
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}

// Equal reports whether two publications address the same topic.
// Routing and equality are keyed on topic only.
func (p Publication) Equal(other Publication) bool {
	return p.Topic == other.Topic
}

// Size returns the payload length in bytes.
func (p Publication) Size() int {
	return len(p.Payload)
}

// String returns the encoded form, or a placeholder if encoding fails.
func (p Publication) String() string {
	s, err := Encode(p)
	if err != nil {
		return fmt.Sprintf("Publication{topic:%s, payload:<invalid>}", p.Topic)
	}
	return s
}

func compact(payload []byte) (json.RawMessage, error) {
	if len(bytes.TrimSpace(payload)) == 0 {
		return json.RawMessage("null"), nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, payload); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return json.RawMessage(buf.Bytes()), nil
}
