package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Delimiter terminates every JSON object inside a websocket message.
const Delimiter byte = 0x1e

// Frame is one JSON value taken from a websocket message.
type Frame struct {
	Raw json.RawMessage
}

// SkipError describes a piece of a message that could not be parsed.
type SkipError struct {
	Index int
	Piece []byte
	Err   error
}

func (e *SkipError) Error() string {
	return fmt.Sprintf("frame %d: invalid json: %v", e.Index, e.Err)
}

func (e *SkipError) Unwrap() error {
	return e.Err
}

// Encode encodes v as JSON followed by the delimiter byte
func Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	return append(data, Delimiter), nil
}

// Decode splits a websocket message into frames. Each piece is parsed on
// its own; pieces that are not valid JSON are reported in skipped and do not
// affect the others.
func Decode(raw []byte) (frames []Frame, skipped []error) {
	for i, piece := range bytes.Split(raw, []byte{Delimiter}) {
		piece = bytes.TrimSpace(piece)
		if len(piece) == 0 {
			continue
		}
		var v json.RawMessage
		if err := json.Unmarshal(piece, &v); err != nil {
			skipped = append(skipped, &SkipError{Index: i, Piece: piece, Err: err})
			continue
		}
		frames = append(frames, Frame{Raw: v})
	}
	return frames, skipped
}

// Type returns the frame's numeric discriminant. It reports false when the
// frame is not an object, has no "type" field, or the field is not a
// non-negative integer.
func (f Frame) Type() (MessageType, bool) {
	var head struct {
		Type json.RawMessage `json:"type"`
	}
	if err := json.Unmarshal(f.Raw, &head); err != nil || len(head.Type) == 0 {
		return 0, false
	}
	n, err := strconv.ParseUint(string(head.Type), 10, 64)
	if err != nil {
		return 0, false
	}
	return MessageType(n), true
}

// UpdateText returns arguments[0].messages[0].text of an update frame.
// Only the elements on that path are decoded; siblings may hold anything.
func (f Frame) UpdateText() (string, bool) {
	var update struct {
		Arguments []json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(f.Raw, &update); err != nil || len(update.Arguments) == 0 {
		return "", false
	}

	var arg struct {
		Messages []json.RawMessage `json:"messages"`
	}
	if err := json.Unmarshal(update.Arguments[0], &arg); err != nil || len(arg.Messages) == 0 {
		return "", false
	}

	var msg struct {
		Text *string `json:"text"`
	}
	if err := json.Unmarshal(arg.Messages[0], &msg); err != nil || msg.Text == nil {
		return "", false
	}
	return *msg.Text, true
}

// Unmarshal decodes the frame into v.
func (f Frame) Unmarshal(v any) error {
	return json.Unmarshal(f.Raw, v)
}
