package internal

import (
	"context"
	"encoding/json"
	"fmt"
)

// FrameType tags a protocol frame
type FrameType string

const (
	FrameConnection    FrameType = "connection"
	FrameDisconnect    FrameType = "disconnect"
	FrameData          FrameType = "data"
	FrameClearMessages FrameType = "clear-messages"
)

// Frame is one tagged record exchanged with the peer
type Frame struct {
	Type     FrameType      `json:"type"`
	Token    string         `json:"token,omitempty"`
	Path     string         `json:"path,omitempty"`
	Data     any            `json:"data,omitempty"`
	Messages []HistoryEntry `json:"messages,omitempty"`
}

// Transport is an already-connected, ordered, bidirectional frame channel.
// Frames delivers inbound frames in arrival order and is closed when the
// connection ends.
type Transport interface {
	Send(ctx context.Context, f Frame) error
	Frames() <-chan Frame
	Close() error
}

// DecodeFrame parses a wire frame. Frames without a type are rejected.
func DecodeFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("failed to decode frame: %w", err)
	}
	if f.Type == "" {
		return Frame{}, fmt.Errorf("frame has no type")
	}
	return f, nil
}

// EncodeFrame serialises a frame for the wire
func EncodeFrame(f Frame) ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	return data, nil
}
