package internal

import (
	"strings"
	"testing"
)

func TestDecodeFrame(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Frame
		wantErr bool
	}{
		{
			name:  "connection with replay",
			input: `{"type":"connection","token":"abc","path":"/echo","messages":[{"type":"text","timestamp":5,"content":"hi"}]}`,
			want:  Frame{Type: FrameConnection, Token: "abc", Path: "/echo", Messages: []HistoryEntry{{Type: PayloadText, Timestamp: 5, Content: "hi"}}},
		},
		{
			name:  "data with string payload",
			input: `{"type":"data","token":"abc","data":"{\"x\":1}"}`,
			want:  Frame{Type: FrameData, Token: "abc", Data: `{"x":1}`},
		},
		{
			name:  "disconnect",
			input: `{"type":"disconnect","token":"abc"}`,
			want:  Frame{Type: FrameDisconnect, Token: "abc"},
		},
		{
			name:    "missing type",
			input:   `{"token":"abc"}`,
			wantErr: true,
		},
		{
			name:    "not json",
			input:   `hello`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeFrame([]byte(tt.input))
			if (err != nil) != tt.wantErr {
				t.Fatalf("DecodeFrame() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got.Type != tt.want.Type || got.Token != tt.want.Token || got.Path != tt.want.Path || got.Data != tt.want.Data {
				t.Errorf("DecodeFrame() = %+v, want %+v", got, tt.want)
			}
			if len(got.Messages) != len(tt.want.Messages) {
				t.Fatalf("DecodeFrame() messages = %+v", got.Messages)
			}
			for i := range got.Messages {
				if got.Messages[i] != tt.want.Messages[i] {
					t.Errorf("message %d = %+v, want %+v", i, got.Messages[i], tt.want.Messages[i])
				}
			}
		})
	}
}

func TestDecodeFrame_StructuredData(t *testing.T) {
	f, err := DecodeFrame([]byte(`{"type":"data","token":"t","data":{"y":2}}`))
	if err != nil {
		t.Fatalf("DecodeFrame() error = %v", err)
	}
	if DetectType(f.Data) != PayloadObject {
		t.Errorf("structured data should decode to a mapping, got %T", f.Data)
	}
}

func TestEncodeFrame(t *testing.T) {
	data, err := EncodeFrame(Frame{Type: FrameClearMessages, Token: "abc"})
	if err != nil {
		t.Fatalf("EncodeFrame() error = %v", err)
	}
	got := string(data)
	if got != `{"type":"clear-messages","token":"abc"}` {
		t.Errorf("EncodeFrame() = %s", got)
	}

	data, _ = EncodeFrame(Frame{Type: FrameData, Token: "abc", Data: map[string]any{"y": 2}})
	if !strings.Contains(string(data), `"data":{"y":2}`) {
		t.Errorf("EncodeFrame() = %s, want nested data", data)
	}

	if _, err := EncodeFrame(Frame{Type: FrameData, Data: make(chan int)}); err == nil {
		t.Error("EncodeFrame() should fail on unencodable data")
	}
}
