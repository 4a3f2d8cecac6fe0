package ipc

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestCodecs_RoundTrip(t *testing.T) {
	msg := map[string]any{
		"call_id": "c-1",
		"args":    []any{2, 2.5, "x", true, nil},
		"kwargs":  map[string]any{"nested": map[string]any{"list": []any{1, 2}}},
	}

	for _, name := range []string{CodecJSON, CodecMsgpack} {
		t.Run(name, func(t *testing.T) {
			var buf bytes.Buffer
			c, err := NewCodec(name, &buf, &buf)
			if err != nil {
				t.Fatalf("NewCodec: %v", err)
			}
			if err := c.WriteMessage(msg); err != nil {
				t.Fatalf("WriteMessage: %v", err)
			}
			if err := c.WriteMessage(map[string]any{"call_id": "c-2"}); err != nil {
				t.Fatalf("WriteMessage: %v", err)
			}

			got, err := c.ReadMessage()
			if err != nil {
				t.Fatalf("ReadMessage: %v", err)
			}
			if diff := cmp.Diff(msg, got); diff != "" {
				t.Errorf("round trip (-want +got):\n%s", diff)
			}
			second, err := c.ReadMessage()
			if err != nil {
				t.Fatalf("ReadMessage second: %v", err)
			}
			if second["call_id"] != "c-2" {
				t.Errorf("second call_id = %v", second["call_id"])
			}
			if _, err := c.ReadMessage(); err != io.EOF {
				t.Errorf("after last message: err = %v, want io.EOF", err)
			}
		})
	}
}

func TestNewCodec_Unknown(t *testing.T) {
	if _, err := NewCodec("protobuf", nil, nil); err == nil {
		t.Fatal("expected error for unknown codec")
	}
}

func TestJSONCodec_SkipsBlankLines(t *testing.T) {
	c := NewJSONCodec(strings.NewReader("\n\n{\"status\":\"ok\"}\n"), io.Discard)
	msg, err := c.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if msg["status"] != "ok" {
		t.Errorf("status = %v", msg["status"])
	}
}

func TestJSONCodec_DecodeErrors(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantKind FrameErrorKind
	}{
		{"not json", "hello\n", FrameErrorDecode},
		{"not an object", "[1,2]\n", FrameErrorDecode},
		{"unterminated", "{\"status\":\"ok\"}", FrameErrorPartial},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewJSONCodec(strings.NewReader(tt.input), io.Discard)
			_, err := c.ReadMessage()
			var fe *FrameError
			if !errors.As(err, &fe) {
				t.Fatalf("err = %v, want *FrameError", err)
			}
			if fe.Kind != tt.wantKind {
				t.Errorf("Kind = %v, want %v", fe.Kind, tt.wantKind)
			}
		})
	}
}

func TestJSONCodec_LongLine(t *testing.T) {
	long := strings.Repeat("a", 200*1024)
	var buf bytes.Buffer
	c := NewJSONCodec(&buf, &buf)
	if err := c.WriteMessage(map[string]any{"code": long}); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	msg, err := c.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if msg["code"] != long {
		t.Error("long line did not survive the codec")
	}
}
