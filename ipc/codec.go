// Package ipc implements the worker wire protocol: request and response
// messages, the line-delimited JSON codec, the length-prefixed msgpack
// codec, and the serializability check applied before anything crosses
// the process boundary.
package ipc

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec names.
const (
	CodecJSON    = "json"
	CodecMsgpack = "msgpack"
)

// Codec reads and writes protocol messages as generic maps. Values are
// normalized to JSON shapes on read (see Normalize) whatever the framing.
type Codec interface {
	WriteMessage(msg map[string]any) error
	ReadMessage() (map[string]any, error)
}

// NewCodec returns the codec called name over r and w.
func NewCodec(name string, r io.Reader, w io.Writer) (Codec, error) {
	switch name {
	case "", CodecJSON:
		return NewJSONCodec(r, w), nil
	case CodecMsgpack:
		return NewMsgpackCodec(r, w), nil
	default:
		return nil, fmt.Errorf("unknown ipc codec %q", name)
	}
}

// JSONCodec speaks newline-delimited UTF-8 JSON.
type JSONCodec struct {
	mu     sync.Mutex
	reader *bufio.Reader
	writer io.Writer
}

// NewJSONCodec creates a line-delimited JSON codec.
func NewJSONCodec(r io.Reader, w io.Writer) *JSONCodec {
	return &JSONCodec{reader: bufio.NewReaderSize(r, 64*1024), writer: w}
}

// WriteMessage encodes msg as one line.
func (c *JSONCodec) WriteMessage(msg map[string]any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if len(data) > MaxPayloadSize {
		return &FrameError{Kind: FrameErrorTooLarge, Msg: fmt.Sprintf("message size %d exceeds maximum %d", len(data), MaxPayloadSize)}
	}
	data = append(data, '\n')

	c.mu.Lock()
	defer c.mu.Unlock()
	_, err = c.writer.Write(data)
	return err
}

// ReadMessage reads one line. io.EOF is returned for a clean end of
// stream; blank lines are skipped.
func (c *JSONCodec) ReadMessage() (map[string]any, error) {
	for {
		line, err := c.readLine()
		if err != nil {
			return nil, err
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		return decodeJSON(line)
	}
}

func (c *JSONCodec) readLine() ([]byte, error) {
	var line []byte
	for {
		chunk, err := c.reader.ReadSlice('\n')
		line = append(line, chunk...)
		if len(line) > MaxPayloadSize {
			return nil, &FrameError{Kind: FrameErrorTooLarge, Msg: fmt.Sprintf("line exceeds maximum %d", MaxPayloadSize)}
		}
		switch {
		case err == nil:
			return line, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			if len(bytes.TrimSpace(line)) == 0 {
				return nil, io.EOF
			}
			return nil, &FrameError{Kind: FrameErrorPartial, Msg: "stream ended mid-line", Err: io.ErrUnexpectedEOF}
		default:
			return nil, err
		}
	}
}

func decodeJSON(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, &FrameError{Kind: FrameErrorDecode, Msg: "failed to decode json message", Err: err}
	}
	msg, ok := Normalize(raw).(map[string]any)
	if !ok {
		return nil, &FrameError{Kind: FrameErrorDecode, Msg: fmt.Sprintf("message is %T, want object", raw)}
	}
	return msg, nil
}

// MsgpackCodec speaks length-prefixed msgpack frames.
type MsgpackCodec struct {
	mu      sync.Mutex
	decoder *FrameDecoder
	writer  io.Writer
}

// NewMsgpackCodec creates a msgpack frame codec.
func NewMsgpackCodec(r io.Reader, w io.Writer) *MsgpackCodec {
	return &MsgpackCodec{decoder: NewFrameDecoder(bufio.NewReader(r)), writer: w}
}

// WriteMessage encodes msg as one frame.
func (c *MsgpackCodec) WriteMessage(msg map[string]any) error {
	payload, err := msgpack.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return WriteFrame(c.writer, payload)
}

// ReadMessage reads one frame. Decoded values are re-encoded through JSON
// so both codecs hand callers identical shapes.
func (c *MsgpackCodec) ReadMessage() (map[string]any, error) {
	payload, err := c.decoder.ReadFrame()
	if err != nil {
		return nil, err
	}
	var raw map[string]any
	if err := msgpack.Unmarshal(payload, &raw); err != nil {
		return nil, &FrameError{Kind: FrameErrorDecode, Msg: "failed to decode msgpack message", Err: err}
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, &FrameError{Kind: FrameErrorDecode, Msg: "failed to normalize msgpack message", Err: err}
	}
	return decodeJSON(data)
}
