package wire

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// ProtocolError is returned for any malformed frame: a bad outer envelope,
// a malformed inner payload, a mismatched Size, or a base64 decode failure.
// A viewer that produces one is closed; other viewers are unaffected. An
// unknown Type is not a ProtocolError: the viewer logs and drops it.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error: %s", e.Reason)
}

// CompressThreshold is the raw payload size above which EncodeWrite opts
// into zstd compression before base64 encoding. Zero (the default)
// disables compression.
var CompressThreshold = 0

// DecodeEnvelope parses the outer JSON frame. A JSON syntax error is
// reported as a ProtocolError.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, &ProtocolError{Reason: "malformed envelope: " + err.Error()}
	}
	return env, nil
}

// decodeInner base64-decodes env.Data and unmarshals it into v.
func decodeInner(env Envelope, v any) error {
	raw, err := base64.StdEncoding.DecodeString(env.Data)
	if err != nil {
		return &ProtocolError{Reason: "base64 decode: " + err.Error()}
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return &ProtocolError{Reason: "malformed inner payload: " + err.Error()}
	}
	return nil
}

// encodeInner marshals v and wraps it as a base64 envelope of the given type.
func encodeInner(typ string, v any) ([]byte, error) {
	inner, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal inner payload: %w", err)
	}
	env := Envelope{
		Type: typ,
		Data: base64.StdEncoding.EncodeToString(inner),
	}
	return json.Marshal(env)
}

// DecodeWrite decodes a Write frame's inner payload into raw bytes,
// transparently inflating it if Compressed is set. It validates that Size
// matches the decoded length.
func DecodeWrite(env Envelope) ([]byte, error) {
	var wf WriteFrame
	if err := decodeInner(env, &wf); err != nil {
		return nil, err
	}
	raw, err := base64.StdEncoding.DecodeString(wf.Data)
	if err != nil {
		return nil, &ProtocolError{Reason: "write data base64 decode: " + err.Error()}
	}
	if wf.Compressed {
		raw, err = zstdDecompress(raw)
		if err != nil {
			return nil, &ProtocolError{Reason: "zstd decompress: " + err.Error()}
		}
	}
	if len(raw) != wf.Size {
		return nil, &ProtocolError{Reason: fmt.Sprintf("size mismatch: declared %d, got %d", wf.Size, len(raw))}
	}
	return raw, nil
}

// EncodeWrite wraps raw bytes as a Write envelope, opting into zstd
// compression when the payload exceeds CompressThreshold.
func EncodeWrite(raw []byte) ([]byte, error) {
	size := len(raw)
	payload := raw
	compressed := false

	if CompressThreshold > 0 && size > CompressThreshold {
		if c, err := zstdCompress(raw); err == nil && len(c) < size {
			payload = c
			compressed = true
		}
	}

	wf := WriteFrame{
		Size:       size,
		Data:       base64.StdEncoding.EncodeToString(payload),
		Compressed: compressed,
	}
	return encodeInner(TypeWrite, wf)
}

// DecodeWinSize decodes a WinSize inner payload.
func DecodeWinSize(env Envelope) (WinSizeMsg, error) {
	var m WinSizeMsg
	if err := decodeInner(env, &m); err != nil {
		return WinSizeMsg{}, err
	}
	return m, nil
}

// EncodeWinSize wraps a WinSize message.
func EncodeWinSize(cols, rows int) ([]byte, error) {
	return encodeInner(TypeWinSize, WinSizeMsg{Cols: cols, Rows: rows})
}

// EncodeReadOnly wraps a ReadOnly control message.
func EncodeReadOnly(readOnly bool) ([]byte, error) {
	return encodeInner(TypeReadOnly, ReadOnlyMsg{ReadOnly: readOnly})
}

// EncodeHeadless wraps a Headless control message.
func EncodeHeadless(headless bool) ([]byte, error) {
	return encodeInner(TypeHeadless, HeadlessMsg{Headless: headless})
}

func zstdCompress(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(raw); err != nil {
		zw.Close()
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func zstdDecompress(raw []byte) ([]byte, error) {
	zr, err := zstd.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}
