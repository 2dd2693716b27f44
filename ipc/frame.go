// Package ipc implements the policy wire protocol: length-prefixed framing and the
// big-endian observation/action payload codec.
package ipc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Frame size constants.
const (
	// MaxFrameSize is the maximum frame size (16 MiB), including length prefix.
	MaxFrameSize = 16 * 1024 * 1024
	// MaxPayloadSize is the maximum payload size (MaxFrameSize - 4 bytes).
	MaxPayloadSize = MaxFrameSize - LengthPrefixSize
	// LengthPrefixSize is the size of the length prefix in bytes.
	LengthPrefixSize = 4
)

// FrameErrorKind classifies framing and payload errors.
type FrameErrorKind int

const (
	// FrameErrorPartial indicates a truncated frame: the peer closed mid-message.
	FrameErrorPartial FrameErrorKind = iota
	// FrameErrorTooLarge indicates a declared length above the configured limit.
	FrameErrorTooLarge
	// FrameErrorMalformed indicates a payload whose declared lengths do not match
	// the bytes available.
	FrameErrorMalformed
)

func (k FrameErrorKind) String() string {
	switch k {
	case FrameErrorPartial:
		return "partial"
	case FrameErrorTooLarge:
		return "too_large"
	case FrameErrorMalformed:
		return "malformed"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// FrameError represents a frame or payload decoding error.
type FrameError struct {
	Kind FrameErrorKind
	Msg  string
	Err  error
}

func (e *FrameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// IsMalformed reports whether the message itself is inconsistent (oversized or
// mismatched lengths), as opposed to a truncated stream.
func (e *FrameError) IsMalformed() bool {
	return e.Kind == FrameErrorTooLarge || e.Kind == FrameErrorMalformed
}

// IsMalformed returns true if err is a malformed-message frame error.
func IsMalformed(err error) bool {
	var frameErr *FrameError
	if errors.As(err, &frameErr) {
		return frameErr.IsMalformed()
	}
	return false
}

// IsPartial returns true if err is a truncated-frame error.
func IsPartial(err error) bool {
	var frameErr *FrameError
	if errors.As(err, &frameErr) {
		return frameErr.Kind == FrameErrorPartial
	}
	return false
}

// FrameDecoder decodes length-prefixed frames from a stream.
type FrameDecoder struct {
	reader     io.Reader
	maxPayload uint32
}

// NewFrameDecoder creates a frame decoder with the default payload limit.
func NewFrameDecoder(r io.Reader) *FrameDecoder {
	return NewFrameDecoderWithLimit(r, MaxPayloadSize)
}

// NewFrameDecoderWithLimit creates a frame decoder that rejects payloads larger
// than maxPayload. A zero limit means MaxPayloadSize.
func NewFrameDecoderWithLimit(r io.Reader, maxPayload uint32) *FrameDecoder {
	if maxPayload == 0 || maxPayload > MaxPayloadSize {
		maxPayload = MaxPayloadSize
	}
	return &FrameDecoder{reader: r, maxPayload: maxPayload}
}

// ReadFrame reads a single frame from the stream and returns its payload.
// The whole payload is buffered before returning.
//
// Errors:
//   - io.EOF: stream ended cleanly before a new frame
//   - *FrameError with Kind=FrameErrorPartial: incomplete frame
//   - *FrameError with Kind=FrameErrorTooLarge: frame exceeds limit
func (d *FrameDecoder) ReadFrame() ([]byte, error) {
	// Read 4-byte big-endian length prefix
	var lengthBuf [LengthPrefixSize]byte
	_, err := io.ReadFull(d.reader, lengthBuf[:])
	if err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		// Partial read of length prefix
		return nil, &FrameError{
			Kind: FrameErrorPartial,
			Msg:  "failed to read length prefix",
			Err:  err,
		}
	}

	payloadSize := binary.BigEndian.Uint32(lengthBuf[:])
	if payloadSize > d.maxPayload {
		return nil, &FrameError{
			Kind: FrameErrorTooLarge,
			Msg:  fmt.Sprintf("payload size %d exceeds maximum %d", payloadSize, d.maxPayload),
		}
	}

	payload := make([]byte, payloadSize)
	_, err = io.ReadFull(d.reader, payload)
	if err != nil {
		return nil, &FrameError{
			Kind: FrameErrorPartial,
			Msg:  "failed to read payload",
			Err:  err,
		}
	}

	return payload, nil
}

// EncodeFrame returns payload prefixed with its big-endian length.
func EncodeFrame(payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, &FrameError{
			Kind: FrameErrorTooLarge,
			Msg:  fmt.Sprintf("payload size %d exceeds maximum %d", len(payload), MaxPayloadSize),
		}
	}
	buf := make([]byte, LengthPrefixSize+len(payload))
	binary.BigEndian.PutUint32(buf[:LengthPrefixSize], uint32(len(payload)))
	copy(buf[LengthPrefixSize:], payload)
	return buf, nil
}

// WriteFrame writes one length-prefixed frame with a single Write call.
func WriteFrame(w io.Writer, payload []byte) error {
	frame, err := EncodeFrame(payload)
	if err != nil {
		return err
	}
	_, err = w.Write(frame)
	return err
}
