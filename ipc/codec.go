package ipc

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/justapithecus/marksman/types"
)

// Payload limits. A declared length above these is rejected before allocation.
const (
	// MaxActionLen is the default maximum number of action components.
	MaxActionLen = 64
	// MaxStateLen is the maximum number of joint state components.
	MaxStateLen = 64
	// MaxImageBytes is the largest image that still fits one observation
	// frame next to the timestamp, both length fields and the joint state.
	MaxImageBytes = MaxPayloadSize - (3*fieldSize + types.StateLen*fieldSize)
)

const fieldSize = 4

// EncodeObservation serializes an observation:
//
//	f32 timestamp | u32 image_len | image | u32 state_len | state_len × f32
//
// All multi-byte fields are big-endian.
func EncodeObservation(obs *types.Observation) ([]byte, error) {
	if len(obs.Image) > MaxImageBytes {
		return nil, &FrameError{
			Kind: FrameErrorTooLarge,
			Msg:  fmt.Sprintf("image size %d exceeds maximum %d", len(obs.Image), MaxImageBytes),
		}
	}

	size := fieldSize + fieldSize + len(obs.Image) + fieldSize + types.StateLen*fieldSize
	buf := make([]byte, 0, size)
	buf = binary.BigEndian.AppendUint32(buf, math.Float32bits(obs.Timestamp))
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(obs.Image)))
	buf = append(buf, obs.Image...)
	buf = binary.BigEndian.AppendUint32(buf, types.StateLen)
	for _, v := range obs.State {
		buf = binary.BigEndian.AppendUint32(buf, math.Float32bits(v))
	}
	return buf, nil
}

// DecodeObservation parses an observation payload. Used by the policy server side.
// The state length must equal types.StateLen.
func DecodeObservation(payload []byte) (*types.Observation, error) {
	r := payloadReader{buf: payload}

	ts, err := r.float32("timestamp")
	if err != nil {
		return nil, err
	}

	imageLen, err := r.uint32("image length")
	if err != nil {
		return nil, err
	}
	if imageLen > MaxImageBytes {
		return nil, &FrameError{
			Kind: FrameErrorTooLarge,
			Msg:  fmt.Sprintf("declared image length %d exceeds maximum %d", imageLen, MaxImageBytes),
		}
	}
	image, err := r.bytes(int(imageLen), "image")
	if err != nil {
		return nil, err
	}

	values, err := r.floats(MaxStateLen, "state")
	if err != nil {
		return nil, err
	}
	if len(values) != types.StateLen {
		return nil, malformed(fmt.Sprintf("state length %d, want %d", len(values), types.StateLen))
	}
	if err := r.done(); err != nil {
		return nil, err
	}

	obs := &types.Observation{Timestamp: ts}
	if imageLen > 0 {
		obs.Image = append([]byte(nil), image...)
	}
	copy(obs.State[:], values)
	return obs, nil
}

// EncodeAction serializes an action payload: u32 action_len | action_len × f32.
func EncodeAction(action []float32) ([]byte, error) {
	if len(action) > MaxActionLen {
		return nil, &FrameError{
			Kind: FrameErrorTooLarge,
			Msg:  fmt.Sprintf("action length %d exceeds maximum %d", len(action), MaxActionLen),
		}
	}
	buf := make([]byte, 0, fieldSize+len(action)*fieldSize)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(action)))
	for _, v := range action {
		buf = binary.BigEndian.AppendUint32(buf, math.Float32bits(v))
	}
	return buf, nil
}

// DecodeAction parses an action payload with the default MaxActionLen limit.
// Any declared length is accepted; callers validate it against types.ActionLen.
func DecodeAction(payload []byte) ([]float32, error) {
	return DecodeActionWithLimit(payload, MaxActionLen)
}

// DecodeActionWithLimit parses an action payload, rejecting declared lengths
// above maxLen with FrameErrorTooLarge.
func DecodeActionWithLimit(payload []byte, maxLen uint32) ([]float32, error) {
	r := payloadReader{buf: payload}
	values, err := r.floats(maxLen, "action")
	if err != nil {
		return nil, err
	}
	if err := r.done(); err != nil {
		return nil, err
	}
	return values, nil
}

func malformed(msg string) *FrameError {
	return &FrameError{Kind: FrameErrorMalformed, Msg: msg}
}

// payloadReader walks a fully buffered payload with bounds checks.
type payloadReader struct {
	buf []byte
	off int
}

func (r *payloadReader) remaining() int {
	return len(r.buf) - r.off
}

func (r *payloadReader) uint32(field string) (uint32, error) {
	if r.remaining() < fieldSize {
		return 0, malformed(fmt.Sprintf("truncated %s: %d bytes left", field, r.remaining()))
	}
	v := binary.BigEndian.Uint32(r.buf[r.off:])
	r.off += fieldSize
	return v, nil
}

func (r *payloadReader) float32(field string) (float32, error) {
	bits, err := r.uint32(field)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(bits), nil
}

func (r *payloadReader) bytes(n int, field string) ([]byte, error) {
	if n > r.remaining() {
		return nil, malformed(fmt.Sprintf("declared %s length %d exceeds available %d bytes", field, n, r.remaining()))
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

// floats reads a u32 count followed by count big-endian f32 values.
func (r *payloadReader) floats(maxLen uint32, field string) ([]float32, error) {
	n, err := r.uint32(field + " length")
	if err != nil {
		return nil, err
	}
	if n > maxLen {
		return nil, &FrameError{
			Kind: FrameErrorTooLarge,
			Msg:  fmt.Sprintf("declared %s length %d exceeds maximum %d", field, n, maxLen),
		}
	}
	if int(n)*fieldSize > r.remaining() {
		return nil, malformed(fmt.Sprintf("declared %s length %d exceeds available %d bytes", field, n, r.remaining()))
	}
	values := make([]float32, n)
	for i := range values {
		values[i] = math.Float32frombits(binary.BigEndian.Uint32(r.buf[r.off:]))
		r.off += fieldSize
	}
	return values, nil
}

// done rejects trailing bytes after the last declared field.
func (r *payloadReader) done() error {
	if r.remaining() != 0 {
		return malformed(fmt.Sprintf("%d trailing bytes after payload", r.remaining()))
	}
	return nil
}
