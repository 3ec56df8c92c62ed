package pgframe

import (
	"encoding/binary"

	"github.com/neonlabs/walcore"
	"github.com/neonlabs/walcore/internal/constants"
)

// decoderState tracks whether the next frame on the wire is the startup
// exchange or an ordinary typed message. It only ever moves forward, and
// only once: SSLRequest and CancelRequest are explicitly excluded from
// advancing it, since a client may send either (or both) before its real
// StartupMessage.
type decoderState int

const (
	stateExpectStartup decoderState = iota
	stateExpectTyped
)

// Decoder turns a byte buffer into Messages. It is stateless with respect
// to buffered bytes - all buffering lives in Framed - but stateful with
// respect to which frame shape to expect next, per connection.
type Decoder struct {
	state decoderState
}

// NewDecoder returns a Decoder expecting the startup exchange first.
func NewDecoder() *Decoder {
	return &Decoder{state: stateExpectStartup}
}

// decode attempts to parse exactly one message out of the front of buf.
// It returns the message, how many bytes of buf it consumed, and whether
// a complete message was present; ok is false (with consumed == 0) when
// buf doesn't yet hold a full frame, which is not itself an error - the
// caller should read more bytes and try again.
func (d *Decoder) decode(buf []byte) (msg *Message, consumed int, ok bool, err error) {
	if d.state == stateExpectStartup {
		return d.decodeStartup(buf)
	}
	return d.decodeTyped(buf)
}

func (d *Decoder) decodeStartup(buf []byte) (*Message, int, bool, error) {
	if len(buf) < 4 {
		return nil, 0, false, nil
	}
	length := binary.BigEndian.Uint32(buf[:4])
	if length < 8 {
		return nil, 0, false, walcore.NewError("decode_startup", walcore.ErrCodeInvalidParams, "startup frame shorter than its own header")
	}
	if uint64(length) > uint64(4+constants.InitialBufferCapacity*64) {
		return nil, 0, false, walcore.NewError("decode_startup", walcore.ErrCodeFrameTooLarge, "startup frame implausibly large")
	}
	if uint32(len(buf)) < length {
		return nil, 0, false, nil
	}

	payload := buf[4:length]
	code := binary.BigEndian.Uint32(payload[:4])

	switch code {
	case constants.SSLRequestCode:
		return &Message{Kind: KindSSLRequest}, int(length), true, nil
	case constants.CancelRequestCode:
		return &Message{Kind: KindCancelRequest, Payload: cloneBytes(payload[4:])}, int(length), true, nil
	default:
		d.state = stateExpectTyped
		return &Message{Kind: KindStartup, Payload: cloneBytes(payload)}, int(length), true, nil
	}
}

func (d *Decoder) decodeTyped(buf []byte) (*Message, int, bool, error) {
	if len(buf) < 5 {
		return nil, 0, false, nil
	}
	typ := buf[0]
	length := binary.BigEndian.Uint32(buf[1:5])
	if length < 4 {
		return nil, 0, false, walcore.NewError("decode_typed", walcore.ErrCodeInvalidParams, "typed frame shorter than its own header")
	}
	total := 1 + int(length)
	if total > len(buf) {
		return nil, 0, false, nil
	}

	payload := buf[5:total]
	return &Message{Kind: KindTyped, Type: typ, Payload: cloneBytes(payload)}, total, true, nil
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
