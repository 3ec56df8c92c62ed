package pgframe

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/neonlabs/walcore"
	"github.com/neonlabs/walcore/internal/constants"
)

func encodeStartup(payload []byte) []byte {
	buf := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(buf)))
	copy(buf[4:], payload)
	return buf
}

func encodeTyped(typ byte, payload []byte) []byte {
	buf := make([]byte, 5+len(payload))
	buf[0] = typ
	binary.BigEndian.PutUint32(buf[1:5], uint32(4+len(payload)))
	copy(buf[5:], payload)
	return buf
}

func TestDecodeStartupMessageAdvancesState(t *testing.T) {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, 196608) // protocol 3.0
	payload = append(payload, []byte("user\x00alice\x00\x00")...)
	frame := encodeStartup(payload)

	d := NewDecoder()
	msg, consumed, ok, err := d.decode(frame)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, len(frame), consumed)
	require.Equal(t, KindStartup, msg.Kind)
	require.Equal(t, payload, msg.Payload)
	require.Equal(t, stateExpectTyped, d.state)
}

func TestDecodeSSLRequestDoesNotAdvanceState(t *testing.T) {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, constants.SSLRequestCode)
	frame := encodeStartup(payload)

	d := NewDecoder()
	msg, consumed, ok, err := d.decode(frame)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, len(frame), consumed)
	require.Equal(t, KindSSLRequest, msg.Kind)
	require.True(t, msg.IsStartupLike())
	require.Equal(t, stateExpectStartup, d.state)

	// A real StartupMessage can still follow.
	payload2 := make([]byte, 4)
	binary.BigEndian.PutUint32(payload2, 196608)
	frame2 := encodeStartup(payload2)
	msg2, _, ok2, err2 := d.decode(frame2)
	require.NoError(t, err2)
	require.True(t, ok2)
	require.Equal(t, KindStartup, msg2.Kind)
}

func TestDecodeCancelRequestCarriesPayload(t *testing.T) {
	payload := make([]byte, 12)
	binary.BigEndian.PutUint32(payload[:4], constants.CancelRequestCode)
	binary.BigEndian.PutUint32(payload[4:8], 4242)
	binary.BigEndian.PutUint32(payload[8:12], 0xdeadbeef)
	frame := encodeStartup(payload)

	d := NewDecoder()
	msg, _, ok, err := d.decode(frame)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, KindCancelRequest, msg.Kind)
	require.Equal(t, payload[4:], msg.Payload)
}

func TestDecodeStartupIncompleteReturnsNotOk(t *testing.T) {
	frame := encodeStartup([]byte("partial"))
	d := NewDecoder()
	msg, consumed, ok, err := d.decode(frame[:3])
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, 0, consumed)
	require.Nil(t, msg)
}

func TestDecodeTypedMessageRoundTrip(t *testing.T) {
	d := &Decoder{state: stateExpectTyped}
	frame := encodeTyped('Q', []byte("SELECT 1"))

	msg, consumed, ok, err := d.decode(frame)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, len(frame), consumed)
	require.Equal(t, KindTyped, msg.Kind)
	require.Equal(t, byte('Q'), msg.Type)
	require.Equal(t, []byte("SELECT 1"), msg.Payload)
}

func TestDecodeTypedIncompleteReturnsNotOk(t *testing.T) {
	d := &Decoder{state: stateExpectTyped}
	frame := encodeTyped('Q', []byte("SELECT 1"))

	msg, consumed, ok, err := d.decode(frame[:len(frame)-2])
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, 0, consumed)
	require.Nil(t, msg)
}

func TestDecodeTypedRejectsShortLength(t *testing.T) {
	d := &Decoder{state: stateExpectTyped}
	frame := encodeTyped('Q', nil)
	binary.BigEndian.PutUint32(frame[1:5], 2)

	_, _, _, err := d.decode(frame)
	require.Error(t, err)
	require.True(t, walcore.IsCode(err, walcore.ErrCodeInvalidParams))
}

func TestDecodeStartupRejectsShortLength(t *testing.T) {
	d := NewDecoder()
	frame := make([]byte, 4)
	binary.BigEndian.PutUint32(frame, 3)

	_, _, _, err := d.decode(frame)
	require.Error(t, err)
	require.True(t, walcore.IsCode(err, walcore.ErrCodeInvalidParams))
}

func TestDecodeConsumesOnlyOneFrameAtATime(t *testing.T) {
	d := &Decoder{state: stateExpectTyped}
	first := encodeTyped('Q', []byte("one"))
	second := encodeTyped('Q', []byte("two"))
	buf := append(append([]byte{}, first...), second...)

	msg, consumed, ok, err := d.decode(buf)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, len(first), consumed)
	require.Equal(t, []byte("one"), msg.Payload)

	msg2, consumed2, ok2, err2 := d.decode(buf[consumed:])
	require.NoError(t, err2)
	require.True(t, ok2)
	require.Equal(t, len(second), consumed2)
	require.Equal(t, []byte("two"), msg2.Payload)
}
