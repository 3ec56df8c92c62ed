package shmpipe

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrameHeaderRoundTrip(t *testing.T) {
	hdr := encodeFrameHeader(1234)
	require.Equal(t, uint32(1234), decodeFrameHeader(hdr))
}

func TestFrameHeaderRoundTripThroughRing(t *testing.T) {
	r := newTestRing(64)

	hdr := encodeFrameHeader(4)
	require.Equal(t, uint32(frameHeaderSize), r.push(hdr[:]))
	require.Equal(t, uint32(4), r.push([]byte("ping")))
	r.publish()

	var gotHdr [frameHeaderSize]byte
	require.Equal(t, uint32(frameHeaderSize), r.pop(gotHdr[:]))
	n := decodeFrameHeader(gotHdr)
	require.Equal(t, uint32(4), n)

	payload := make([]byte, n)
	require.Equal(t, n, r.pop(payload))
	r.release()
	require.Equal(t, "ping", string(payload))
}
