package shmpipe

import "encoding/binary"

// frameHeaderSize is the width of a frame's length prefix. The length is
// host-endian, not network-endian: both sides of a segment are always the
// same machine, running binaries built from the same module, so there is
// no wire-compatibility reason to pay for byte-swapping.
const frameHeaderSize = 4

// maxFramePayload is the largest payload a single frame's 4-byte length
// prefix can describe.
const maxFramePayload = 1<<32 - 1 - frameHeaderSize

// encodeFrameHeader renders a payload length as a frame's length prefix.
func encodeFrameHeader(n uint32) [frameHeaderSize]byte {
	var hdr [frameHeaderSize]byte
	binary.NativeEndian.PutUint32(hdr[:], n)
	return hdr
}

// decodeFrameHeader recovers a payload length from a frame's length prefix.
func decodeFrameHeader(hdr [frameHeaderSize]byte) uint32 {
	return binary.NativeEndian.Uint32(hdr[:])
}
