package pgframe

import (
	"bytes"
	"sync"

	"github.com/neonlabs/walcore/internal/constants"
)

// scratchPool hands out reusable read-scratch buffers sized for a single
// network read, the Go idiom for the hot-path allocation most direct
// equivalents of Rust's BytesMut::with_capacity reuse is meant to avoid.
// bytes.Buffer itself, not a pooled ring or arena, is the buffer type for
// Framed's read/write buffers - it already does what BytesMut does here
// (grow on demand, consume a prefix cheaply via Next), and nothing in the
// example pack offers a better-suited growable byte buffer for this job.
var scratchPool = sync.Pool{
	New: func() any {
		b := make([]byte, constants.InitialBufferCapacity)
		return &b
	},
}

// getScratch borrows a read-scratch buffer; callers must putScratch it
// back when done.
func getScratch() *[]byte {
	return scratchPool.Get().(*[]byte)
}

func putScratch(b *[]byte) {
	scratchPool.Put(b)
}

// growableBuffer is bytes.Buffer under its own name so the rest of the
// package reads in terms of what it's used for (a growable frame
// accumulator) rather than the stdlib type that happens to implement it.
type growableBuffer = bytes.Buffer

// newGrowableBuffer returns a buffer pre-sized the way the original sized
// its BytesMut buffers, to avoid repeated reallocation during the first
// few frames of a connection.
func newGrowableBuffer() *growableBuffer {
	return bytes.NewBuffer(make([]byte, 0, constants.InitialBufferCapacity))
}
