package pgframe

import (
	"context"
	"io"
)

// ReaderHalf is a Framed split down to just its read side, so one
// goroutine can block in ReadMessage while another independently writes
// through the matching WriterHalf - the split a connection's inbound
// dispatch loop and outbound write pump each want on their own goroutine.
type ReaderHalf struct {
	stream  io.Reader
	decoder *Decoder
	readBuf *growableBuffer
}

// WriterHalf is a Framed split down to just its write side.
type WriterHalf struct {
	stream   io.Writer
	writeBuf *growableBuffer
}

// Split divides f into independent reader and writer halves sharing the
// same underlying stream. f must not be used again afterward; reassemble
// it with Unsplit if a single Framed is needed again later.
func (f *Framed) Split() (*ReaderHalf, *WriterHalf) {
	r := &ReaderHalf{stream: f.stream, decoder: f.decoder, readBuf: f.readBuf}
	w := &WriterHalf{stream: f.stream, writeBuf: f.writeBuf}
	return r, w
}

// ReadMessage behaves like Framed.ReadMessage.
func (r *ReaderHalf) ReadMessage(ctx context.Context) (*Message, error) {
	return readMessage(ctx, r.stream, r.decoder, r.readBuf)
}

// WriteMessage behaves like Framed.WriteMessage.
func (w *WriterHalf) WriteMessage(typ byte, payload []byte) error {
	return writeMessage(w.writeBuf, typ, payload)
}

// Flush behaves like Framed.Flush.
func (w *WriterHalf) Flush() error {
	return flush(w.stream, w.writeBuf)
}

// Unsplit reassembles a Framed from a reader/writer pair produced by the
// same Split call, rewrapping them with stream for operations - Shutdown,
// MapStream - that need the full ReadWriteCloser. Passing halves from two
// different Split calls produces a Framed with inconsistent buffering and
// is a caller error, mirroring Framed::unsplit's contract in the original.
func Unsplit(r *ReaderHalf, w *WriterHalf, stream io.ReadWriteCloser) *Framed {
	return &Framed{
		stream:   stream,
		decoder:  r.decoder,
		readBuf:  r.readBuf,
		writeBuf: w.writeBuf,
	}
}
