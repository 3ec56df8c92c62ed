package pgframe

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"time"

	"github.com/neonlabs/walcore"
)

// deadlineSetter is implemented by net.Conn and similar stream types.
// Framed uses it to let a context deadline interrupt a blocked Read: Go
// has no way to drop an in-flight blocking syscall the way an async Rust
// future can simply be dropped mid-poll, so a deadline derived from ctx
// is this module's equivalent escape hatch. Bytes already pulled off the
// wire before a deadline fires stay in readBuf regardless - that part of
// cancellation-safety needs no special support, since the buffer is owned
// by Framed, not by the Read call.
type deadlineSetter interface {
	SetReadDeadline(t time.Time) error
}

// Framed wraps a raw byte stream with PGFRAME's buffered message framing.
type Framed struct {
	stream   io.ReadWriteCloser
	decoder  *Decoder
	readBuf  *growableBuffer
	writeBuf *growableBuffer
}

// New wraps stream in a Framed ready to read/write Postgres wire messages,
// starting in the pre-StartupMessage state.
func New(stream io.ReadWriteCloser) *Framed {
	return &Framed{
		stream:   stream,
		decoder:  NewDecoder(),
		readBuf:  newGrowableBuffer(),
		writeBuf: newGrowableBuffer(),
	}
}

// Stream returns the wrapped stream, for operations PGFRAME doesn't itself
// expose (setting socket options, inspecting the peer address, and so on).
func (f *Framed) Stream() io.ReadWriteCloser { return f.stream }

// IntoStream consumes f and returns its wrapped stream. Any bytes already
// buffered in f but not yet handed to a caller are discarded, so this is
// only safe to call when no partial frame is pending - typically right
// after ReadMessage returns a StartupMessage and before any typed frame
// has been read.
func (f *Framed) IntoStream() io.ReadWriteCloser {
	stream := f.stream
	f.stream = nil
	return stream
}

// MapStream replaces the wrapped stream by applying upgrade to it in
// place - used after a TLS upgrade following an SSLRequest reply, where
// the same logical connection continues over a new tls.Conn wrapping the
// original socket. Buffered bytes and decoder state carry over unchanged.
func (f *Framed) MapStream(upgrade func(io.ReadWriteCloser) (io.ReadWriteCloser, error)) error {
	next, err := upgrade(f.stream)
	if err != nil {
		return err
	}
	f.stream = next
	return nil
}

// ReadMessage blocks until a full message is available, ctx is done, or
// the stream reaches a clean end-of-stream on a frame boundary (nil, nil).
// A mid-frame end-of-stream, a malformed frame, or a stream failure comes
// back as a *ConnectionError distinguishing the two.
func (f *Framed) ReadMessage(ctx context.Context) (*Message, error) {
	return readMessage(ctx, f.stream, f.decoder, f.readBuf)
}

// WriteMessage appends a typed message to the internal write buffer
// without sending it; call Flush to write buffered messages to the
// stream. The startup frame is not produced here since PGFRAME is a
// server-side decoder; a client-role caller building a StartupMessage
// writes its own length-prefixed payload directly via the stream.
func (f *Framed) WriteMessage(typ byte, payload []byte) error {
	return writeMessage(f.writeBuf, typ, payload)
}

// Flush writes any buffered messages to the stream.
func (f *Framed) Flush() error {
	return flush(f.stream, f.writeBuf)
}

// Shutdown flushes any pending writes and closes the underlying stream.
func (f *Framed) Shutdown() error {
	if err := f.Flush(); err != nil {
		return err
	}
	return f.stream.Close()
}

// readMessage is the decode loop shared by Framed and ReaderHalf: try to
// decode a message out of buf's unread bytes, and if none is ready yet,
// pull more bytes off stream and retry.
func readMessage(ctx context.Context, stream io.Reader, decoder *Decoder, buf *growableBuffer) (*Message, error) {
	for {
		msg, consumed, ok, err := decoder.decode(buf.Bytes())
		if err != nil {
			return nil, ProtocolError(err)
		}
		if ok {
			buf.Next(consumed)
			return msg, nil
		}

		n, err := fillBuffer(ctx, stream, buf)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			if buf.Len() == 0 {
				return nil, nil
			}
			return nil, IOError(io.ErrUnexpectedEOF)
		}
	}
}

func fillBuffer(ctx context.Context, stream io.Reader, buf *growableBuffer) (int, error) {
	if dl, ok := ctx.Deadline(); ok {
		if setter, ok := stream.(deadlineSetter); ok {
			setter.SetReadDeadline(dl)
		}
	}

	scratch := getScratch()
	defer putScratch(scratch)

	n, err := stream.Read(*scratch)
	if n > 0 {
		buf.Write((*scratch)[:n])
	}
	if err != nil {
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if ctx.Err() != nil {
			return 0, IOError(ctx.Err())
		}
		return 0, IOError(err)
	}
	return n, nil
}

func writeMessage(buf *growableBuffer, typ byte, payload []byte) error {
	if uint64(len(payload)) > 1<<32-1-4 {
		return ProtocolError(walcore.NewError("write_message", walcore.ErrCodeFrameTooLarge, "message exceeds 4 GiB"))
	}
	var hdr [5]byte
	hdr[0] = typ
	binary.BigEndian.PutUint32(hdr[1:], uint32(len(payload)+4))
	buf.Write(hdr[:])
	buf.Write(payload)
	return nil
}

func flush(stream io.Writer, buf *growableBuffer) error {
	if buf.Len() == 0 {
		return nil
	}
	n, err := stream.Write(buf.Bytes())
	// Advance past exactly what made it onto the wire even on a partial,
	// erroring write, so a retried Flush never retransmits those bytes.
	buf.Next(n)
	if err != nil {
		return IOError(err)
	}
	return nil
}
