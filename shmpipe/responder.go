package shmpipe

import (
	"io"
	"runtime"

	"github.com/neonlabs/walcore"
	"github.com/neonlabs/walcore/internal/constants"
	"github.com/neonlabs/walcore/internal/shmsync"
)

// Responder is the single-threaded worker side of SHMPIPE: the WAL-redo
// process calls ReadNextFrameLen, then Read/ReadExact to pull the
// request's payload, then WriteAll to send the response, in a loop. No
// method is safe for concurrent use - there is exactly one worker thread
// in this design, matching the original's single-threaded responder.
type Responder struct {
	seg            *Segment
	toWorker       *ring
	fromWorker     *ring
	wakeToWorker   *shmsync.Wakeup
	wakeFromWorker *shmsync.Wakeup

	frameActive bool   // a frame length has been read and not yet fully drained
	remaining   uint32 // unread bytes of the current request's payload
}

// NewResponder builds a Responder over a segment whose responder role has
// already been acquired via Segment.TryAcquireResponder. wakeToWorker and
// wakeFromWorker are the notification eventfds inherited from the
// requester process, conventionally at file descriptors 3 and 4 when
// spawned via exec.Cmd.ExtraFiles; see OpenViaEnv.
func NewResponder(seg *Segment, wakeToWorker, wakeFromWorker *shmsync.Wakeup) *Responder {
	toWorker, fromWorker := seg.rings()
	return &Responder{
		seg:            seg,
		toWorker:       toWorker,
		fromWorker:     fromWorker,
		wakeToWorker:   wakeToWorker,
		wakeFromWorker: wakeFromWorker,
	}
}

// ReadNextFrameLen blocks until a request frame's length header is
// available and returns its payload length, without consuming any payload
// bytes yet - those come from Read/ReadExact.
func (r *Responder) ReadNextFrameLen() (uint32, error) {
	if r.frameActive {
		return 0, walcore.NewError("read_next_frame_len", walcore.ErrCodeFrameInProgress, "previous frame not fully consumed")
	}

	var hdr [frameHeaderSize]byte
	if _, err := r.recv(hdr[:], frameHeaderSize-1, true); err != nil {
		return 0, err
	}
	n := decodeFrameHeader(hdr)
	r.remaining = n
	r.frameActive = true
	return n, nil
}

// Read copies up to len(p) bytes of the current request's remaining
// payload into p, blocking only until at least one byte is available (or
// the frame ends) rather than until p is full - an ordinary io.Reader
// short read, safe to call in a loop.
func (r *Responder) Read(p []byte) (int, error) {
	if !r.frameActive {
		return 0, walcore.NewError("read", walcore.ErrCodeInvalidParams, "no frame in progress")
	}
	if r.remaining == 0 {
		r.frameActive = false
		return 0, io.EOF
	}
	if uint32(len(p)) > r.remaining {
		p = p[:r.remaining]
	}
	if len(p) == 0 {
		return 0, nil
	}

	n, err := r.recv(p, 0, false)
	if err != nil {
		return 0, err
	}
	r.remaining -= uint32(n)
	if r.remaining == 0 {
		r.frameActive = false
	}
	return n, nil
}

// ReadExact fills p entirely from the current request's remaining payload,
// returning io.ErrUnexpectedEOF if fewer bytes remain than len(p).
func (r *Responder) ReadExact(p []byte) error {
	if !r.frameActive {
		return walcore.NewError("read_exact", walcore.ErrCodeInvalidParams, "no frame in progress")
	}
	if uint32(len(p)) > r.remaining {
		return io.ErrUnexpectedEOF
	}
	if len(p) == 0 {
		return nil
	}

	n, err := r.recv(p, len(p)-1, false)
	if err != nil {
		return err
	}
	r.remaining -= uint32(n)
	if r.remaining == 0 {
		r.frameActive = false
	}
	if n < len(p) {
		return io.ErrUnexpectedEOF
	}
	return nil
}

// recv pops bytes from the to-worker ring into buf until more than
// readMoreThan bytes have accumulated, returning the count actually read
// (which can be less than len(buf) when readMoreThan is below
// len(buf)-1). canWait gates
// whether, the first time the ring runs dry, it's safe to block on the
// request-written eventfd rather than spin: blocking is only safe while
// to_worker_waiters reads zero, meaning no requester goroutine is
// mid-publish that a blocking wait here could otherwise miss a wakeup
// from.
func (r *Responder) recv(buf []byte, readMoreThan int, canWait bool) (int, error) {
	read := 0
	waited := false
	var loops uint64
	for {
		n := r.toWorker.pop(buf[read:])
		read += int(n)
		r.toWorker.release()
		if read > readMoreThan {
			r.seg.addRecvLoops(loops)
			return read, nil
		}
		if n != 0 {
			continue
		}
		if !waited && canWait {
			for !r.seg.toWorkerWaiting() {
				if err := r.wakeToWorker.Wait(); err != nil {
					return read, err
				}
			}
			waited = true
			continue
		}
		loops++
		if loops%constants.SpinYieldThreshold == 0 {
			runtime.Gosched()
		}
	}
}

// WriteAll pushes a full, length-prefixed response frame onto the
// from-worker ring, posting the response-written eventfd on the very
// first push attempt - before the frame may even be half written - so the
// requester can start draining a response as large as the ring itself
// concurrently instead of deadlocking waiting for a publish that can never
// come all at once.
func (r *Responder) WriteAll(payload []byte) error {
	hdr := encodeFrameHeader(uint32(len(payload)))

	var loops uint64
	posted := false

	push := func(p []byte) error {
		for len(p) > 0 {
			n := r.fromWorker.push(p)
			p = p[n:]
			r.fromWorker.publish()
			if !posted {
				posted = true
				if err := r.wakeFromWorker.Post(); err != nil {
					return err
				}
			}
			if n == 0 {
				loops++
				if loops%constants.SpinYieldThreshold == 0 {
					runtime.Gosched()
				}
			}
		}
		return nil
	}

	if err := push(hdr[:]); err != nil {
		return err
	}
	if err := push(payload); err != nil {
		return err
	}

	r.seg.addWriteLoops(loops)
	// The response is now fully published: whichever requester goroutine
	// was mid-send for this request is done publishing, so it no longer
	// needs to be accounted for by the next ReadNextFrameLen's wait gate.
	r.seg.clearToWorkerWaiting()
	return nil
}
