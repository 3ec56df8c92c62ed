package walcore

import (
	"sync"

	"github.com/neonlabs/walcore/internal/shmsync"
	"github.com/neonlabs/walcore/shmpipe"
)

// RequestHandler computes a response for one request payload. It runs on
// MockWorker's single responder goroutine, matching the real WAL-redo
// worker's single-threaded responder contract.
type RequestHandler func(request []byte) ([]byte, error)

// MockWorker is a same-process stand-in for a WAL-redo worker subprocess,
// useful for exercising a Session without actually forking and execing a
// worker. It acquires the responder role on an already-created segment and
// runs handler in a loop until Stop is called.
type MockWorker struct {
	responder *shmpipe.Responder
	handler   RequestHandler

	mu       sync.Mutex
	requests int
	errors   int
	stopped  bool
	done     chan struct{}
}

// NewMockWorker acquires the responder role on seg and returns a MockWorker
// ready to Serve. wakeToWorker/wakeFromWorker must be the same eventfd pair
// the Session handed out via SharedFDs.
func NewMockWorker(seg *shmpipe.Segment, wakeToWorker, wakeFromWorker *shmsync.Wakeup, handler RequestHandler) (*MockWorker, error) {
	ok, _, err := seg.TryAcquireResponder()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, NewError("new_mock_worker", ErrCodeWouldBlock, "responder role already held")
	}
	return &MockWorker{
		responder: shmpipe.NewResponder(seg, wakeToWorker, wakeFromWorker),
		handler:   handler,
		done:      make(chan struct{}),
	}, nil
}

// Serve runs the request/response loop until Stop is called or the
// responder returns an error (typically because the segment was torn
// down), and blocks until the loop exits. Call it from its own goroutine.
func (w *MockWorker) Serve() error {
	defer close(w.done)
	for {
		n, err := w.responder.ReadNextFrameLen()
		if err != nil {
			return err
		}
		req := make([]byte, n)
		if err := w.responder.ReadExact(req); err != nil {
			return err
		}

		resp, err := w.handler(req)
		w.mu.Lock()
		w.requests++
		if err != nil {
			w.errors++
		}
		stopped := w.stopped
		w.mu.Unlock()
		if stopped {
			return nil
		}
		if err != nil {
			return err
		}

		if err := w.responder.WriteAll(resp); err != nil {
			return err
		}
	}
}

// Stop marks the worker to exit after its current handler call returns.
// It does not interrupt a handler or a blocked ReadNextFrameLen; callers
// that need an immediate stop should tear down the segment instead.
func (w *MockWorker) Stop() {
	w.mu.Lock()
	w.stopped = true
	w.mu.Unlock()
}

// Done returns a channel closed once Serve has returned.
func (w *MockWorker) Done() <-chan struct{} {
	return w.done
}

// Counts returns the number of requests handled and how many returned an
// error from handler, for test assertions.
func (w *MockWorker) Counts() (requests, errors int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.requests, w.errors
}
