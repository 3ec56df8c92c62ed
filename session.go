package walcore

import (
	"context"
	"fmt"
	"time"

	"github.com/neonlabs/walcore/internal/logging"
	"github.com/neonlabs/walcore/internal/shmsync"
	"github.com/neonlabs/walcore/shmpipe"
)

// Session is the coordinator-side handle for a SHMPIPE pipe: it owns
// segment creation, requester-role acquisition, and the two notification
// eventfds a worker subprocess needs, and tears all three down together.
// It is the coordinator-facing equivalent of spawning and owning a
// WAL-redo worker process.
type Session struct {
	seg            *shmpipe.Segment
	requester      *shmpipe.Requester
	wakeToWorker   *shmsync.Wakeup
	wakeFromWorker *shmsync.Wakeup
	path           string
	metrics        *RequestMetrics
}

// SessionParams configures a new Session.
type SessionParams struct {
	// Path is the shm_open-style name for the segment (must start with
	// '/'). Callers spawning one worker per tenant typically derive this
	// from shmpipe.TenantSegmentPath.
	Path string
}

// OpenSession creates a new SHMPIPE segment, finalizes it, and acquires
// the requester role for the calling process. The returned Session's
// SharedFDs must be passed to the worker subprocess via exec.Cmd.ExtraFiles
// before it is spawned.
func OpenSession(params SessionParams) (*Session, error) {
	seg, err := shmpipe.Create(params.Path)
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}

	wakeToWorker, err := shmsync.NewWakeup()
	if err != nil {
		seg.Close()
		seg.Unlink()
		return nil, fmt.Errorf("open session: %w", err)
	}
	wakeFromWorker, err := shmsync.NewWakeup()
	if err != nil {
		wakeToWorker.Close()
		seg.Close()
		seg.Unlink()
		return nil, fmt.Errorf("open session: %w", err)
	}

	ok, _, err := seg.TryAcquireRequester()
	if err != nil || !ok {
		wakeToWorker.Close()
		wakeFromWorker.Close()
		seg.Close()
		seg.Unlink()
		if err != nil {
			return nil, fmt.Errorf("open session: %w", err)
		}
		return nil, NewError("open_session", ErrCodeWouldBlock, "requester role already held")
	}

	if err := seg.Finalize(); err != nil {
		wakeToWorker.Close()
		wakeFromWorker.Close()
		seg.Close()
		seg.Unlink()
		return nil, fmt.Errorf("open session: %w", err)
	}

	logging.Info("session opened", "path", params.Path)

	return &Session{
		seg:            seg,
		requester:      shmpipe.NewRequester(seg, wakeToWorker, wakeFromWorker),
		wakeToWorker:   wakeToWorker,
		wakeFromWorker: wakeFromWorker,
		path:           params.Path,
		metrics:        NewRequestMetrics(),
	}, nil
}

// SharedFDs returns the two notification eventfds, in the fixed order a
// worker subprocess reads them back via exec.Cmd.ExtraFiles.
func (s *Session) SharedFDs() [2]int {
	return s.requester.SharedFDs()
}

// RequestResponse sends req to the worker and blocks for the matching
// response, or until ctx is done, recording the round trip's latency into
// the session's RequestMetrics regardless of outcome.
func (s *Session) RequestResponse(ctx context.Context, req []byte) ([]byte, error) {
	start := time.Now()
	resp, err := s.requester.RequestResponse(ctx, req)
	s.metrics.RecordRequest(uint64(time.Since(start).Nanoseconds()), err == nil)
	return resp, err
}

// Metrics returns the session's request/response latency metrics.
func (s *Session) Metrics() *RequestMetrics {
	return s.metrics
}

// DumpLoops reads (and, if reset, zeroes) the session's diagnostic
// counters.
func (s *Session) DumpLoops(reset bool) (requests, sendReqLoops, recvReqLoops, recvLoops, writeLoops uint64) {
	return s.requester.DumpLoops(reset)
}

// Close tears down the segment (marking it torn down so a worker still
// polling JoinInitializedAt gets a clean error rather than hanging),
// closes this side's eventfds, unmaps the segment, and unlinks its
// shm_open name. Close does not wait for the worker process to exit;
// that's the caller's responsibility once it owns the worker's *os.Process.
func (s *Session) Close() error {
	s.metrics.Stop()
	s.seg.TearDown()
	s.wakeToWorker.Close()
	s.wakeFromWorker.Close()
	if err := s.seg.Close(); err != nil {
		return err
	}
	if err := s.seg.Unlink(); err != nil {
		return err
	}
	logging.Info("session closed", "path", s.path)
	return nil
}
