package shmpipe

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"unsafe"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sys/unix"

	"github.com/neonlabs/walcore"
	"github.com/neonlabs/walcore/internal/constants"
	"github.com/neonlabs/walcore/internal/logging"
	"github.com/neonlabs/walcore/internal/shmsync"
)

// errNotReadyYet is backoff.Retry's signal to try again; it never escapes
// JoinInitializedAt.
var errNotReadyYet = errors.New("shmpipe: segment not ready yet")

// segmentLayout is the exact byte layout of the shared memory region.
// Both sides of a pipe map the same region using this same struct, built
// from the same compiled module, so field order and size here are
// load-bearing ABI: every field is a fixed-size primitive or byte array,
// never a pointer, slice, or anything else whose representation could
// legitimately differ between two mappings of the same bytes.
type segmentLayout struct {
	magic uint32
	_pad0 [4]byte

	// Diagnostics only (spec'd as scrape-only); never read for control flow.
	requests            uint64
	sendRequestLoops    uint64
	receiveRequestLoops uint64
	recvLoops           uint64
	writeLoops          uint64

	requesterPID int32
	responderPID int32

	// toWorkerWaiters counts requests from the moment their producer starts
	// pushing into toWorkerBuf until the responder has written their
	// response. The responder's recv loop only blocks on the
	// request-written eventfd while this is zero - a nonzero count means a
	// request is being published or already sits in the ring, and will be
	// observed by spinning instead, without risking a missed wakeup.
	toWorkerWaiters uint32
	_pad1           [4]byte

	requesterMutex [shmsync.MutexSize]byte
	responderMutex [shmsync.MutexSize]byte

	toWorkerHead uint32
	toWorkerTail uint32

	fromWorkerHead uint32
	fromWorkerTail uint32

	toWorkerBuf   [constants.ToWorkerRingSize]byte
	fromWorkerBuf [constants.FromWorkerRingSize]byte
}

const segmentSize = int(unsafe.Sizeof(segmentLayout{}))

// Segment is a mapped SHMPIPE shared memory region, before either
// participant role has been acquired.
type Segment struct {
	path string
	data []byte
	raw  *segmentLayout

	requesterMu *shmsync.RobustMutex
	responderMu *shmsync.RobustMutex
}

func rawSegmentAt(data []byte) *segmentLayout {
	return (*segmentLayout)(unsafe.Pointer(&data[0]))
}

func (s *Segment) magicPtr() *uint32 { return &s.raw.magic }

func (s *Segment) loadMagic() uint32  { return atomic.LoadUint32(s.magicPtr()) }
func (s *Segment) storeMagic(v uint32) { atomic.StoreUint32(s.magicPtr(), v) }

// shmOpen mimics glibc's shm_open, which on Linux is nothing more than
// open() against the tmpfs mounted at /dev/shm; there is no raw
// shm_open(2) syscall to call directly, and pulling in the C library just
// for this one call isn't worth it when we already use cgo for the robust
// mutex.
func shmOpen(name string, flags int, mode uint32) (int, error) {
	if len(name) == 0 || name[0] != '/' {
		return -1, walcore.NewError("shm_open", walcore.ErrCodeInvalidParams, "name must begin with '/'")
	}
	if len(name) > constants.MaxShmPathLen {
		return -1, walcore.NewError("shm_open", walcore.ErrCodeInvalidParams, "name too long")
	}
	return unix.Open("/dev/shm"+name, flags, mode)
}

func shmUnlink(name string) error {
	return unix.Unlink("/dev/shm" + name)
}

func mapSegment(path string, fd int) (*Segment, error) {
	data, err := unix.Mmap(fd, 0, segmentSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	unix.Close(fd)
	if err != nil {
		return nil, walcore.WrapError("mmap", err)
	}
	raw := rawSegmentAt(data)
	seg := &Segment{
		path: path,
		data: data,
		raw:  raw,
	}
	seg.requesterMu = shmsync.OpenRobustMutexAt(unsafe.Pointer(&raw.requesterMutex[0]))
	seg.responderMu = shmsync.OpenRobustMutexAt(unsafe.Pointer(&raw.responderMutex[0]))
	return seg, nil
}

// Create allocates and maps a brand new SHMPIPE segment at path (a
// shm_open-style name beginning with '/'), in the MagicInitializing state
// until Finalize is called once rings and mutexes are set up.
func Create(path string) (*Segment, error) {
	fd, err := shmOpen(path, os.O_RDWR|os.O_CREAT|os.O_EXCL, 0o600)
	if err != nil {
		return nil, walcore.WrapError("create", err)
	}
	if err := unix.Ftruncate(fd, int64(segmentSize)); err != nil {
		unix.Close(fd)
		shmUnlink(path)
		return nil, walcore.WrapError("create", err)
	}
	seg, err := mapSegment(path, fd)
	if err != nil {
		shmUnlink(path)
		return nil, err
	}
	seg.storeMagic(constants.MagicInitializing)

	if _, err := shmsync.NewRobustMutexAt(unsafe.Pointer(&seg.raw.requesterMutex[0])); err != nil {
		return nil, walcore.WrapError("create", err)
	}
	if _, err := shmsync.NewRobustMutexAt(unsafe.Pointer(&seg.raw.responderMutex[0])); err != nil {
		return nil, walcore.WrapError("create", err)
	}

	return seg, nil
}

// Finalize transitions the segment from initializing to ready. Callers
// must have finished any one-time setup (mutex initialization happens
// inside Create already) before calling this; it is a one-way transition
// that the other side polls for in JoinInitializedAt.
func (s *Segment) Finalize() error {
	if !atomic.CompareAndSwapUint32(s.magicPtr(), constants.MagicInitializing, constants.MagicReady) {
		return walcore.NewError("finalize", walcore.ErrCodeInvalidMagic, "segment was not in the initializing state")
	}
	return nil
}

// JoinInitializedAt opens an existing segment at path and blocks, polling,
// until its creator calls Finalize or the join times out.
func JoinInitializedAt(path string) (*Segment, error) {
	seg, err := OpenExisting(path)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), constants.JoinMaxElapsed)
	defer cancel()

	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		switch seg.loadMagic() {
		case constants.MagicReady:
			return struct{}{}, nil
		case constants.MagicTornDown:
			return struct{}{}, backoff.Permanent(walcore.NewError("join_initialized_at", walcore.ErrCodeTornDown, "segment was torn down before it became ready"))
		default:
			return struct{}{}, errNotReadyYet
		}
	}, backoff.WithBackOff(backoff.NewConstantBackOff(constants.JoinPollInterval)))

	if err == nil {
		return seg, nil
	}
	if walcore.IsCode(err, walcore.ErrCodeTornDown) {
		return nil, err
	}
	return nil, walcore.NewError("join_initialized_at", walcore.ErrCodeInitTimeout, fmt.Sprintf("segment %s not ready within %s", path, constants.JoinMaxElapsed))
}

// OpenExisting maps a segment that some other process has already
// created, without waiting for it to become ready.
func OpenExisting(path string) (*Segment, error) {
	fd, err := shmOpen(path, os.O_RDWR, 0)
	if err != nil {
		return nil, walcore.WrapError("open_existing", err)
	}
	return mapSegment(path, fd)
}

// TearDown marks the segment as permanently torn down. This is a one-way
// transition: a torn-down segment can never return to ready.
func (s *Segment) TearDown() {
	s.storeMagic(constants.MagicTornDown)
}

// Close unmaps the segment's memory. It does not unlink the shm_open
// name; callers that created the segment and want to remove it from
// /dev/shm call Unlink separately, since responsibility for the backing
// name's lifetime is a deployment decision, not this package's.
func (s *Segment) Close() error {
	return unix.Munmap(s.data)
}

// Unlink removes the segment's shm_open name so no new process can join
// it. Existing mappings (including this one, until Close) remain valid.
func (s *Segment) Unlink() error {
	return shmUnlink(s.path)
}

// acquireParticipant claims a participant role by locking its robust
// mutex. The mutex is never unlocked for the life of the process: holding
// it for as long as the process runs is what makes the slot exclusive,
// and a robust mutex's previous-owner-died outcome is what lets a
// successor process reclaim the role automatically if the old holder
// crashed mid-session, without any liveness probe of its own.
func acquireParticipant(mu *shmsync.RobustMutex, pidSlot *int32) (bool, shmsync.TryLockResult, error) {
	result, err := mu.TryLock()
	if err != nil {
		return false, result, err
	}
	if result == shmsync.TryLockWouldBlock {
		probeHolderLiveness(atomic.LoadInt32(pidSlot))
		return false, result, nil
	}
	atomic.StoreInt32(pidSlot, int32(os.Getpid()))
	return true, result, nil
}

// probeHolderLiveness is diagnostics only: it never changes a TryLock
// outcome, since the robust mutex itself is authoritative on whether the
// previous holder is gone. A pid that looks dead despite the mutex not
// reporting owner-died is still logged, since it can mean the holder
// process is merely wedged (stopped, blocked in an uninterruptible
// syscall) rather than actually exited.
func probeHolderLiveness(pid int32) {
	if pid == 0 {
		return
	}
	if err := unix.Kill(int(pid), 0); err != nil {
		logging.Warn("shmpipe: participant slot held by unresponsive pid", "pid", pid, "probe_err", err)
	}
}

// TryAcquireRequester claims the requester role for the calling process.
// ok is false only if another live process already holds it; a true
// result alongside TryLockPreviousOwnerDied means a prior requester
// process died mid-session and this caller inherited its slot.
func (s *Segment) TryAcquireRequester() (ok bool, dirty shmsync.TryLockResult, err error) {
	// Re-entry: this process already holds the requester role.
	if atomic.LoadInt32(&s.raw.requesterPID) == int32(os.Getpid()) {
		return true, shmsync.TryLockAcquired, nil
	}
	return acquireParticipant(s.requesterMu, &s.raw.requesterPID)
}

// TryAcquireResponder claims the responder role for the calling process.
func (s *Segment) TryAcquireResponder() (ok bool, dirty shmsync.TryLockResult, err error) {
	return acquireParticipant(s.responderMu, &s.raw.responderPID)
}

// rings builds the to-worker and from-worker ring views over this
// segment's embedded buffers. Safe to call from both the requester and
// responder sides; the ring type itself enforces single-producer
// single-consumer usage by convention, not by locking.
func (s *Segment) rings() (toWorker, fromWorker *ring) {
	toWorker = newRing(s.raw.toWorkerBuf[:], &s.raw.toWorkerHead, &s.raw.toWorkerTail)
	fromWorker = newRing(s.raw.fromWorkerBuf[:], &s.raw.fromWorkerHead, &s.raw.fromWorkerTail)
	return toWorker, fromWorker
}

// DumpLoops reads the diagnostic loop/request counters, mirroring the
// original's dump_loops. When reset is true the counters are zeroed as
// they're read, so repeated scrapes report deltas rather than
// ever-growing totals; when false it's a non-destructive peek.
func (s *Segment) DumpLoops(reset bool) (requests, sendReqLoops, recvReqLoops, recvLoops, writeLoops uint64) {
	if reset {
		requests = atomic.SwapUint64(&s.raw.requests, 0)
		sendReqLoops = atomic.SwapUint64(&s.raw.sendRequestLoops, 0)
		recvReqLoops = atomic.SwapUint64(&s.raw.receiveRequestLoops, 0)
		recvLoops = atomic.SwapUint64(&s.raw.recvLoops, 0)
		writeLoops = atomic.SwapUint64(&s.raw.writeLoops, 0)
		return
	}
	requests = atomic.LoadUint64(&s.raw.requests)
	sendReqLoops = atomic.LoadUint64(&s.raw.sendRequestLoops)
	recvReqLoops = atomic.LoadUint64(&s.raw.receiveRequestLoops)
	recvLoops = atomic.LoadUint64(&s.raw.recvLoops)
	writeLoops = atomic.LoadUint64(&s.raw.writeLoops)
	return
}

func (s *Segment) addRequests(n uint64)            { atomic.AddUint64(&s.raw.requests, n) }
func (s *Segment) addSendRequestLoops(n uint64)    { atomic.AddUint64(&s.raw.sendRequestLoops, n) }
func (s *Segment) addReceiveRequestLoops(n uint64) { atomic.AddUint64(&s.raw.receiveRequestLoops, n) }
func (s *Segment) addRecvLoops(n uint64)           { atomic.AddUint64(&s.raw.recvLoops, n) }
func (s *Segment) addWriteLoops(n uint64)          { atomic.AddUint64(&s.raw.writeLoops, n) }

// markToWorkerWaiting records one more goroutine about to start pushing a
// request onto the to-worker ring, returning whether it is the first one -
// i.e. whether the responder might currently be asleep on the
// request-written eventfd and needs posting to once this request starts
// landing.
func (s *Segment) markToWorkerWaiting() (firstWaiter bool) {
	return atomic.AddUint32(&s.raw.toWorkerWaiters, 1) == 1
}

// clearToWorkerWaiting records that a request's full response has been
// written back, meaning its producer is no longer mid-publish.
func (s *Segment) clearToWorkerWaiting() {
	atomic.AddUint32(&s.raw.toWorkerWaiters, ^uint32(0))
}

// toWorkerWaiting reports whether any request has started its push into
// the to-worker ring and not yet had its response written back.
func (s *Segment) toWorkerWaiting() bool {
	return atomic.LoadUint32(&s.raw.toWorkerWaiters) != 0
}
