package shmpipe

import (
	"context"
	"runtime"
	"sync"

	"github.com/neonlabs/walcore"
	"github.com/neonlabs/walcore/internal/constants"
	"github.com/neonlabs/walcore/internal/shmsync"
	"github.com/neonlabs/walcore/internal/telemetry"
)

// Requester is the coordinator side of SHMPIPE. It is safe for concurrent
// use by many goroutines: RequestResponse serializes writes onto the
// to-worker ring under a producer lock that also mints the caller's
// ticket, then waits for the matching response, with a ParkQueue ensuring
// responses are handed back to callers in the same order the worker
// answered them (which is always the order requests were sent, since the
// worker is single-threaded and answers strictly FIFO).
type Requester struct {
	seg            *Segment
	toWorker       *ring
	fromWorker     *ring
	wakeToWorker   *shmsync.Wakeup
	wakeFromWorker *shmsync.Wakeup

	producerMu sync.Mutex
	tickets    ticketSource
	parkQueue  *shmsync.ParkQueue

	stats *telemetry.SegmentStats
}

// NewRequester builds a Requester over a segment whose requester role has
// already been acquired via Segment.TryAcquireRequester. wakeToWorker and
// wakeFromWorker are the eventfds shared with the responder process -
// typically created by this side and handed to the worker via
// exec.Cmd.ExtraFiles when it is spawned; see Requester.SharedFDs.
func NewRequester(seg *Segment, wakeToWorker, wakeFromWorker *shmsync.Wakeup) *Requester {
	toWorker, fromWorker := seg.rings()
	return &Requester{
		seg:            seg,
		toWorker:       toWorker,
		fromWorker:     fromWorker,
		wakeToWorker:   wakeToWorker,
		wakeFromWorker: wakeFromWorker,
		parkQueue:      shmsync.NewParkQueue(),
		stats:          telemetry.NewSegmentStats(seg.path),
	}
}

// RequestResponse sends req and blocks until the matching response has
// arrived, or ctx is done first.
func (rq *Requester) RequestResponse(ctx context.Context, req []byte) ([]byte, error) {
	ticket, err := rq.sendRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	return rq.recvResponse(ctx, ticket)
}

// sendRequest mints a ticket and pushes req onto the to-worker ring,
// spinning briefly before yielding the goroutine if the ring is full.
func (rq *Requester) sendRequest(ctx context.Context, req []byte) (uint32, error) {
	if uint64(len(req)) > maxFramePayload {
		return 0, walcore.NewError("send_request", walcore.ErrCodeFrameTooLarge, "request exceeds 4 GiB")
	}

	rq.producerMu.Lock()
	defer rq.producerMu.Unlock()

	// Recorded before the ticket is even minted: as soon as this goroutine
	// holds the producer lock it's the only one that can be mid-publish,
	// so whether the responder might be asleep waiting for this request is
	// decided right here.
	mightWait := rq.seg.markToWorkerWaiting()

	ticket := rq.tickets.take()
	rq.parkQueue.StoreCurrent(ticket)
	if front, ok := rq.parkQueue.Front(); ok && ticketDistance(ticket, front) > constants.MaxParkedDistance {
		rq.parkQueue.PopCurrent(ticket)
		return 0, walcore.NewError("send_request", walcore.ErrCodeInvalidParams, "too many in-flight requests")
	}

	var loops uint64

	// send pushes all of p onto the to-worker ring, publishing (and
	// posting the wakeup, once, the first time the ring runs dry) so the
	// responder can start draining before the whole request has arrived -
	// the only way a request larger than the ring itself can ever be
	// delivered.
	send := func(p []byte) error {
		for len(p) > 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
			n := rq.toWorker.push(p)
			p = p[n:]
			if n != 0 {
				continue
			}
			rq.toWorker.publish()
			if mightWait {
				if err := rq.wakeToWorker.Post(); err != nil {
					return err
				}
				mightWait = false
			}
			loops++
			if loops%constants.SpinYieldThreshold == 0 {
				runtime.Gosched()
			}
		}
		return nil
	}

	hdr := encodeFrameHeader(uint32(len(req)))
	if err := send(hdr[:]); err != nil {
		rq.parkQueue.PopCurrent(ticket)
		return 0, err
	}
	if err := send(req); err != nil {
		rq.parkQueue.PopCurrent(ticket)
		return 0, err
	}
	rq.toWorker.publish()

	// The whole request may have fit without the ring ever running dry, in
	// which case send never posted - do it now so the responder wakes up
	// at all.
	if mightWait {
		if err := rq.wakeToWorker.Post(); err != nil {
			return 0, err
		}
	}

	rq.seg.addSendRequestLoops(loops)
	return ticket, nil
}

// recvResponse waits until ticket is at the front of the park queue - so
// this goroutine is the only one reading the from-worker ring - then pulls
// the matching frame off it, one partial pop at a time since the
// responder may still be mid-publish on a response larger than the ring.
func (rq *Requester) recvResponse(ctx context.Context, ticket uint32) ([]byte, error) {
	defer rq.parkQueue.PopCurrent(ticket)

	if !rq.parkQueue.CurrentIsFront(ticket) {
		if !rq.parkQueue.ParkWhile(ticket, ctx.Done()) {
			return nil, ctx.Err()
		}
	}

	var hdr [frameHeaderSize]byte
	hdrLoops, err := rq.pullFromWorker(ctx, hdr[:])
	if err != nil {
		return nil, err
	}
	n := decodeFrameHeader(hdr)

	payload := make([]byte, n)
	payloadLoops, err := rq.pullFromWorker(ctx, payload)
	if err != nil {
		return nil, err
	}

	rq.seg.addReceiveRequestLoops(hdrLoops + payloadLoops)
	rq.seg.addRequests(1)
	return payload, nil
}

// pullFromWorker pops exactly len(buf) bytes from the from-worker ring
// into buf, releasing after every partial pop so the responder's producer
// never stalls waiting for a consumer that has already seen its bytes.
func (rq *Requester) pullFromWorker(ctx context.Context, buf []byte) (loops uint64, err error) {
	read := 0
	for read < len(buf) {
		if err := ctx.Err(); err != nil {
			return loops, err
		}
		n := rq.fromWorker.pop(buf[read:])
		read += int(n)
		rq.fromWorker.release()
		if n != 0 {
			continue
		}
		loops++
		if loops%constants.SpinYieldThreshold == 0 {
			if err := rq.wakeFromWorker.Wait(); err != nil {
				return loops, err
			}
		}
	}
	return loops, nil
}

// DumpLoops reads the segment's diagnostic counters, mirroring them into
// the requester's prometheus-backed SegmentStats. reset zeroes the
// in-segment counters as they're read so consecutive scrapes see deltas.
func (rq *Requester) DumpLoops(reset bool) (requests, sendReqLoops, recvReqLoops, recvLoops, writeLoops uint64) {
	requests, sendReqLoops, recvReqLoops, recvLoops, writeLoops = rq.seg.DumpLoops(reset)
	rq.stats.Add(requests, sendReqLoops, recvReqLoops, recvLoops, writeLoops)
	return
}

// SharedFDs returns the notification eventfds in the fixed order a newly
// spawned responder process expects them via exec.Cmd.ExtraFiles: the
// to-worker wakeup first, then the from-worker wakeup.
func (rq *Requester) SharedFDs() [2]int {
	return [2]int{rq.wakeToWorker.FD(), rq.wakeFromWorker.FD()}
}
