package shmpipe

import "sync/atomic"

// ticketSource mints monotonically increasing, wrapping request tickets.
// Tickets are taken under the same producer lock that serializes writes
// to the to-worker ring, so ticket order always matches request order,
// which in turn matches response order since the worker answers requests
// strictly FIFO.
type ticketSource struct {
	next uint32
}

func (t *ticketSource) take() uint32 {
	return atomic.AddUint32(&t.next, 1) - 1
}

// ticketDistance returns how many tickets ahead a is of b, correctly
// handling uint32 wraparound: a caller waiting on ticket a knows it is
// "next" once ticketDistance(a, nextDue) == 0.
func ticketDistance(a, b uint32) uint32 {
	return a - b
}
