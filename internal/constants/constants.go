// Package constants holds the sizes, magic values, and timeouts shared
// between the SHMPIPE and PGFRAME cores.
package constants

import "time"

// Segment geometry. Field order and sizes are ABI-stable: both the
// coordinator and the WAL-redo worker must agree on them without
// re-negotiation, since they map the same shared-memory object.
const (
	// ToWorkerRingSize is the capacity of the request ring: 32 * 4KiB.
	ToWorkerRingSize = 32 * 4096

	// FromWorkerRingSize is the capacity of the response ring: 4 * 4KiB.
	FromWorkerRingSize = 4 * 4096

	// SegmentAlignment is the page alignment the whole segment is padded to.
	SegmentAlignment = 4096

	// MaxShmPathLen bounds the length of a shm_open path, not counting a
	// C NUL terminator.
	MaxShmPathLen = 254
)

// Segment lifecycle magic values (spec.md §3, §4.1).
const (
	MagicInitializing uint32 = 0x00000000
	MagicReady        uint32 = 0xcafebabe
	MagicTornDown     uint32 = 0xffffffff
)

// Startup-frame special codes (Postgres v3 wire format), used by the
// PGFRAME decoder to classify the startup frame without interpreting the
// rest of the payload.
const (
	SSLRequestCode    uint32 = 80877103
	CancelRequestCode uint32 = 80877102
)

// Timing: join polling and producer/consumer spin thresholds.
const (
	// JoinPollInterval is the sleep between magic polls in JoinInitializedAt.
	JoinPollInterval = time.Millisecond

	// JoinPollMaxAttempts bounds the poll loop to ~1s, per spec.md §4.1.
	JoinPollMaxAttempts = 1000

	// JoinMaxElapsed is JoinPollInterval*JoinPollMaxAttempts expressed as a
	// single duration, for the backoff-driven retry in JoinInitializedAt.
	JoinMaxElapsed = JoinPollInterval * JoinPollMaxAttempts

	// SpinYieldThreshold is the number of consecutive empty ring
	// push/pop iterations tolerated before yielding the OS thread,
	// matching the producer/consumer fast paths in spec.md §4.3/§4.4.
	SpinYieldThreshold = 1024

	// MaxParkedDistance is the cap on in-flight ticket distance tracked
	// by the ParkQueue; exceeding it indicates caller misuse (spec.md §9).
	MaxParkedDistance = 4096
)

// PGFRAME buffer sizing.
const (
	// InitialBufferCapacity is the starting size of Framed's read/write
	// buffers, matching the original implementation's BytesMut sizing.
	InitialBufferCapacity = 8 * 1024
)
