package walcore

import "github.com/neonlabs/walcore/internal/constants"

// Re-exported segment and framing constants, for callers that want to size
// buffers or tune timeouts without reaching into internal/constants directly.
const (
	ToWorkerRingSize      = constants.ToWorkerRingSize
	FromWorkerRingSize    = constants.FromWorkerRingSize
	SegmentAlignment      = constants.SegmentAlignment
	MaxShmPathLen         = constants.MaxShmPathLen
	InitialBufferCapacity = constants.InitialBufferCapacity
)

// JoinPollInterval and JoinMaxElapsed govern how long OpenSession's peer
// (a worker calling shmpipe.JoinInitializedAt) waits for a segment to
// become ready before giving up.
const (
	JoinPollInterval = constants.JoinPollInterval
	JoinMaxElapsed   = constants.JoinMaxElapsed
)
