// Package shmpipe implements SHMPIPE, a bidirectional shared-memory
// request/response pipe between a coordinator process (the Requester) and
// a single-threaded worker process (the Responder) - in production, the
// page server coordinator and the WAL-redo Postgres it supervises.
//
// One Segment is mapped by both sides into a POSIX shared memory object.
// Requests flow coordinator -> worker over the to-worker ring; responses
// flow back over a separate, smaller from-worker ring. Each ring is a
// single-producer single-consumer byte ring with eventfd-backed blocking
// wakeups, so a spinning producer or consumer can park instead of busy-
// waiting once it has spun long enough to suspect the other side is idle.
//
// Requester is safe for concurrent use by many goroutines: each call to
// RequestResponse mints a ticket, serializes its request onto the ring
// under a lock, then waits for its specific response, with a ParkQueue
// ensuring responses are handed back to callers in the same order the
// worker answered them. Responder is not safe for concurrent use - it
// models the single-threaded worker loop that owns the segment's other
// side.
package shmpipe
