// Package shmsync provides the synchronization primitives SHMPIPE uses to
// coordinate a coordinator process and a worker process mapping the same
// shared memory segment: a semaphore-mode eventfd wakeup, a robust
// process-shared mutex, and an intra-process ticket-ordered park queue.
package shmsync

import (
	"encoding/binary"

	"golang.org/x/sys/unix"

	"github.com/neonlabs/walcore"
)

// Wakeup is an eventfd used as a semaphore: Post increments the kernel
// counter without blocking, Wait blocks until it can decrement it. Posts
// accumulate in the counter, and each one is matched by exactly one
// successful Wait, even a post made while nobody was waiting - so a Wait
// can return for a post made long before. Callers must always re-check
// their own condition after Wait returns, never treat a wakeup as
// edge-triggered.
type Wakeup struct {
	fd int
}

// NewWakeup creates a fresh, non-shared eventfd in semaphore mode.
func NewWakeup() (*Wakeup, error) {
	fd, err := unix.Eventfd(0, unix.EFD_SEMAPHORE|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, walcore.WrapError("eventfd", err)
	}
	return &Wakeup{fd: fd}, nil
}

// FromFD wraps an already-open eventfd, typically one inherited from a
// parent process via exec.Cmd.ExtraFiles at a fixed descriptor number.
func FromFD(fd int) *Wakeup {
	return &Wakeup{fd: fd}
}

// FD returns the underlying file descriptor, for handing to
// exec.Cmd.ExtraFiles when spawning the other side of the pipe.
func (w *Wakeup) FD() int { return w.fd }

// Post increments the eventfd counter by one, waking at most one blocked
// Wait call (or the next one to arrive, if none is currently blocked).
func (w *Wakeup) Post() error {
	// write(2) on an eventfd exchanges a host-native uint64, not a
	// network-order one - a big-endian literal here would post 2^56
	// instead of 1 on every little-endian target this runs on.
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 1)
	for {
		_, err := unix.Write(w.fd, buf[:])
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return walcore.WrapError("eventfd_post", err)
		}
		return nil
	}
}

// Wait blocks until the counter is non-zero, then decrements it by one.
func (w *Wakeup) Wait() error {
	var buf [8]byte
	for {
		_, err := unix.Read(w.fd, buf[:])
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return walcore.WrapError("eventfd_wait", err)
		}
		return nil
	}
}

// Close releases the eventfd.
func (w *Wakeup) Close() error {
	return unix.Close(w.fd)
}
