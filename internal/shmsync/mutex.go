package shmsync

/*
#include <pthread.h>
#include <errno.h>

static int shmsync_mutex_init(pthread_mutex_t *m) {
	pthread_mutexattr_t attr;
	int rc = pthread_mutexattr_init(&attr);
	if (rc != 0) return rc;
	rc = pthread_mutexattr_setpshared(&attr, PTHREAD_PROCESS_SHARED);
	if (rc != 0) { pthread_mutexattr_destroy(&attr); return rc; }
	rc = pthread_mutexattr_setrobust(&attr, PTHREAD_MUTEX_ROBUST);
	if (rc != 0) { pthread_mutexattr_destroy(&attr); return rc; }
	rc = pthread_mutex_init(m, &attr);
	pthread_mutexattr_destroy(&attr);
	return rc;
}

static int shmsync_mutex_trylock(pthread_mutex_t *m) {
	return pthread_mutex_trylock(m);
}

static int shmsync_mutex_unlock(pthread_mutex_t *m) {
	return pthread_mutex_unlock(m);
}

static int shmsync_mutex_consistent(pthread_mutex_t *m) {
	return pthread_mutex_consistent(m);
}
*/
import "C"

import (
	"unsafe"

	"github.com/neonlabs/walcore"
)

// TryLockResult is the three-way outcome of attempting to acquire a
// RobustMutex.
type TryLockResult int

const (
	// TryLockAcquired means the mutex was free and is now held.
	TryLockAcquired TryLockResult = iota
	// TryLockWouldBlock means another live holder has it.
	TryLockWouldBlock
	// TryLockPreviousOwnerDied means the mutex is now held, but the
	// previous holder exited mid-critical-section; state behind it may
	// be inconsistent and callers should validate before trusting it.
	TryLockPreviousOwnerDied
)

// MutexSize is sizeof(pthread_mutex_t) on this platform, for sizing a
// shared memory layout that embeds one.
const MutexSize = C.sizeof_pthread_mutex_t

// RobustMutex is a PTHREAD_PROCESS_SHARED, PTHREAD_MUTEX_ROBUST mutex
// living at a fixed offset inside an mmap(MAP_SHARED) region. Unlike a
// plain sync.Mutex it survives the holder's process dying mid-critical-
// section: the next locker is told the state may be dirty instead of
// deadlocking forever.
type RobustMutex struct {
	m *C.pthread_mutex_t
}

// NewRobustMutexAt initializes a robust, process-shared mutex in place at
// addr, which must point into a shared mapping and have at least
// MutexSize bytes available. Only the segment's creator calls this.
func NewRobustMutexAt(addr unsafe.Pointer) (*RobustMutex, error) {
	m := (*C.pthread_mutex_t)(addr)
	if rc := C.shmsync_mutex_init(m); rc != 0 {
		return nil, walcore.NewError("mutex_init", walcore.ErrCodeIOError, "pthread_mutex_init failed")
	}
	return &RobustMutex{m: m}, nil
}

// OpenRobustMutexAt attaches to a mutex previously initialized by
// NewRobustMutexAt, in a mapping shared with this process.
func OpenRobustMutexAt(addr unsafe.Pointer) *RobustMutex {
	return &RobustMutex{m: (*C.pthread_mutex_t)(addr)}
}

// TryLock attempts to acquire the mutex without blocking.
func (rm *RobustMutex) TryLock() (TryLockResult, error) {
	switch rc := C.shmsync_mutex_trylock(rm.m); rc {
	case 0:
		return TryLockAcquired, nil
	case C.EBUSY:
		return TryLockWouldBlock, nil
	case C.EOWNERDEAD:
		// The mutex is held by us now; pthread requires marking it
		// consistent before any unlock or future lockers also see
		// EOWNERDEAD forever.
		C.shmsync_mutex_consistent(rm.m)
		return TryLockPreviousOwnerDied, nil
	default:
		return TryLockWouldBlock, walcore.NewError("mutex_trylock", walcore.ErrCodeIOError, "pthread_mutex_trylock failed")
	}
}

// Unlock releases the mutex.
func (rm *RobustMutex) Unlock() error {
	if rc := C.shmsync_mutex_unlock(rm.m); rc != 0 {
		return walcore.NewError("mutex_unlock", walcore.ErrCodeIOError, "pthread_mutex_unlock failed")
	}
	return nil
}
