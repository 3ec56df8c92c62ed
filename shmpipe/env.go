package shmpipe

import (
	"fmt"
	"os"
	"regexp"

	"github.com/neonlabs/walcore"
	"github.com/neonlabs/walcore/internal/shmsync"
)

var tenantIDPattern = regexp.MustCompile(`^[0-9a-f]{32}$`)

// notifyToWorkerFD and notifyFromWorkerFD are the fixed descriptor numbers
// a worker process expects its two notification eventfds to land at when
// spawned via exec.Cmd.ExtraFiles (which always attaches extra files
// starting at fd 3, after stdin/stdout/stderr). This is this module's
// answer to the original's assumption that fork() inherits the whole fd
// table: Go processes are spawned by exec, not fork, so a fixed,
// documented slot convention replaces implicit inheritance.
const (
	notifyToWorkerFD   = 3
	notifyFromWorkerFD = 4
)

// TenantSegmentPath derives the shm_open path for a tenant's segment from
// its 32 hex-character ID, matching the WALREDO_TENANT convention the
// worker reads in OpenViaEnv.
func TenantSegmentPath(tenantID string) (string, error) {
	if !tenantIDPattern.MatchString(tenantID) {
		return "", walcore.NewError("tenant_segment_path", walcore.ErrCodeInvalidTenant, "tenant id must be 32 hex characters")
	}
	return fmt.Sprintf("/walredo-%s", tenantID), nil
}

// OpenViaEnv joins an already-initialized segment and wraps the two
// inherited notification eventfds into a Responder, the convention a
// worker process spawned by the coordinator uses to find its half of the
// pipe: WALREDO_TENANT names the tenant, and file descriptors 3 and 4 are
// the to-worker and from-worker wakeups inherited via ExtraFiles.
func OpenViaEnv() (*Responder, error) {
	tenant := os.Getenv("WALREDO_TENANT")
	path, err := TenantSegmentPath(tenant)
	if err != nil {
		return nil, err
	}

	seg, err := JoinInitializedAt(path)
	if err != nil {
		return nil, err
	}

	ok, _, err := seg.TryAcquireResponder()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, walcore.NewError("open_via_env", walcore.ErrCodeInvalidParams, "responder role already held by a live process")
	}

	wakeToWorker := shmsync.FromFD(notifyToWorkerFD)
	wakeFromWorker := shmsync.FromFD(notifyFromWorkerFD)
	return NewResponder(seg, wakeToWorker, wakeFromWorker), nil
}
