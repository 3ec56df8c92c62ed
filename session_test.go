package walcore

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/neonlabs/walcore/internal/shmsync"
	"github.com/neonlabs/walcore/shmpipe"
)

func testSessionPath(t *testing.T) string {
	t.Helper()
	return fmt.Sprintf("/walcore-session-test-%d-%d", os.Getpid(), time.Now().UnixNano())
}

func xorEcho(req []byte) ([]byte, error) {
	resp := make([]byte, len(req))
	for i, b := range req {
		resp[i] = b ^ 0xff
	}
	return resp, nil
}

// startMockWorker joins the segment at path as responder and serves xorEcho
// on its own goroutine, sharing the session's eventfd pair since this is an
// in-process test rather than a spawned subprocess.
func startMockWorker(t *testing.T, sess *Session, path string) *MockWorker {
	t.Helper()
	workerSeg, err := shmpipe.JoinInitializedAt(path)
	require.NoError(t, err)

	fds := sess.SharedFDs()
	wakeToWorker := shmsync.FromFD(fds[0])
	wakeFromWorker := shmsync.FromFD(fds[1])

	worker, err := NewMockWorker(workerSeg, wakeToWorker, wakeFromWorker, xorEcho)
	require.NoError(t, err)
	go worker.Serve()
	return worker
}

func TestOpenSessionRequestResponseRoundTrip(t *testing.T) {
	path := testSessionPath(t)
	sess, err := OpenSession(SessionParams{Path: path})
	require.NoError(t, err)
	defer sess.Close()

	worker := startMockWorker(t, sess, path)
	defer worker.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req := []byte("ping")
	resp, err := sess.RequestResponse(ctx, req)
	require.NoError(t, err)

	want, err := xorEcho(req)
	require.NoError(t, err)
	require.Equal(t, want, resp)

	snap := sess.Metrics().Snapshot()
	require.Equal(t, uint64(1), snap.Requests)
	require.Equal(t, uint64(0), snap.Errors)
}

func TestOpenSessionManySequentialRequests(t *testing.T) {
	path := testSessionPath(t)
	sess, err := OpenSession(SessionParams{Path: path})
	require.NoError(t, err)
	defer sess.Close()

	worker := startMockWorker(t, sess, path)
	defer worker.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for i := 0; i < 50; i++ {
		req := []byte(fmt.Sprintf("req-%d", i))
		resp, err := sess.RequestResponse(ctx, req)
		require.NoError(t, err)
		want, _ := xorEcho(req)
		require.Equal(t, want, resp)
	}

	requests, errs := worker.Counts()
	require.Equal(t, 50, requests)
	require.Equal(t, 0, errs)

	snap := sess.Metrics().Snapshot()
	require.Equal(t, uint64(50), snap.Requests)
	require.Greater(t, snap.AvgLatencyNs, uint64(0))
}

func TestOpenSessionDumpLoopsResetVsPeek(t *testing.T) {
	path := testSessionPath(t)
	sess, err := OpenSession(SessionParams{Path: path})
	require.NoError(t, err)
	defer sess.Close()

	worker := startMockWorker(t, sess, path)
	defer worker.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err = sess.RequestResponse(ctx, []byte("x"))
	require.NoError(t, err)

	requests, _, _, _, _ := sess.DumpLoops(false)
	require.Equal(t, uint64(1), requests)

	requestsAgain, _, _, _, _ := sess.DumpLoops(false)
	require.Equal(t, uint64(1), requestsAgain)

	requestsReset, _, _, _, _ := sess.DumpLoops(true)
	require.Equal(t, uint64(1), requestsReset)

	requestsAfterReset, _, _, _, _ := sess.DumpLoops(false)
	require.Equal(t, uint64(0), requestsAfterReset)
}

func TestOpenSessionClosePreventsFurtherJoin(t *testing.T) {
	path := testSessionPath(t)
	sess, err := OpenSession(SessionParams{Path: path})
	require.NoError(t, err)

	require.NoError(t, sess.Close())

	_, err = shmpipe.OpenExisting(path)
	require.Error(t, err)
}
