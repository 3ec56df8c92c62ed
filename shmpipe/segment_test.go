package shmpipe

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/neonlabs/walcore/internal/shmsync"
)

func testSegmentPath(t *testing.T) string {
	t.Helper()
	return fmt.Sprintf("/walcore-test-%d-%d", os.Getpid(), time.Now().UnixNano())
}

func TestCreateFinalizeJoin(t *testing.T) {
	path := testSegmentPath(t)
	seg, err := Create(path)
	require.NoError(t, err)
	t.Cleanup(func() { seg.Close(); seg.Unlink() })

	require.Equal(t, uint32(0x00000000), seg.loadMagic())
	require.NoError(t, seg.Finalize())
	require.Equal(t, uint32(0xcafebabe), seg.loadMagic())

	joined, err := JoinInitializedAt(path)
	require.NoError(t, err)
	require.NoError(t, joined.Close())
}

func TestJoinInitializedAtTimesOutWhenNeverFinalized(t *testing.T) {
	path := testSegmentPath(t)
	seg, err := Create(path)
	require.NoError(t, err)
	t.Cleanup(func() { seg.Close(); seg.Unlink() })

	_, err = JoinInitializedAt(path)
	require.Error(t, err)
}

func TestTryAcquireRequesterResponderAreExclusive(t *testing.T) {
	path := testSegmentPath(t)
	seg, err := Create(path)
	require.NoError(t, err)
	t.Cleanup(func() { seg.Close(); seg.Unlink() })
	require.NoError(t, seg.Finalize())

	ok, _, err := seg.TryAcquireRequester()
	require.NoError(t, err)
	require.True(t, ok)

	// A second lock attempt on the already-held requester mutex can't also
	// become the requester.
	ok2, _, err := acquireParticipant(seg.requesterMu, &seg.raw.requesterPID)
	require.NoError(t, err)
	require.False(t, ok2)

	ok3, _, err := seg.TryAcquireResponder()
	require.NoError(t, err)
	require.True(t, ok3)
}

func TestRequestResponseRoundTrip(t *testing.T) {
	path := testSegmentPath(t)
	seg, err := Create(path)
	require.NoError(t, err)
	t.Cleanup(func() { seg.Close(); seg.Unlink() })
	require.NoError(t, seg.Finalize())

	ok, _, err := seg.TryAcquireRequester()
	require.NoError(t, err)
	require.True(t, ok)
	ok, _, err = seg.TryAcquireResponder()
	require.NoError(t, err)
	require.True(t, ok)

	wakeToWorker, err := shmsync.NewWakeup()
	require.NoError(t, err)
	t.Cleanup(func() { wakeToWorker.Close() })
	wakeFromWorker, err := shmsync.NewWakeup()
	require.NoError(t, err)
	t.Cleanup(func() { wakeFromWorker.Close() })

	rq := NewRequester(seg, wakeToWorker, wakeFromWorker)
	rs := NewResponder(seg, wakeToWorker, wakeFromWorker)

	done := make(chan struct{})
	go func() {
		defer close(done)
		n, err := rs.ReadNextFrameLen()
		if err != nil {
			t.Error(err)
			return
		}
		req := make([]byte, n)
		if err := rs.ReadExact(req); err != nil {
			t.Error(err)
			return
		}
		resp := append([]byte("echo:"), req...)
		if err := rs.WriteAll(resp); err != nil {
			t.Error(err)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := rq.RequestResponse(ctx, []byte("hello"))
	require.NoError(t, err)
	require.Equal(t, "echo:hello", string(resp))

	<-done
}

func TestRequestResponseManyConcurrentCallers(t *testing.T) {
	path := testSegmentPath(t)
	seg, err := Create(path)
	require.NoError(t, err)
	t.Cleanup(func() { seg.Close(); seg.Unlink() })
	require.NoError(t, seg.Finalize())

	ok, _, err := seg.TryAcquireRequester()
	require.NoError(t, err)
	require.True(t, ok)
	ok, _, err = seg.TryAcquireResponder()
	require.NoError(t, err)
	require.True(t, ok)

	wakeToWorker, _ := shmsync.NewWakeup()
	wakeFromWorker, _ := shmsync.NewWakeup()
	t.Cleanup(func() { wakeToWorker.Close(); wakeFromWorker.Close() })

	rq := NewRequester(seg, wakeToWorker, wakeFromWorker)
	rs := NewResponder(seg, wakeToWorker, wakeFromWorker)

	const numRequests = 20
	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		for i := 0; i < numRequests; i++ {
			n, err := rs.ReadNextFrameLen()
			if err != nil {
				t.Error(err)
				return
			}
			req := make([]byte, n)
			if err := rs.ReadExact(req); err != nil {
				t.Error(err)
				return
			}
			if err := rs.WriteAll(req); err != nil {
				t.Error(err)
				return
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	results := make(chan error, numRequests)
	for i := 0; i < numRequests; i++ {
		i := i
		go func() {
			req := []byte(fmt.Sprintf("req-%02d", i))
			resp, err := rq.RequestResponse(ctx, req)
			if err != nil {
				results <- err
				return
			}
			if string(resp) != string(req) {
				results <- fmt.Errorf("got %q, want %q", resp, req)
				return
			}
			results <- nil
		}()
	}

	for i := 0; i < numRequests; i++ {
		require.NoError(t, <-results)
	}
	<-serverDone
}
