package shmsync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParkQueueFrontDoesNotBlock(t *testing.T) {
	q := NewParkQueue()
	q.StoreCurrent(1)
	require.True(t, q.CurrentIsFront(1))
}

func TestParkQueueOrdersByArrival(t *testing.T) {
	q := NewParkQueue()
	q.StoreCurrent(1)
	q.StoreCurrent(2)
	require.True(t, q.CurrentIsFront(1))
	require.False(t, q.CurrentIsFront(2))

	done := make(chan struct{})
	go func() {
		require.True(t, q.ParkWhile(2, make(chan struct{})))
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("ticket 2 woke before ticket 1 popped")
	case <-time.After(20 * time.Millisecond):
	}

	q.PopCurrent(1)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ticket 2 never woke after ticket 1 popped")
	}
	require.True(t, q.CurrentIsFront(2))
}

func TestParkQueueAbort(t *testing.T) {
	q := NewParkQueue()
	q.StoreCurrent(1)
	q.StoreCurrent(2)

	abort := make(chan struct{})
	close(abort)
	require.False(t, q.ParkWhile(2, abort))
}
