package deferred_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ecfabric/deferred"
)

func TestExecuteReceiveRespondRoundTrip(t *testing.T) {
	ch := deferred.NewChannel[string, int](1)

	go func() {
		req, err := ch.Receive(context.Background())
		require.NoError(t, err)
		require.Equal(t, "ping", req.Command)
		req.Respond(7)
	}()

	got, err := ch.Execute(context.Background(), "ping")
	require.NoError(t, err)
	require.Equal(t, 7, got)
}

func TestExecuteTimesOutWithoutAResponder(t *testing.T) {
	ch := deferred.NewChannel[string, int](1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := ch.Execute(ctx, "never answered")
	require.Error(t, err)
}

func TestRespondIsCancelSafeAfterCallerGivesUp(t *testing.T) {
	ch := deferred.NewChannel[string, int](1)
	received := make(chan deferred.Request[string, int], 1)

	go func() {
		req, err := ch.Receive(context.Background())
		if err == nil {
			received <- req
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := ch.Execute(ctx, "abandoned")
	require.Error(t, err)

	req := <-received
	// The caller already gave up; Respond must not block or panic.
	done := make(chan struct{})
	go func() {
		req.Respond(99)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Respond blocked on an abandoned request")
	}

	// A second Respond call is a documented no-op, also must not block.
	done2 := make(chan struct{})
	go func() {
		req.Respond(100)
		close(done2)
	}()
	select {
	case <-done2:
	case <-time.After(time.Second):
		t.Fatal("second Respond call blocked")
	}
}

func TestExecuteSerializesConcurrentCallers(t *testing.T) {
	ch := deferred.NewChannel[int, int](4)
	const n = 20

	go func() {
		for i := 0; i < n; i++ {
			req, err := ch.Receive(context.Background())
			if err != nil {
				return
			}
			req.Respond(req.Command * 2)
		}
	}()

	results := make(chan int, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			got, err := ch.Execute(context.Background(), i)
			require.NoError(t, err)
			results <- got
		}(i)
	}

	sum := 0
	for i := 0; i < n; i++ {
		sum += <-results
	}
	require.Equal(t, n*(n-1), sum) // sum(2*i for i in [0,n)) == n*(n-1)
}
