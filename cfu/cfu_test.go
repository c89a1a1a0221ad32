package cfu_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ecfabric/cfu"
)

type fakeComponent struct {
	version uint32
}

func (f *fakeComponent) FwVersion(ctx context.Context) (uint32, error) { return f.version, nil }
func (f *fakeComponent) GiveOffer(ctx context.Context, offer cfu.OfferCommand) (cfu.Response, error) {
	return cfu.Response{Kind: cfu.OfferResponse, OfferStatus: cfu.OfferAccept}, nil
}
func (f *fakeComponent) GiveContent(ctx context.Context, content cfu.ContentCommand) (cfu.Response, error) {
	return cfu.Response{Kind: cfu.ContentResponse}, nil
}
func (f *fakeComponent) PrepareForUpdate(ctx context.Context) error { return nil }
func (f *fakeComponent) FinalizeUpdate(ctx context.Context) error   { return nil }

func TestRouteDispatchesToRegisteredComponent(t *testing.T) {
	c := cfu.NewCoordinator()
	require.NoError(t, c.RegisterComponent(1, &fakeComponent{version: 42}))

	resp, err := c.Route(context.Background(), cfu.RequestData{Component: 1, Kind: cfu.FwVersionRequest})
	require.NoError(t, err)
	require.Equal(t, uint32(42), resp.FwVersion)
}

func TestRouteRejectsUnknownComponent(t *testing.T) {
	c := cfu.NewCoordinator()
	_, err := c.Route(context.Background(), cfu.RequestData{Component: 99, Kind: cfu.FwVersionRequest})
	require.Error(t, err)
}

func TestRouteAlwaysRejectsExtendedAndInformationOffers(t *testing.T) {
	c := cfu.NewCoordinator()
	require.NoError(t, c.RegisterComponent(1, &fakeComponent{}))

	for _, kind := range []cfu.RequestKind{cfu.GiveOfferExtended, cfu.GiveOfferInformation} {
		resp, err := c.Route(context.Background(), cfu.RequestData{Component: 1, Kind: kind})
		require.NoError(t, err)
		require.Equal(t, cfu.OfferReject, resp.OfferStatus)
		require.Equal(t, cfu.RejectReasonInvalidComponent, resp.OfferRejectReason)
	}
}

func TestBufferedComponentDrainsInOrder(t *testing.T) {
	var got []uint16
	var mu sync.Mutex
	bc := cfu.NewBufferedComponent(4, 0, func(ctx context.Context, seq uint16, data []byte, last bool) error {
		mu.Lock()
		got = append(got, seq)
		mu.Unlock()
		return nil
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bc.Run(ctx)

	for seq := uint16(0); seq < 3; seq++ {
		_, err := bc.GiveContent(context.Background(), cfu.ContentCommand{SequenceNum: seq, Data: []byte{byte(seq)}})
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	require.Equal(t, []uint16{0, 1, 2}, got)
	mu.Unlock()
}

func TestBufferedComponentReturnsBufferFullWhenWindowExceeded(t *testing.T) {
	block := make(chan struct{})
	bc := cfu.NewBufferedComponent(1, 0, func(ctx context.Context, seq uint16, data []byte, last bool) error {
		<-block
		return nil
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bc.Run(ctx)
	defer close(block)

	_, err := bc.GiveContent(context.Background(), cfu.ContentCommand{SequenceNum: 0})
	require.NoError(t, err)

	// Give the drain goroutine a moment to pull the first chunk off the
	// queue and block inside process, then fill the one-slot queue.
	time.Sleep(20 * time.Millisecond)
	_, err = bc.GiveContent(context.Background(), cfu.ContentCommand{SequenceNum: 1})
	require.NoError(t, err)

	_, err = bc.GiveContent(context.Background(), cfu.ContentCommand{SequenceNum: 2})
	require.Error(t, err)
}

func TestBufferedComponentSurfacesChunkTimeout(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	bc := cfu.NewBufferedComponent(4, 75*time.Millisecond, func(ctx context.Context, seq uint16, data []byte, last bool) error {
		<-block
		return nil
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bc.Run(ctx)

	_, err := bc.GiveContent(context.Background(), cfu.ContentCommand{SequenceNum: 7})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return bc.Failed(7) != nil
	}, time.Second, 5*time.Millisecond)
}
