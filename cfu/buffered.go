package cfu

import (
	"context"
	"sync"
	"time"

	"ecfabric/errcode"
	"ecfabric/telemetry"
)

// defaultChunkTimeout is used when NewBufferedComponent is given a
// non-positive chunkTimeout.
const defaultChunkTimeout = 2 * time.Second

type chunk struct {
	seq  uint16
	data []byte
	last bool
}

// BufferedComponent is a Component whose GiveContent ACKs the host
// synchronously (enqueue only) and drains chunks asynchronously in a
// background goroutine, the same trigger/collect split
// internal/worker.MeasureWorker uses for slow adaptors, applied here to a
// content-chunk drain instead of a measurement retry loop.
type BufferedComponent struct {
	windowSize   int
	chunkTimeout time.Duration
	process      func(ctx context.Context, seq uint16, data []byte, last bool) error
	sink         telemetry.Sink

	queue chan chunk

	mu       sync.Mutex
	inFlight map[uint16]*time.Timer
	drained  map[uint16]bool
	failed   map[uint16]error
}

// NewBufferedComponent constructs a BufferedComponent with a queue capacity
// of windowSize chunks and a per-chunk drain deadline of chunkTimeout
// (defaulting to defaultChunkTimeout when chunkTimeout <= 0). process is
// called once per chunk, in FIFO order, by the single background drain
// goroutine started by Run.
func NewBufferedComponent(windowSize int, chunkTimeout time.Duration, process func(ctx context.Context, seq uint16, data []byte, last bool) error, sink telemetry.Sink) *BufferedComponent {
	if windowSize <= 0 {
		windowSize = 1
	}
	if chunkTimeout <= 0 {
		chunkTimeout = defaultChunkTimeout
	}
	if sink == nil {
		sink = telemetry.Noop{}
	}
	return &BufferedComponent{
		windowSize:   windowSize,
		chunkTimeout: chunkTimeout,
		process:      process,
		sink:         sink,
		queue:        make(chan chunk, windowSize),
		inFlight:     make(map[uint16]*time.Timer),
		drained:      make(map[uint16]bool),
		failed:       make(map[uint16]error),
	}
}

// Run drains the queue until ctx is cancelled. Call it once, in its own
// goroutine, before any GiveContent calls arrive.
func (b *BufferedComponent) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-b.queue:
			err := b.process(ctx, c.seq, c.data, c.last)

			b.mu.Lock()
			if t, ok := b.inFlight[c.seq]; ok {
				t.Stop()
				delete(b.inFlight, c.seq)
			}
			if err != nil {
				b.failed[c.seq] = err
			} else {
				b.drained[c.seq] = true
				delete(b.failed, c.seq)
			}
			b.mu.Unlock()

			if err != nil {
				b.sink.Log(telemetry.Event{Component: "cfu", Category: telemetry.CategoryError,
					Message: "content chunk processing failed", Err: err.Error()})
			}
		}
	}
}

// GiveContent implements Component: it ACKs synchronously by enqueueing the
// chunk, arming a per-chunk timeout, and returning immediately. Falling
// behind the window (the queue is full) returns an errcode.BufferFull error for this
// sequence number without touching anything already drained.
func (b *BufferedComponent) GiveContent(ctx context.Context, content ContentCommand) (Response, error) {
	b.mu.Lock()
	if b.drained[content.SequenceNum] {
		b.mu.Unlock()
		return Response{Kind: ContentResponse}, nil
	}
	delete(b.failed, content.SequenceNum)
	b.mu.Unlock()

	c := chunk{seq: content.SequenceNum, data: content.Data, last: content.LastBlock}
	// The timer is armed before the chunk is queued, so the drain goroutine
	// always finds it in inFlight.
	timer := time.AfterFunc(b.chunkTimeout, func() {
		b.mu.Lock()
		delete(b.inFlight, c.seq)
		timedOut := !b.drained[c.seq]
		if timedOut {
			b.failed[c.seq] = errcode.New("cfu.BufferedComponent", errcode.Timeout)
		}
		b.mu.Unlock()
		if timedOut {
			b.sink.Log(telemetry.Event{Component: "cfu", Category: telemetry.CategoryError,
				Message: "content chunk timed out waiting to drain"})
		}
	})
	b.mu.Lock()
	b.inFlight[c.seq] = timer
	b.mu.Unlock()

	select {
	case b.queue <- c:
	default:
		timer.Stop()
		b.mu.Lock()
		delete(b.inFlight, c.seq)
		b.mu.Unlock()
		return Response{}, errcode.New("cfu.BufferedComponent.GiveContent", errcode.BufferFull)
	}

	return Response{Kind: ContentResponse}, nil
}

// Failed reports the error recorded for seq, if its chunk timed out waiting
// to drain or its process callback returned an error, and it has not since
// been resubmitted via GiveContent. An embedding type's FinalizeUpdate
// should consult this before declaring the transfer complete.
func (b *BufferedComponent) Failed(seq uint16) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failed[seq]
}

// FwVersion, GiveOffer, PrepareForUpdate, and FinalizeUpdate are left to an
// embedding type: BufferedComponent only implements the GiveContent half of
// Component, the half whose backpressure behaviour needs the queue.
