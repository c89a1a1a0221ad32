// Package telemetry provides the structured, CBOR-encoded event log every
// service-fabric component writes state transitions and rejected commands
// to, in place of ad hoc fmt/log calls.
package telemetry

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Category classifies a telemetry event for filtering.
type Category uint8

const (
	CategoryStateChange Category = iota
	CategoryArbitration
	CategoryCommand
	CategoryError
)

func (c Category) String() string {
	switch c {
	case CategoryStateChange:
		return "state_change"
	case CategoryArbitration:
		return "arbitration"
	case CategoryCommand:
		return "command"
	case CategoryError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one structured log record. CBOR encoding uses integer keys for
// compactness, matching the shape used across the rest of the pack.
type Event struct {
	Timestamp time.Time `cbor:"1,keyasint"`
	Component string    `cbor:"2,keyasint"`
	Category  Category  `cbor:"3,keyasint"`
	Message   string    `cbor:"4,keyasint"`
	Err       string    `cbor:"5,keyasint,omitempty"`
}

// Sink receives telemetry events. Implementations must be safe for
// concurrent use. Components take a Sink rather than reaching for a
// package-level logger so tests can substitute a capturing double.
type Sink interface {
	Log(Event)
}

// Noop discards every event. It is the zero-value-safe default.
type Noop struct{}

func (Noop) Log(Event) {}

var _ Sink = Noop{}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encOpts := cbor.EncOptions{
		Sort:        cbor.SortCanonical,
		IndefLength: cbor.IndefLengthForbidden,
		Time:        cbor.TimeRFC3339Nano,
	}
	encMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("telemetry: failed to build CBOR encoder mode: %v", err))
	}
	decOpts := cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyQuiet,
		IndefLength: cbor.IndefLengthAllowed,
	}
	decMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("telemetry: failed to build CBOR decoder mode: %v", err))
	}
}

// Encode serializes an Event to canonical CBOR bytes.
func Encode(e Event) ([]byte, error) { return encMode.Marshal(e) }

// Decode parses canonical CBOR bytes into an Event.
func Decode(data []byte) (Event, error) {
	var e Event
	if err := decMode.Unmarshal(data, &e); err != nil {
		return Event{}, err
	}
	return e, nil
}

// WriterSink encodes every event as a CBOR stream to w.
type WriterSink struct {
	mu  sync.Mutex
	enc *cbor.Encoder
}

// NewWriterSink wraps w as a Sink. Concurrent Log calls are serialized.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{enc: encMode.NewEncoder(w)}
}

func (s *WriterSink) Log(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.enc.Encode(e)
}
