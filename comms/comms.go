// Package comms is the endpoint registry and synchronous message fabric
// services use to talk to each other. Registration is append-only via
// registry.Registry; point-to-point delivery calls the target's
// MailboxDelegate directly on the sender's goroutine so a successful Send
// guarantees the delegate has already observed the message. Broadcast
// delivery reuses the exact-match topic map of package bus for best-effort
// fan-out to multiple subscribers.
package comms

import (
	"context"
	"fmt"
	"sync"

	"ecfabric/bus"
	"ecfabric/errcode"
	"ecfabric/registry"
)

// EndpointKind enumerates the well-known internal service roles.
type EndpointKind int

const (
	KindBattery EndpointKind = iota
	KindThermal
	KindDebug
	KindPower
	KindUsbc
	KindKeyboard
	KindHid
	KindNonvol
	KindTimeAlarm
	KindHost
)

func (k EndpointKind) String() string {
	switch k {
	case KindBattery:
		return "battery"
	case KindThermal:
		return "thermal"
	case KindDebug:
		return "debug"
	case KindPower:
		return "power"
	case KindUsbc:
		return "usbc"
	case KindKeyboard:
		return "keyboard"
	case KindHid:
		return "hid"
	case KindNonvol:
		return "nonvol"
	case KindTimeAlarm:
		return "time_alarm"
	case KindHost:
		return "host"
	default:
		return "unknown"
	}
}

// EndpointID is a tagged union: either an internal service role or an
// external (host-facing) one.
type EndpointID struct {
	External bool
	Kind     EndpointKind
}

func Internal(kind EndpointKind) EndpointID { return EndpointID{Kind: kind} }
func External(kind EndpointKind) EndpointID { return EndpointID{External: true, Kind: kind} }

func (id EndpointID) String() string {
	if id.External {
		return "external:" + id.Kind.String()
	}
	return "internal:" + id.Kind.String()
}

// Message is delivered by Send. Data is the type-erased payload; the
// delegate is responsible for asserting it to the expected concrete type.
type Message struct {
	From EndpointID
	To   EndpointID
	Data any
}

// MailboxDelegateError classifies a rejection from a MailboxDelegate.
type MailboxDelegateErrorKind int

const (
	MessageNotFound MailboxDelegateErrorKind = iota
	InvalidData
	BufferFull
)

type MailboxDelegateError struct {
	Kind MailboxDelegateErrorKind
}

func (e *MailboxDelegateError) Error() string {
	switch e.Kind {
	case MessageNotFound:
		return "mailbox: message not found"
	case InvalidData:
		return "mailbox: invalid data"
	case BufferFull:
		return "mailbox: buffer full"
	default:
		return "mailbox: error"
	}
}

func (e *MailboxDelegateError) Code() errcode.Code {
	switch e.Kind {
	case MessageNotFound:
		return errcode.MessageNotFound
	case InvalidData:
		return errcode.InvalidData
	case BufferFull:
		return errcode.BufferFull
	default:
		return errcode.Error
	}
}

// MailboxDelegate receives messages addressed to one endpoint. Receive must
// be non-blocking: the call happens synchronously on the sender's
// goroutine, so any blocking here stalls the sender.
type MailboxDelegate interface {
	Receive(ctx context.Context, msg Message) error
}

type endpoint struct {
	id       EndpointID
	delegate MailboxDelegate
}

// Bus is the comms fabric: an append-only endpoint registry plus
// synchronous point-to-point delivery and best-effort broadcast.
type Bus struct {
	endpoints registry.Registry[*endpoint]

	busMu   sync.Mutex
	wire    *bus.Bus
	conn    *bus.Connection
}

// NewBus constructs an empty comms fabric. queueLen sizes the broadcast
// subscriber channels (see bus.NewBus).
func NewBus(queueLen int) *Bus {
	wire := bus.NewBus(queueLen)
	return &Bus{wire: wire, conn: wire.NewConnection("comms")}
}

// RegisterEndpoint installs delegate under id. Registration is one-shot: a
// second registration under the same id fails with AlreadyRegistered.
func (b *Bus) RegisterEndpoint(id EndpointID, delegate MailboxDelegate) error {
	if err := b.endpoints.Push(id.String(), &endpoint{id: id, delegate: delegate}); err != nil {
		return errcode.Wrap("comms.RegisterEndpoint", errcode.AlreadyRegistered, err)
	}
	return nil
}

// Send locates the endpoint registered under to and invokes its delegate's
// Receive synchronously. On return, the delegate has already observed the
// message (or Send has already failed).
func (b *Bus) Send(ctx context.Context, from, to EndpointID, payload any) error {
	ep, ok := b.endpoints.Find(to.String())
	if !ok {
		return errcode.New("comms.Send", errcode.NoReceiver)
	}
	if err := ep.delegate.Receive(ctx, Message{From: from, To: to, Data: payload}); err != nil {
		if mde, ok := err.(*MailboxDelegateError); ok {
			return errcode.Wrap("comms.Send", mde.Code(), mde)
		}
		return errcode.Wrap("comms.Send", errcode.Error, err)
	}
	return nil
}

// Broadcast publishes payload on a topic derived from from, for any number
// of best-effort subscribers (retained-message semantics from bus.Bus
// apply: a late subscriber sees the most recent broadcast on the topic).
func (b *Bus) Broadcast(from EndpointID, payload any) {
	topic := bus.T("comms", fmt.Sprint(from.External), int(from.Kind))
	b.busMu.Lock()
	conn := b.conn
	b.busMu.Unlock()
	conn.Publish(conn.NewMessage(topic, payload, true))
}

// Subscribe returns a subscription to broadcasts originated from "from".
func (b *Bus) Subscribe(from EndpointID) *bus.Subscription {
	topic := bus.T("comms", fmt.Sprint(from.External), int(from.Kind))
	return b.conn.Subscribe(topic)
}
