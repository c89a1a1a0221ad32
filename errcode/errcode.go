package errcode

// Code is a stable, component-facing error identifier.
// It is a string newtype, comparable, allocation-free, and implements error.
type Code string

func (c Code) Error() string { return string(c) }

// Canonical codes (short, stable).
const (
	OK Code = "ok"

	// Comms fabric.
	AlreadyRegistered Code = "already_registered"
	NoReceiver        Code = "no_receiver"
	MessageNotFound   Code = "message_not_found"
	InvalidData       Code = "invalid_data"
	BufferFull        Code = "buffer_full"

	// Power-policy engine.
	InvalidDevice   Code = "invalid_device"
	CannotProvide   Code = "cannot_provide"
	CannotConsume   Code = "cannot_consume"
	InvalidState    Code = "invalid_state"
	InvalidResponse Code = "invalid_response"
	Busy            Code = "busy"
	Timeout         Code = "timeout"
	Bus             Code = "bus"
	Charger         Code = "charger"
	Failed          Code = "failed"

	// Type-C / PD.
	InvalidPort         Code = "invalid_port"
	UnrecognizedCommand Code = "unrecognized_command"

	// CFU.
	ProtocolError    Code = "protocol_error"
	InvalidComponent Code = "invalid_component"

	// Registry.
	NodeAlreadyInList Code = "node_already_in_list"

	// Serialization / codecs.
	BufferTooSmall             Code = "buffer_too_small"
	UnknownMessageDiscriminant Code = "unknown_message_discriminant"
	InvalidByteCount           Code = "invalid_byte_count"

	Error Code = "error" // generic fallback
)

// E wraps a Code with operation context and an optional cause.
type E struct {
	C   Code
	Op  string
	Msg string
	Err error
}

func (e *E) Error() string {
	if e.Msg != "" {
		return e.Op + ": " + string(e.C) + ": " + e.Msg
	}
	if e.Op != "" {
		return e.Op + ": " + string(e.C)
	}
	return string(e.C)
}
func (e *E) Unwrap() error { return e.Err }
func (e *E) Code() Code    { return e.C }

// New constructs an *E for op with the given code.
func New(op string, c Code) *E { return &E{Op: op, C: c} }

// Wrap constructs an *E for op with the given code, carrying cause as Err.
func Wrap(op string, c Code, cause error) *E { return &E{Op: op, C: c, Err: cause} }

// Of extracts a Code from an error, defaulting to Error.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	if c, ok := err.(Code); ok {
		return c
	}
	type coder interface{ Code() Code }
	if x, ok := err.(coder); ok {
		return x.Code()
	}
	return Error
}
