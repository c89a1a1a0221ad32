// Package mctp implements the eSPI/MCTP framing a host OS speaks to the EC
// over: byte-for-byte request/response envelopes carrying ACPI method
// payloads between the host and an internal endpoint (battery, thermal).
package mctp

import (
	"ecfabric/comms"
	"ecfabric/errcode"
)

// MaxMctpPayloadLen bounds a single MCTP message body, set by the
// underlying SMBus block-transaction limit.
const MaxMctpPayloadLen = 69

// mctpHeaderLen is the fixed 8-byte MCTP header preceding the payload.
const mctpHeaderLen = 8

// mctpDestSlaveAddr is the EC's fixed SMBus slave address; every inbound
// frame must be addressed here.
const mctpDestSlaveAddr = 2

// mctpCommandCode is the MCTP command code carried in every frame.
const mctpCommandCode = 0x0F

const mctpHeaderVersion = 1

// Header carries the per-message routing and framing fields a Codec needs
// beyond the raw payload bytes.
type Header struct {
	// Endpoint is the internal subsystem (battery, thermal) a frame names,
	// stamped at the same byte offset whichever direction the frame travels.
	Endpoint       comms.EndpointKind
	StartOfMessage bool
	EndOfMessage   bool
}

var endpointToByte = map[comms.EndpointKind]byte{
	comms.KindBattery: 2,
	comms.KindThermal: 3,
}

var byteToEndpoint = map[byte]comms.EndpointKind{
	2: comms.KindBattery,
	3: comms.KindThermal,
}

// Codec encodes/decodes MCTP frames. SourceEndpoint is the byte this EC
// instance stamps into outbound frames and requires of inbound ones; it
// defaults to 0x80 but is a field (not a constant) so a host environment
// can run multiple simulated EC instances side by side with distinct IDs.
type Codec struct {
	SourceEndpoint byte
}

// NewCodec returns a Codec with the conventional default source endpoint.
func NewCodec() *Codec {
	return &Codec{SourceEndpoint: 0x80}
}

func roundUpMod4(n int) int {
	if r := n % 4; r != 0 {
		return n + (4 - r)
	}
	return n
}

// Encode builds an MCTP frame carrying payload, naming hdr.Endpoint
// (Battery or Thermal) and stamping this Codec's SourceEndpoint as the
// frame's origin.
func (c *Codec) Encode(hdr Header, payload []byte) ([]byte, error) {
	if len(payload) > MaxMctpPayloadLen {
		return nil, errcode.New("ectype.Encode", errcode.InvalidByteCount)
	}
	endpointByte, ok := endpointToByte[hdr.Endpoint]
	if !ok {
		return nil, errcode.New("ectype.Encode", errcode.InvalidData)
	}

	paddedLen := roundUpMod4(len(payload))
	frame := make([]byte, mctpHeaderLen+paddedLen)

	frame[0] = mctpDestSlaveAddr
	frame[1] = mctpCommandCode
	frame[2] = byte(len(payload) + 5)
	frame[3] = c.SourceEndpoint
	frame[4] = mctpHeaderVersion
	frame[5] = endpointByte
	frame[6] = 0 // reserved

	flags := byte(0x10) // sequence number 1, shifted into bits 4-5
	flags |= 0x03        // message tag 3
	if hdr.StartOfMessage {
		flags |= 1 << 7
	}
	if hdr.EndOfMessage {
		flags |= 1 << 6
	}
	frame[7] = flags

	copy(frame[mctpHeaderLen:mctpHeaderLen+len(payload)], payload)
	return frame, nil
}

// Decode parses an inbound MCTP frame, returning the header it carries and
// the payload (without trailing alignment padding).
func (c *Codec) Decode(frame []byte) (Header, []byte, error) {
	if len(frame) < mctpHeaderLen+1 {
		return Header{}, nil, errcode.New("ectype.Decode", errcode.InvalidByteCount)
	}
	if frame[0] != mctpDestSlaveAddr {
		return Header{}, nil, errcode.New("ectype.Decode", errcode.InvalidData)
	}
	if frame[1] != mctpCommandCode {
		return Header{}, nil, errcode.New("ectype.Decode", errcode.InvalidData)
	}
	byteCount := int(frame[2])
	if byteCount > MaxMctpPayloadLen+5 {
		return Header{}, nil, errcode.New("ectype.Decode", errcode.InvalidByteCount)
	}
	if roundUpMod4(byteCount+3) != len(frame) {
		return Header{}, nil, errcode.New("ectype.Decode", errcode.InvalidByteCount)
	}
	if frame[3] != c.SourceEndpoint {
		return Header{}, nil, errcode.New("ectype.Decode", errcode.InvalidData)
	}
	if frame[4] != mctpHeaderVersion {
		return Header{}, nil, errcode.New("ectype.Decode", errcode.InvalidData)
	}
	endpoint, ok := byteToEndpoint[frame[5]]
	if !ok {
		return Header{}, nil, errcode.New("ectype.Decode", errcode.InvalidData)
	}

	flags := frame[7]
	som := flags&(1<<7) != 0
	eom := flags&(1<<6) != 0
	seq := (flags & 0b0011_0000) >> 4
	tag := flags & 0b0000_0111
	if !som || !eom || seq != 1 || tag != 3 {
		return Header{}, nil, errcode.New("ectype.Decode", errcode.InvalidData)
	}

	payloadLen := byteCount - 5
	if mctpHeaderLen+payloadLen > len(frame) {
		return Header{}, nil, errcode.New("ectype.Decode", errcode.InvalidByteCount)
	}
	payload := make([]byte, payloadLen)
	copy(payload, frame[mctpHeaderLen:mctpHeaderLen+payloadLen])

	return Header{Endpoint: endpoint, StartOfMessage: som, EndOfMessage: eom}, payload, nil
}
