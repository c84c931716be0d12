// Package framing converts between application frames and data track packets.
package framing

import (
	"errors"

	"github.com/pion/rtp"

	"github.com/1ureka/datatrack/internal/protocol"
)

// DefaultMTU is the default maximum payload size per packet.
const DefaultMTU = 16_000

// ErrMTUTooShort is returned when the MTU cannot carry any payload.
var ErrMTUTooShort = errors.New("MTU is too short to send frame")

// Frame is a payload plus the extensions attached to every packet of it.
type Frame struct {
	Payload    []byte
	Extensions protocol.Extensions
}

// Packetizer splits frames for one track into packets. It is owned by a
// single track goroutine and needs no locking.
type Packetizer struct {
	handle      protocol.Handle
	mtu         int
	sequence    rtp.Sequencer
	frameNumber rtp.Sequencer
	clock       *protocol.Clock
}

// NewPacketizer creates a packetizer for the given track handle. Sequence and
// frame numbers both start at zero and wrap at 16 bits.
func NewPacketizer(handle protocol.Handle, mtu int) *Packetizer {
	return &Packetizer{
		handle:      handle,
		mtu:         mtu,
		sequence:    rtp.NewFixedSequencer(0),
		frameNumber: rtp.NewFixedSequencer(0),
		clock:       protocol.NewClock(),
	}
}

// Packetize splits a frame into one or more packets whose payloads
// concatenate back to frame.Payload.
func (p *Packetizer) Packetize(frame Frame) ([]*protocol.Packet, error) {
	if p.mtu <= 0 {
		return nil, ErrMTUTooShort
	}
	chunks := chunk(frame.Payload, p.mtu)
	if len(chunks) == 0 {
		chunks = [][]byte{nil}
	}

	base := protocol.Header{
		TrackHandle: p.handle,
		FrameNumber: p.frameNumber.NextSequenceNumber(),
		Timestamp:   p.clock.Now(),
		Extensions:  frame.Extensions,
	}
	packets := make([]*protocol.Packet, len(chunks))
	for i, payload := range chunks {
		header := base
		header.Marker = frameMarker(i, len(chunks))
		header.Sequence = p.sequence.NextSequenceNumber()
		packets[i] = &protocol.Packet{Header: header, Payload: payload}
	}
	return packets, nil
}

func frameMarker(index, count int) protocol.FrameMarker {
	switch {
	case count == 1:
		return protocol.MarkerSingle
	case index == 0:
		return protocol.MarkerStart
	case index == count-1:
		return protocol.MarkerFinal
	default:
		return protocol.MarkerInter
	}
}

// chunk splits b into zero-copy slices of at most size bytes.
func chunk(b []byte, size int) [][]byte {
	if len(b) == 0 {
		return nil
	}
	out := make([][]byte, 0, (len(b)+size-1)/size)
	for len(b) > 0 {
		n := min(size, len(b))
		out = append(out, b[:n:n])
		b = b[n:]
	}
	return out
}
