package framing

import (
	"github.com/1ureka/datatrack/internal/protocol"
	"github.com/1ureka/datatrack/internal/util"
)

// DefaultMaxFrameSize bounds the bytes buffered for one frame in progress.
const DefaultMaxFrameSize = 16 * 1024 * 1024

// Depacketizer reassembles frames from the packets of a single track.
// It is goroutine-local (used inside a per-track goroutine) and needs no locking.
//
// At most one frame is in flight. A sequence gap or any packet of a newer
// frame discards the frame in progress. Stragglers of older frames and
// duplicates are dropped on their own and leave it intact.
type Depacketizer struct {
	partial      *partialFrame
	maxFrameSize int
	dropped      int
}

type partialFrame struct {
	frameNumber uint16
	nextSeq     uint16
	extensions  protocol.Extensions
	payload     []byte
}

// NewDepacketizer creates a depacketizer with the default frame size bound.
func NewDepacketizer() *Depacketizer {
	return &Depacketizer{maxFrameSize: DefaultMaxFrameSize}
}

// Dropped returns the number of frames discarded so far.
func (d *Depacketizer) Dropped() int { return d.dropped }

// Push processes an incoming packet and returns a frame if it completed one.
func (d *Depacketizer) Push(pkt *protocol.Packet) *Frame {
	h := &pkt.Header
	switch h.Marker {
	case protocol.MarkerSingle:
		if !d.stale(pkt) {
			d.discard(pkt, "interrupted by single packet frame")
		}
		return &Frame{Payload: pkt.Payload, Extensions: h.Extensions}

	case protocol.MarkerStart:
		if d.stale(pkt) {
			d.dropPacket(pkt, "start of an older frame")
			return nil
		}
		d.discard(pkt, "interrupted by new frame")
		d.partial = &partialFrame{
			frameNumber: h.FrameNumber,
			nextSeq:     h.Sequence + 1,
			extensions:  h.Extensions,
			payload:     append(make([]byte, 0, len(pkt.Payload)*2), pkt.Payload...),
		}
		return nil

	case protocol.MarkerInter, protocol.MarkerFinal:
		return d.continueFrame(pkt)
	}
	return nil
}

func (d *Depacketizer) continueFrame(pkt *protocol.Packet) *Frame {
	h := &pkt.Header
	p := d.partial
	if p == nil {
		util.LogDebug("[%s] %s packet seq=%d without start, dropping", h.TrackHandle, h.Marker, h.Sequence)
		return nil
	}
	if d.stale(pkt) {
		d.dropPacket(pkt, "packet of an older frame")
		return nil
	}
	if h.FrameNumber != p.frameNumber {
		d.discard(pkt, "packet of a newer frame")
		return nil
	}
	if isBefore(h.Sequence, p.nextSeq) {
		d.dropPacket(pkt, "duplicate or late packet")
		return nil
	}
	if h.Sequence != p.nextSeq {
		d.discard(pkt, "sequence gap")
		return nil
	}
	if len(p.payload)+len(pkt.Payload) > d.maxFrameSize {
		d.discard(pkt, "frame too large")
		return nil
	}
	p.payload = append(p.payload, pkt.Payload...)
	p.nextSeq++

	if h.Marker != protocol.MarkerFinal {
		return nil
	}
	d.partial = nil
	return &Frame{Payload: p.payload, Extensions: p.extensions}
}

// stale reports whether pkt belongs to a frame older than the one in progress.
func (d *Depacketizer) stale(pkt *protocol.Packet) bool {
	return d.partial != nil && isBefore(pkt.Header.FrameNumber, d.partial.frameNumber)
}

// isBefore compares wrapping u16 counters.
func isBefore(a, b uint16) bool { return int16(a-b) < 0 }

func (d *Depacketizer) dropPacket(pkt *protocol.Packet, reason string) {
	util.LogDebug("[%s] dropping packet seq=%d frame=%d: %s",
		pkt.Header.TrackHandle, pkt.Header.Sequence, pkt.Header.FrameNumber, reason)
}

// discard drops the frame in progress, if any.
func (d *Depacketizer) discard(cause *protocol.Packet, reason string) {
	if d.partial == nil {
		return
	}
	util.LogDebug("[%s] dropping frame %d: %s (seq=%d, expected %d)",
		cause.Header.TrackHandle, d.partial.frameNumber, reason, cause.Header.Sequence, d.partial.nextSeq)
	d.partial = nil
	d.dropped++
}
