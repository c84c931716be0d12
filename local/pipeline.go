package local

import (
	"github.com/1ureka/datatrack"
	"github.com/1ureka/datatrack/internal/framing"
	"github.com/1ureka/datatrack/internal/protocol"
	"github.com/1ureka/datatrack/internal/util"
)

// pipeline turns the frames of one published track into encoded packets.
// It runs in its own goroutine until the track is unpublished.
type pipeline struct {
	handle     datatrack.Handle
	state      *trackState
	packetizer *framing.Packetizer
	encryption datatrack.EncryptionProvider // nil unless the track uses E2EE

	frames <-chan datatrack.Frame
	output chan<- OutputEvent
	input  Input // to report a client-initiated unpublish
}

func (p *pipeline) run() {
	for {
		select {
		case <-p.state.stop:
			if p.state.initiator == InitiatorClient {
				// The manager owns the handle; let it release it.
				select {
				case p.input.ch <- trackEnded{handle: p.handle, state: p.state}:
				case <-p.input.done:
				}
			}
			util.LogDebug("[%s] pipeline stopped (%s)", p.handle, p.state.initiator)
			return

		case frame := <-p.frames:
			if p.state.republishing.Load() {
				util.Stats.AddFramesDropped(1)
				continue
			}
			p.process(frame)
		}
	}
}

// process packetizes one frame and emits its packets without waiting. If the
// output queue is full the rest of the frame is dropped; the receiver could
// not reassemble it anyway.
func (p *pipeline) process(frame datatrack.Frame) {
	payload := frame.Payload
	ext := protocol.Extensions{UserTimestamp: frame.UserTimestamp}

	if p.encryption != nil {
		enc, err := p.encryption.Encrypt(payload)
		if err != nil {
			util.LogWarning("[%s] encrypt failed, dropping frame: %v", p.handle, err)
			util.Stats.AddFramesDropped(1)
			return
		}
		payload = enc.Payload
		ext.E2EE = &protocol.E2EE{KeyIndex: enc.KeyIndex, IV: enc.IV}
	}

	packets, err := p.packetizer.Packetize(framing.Frame{Payload: payload, Extensions: ext})
	if err != nil {
		util.LogWarning("[%s] packetize failed, dropping frame: %v", p.handle, err)
		util.Stats.AddFramesDropped(1)
		return
	}

	for i, pkt := range packets {
		data := protocol.Encode(pkt)
		select {
		case p.output <- PacketAvailable{Data: data}:
			util.Stats.AddPacketSent(len(data))
		default:
			util.LogDebug("[%s] output full, dropping frame after %d of %d packets", p.handle, i, len(packets))
			util.Stats.AddFramesDropped(1)
			return
		}
	}
	util.Stats.AddFrameSent()
}
