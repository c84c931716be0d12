package remote

import (
	"github.com/1ureka/datatrack"
	"github.com/1ureka/datatrack/internal/framing"
	"github.com/1ureka/datatrack/internal/protocol"
	"github.com/1ureka/datatrack/internal/util"
)

// pipeline reassembles the packets of one subscribed track into frames and
// hands them to the broadcaster. It runs until stop is closed.
type pipeline struct {
	handle       datatrack.Handle
	info         *datatrack.TrackInfo
	publisher    datatrack.ParticipantIdentity
	depacketizer *framing.Depacketizer
	decryption   datatrack.DecryptionProvider

	packets <-chan *protocol.Packet
	frames  *broadcaster
	stop    <-chan struct{}
}

func (p *pipeline) run() {
	for {
		select {
		case <-p.stop:
			util.LogDebug("[%s] pipeline for %s stopped", p.handle, p.info.Sid)
			return

		case pkt := <-p.packets:
			before := p.depacketizer.Dropped()
			frame := p.depacketizer.Push(pkt)
			if n := p.depacketizer.Dropped() - before; n > 0 {
				util.Stats.AddFramesDropped(n)
			}
			if frame == nil {
				continue
			}
			out, ok := p.open(frame)
			if !ok {
				util.Stats.AddFramesDropped(1)
				continue
			}
			util.Stats.AddFrameRecv()
			if n := p.frames.publish(out); n > 0 {
				util.LogDebug("[%s] %d subscriber(s) too slow, frame dropped for them", p.handle, n)
				util.Stats.AddFramesDropped(n)
			}
		}
	}
}

// open turns a reassembled frame into an application frame, decrypting it
// if the track uses E2EE.
func (p *pipeline) open(frame *framing.Frame) (datatrack.Frame, bool) {
	out := datatrack.Frame{Payload: frame.Payload, UserTimestamp: frame.Extensions.UserTimestamp}
	if !p.info.UsesE2EE {
		return out, true
	}

	e2ee := frame.Extensions.E2EE
	if e2ee == nil {
		util.LogWarning("[%s] encrypted track sent a frame without E2EE extension", p.handle)
		return out, false
	}
	if p.decryption == nil {
		util.LogWarning("[%s] no decryption provider for encrypted track %s", p.handle, p.info.Sid)
		return out, false
	}

	plain, err := p.decryption.Decrypt(datatrack.EncryptedPayload{
		Payload:  frame.Payload,
		IV:       e2ee.IV,
		KeyIndex: e2ee.KeyIndex,
	}, p.publisher)
	if err != nil {
		util.LogWarning("[%s] decrypt failed: %v", p.handle, err)
		return out, false
	}
	out.Payload = plain
	return out, true
}
