// Package transport carries encoded data track packets over a WebRTC
// DataChannel.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/datatrack/internal/util"
)

// Transport is one PeerConnection with the data track DataChannel. It is
// ready once the channel opens and done once the channel closes, the
// connection fails, or the context given to NewTransport ends.
type Transport struct {
	pc *webrtc.PeerConnection
	dc *webrtc.DataChannel

	sender *sender
	ready  chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

// NewTransport creates the PeerConnection and its pre-negotiated DataChannel.
// An empty iceServers list uses public STUN servers.
func NewTransport(ctx context.Context, iceServers []string) (*Transport, error) {
	pc, err := newPeerConnection(iceServers)
	if err != nil {
		return nil, err
	}

	dc, err := newDataChannel(pc)
	if err != nil {
		pc.Close()
		return nil, err
	}

	tCtx, tCancel := context.WithCancel(ctx)
	t := &Transport{
		pc:     pc,
		dc:     dc,
		ready:  make(chan struct{}),
		ctx:    tCtx,
		cancel: tCancel,
	}

	var readyOnce sync.Once
	dc.OnOpen(func() {
		readyOnce.Do(func() { close(t.ready) })
	})
	dc.OnClose(func() {
		util.LogInfo("DataChannel closed")
		tCancel()
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		util.LogDebug("PeerConnection state: %s", state)
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			tCancel()
		}
	})

	t.sender = newSender(tCtx, dc, t.ready)
	return t, nil
}

// Ready is closed when the DataChannel opens.
func (t *Transport) Ready() <-chan struct{} { return t.ready }

// Done is closed when the transport is gone for good.
func (t *Transport) Done() <-chan struct{} { return t.ctx.Done() }

// Close shuts down the DataChannel and the PeerConnection.
func (t *Transport) Close() error {
	t.cancel()
	return errors.Join(t.dc.Close(), t.pc.Close())
}

// ---------------------------------------------------------------------------
// Negotiation
// ---------------------------------------------------------------------------

// LocalDescription creates an offer (or an answer to the remote offer),
// applies it, and returns its SDP.
func (t *Transport) LocalDescription(offer bool) (string, error) {
	var (
		desc webrtc.SessionDescription
		err  error
	)
	if offer {
		desc, err = t.pc.CreateOffer(nil)
	} else {
		desc, err = t.pc.CreateAnswer(nil)
	}
	if err != nil {
		return "", err
	}
	if err := t.pc.SetLocalDescription(desc); err != nil {
		return "", err
	}
	return desc.SDP, nil
}

// SetRemoteDescription applies the peer's offer or answer.
func (t *Transport) SetRemoteDescription(offer bool, sdp string) error {
	typ := webrtc.SDPTypeAnswer
	if offer {
		typ = webrtc.SDPTypeOffer
	}
	return t.pc.SetRemoteDescription(webrtc.SessionDescription{Type: typ, SDP: sdp})
}

// OnICECandidate calls fn with every gathered local candidate, JSON-encoded
// as an ICECandidateInit.
func (t *Transport) OnICECandidate(fn func(candidate string)) {
	t.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		data, err := json.Marshal(c.ToJSON())
		if err != nil {
			util.LogDebug("encode ICE candidate: %v", err)
			return
		}
		fn(string(data))
	})
}

// AddICECandidate adds a JSON-encoded remote candidate.
func (t *Transport) AddICECandidate(candidate string) error {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal([]byte(candidate), &init); err != nil {
		return fmt.Errorf("parse ICE candidate: %w", err)
	}
	return t.pc.AddICECandidate(init)
}

// ---------------------------------------------------------------------------
// Packets
// ---------------------------------------------------------------------------

// Send queues one encoded packet. It never blocks.
func (t *Transport) Send(data []byte) {
	t.sender.send(t.ctx, data)
}

// OnPacket calls fn for every binary DataChannel message. Text messages are
// not data track packets and are dropped.
func (t *Transport) OnPacket(fn func([]byte)) {
	t.dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if msg.IsString {
			util.LogDebug("dropping text message on %s", channelLabel)
			return
		}
		fn(msg.Data)
	})
}
