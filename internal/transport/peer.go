package transport

import (
	"github.com/pion/webrtc/v4"
)

// STUN servers for ICE candidate gathering.
var stunServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// channelLabel names the DataChannel carrying data track packets.
const channelLabel = "_data_track"

// newPeerConnection creates a PeerConnection configured with Google STUN servers.
func newPeerConnection(iceServers []string) (*webrtc.PeerConnection, error) {
	if len(iceServers) == 0 {
		iceServers = stunServers
	}
	config := webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: iceServers},
		},
	}
	return webrtc.NewPeerConnection(config)
}

// newDataChannel creates a pre-negotiated DataChannel for data track packets.
// Packets are unordered and never retransmitted: the depacketizer detects
// loss from sequence numbers and a late packet is worth nothing.
func newDataChannel(pc *webrtc.PeerConnection) (*webrtc.DataChannel, error) {
	ordered := false
	negotiated := true
	maxRetransmits := uint16(0)
	id := uint16(1)

	return pc.CreateDataChannel(channelLabel, &webrtc.DataChannelInit{
		Ordered:        &ordered,
		Negotiated:     &negotiated,
		MaxRetransmits: &maxRetransmits,
		ID:             &id,
	})
}
