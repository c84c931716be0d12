// Package signaling carries the control messages of a data track session over
// a WebSocket: the SDP/ICE exchange that sets up the transport, then the
// publish/subscribe negotiation between the two peers.
package signaling

// MessageType identifies the kind of signaling message.
type MessageType string

const (
	// Transport setup.
	MsgTypeOffer     MessageType = "offer"
	MsgTypeAnswer    MessageType = "answer"
	MsgTypeCandidate MessageType = "candidate"

	// Data track negotiation.
	MsgTypeHello              MessageType = "hello"
	MsgTypePublishRequest     MessageType = "publish_request"
	MsgTypePublishResponse    MessageType = "publish_response"
	MsgTypeUnpublishRequest   MessageType = "unpublish_request"
	MsgTypeUnpublished        MessageType = "unpublished"
	MsgTypeSubscriptionUpdate MessageType = "subscription_update"
	MsgTypeSubscriberHandles  MessageType = "subscriber_handles"
)

// Error codes carried by a publish_response.
const (
	ErrCodeNotAllowed    = "not_allowed"
	ErrCodeDuplicateName = "duplicate_name"
	ErrCodeInvalidName   = "invalid_name"
	ErrCodeInternal      = "internal"
)

// Message is the JSON structure exchanged over the WebSocket.
type Message struct {
	Type      MessageType `json:"type"`
	SDP       string      `json:"sdp,omitempty"`
	Candidate string      `json:"candidate,omitempty"` // JSON-encoded ICECandidateInit

	Identity  string            `json:"identity,omitempty"` // hello
	Handle    uint16            `json:"handle,omitempty"`
	Name      string            `json:"name,omitempty"`
	Sid       string            `json:"sid,omitempty"`
	UsesE2EE  bool              `json:"uses_e2ee,omitempty"`
	Error     string            `json:"error,omitempty"` // publish_response failure code
	Subscribe bool              `json:"subscribe,omitempty"`
	Handles   map[uint16]string `json:"handles,omitempty"` // handle → sid
}

// isTransport reports whether the message belongs to the SDP/ICE exchange.
func (m *Message) isTransport() bool {
	switch m.Type {
	case MsgTypeOffer, MsgTypeAnswer, MsgTypeCandidate:
		return true
	}
	return false
}
