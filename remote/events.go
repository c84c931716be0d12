package remote

import (
	"github.com/1ureka/datatrack"
	"github.com/1ureka/datatrack/internal/oneshot"
)

// ---------------------------------------------------------------------------
// Output events (manager → session)
// ---------------------------------------------------------------------------

// OutputEvent is emitted by the manager for the application and signaling.
type OutputEvent interface{ isOutput() }

// TrackAvailable announces a track newly published by another participant.
type TrackAvailable struct {
	Track *RemoteTrack
}

// SubscriptionUpdated asks signaling to change the subscription to Sid.
// A successful subscribe is answered with a SubscriberHandles entry.
type SubscriptionUpdated struct {
	Sid       datatrack.TrackSid
	Subscribe bool
}

func (TrackAvailable) isOutput()      {}
func (SubscriptionUpdated) isOutput() {}

// ---------------------------------------------------------------------------
// Input events (anyone → manager)
// ---------------------------------------------------------------------------

type inputEvent interface{ isInput() }

// PublicationsUpdated is the full set of data tracks currently published by
// other participants.
type PublicationsUpdated struct {
	Tracks map[datatrack.ParticipantIdentity][]*datatrack.TrackInfo
}

// SubscriberHandles binds the handles used on the wire to subscribed sids.
type SubscriberHandles struct {
	Mapping map[datatrack.Handle]datatrack.TrackSid
}

// PacketReceived carries one encoded packet from the transport.
type PacketReceived struct {
	Data []byte
}

type subscribeInput struct {
	sid    datatrack.TrackSid
	waiter *oneshot.Waiter[*Subscription]
}

// unsubscribeInput is sent when the last subscription of a track closes.
type unsubscribeInput struct {
	sid   datatrack.TrackSid
	bcast *broadcaster
}

type resendInput struct{}

type shutdownInput struct{}

func (PublicationsUpdated) isInput() {}
func (SubscriberHandles) isInput()   {}
func (PacketReceived) isInput()      {}
func (subscribeInput) isInput()      {}
func (unsubscribeInput) isInput()    {}
func (resendInput) isInput()         {}
func (shutdownInput) isInput()       {}

// Input is the sending side of a manager's input queue. It is a small value,
// safe to copy and to use from any goroutine.
type Input struct {
	ch   chan<- inputEvent
	done <-chan struct{}
}

// send enqueues ev without blocking.
func (in Input) send(ev inputEvent) error {
	select {
	case <-in.done:
		return datatrack.ErrDisconnected
	default:
	}
	select {
	case in.ch <- ev:
		return nil
	default:
		return datatrack.ErrInputFull
	}
}

// sendWait enqueues ev, waiting for room until the manager stops.
func (in Input) sendWait(ev inputEvent) {
	select {
	case in.ch <- ev:
	case <-in.done:
	}
}

// HandlePublications delivers the latest publication state from signaling.
func (in Input) HandlePublications(ev PublicationsUpdated) error { return in.send(ev) }

// HandleSubscriberHandles delivers handle bindings from signaling.
func (in Input) HandleSubscriberHandles(ev SubscriberHandles) error { return in.send(ev) }

// HandlePacket delivers one packet from the transport. A full queue drops it.
func (in Input) HandlePacket(data []byte) error { return in.send(PacketReceived{Data: data}) }

// ResendSubscriptionUpdates re-emits SubscriptionUpdated for every track
// being subscribed, after signaling reconnected.
func (in Input) ResendSubscriptionUpdates() error { return in.send(resendInput{}) }

// Shutdown asks the manager to stop.
func (in Input) Shutdown() { in.sendWait(shutdownInput{}) }
