package local

import (
	"context"

	"github.com/1ureka/datatrack"
	"github.com/1ureka/datatrack/internal/oneshot"
)

// ---------------------------------------------------------------------------
// Output events (manager → session)
// ---------------------------------------------------------------------------

// OutputEvent is emitted by the manager for the signaling and transport layers.
type OutputEvent interface{ isOutput() }

// PublishRequest asks the remote peer to accept a publication under Handle.
// It must eventually be answered with exactly one PublishResult.
type PublishRequest struct {
	Handle   datatrack.Handle
	Name     string
	UsesE2EE bool
}

// UnpublishRequest tells the remote peer that Handle is no longer published.
type UnpublishRequest struct {
	Handle datatrack.Handle
}

// PacketAvailable carries one encoded packet for the transport.
type PacketAvailable struct {
	Data []byte
}

func (PublishRequest) isOutput()   {}
func (UnpublishRequest) isOutput() {}
func (PacketAvailable) isOutput()  {}

// ---------------------------------------------------------------------------
// Input events (anyone → manager)
// ---------------------------------------------------------------------------

type inputEvent interface{ isInput() }

// PublishResult answers a PublishRequest. Info is set on success, Err otherwise.
type PublishResult struct {
	Handle datatrack.Handle
	Info   *datatrack.TrackInfo
	Err    error
}

// Unpublish reports that the remote peer removed a publication.
type Unpublish struct {
	Handle datatrack.Handle
}

type publishInput struct {
	options datatrack.PublishOptions
	waiter  *oneshot.Waiter[*LocalTrack]
}

type publishTimeout struct {
	handle  datatrack.Handle
	pending *pendingPublish
}

// trackEnded is sent by a pipeline after the application unpublished it.
type trackEnded struct {
	handle datatrack.Handle
	state  *trackState
}

type queryInput struct {
	result chan []*datatrack.TrackInfo
}

type republishInput struct{}

type shutdownInput struct{}

func (PublishResult) isInput()  {}
func (Unpublish) isInput()      {}
func (publishInput) isInput()   {}
func (publishTimeout) isInput() {}
func (trackEnded) isInput()     {}
func (queryInput) isInput()     {}
func (republishInput) isInput() {}
func (shutdownInput) isInput()  {}

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

// Publish requests a new track publication and waits for the outcome.
//
// If ctx ends first the publication still runs to completion; a track that
// becomes active with nobody waiting for it is unpublished right away.
func (in Input) Publish(ctx context.Context, options datatrack.PublishOptions) (*LocalTrack, error) {
	if options.Name == "" {
		return nil, datatrack.ErrInvalidName
	}
	w := oneshot.New[*LocalTrack]()
	if err := in.send(publishInput{options: options, waiter: w}); err != nil {
		return nil, err
	}
	return w.Wait(ctx, in.done, datatrack.ErrDisconnected)
}

// HandlePublishResult delivers the remote peer's answer to a PublishRequest.
func (in Input) HandlePublishResult(res PublishResult) error { return in.send(res) }

// HandleUnpublish reports a publication removed by the remote peer.
func (in Input) HandleUnpublish(handle datatrack.Handle) error {
	return in.send(Unpublish{Handle: handle})
}

// RepublishTracks re-announces every active track after the signaling
// connection was re-established. Pending publications fail with ErrDisconnected.
func (in Input) RepublishTracks() error { return in.send(republishInput{}) }

// QueryPublished returns the info of every active track, ordered by handle.
func (in Input) QueryPublished(ctx context.Context) ([]*datatrack.TrackInfo, error) {
	result := make(chan []*datatrack.TrackInfo, 1)
	if err := in.send(queryInput{result: result}); err != nil {
		return nil, err
	}
	select {
	case infos := <-result:
		return infos, nil
	case <-in.done:
		return nil, datatrack.ErrDisconnected
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Shutdown asks the manager to stop. Unlike the other inputs it waits for
// queue space, since a lost shutdown would leave callers pending.
func (in Input) Shutdown() {
	select {
	case in.ch <- shutdownInput{}:
	case <-in.done:
	}
}
