package remote

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/1ureka/datatrack"
	"github.com/1ureka/datatrack/internal/oneshot"
)

// publishedState is closed once the track is unpublished.
type publishedState struct {
	stop      chan struct{}
	closeOnce sync.Once
}

func newPublishedState() *publishedState {
	return &publishedState{stop: make(chan struct{})}
}

func (s *publishedState) unpublish() {
	s.closeOnce.Do(func() { close(s.stop) })
}

// RemoteTrack is a data track published by another participant.
type RemoteTrack struct {
	info      *datatrack.TrackInfo
	publisher datatrack.ParticipantIdentity
	published *publishedState

	input            Input
	subscribeTimeout time.Duration
}

// Info describes the track. Its Handle is zero; handles are bound per
// subscription.
func (t *RemoteTrack) Info() *datatrack.TrackInfo { return t.info }

// Publisher returns the identity of the participant that published the track.
func (t *RemoteTrack) Publisher() datatrack.ParticipantIdentity { return t.publisher }

// IsPublished reports whether the track is still published.
func (t *RemoteTrack) IsPublished() bool {
	select {
	case <-t.published.stop:
		return false
	default:
		return true
	}
}

// Unpublished is closed once the publisher removed the track.
func (t *RemoteTrack) Unpublished() <-chan struct{} { return t.published.stop }

// Subscribe waits until frames of the track can be received, at most the
// configured subscribe timeout. Concurrent calls share one negotiation.
func (t *RemoteTrack) Subscribe(ctx context.Context) (*Subscription, error) {
	if !t.IsPublished() {
		return nil, datatrack.ErrUnpublished
	}
	ctx, cancel := context.WithTimeoutCause(ctx, t.subscribeTimeout, datatrack.ErrSubscribeTimeout)
	defer cancel()

	w := oneshot.New[*Subscription]()
	if err := t.input.send(subscribeInput{sid: t.info.Sid, waiter: w}); err != nil {
		return nil, err
	}
	sub, err := w.Wait(ctx, t.input.done, datatrack.ErrDisconnected)
	if errors.Is(err, context.DeadlineExceeded) && errors.Is(context.Cause(ctx), datatrack.ErrSubscribeTimeout) {
		return nil, datatrack.ErrSubscribeTimeout
	}
	return sub, err
}

// Subscription receives the frames of one remote track.
type Subscription struct {
	sid    datatrack.TrackSid
	id     uint64
	frames <-chan datatrack.Frame
	bcast  *broadcaster
	input  Input

	closeOnce sync.Once
}

// Frames is closed when the subscription is closed or the track goes away.
func (s *Subscription) Frames() <-chan datatrack.Frame { return s.frames }

// Close ends the subscription. Closing the last one of a track unsubscribes
// from it.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		if s.bcast.unsubscribe(s.id) == 0 {
			s.input.sendWait(unsubscribeInput{sid: s.sid, bcast: s.bcast})
		}
	})
}
