package local

import (
	"sync"
	"sync/atomic"

	"github.com/1ureka/datatrack"
)

// Initiator records who ended a publication.
type Initiator int

const (
	InitiatorClient   Initiator = iota // the application called Unpublish
	InitiatorSfu                       // the remote peer removed the track
	InitiatorShutdown                  // the manager shut down
)

func (i Initiator) String() string {
	switch i {
	case InitiatorClient:
		return "client"
	case InitiatorSfu:
		return "sfu"
	case InitiatorShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// trackState is shared by the manager, the pipeline and the LocalTrack.
// stop is closed exactly once; initiator is written before the close.
type trackState struct {
	info         atomic.Pointer[datatrack.TrackInfo]
	republishing atomic.Bool

	stop      chan struct{}
	closeOnce sync.Once
	initiator Initiator
}

func newTrackState(info *datatrack.TrackInfo) *trackState {
	s := &trackState{stop: make(chan struct{})}
	s.info.Store(info)
	return s
}

// unpublish moves the track to Unpublished. Only the first call has effect.
func (s *trackState) unpublish(initiator Initiator) bool {
	first := false
	s.closeOnce.Do(func() {
		s.initiator = initiator
		close(s.stop)
		first = true
	})
	return first
}

func (s *trackState) isPublished() bool {
	select {
	case <-s.stop:
		return false
	default:
		return true
	}
}

// LocalTrack is a data track published by this participant.
type LocalTrack struct {
	state  *trackState
	frames chan<- datatrack.Frame
}

// Info returns the current track description. The sid changes after the
// track is republished.
func (t *LocalTrack) Info() *datatrack.TrackInfo { return t.state.info.Load() }

// IsPublished reports whether frames can still be pushed.
func (t *LocalTrack) IsPublished() bool { return t.state.isPublished() }

// Unpublished is closed once the track is no longer published.
func (t *LocalTrack) Unpublished() <-chan struct{} { return t.state.stop }

// TryPush queues a frame for sending without blocking. On failure the
// returned *datatrack.PushFrameError hands the frame back.
func (t *LocalTrack) TryPush(frame datatrack.Frame) error {
	if !t.state.isPublished() {
		return &datatrack.PushFrameError{Frame: frame, Reason: datatrack.ReasonTrackUnpublished}
	}
	if t.state.republishing.Load() {
		return &datatrack.PushFrameError{Frame: frame, Reason: datatrack.ReasonDropped}
	}
	select {
	case t.frames <- frame:
		return nil
	default:
		return &datatrack.PushFrameError{Frame: frame, Reason: datatrack.ReasonDropped}
	}
}

// Unpublish stops the track. The manager then releases its handle and asks
// the remote peer to remove the publication. Calling it again has no effect.
func (t *LocalTrack) Unpublish() {
	t.state.unpublish(InitiatorClient)
}
