package datatrack

import (
	"errors"
	"fmt"
)

// Publish errors. ErrNotAllowed, ErrDuplicateName and ErrInvalidName are
// reported by the remote peer in a PublishResult.
var (
	ErrNotAllowed     = errors.New("publishing data tracks is not allowed")
	ErrDuplicateName  = errors.New("a data track with the same name is already published")
	ErrInvalidName    = errors.New("invalid data track name")
	ErrPublishTimeout = errors.New("publish data track timed out")
	ErrLimitReached   = errors.New("data track publication limit reached")
)

// Subscribe errors.
var (
	ErrUnpublished      = errors.New("track has been unpublished")
	ErrSubscribeTimeout = errors.New("subscribe data track timed out")
)

var (
	// ErrDisconnected means the manager shut down before the operation finished.
	ErrDisconnected = errors.New("session disconnected")
	// ErrInputFull is a transient rejection: the manager's input queue is full.
	ErrInputFull = errors.New("manager input queue full")
	// ErrInvalidSid is returned by ParseTrackSid.
	ErrInvalidSid = errors.New("invalid data track sid")
)

// InternalError reports a broken invariant inside a manager.
type InternalError struct {
	Err error
}

// Internalf creates an InternalError with a formatted cause.
func Internalf(format string, args ...any) *InternalError {
	return &InternalError{Err: fmt.Errorf(format, args...)}
}

func (e *InternalError) Error() string { return "internal error: " + e.Err.Error() }
func (e *InternalError) Unwrap() error { return e.Err }

// PushFrameReason tells why a frame could not be pushed.
type PushFrameReason int

const (
	// ReasonTrackUnpublished means the track is no longer published.
	ReasonTrackUnpublished PushFrameReason = iota
	// ReasonDropped means the track's frame queue was full.
	ReasonDropped
)

func (r PushFrameReason) String() string {
	switch r {
	case ReasonTrackUnpublished:
		return "track unpublished"
	case ReasonDropped:
		return "dropped"
	default:
		return fmt.Sprintf("PushFrameReason(%d)", int(r))
	}
}

// PushFrameError is returned by LocalTrack.TryPush. It hands the frame back
// to the caller.
type PushFrameError struct {
	Frame  Frame
	Reason PushFrameReason
}

func (e *PushFrameError) Error() string {
	return "failed to push frame: " + e.Reason.String()
}

// Is matches ErrUnpublished for frames rejected by an unpublished track.
func (e *PushFrameError) Is(target error) bool {
	return target == ErrUnpublished && e.Reason == ReasonTrackUnpublished
}
