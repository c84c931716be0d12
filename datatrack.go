// Package datatrack defines the types shared by the data track publish and
// subscribe managers: frames, track descriptions and errors.
//
// A data track carries arbitrary application frames alongside audio and video.
// Frames are split into packets by the publishing side, sent over an
// unreliable transport, and reassembled by each subscriber.
package datatrack

import (
	"fmt"
	"strings"
	"time"

	"github.com/1ureka/datatrack/internal/config"
	"github.com/1ureka/datatrack/internal/protocol"
)

// Handle identifies a track within one transport session. Zero is never valid.
type Handle = protocol.Handle

// ParseHandle validates a raw handle value received from the peer.
func ParseHandle(v uint32) (Handle, error) { return protocol.HandleFromUint32(v) }

// Config holds the tuning parameters of a session. Zero fields take defaults.
type Config = config.Config

// DefaultConfig returns the default tuning parameters.
func DefaultConfig() Config { return config.Default() }

// ParticipantIdentity identifies the participant that published a track.
type ParticipantIdentity string

// TrackSidPrefix is carried by every data track sid.
const TrackSidPrefix = "DTR_"

// TrackSid is the server-assigned identifier of a published data track.
type TrackSid string

// ParseTrackSid validates s as a data track sid.
func ParseTrackSid(s string) (TrackSid, error) {
	if !strings.HasPrefix(s, TrackSidPrefix) || len(s) == len(TrackSidPrefix) {
		return "", fmt.Errorf("%w: %q", ErrInvalidSid, s)
	}
	return TrackSid(s), nil
}

func (s TrackSid) String() string { return string(s) }

// TrackInfo describes a published track. It is never modified after
// construction and may be shared freely.
type TrackInfo struct {
	Sid      TrackSid
	Name     string
	Handle   Handle
	UsesE2EE bool
}

func (i *TrackInfo) String() string {
	return fmt.Sprintf("%s(%q, handle=%s, e2ee=%t)", i.Sid, i.Name, i.Handle, i.UsesE2EE)
}

// PublishOptions configures a track publication.
type PublishOptions struct {
	Name        string
	DisableE2EE bool // publish unencrypted even if an encryption provider is set
}

// Frame is one application payload.
type Frame struct {
	Payload       []byte
	UserTimestamp *uint64 // optional, carried end to end untouched
}

// NewFrame returns a frame carrying payload.
func NewFrame(payload []byte) Frame {
	return Frame{Payload: payload}
}

// WithUserTimestamp attaches an application timestamp to the frame.
func (f Frame) WithUserTimestamp(ts uint64) Frame {
	f.UserTimestamp = &ts
	return f
}

// WithUserTimestampNow attaches the current UNIX time in milliseconds.
func (f Frame) WithUserTimestampNow() Frame {
	return f.WithUserTimestamp(uint64(time.Now().UnixMilli()))
}

// Latency returns the time elapsed since the user timestamp, assuming it
// holds UNIX milliseconds. ok is false if no timestamp is attached.
func (f Frame) Latency() (d time.Duration, ok bool) {
	if f.UserTimestamp == nil {
		return 0, false
	}
	return time.Since(time.UnixMilli(int64(*f.UserTimestamp))), true
}
