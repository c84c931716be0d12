package session

import (
	"context"
	"fmt"
	"slices"

	"github.com/pion/randutil"

	"github.com/1ureka/datatrack"
	"github.com/1ureka/datatrack/internal/signaling"
	"github.com/1ureka/datatrack/internal/util"
	"github.com/1ureka/datatrack/local"
	"github.com/1ureka/datatrack/remote"
)

const sidRunes = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// handleControl applies one negotiation message from the peer.
func (s *Session) handleControl(ctx context.Context, msg signaling.Message) error {
	handle := datatrack.Handle(msg.Handle)

	switch msg.Type {
	case signaling.MsgTypeHello:
		s.mu.Lock()
		s.peerIdentity = datatrack.ParticipantIdentity(msg.Identity)
		s.mu.Unlock()
		util.LogInfo("peer identity: %s", msg.Identity)
		return nil

	// Our publications, answered by the peer.
	case signaling.MsgTypePublishResponse:
		res := publishResult(msg)
		return retry(ctx, func() error { return s.local.Input().HandlePublishResult(res) })

	case signaling.MsgTypeUnpublished:
		return retry(ctx, func() error { return s.local.Input().HandleUnpublish(handle) })

	case signaling.MsgTypeSubscriptionUpdate:
		if !msg.Subscribe {
			// Packets are sent regardless; the peer drops what it does not need.
			return nil
		}
		return s.answerSubscription(ctx, datatrack.TrackSid(msg.Sid))

	// The peer's publications, accepted by us.
	case signaling.MsgTypePublishRequest:
		return s.acceptPublish(ctx, msg)

	case signaling.MsgTypeUnpublishRequest:
		s.mu.Lock()
		delete(s.peerTracks, handle)
		s.mu.Unlock()
		return s.updatePublications(ctx)

	case signaling.MsgTypeSubscriberHandles:
		mapping := make(map[datatrack.Handle]datatrack.TrackSid, len(msg.Handles))
		for h, raw := range msg.Handles {
			handle, err := datatrack.ParseHandle(uint32(h))
			if err != nil {
				return err
			}
			sid, err := datatrack.ParseTrackSid(raw)
			if err != nil {
				return err
			}
			mapping[handle] = sid
		}
		return retry(ctx, func() error {
			return s.remote.Input().HandleSubscriberHandles(remote.SubscriberHandles{Mapping: mapping})
		})
	}

	return fmt.Errorf("unexpected message type %q", msg.Type)
}

// publishResult converts a publish_response into the local manager's input.
func publishResult(msg signaling.Message) local.PublishResult {
	res := local.PublishResult{Handle: datatrack.Handle(msg.Handle)}
	switch msg.Error {
	case "":
		sid, err := datatrack.ParseTrackSid(msg.Sid)
		if err != nil {
			res.Err = &datatrack.InternalError{Err: err}
			return res
		}
		res.Info = &datatrack.TrackInfo{Sid: sid, Name: msg.Name, UsesE2EE: msg.UsesE2EE}
	case signaling.ErrCodeNotAllowed:
		res.Err = datatrack.ErrNotAllowed
	case signaling.ErrCodeDuplicateName:
		res.Err = datatrack.ErrDuplicateName
	case signaling.ErrCodeInvalidName:
		res.Err = datatrack.ErrInvalidName
	default:
		res.Err = datatrack.Internalf("peer rejected publication: %s", msg.Error)
	}
	return res
}

// acceptPublish assigns a sid to a track the peer wants to publish. A request
// for a handle already accepted replaces it under a new sid (republish).
func (s *Session) acceptPublish(ctx context.Context, msg signaling.Message) error {
	handle := datatrack.Handle(msg.Handle)
	reply := signaling.Message{Type: signaling.MsgTypePublishResponse, Handle: msg.Handle}

	s.mu.Lock()
	code := s.checkPublish(handle, msg.Name)
	var info *datatrack.TrackInfo
	if code == "" {
		sid, err := randutil.GenerateCryptoRandomString(12, sidRunes)
		if err != nil {
			code = signaling.ErrCodeInternal
		} else {
			info = &datatrack.TrackInfo{
				Sid:      datatrack.TrackSid(datatrack.TrackSidPrefix + sid),
				Name:     msg.Name,
				Handle:   handle,
				UsesE2EE: msg.UsesE2EE,
			}
			s.peerTracks[handle] = info
		}
	}
	s.mu.Unlock()

	if code != "" {
		util.LogInfo("[%s] rejecting peer publication %q: %s", handle, msg.Name, code)
		reply.Error = code
		s.send(reply)
		return nil
	}

	reply.Sid = string(info.Sid)
	reply.Name = info.Name
	reply.UsesE2EE = info.UsesE2EE
	s.send(reply)
	return s.updatePublications(ctx)
}

// checkPublish must be called with mu held.
func (s *Session) checkPublish(handle datatrack.Handle, name string) string {
	switch {
	case s.opts.DenyRemotePublish:
		return signaling.ErrCodeNotAllowed
	case handle == 0:
		return signaling.ErrCodeInternal
	case name == "":
		return signaling.ErrCodeInvalidName
	}
	for h, info := range s.peerTracks {
		if h != handle && info.Name == name {
			return signaling.ErrCodeDuplicateName
		}
	}
	return ""
}

// updatePublications hands the full set of accepted peer tracks to the
// remote manager.
func (s *Session) updatePublications(ctx context.Context) error {
	s.mu.Lock()
	infos := make([]*datatrack.TrackInfo, 0, len(s.peerTracks))
	for _, info := range s.peerTracks {
		infos = append(infos, info)
	}
	identity := s.peerIdentity
	s.mu.Unlock()

	slices.SortFunc(infos, func(a, b *datatrack.TrackInfo) int { return int(a.Handle) - int(b.Handle) })
	ev := remote.PublicationsUpdated{Tracks: map[datatrack.ParticipantIdentity][]*datatrack.TrackInfo{identity: infos}}
	return retry(ctx, func() error { return s.remote.Input().HandlePublications(ev) })
}

// answerSubscription tells the peer which handle carries sid.
func (s *Session) answerSubscription(ctx context.Context, sid datatrack.TrackSid) error {
	var infos []*datatrack.TrackInfo
	err := retry(ctx, func() error {
		var err error
		infos, err = s.local.Input().QueryPublished(ctx)
		return err
	})
	if err != nil {
		return err
	}

	for _, info := range infos {
		if info.Sid == sid {
			s.send(signaling.Message{
				Type:    signaling.MsgTypeSubscriberHandles,
				Handles: map[uint16]string{uint16(info.Handle): string(sid)},
			})
			return nil
		}
	}
	return fmt.Errorf("subscription to unknown track %s", sid)
}

// RevokeTrack removes a track the peer published. The peer is told its track
// was unpublished.
func (s *Session) RevokeTrack(ctx context.Context, sid datatrack.TrackSid) error {
	s.mu.Lock()
	var handle datatrack.Handle
	for h, info := range s.peerTracks {
		if info.Sid == sid {
			handle = h
			delete(s.peerTracks, h)
			break
		}
	}
	s.mu.Unlock()

	if handle == 0 {
		return fmt.Errorf("%w: no peer track %s", datatrack.ErrUnpublished, sid)
	}
	s.send(signaling.Message{Type: signaling.MsgTypeUnpublished, Handle: uint16(handle)})
	return s.updatePublications(ctx)
}
