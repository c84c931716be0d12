// Package session connects the data track managers to a peer: packets travel
// over a Transport and the publish/subscribe negotiation over a Signaler.
//
// Both peers play both roles. Each one publishes its own tracks and accepts
// the tracks the other one publishes, assigning them sids.
package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/1ureka/datatrack"
	"github.com/1ureka/datatrack/internal/signaling"
	"github.com/1ureka/datatrack/internal/util"
	"github.com/1ureka/datatrack/local"
	"github.com/1ureka/datatrack/remote"
)

const defaultStatsInterval = 10 * time.Second

var (
	ErrTransportClosed = errors.New("transport closed")
	ErrSignalingClosed = errors.New("signaling connection closed")

	errClosed = errors.New("session closed")
)

// Transport carries encoded packets to the peer.
type Transport interface {
	Send(data []byte)
	OnPacket(fn func(data []byte))
	Done() <-chan struct{}
	Close() error
}

// Signaler carries negotiation messages to the peer.
type Signaler interface {
	Send(msg signaling.Message) error
	Control() <-chan signaling.Message
	Done() <-chan struct{}
	Close() error
}

// Options configures a Session.
type Options struct {
	Identity   datatrack.ParticipantIdentity
	Config     datatrack.Config
	Encryption datatrack.EncryptionProvider // optional, for local tracks
	Decryption datatrack.DecryptionProvider // optional, for remote tracks
	ICEServers []string                     // used by Host and Dial

	DenyRemotePublish bool          // reject every publication of the peer
	StatsInterval     time.Duration // 0 for the default, negative to disable
}

// ConfigureLogging sets the log level and output for every session in the
// process. Debug output includes every dropped packet and frame. A nil w
// keeps the current output, stderr by default.
func ConfigureLogging(debug bool, w io.Writer) {
	util.Configure(debug, w)
}

// Session is one data track session with a single peer.
type Session struct {
	opts   Options
	local  *local.Manager
	remote *remote.Manager
	tr     Transport
	sig    Signaler

	tracks    chan *remote.RemoteTrack
	closed    chan struct{}
	closeOnce sync.Once

	mu           sync.Mutex
	peerIdentity datatrack.ParticipantIdentity
	peerTracks   map[datatrack.Handle]*datatrack.TrackInfo // accepted from the peer
}

// New creates a session over an established transport and signaler.
func New(opts Options, tr Transport, sig Signaler) (*Session, error) {
	lm, err := local.NewManager(local.Options{Config: opts.Config, Encryption: opts.Encryption})
	if err != nil {
		return nil, err
	}
	rm, err := remote.NewManager(remote.Options{Config: opts.Config, Decryption: opts.Decryption})
	if err != nil {
		return nil, err
	}
	return &Session{
		opts:       opts,
		local:      lm,
		remote:     rm,
		tr:         tr,
		sig:        sig,
		tracks:     make(chan *remote.RemoteTrack, opts.Config.WithDefaults().OutputCapacity),
		closed:     make(chan struct{}),
		peerTracks: make(map[datatrack.Handle]*datatrack.TrackInfo),
	}, nil
}

// Run drives the session until ctx is cancelled, Close is called, or the
// transport or signaler goes away. The transport and signaler are closed on
// return.
func (s *Session) Run(ctx context.Context) error {
	defer func() {
		s.tr.Close()
		s.sig.Close()
	}()

	// The peer must know who we are before our first publish_request.
	if err := s.sig.Send(signaling.Message{Type: signaling.MsgTypeHello, Identity: string(s.opts.Identity)}); err != nil {
		util.LogWarning("send hello: %v", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.local.Run(ctx) })
	g.Go(func() error { return s.remote.Run(ctx) })
	g.Go(func() error { return s.pumpLocal(ctx) })
	g.Go(func() error { return s.pumpRemote(ctx) })
	g.Go(func() error { return s.pumpControl(ctx) })
	g.Go(func() error {
		select {
		case <-s.closed:
			return errClosed
		case <-s.tr.Done():
			return ErrTransportClosed
		case <-s.sig.Done():
			return ErrSignalingClosed
		case <-ctx.Done():
			return nil
		}
	})

	in := s.remote.Input()
	s.tr.OnPacket(func(data []byte) {
		if err := in.HandlePacket(data); err != nil {
			util.LogDebug("inbound packet dropped: %v", err)
		}
	})

	if interval := s.statsInterval(); interval > 0 {
		util.StartStatsReporter(ctx, interval)
	}

	err := g.Wait()
	if errors.Is(err, errClosed) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Session) statsInterval() time.Duration {
	if s.opts.StatsInterval == 0 {
		return defaultStatsInterval
	}
	return s.opts.StatsInterval
}

// Close stops the session. Run returns once everything has shut down.
func (s *Session) Close() {
	s.closeOnce.Do(func() { close(s.closed) })
}

// Publish publishes a local data track.
func (s *Session) Publish(ctx context.Context, options datatrack.PublishOptions) (*local.LocalTrack, error) {
	return s.local.Input().Publish(ctx, options)
}

// QueryPublished returns the local tracks currently published.
func (s *Session) QueryPublished(ctx context.Context) ([]*datatrack.TrackInfo, error) {
	return s.local.Input().QueryPublished(ctx)
}

// TrackAvailable delivers every track the peer publishes. It must be drained.
func (s *Session) TrackAvailable() <-chan *remote.RemoteTrack { return s.tracks }

// Resync re-announces local tracks and subscriptions to the peer, e.g. after
// the peer lost its state.
func (s *Session) Resync(ctx context.Context) error {
	if err := retry(ctx, s.local.Input().RepublishTracks); err != nil {
		return err
	}
	return retry(ctx, s.remote.Input().ResendSubscriptionUpdates)
}

// ---------------------------------------------------------------------------
// Pumps
// ---------------------------------------------------------------------------

func (s *Session) pumpLocal(ctx context.Context) error {
	for {
		select {
		case ev := <-s.local.Events():
			switch ev := ev.(type) {
			case local.PacketAvailable:
				s.tr.Send(ev.Data)
			case local.PublishRequest:
				s.send(signaling.Message{
					Type:     signaling.MsgTypePublishRequest,
					Handle:   uint16(ev.Handle),
					Name:     ev.Name,
					UsesE2EE: ev.UsesE2EE,
				})
			case local.UnpublishRequest:
				s.send(signaling.Message{Type: signaling.MsgTypeUnpublishRequest, Handle: uint16(ev.Handle)})
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (s *Session) pumpRemote(ctx context.Context) error {
	for {
		select {
		case ev := <-s.remote.Events():
			switch ev := ev.(type) {
			case remote.TrackAvailable:
				select {
				case s.tracks <- ev.Track:
				case <-ctx.Done():
					return nil
				}
			case remote.SubscriptionUpdated:
				s.send(signaling.Message{
					Type:      signaling.MsgTypeSubscriptionUpdate,
					Sid:       string(ev.Sid),
					Subscribe: ev.Subscribe,
				})
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (s *Session) pumpControl(ctx context.Context) error {
	for {
		select {
		case msg := <-s.sig.Control():
			if err := s.handleControl(ctx, msg); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				util.LogWarning("%s: %v", msg.Type, err)
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (s *Session) send(msg signaling.Message) {
	if err := s.sig.Send(msg); err != nil {
		util.LogWarning("send %s: %v", msg.Type, err)
	}
}

// retry repeats a non-blocking manager input until it is accepted.
// A full input queue is transient; anything else is returned.
func retry(ctx context.Context, fn func() error) error {
	for {
		err := fn()
		if !errors.Is(err, datatrack.ErrInputFull) {
			return err
		}
		select {
		case <-time.After(time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
