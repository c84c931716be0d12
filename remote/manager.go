// Package remote implements the subscribing side of data tracks: a manager
// actor that follows remote publications and routes inbound packets, and a
// pipeline per subscribed track that reassembles and fans out frames.
package remote

import (
	"context"
	"slices"

	"github.com/1ureka/datatrack"
	"github.com/1ureka/datatrack/internal/config"
	"github.com/1ureka/datatrack/internal/framing"
	"github.com/1ureka/datatrack/internal/oneshot"
	"github.com/1ureka/datatrack/internal/protocol"
	"github.com/1ureka/datatrack/internal/util"
)

// Options configures a Manager.
type Options struct {
	Config     config.Config
	Decryption datatrack.DecryptionProvider // optional
}

type subscriptionState int

const (
	stateAvailable  subscriptionState = iota // published, nobody subscribed
	statePending                             // subscribe requested, waiting for a handle
	stateSubscribed                          // bound to a handle, pipeline running
)

// descriptor tracks one remote publication.
type descriptor struct {
	track *RemoteTrack
	state subscriptionState

	waiters []*oneshot.Waiter[*Subscription] // statePending

	// stateSubscribed
	handle  datatrack.Handle
	packets chan *protocol.Packet
	bcast   *broadcaster
	stop    chan struct{}
}

// Manager owns the subscription lifecycle of every remote data track. All of
// its state is touched only by the goroutine running Run.
type Manager struct {
	cfg        config.Config
	decryption datatrack.DecryptionProvider

	input  chan inputEvent
	output chan OutputEvent
	done   chan struct{}

	descriptors map[datatrack.TrackSid]*descriptor
	handles     *handleMap
}

// NewManager creates a manager. Zero config fields take their defaults.
func NewManager(opts Options) (*Manager, error) {
	cfg := opts.Config.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Manager{
		cfg:         cfg,
		decryption:  opts.Decryption,
		input:       make(chan inputEvent, cfg.InputCapacity),
		output:      make(chan OutputEvent, cfg.OutputCapacity),
		done:        make(chan struct{}),
		descriptors: make(map[datatrack.TrackSid]*descriptor),
		handles:     newHandleMap(),
	}, nil
}

// Input returns the handle used to send events to the manager.
func (m *Manager) Input() Input { return Input{ch: m.input, done: m.done} }

// Events returns the stream of output events.
func (m *Manager) Events() <-chan OutputEvent { return m.output }

// Done is closed after Run returns.
func (m *Manager) Done() <-chan struct{} { return m.done }

// Run processes input events until Shutdown is received or ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	defer close(m.done)
	util.LogDebug("remote manager started")

	for {
		select {
		case ev := <-m.input:
			if _, ok := ev.(shutdownInput); ok {
				m.shutdown()
				return nil
			}
			m.handle(ctx, ev)

		case <-ctx.Done():
			m.shutdown()
			return ctx.Err()
		}
	}
}

func (m *Manager) handle(ctx context.Context, ev inputEvent) {
	switch ev := ev.(type) {
	case PublicationsUpdated:
		m.handlePublications(ctx, ev)
	case subscribeInput:
		m.handleSubscribe(ctx, ev)
	case SubscriberHandles:
		m.handleSubscriberHandles(ctx, ev)
	case PacketReceived:
		m.handlePacket(ev)
	case unsubscribeInput:
		m.handleUnsubscribe(ctx, ev)
	case resendInput:
		m.handleResend(ctx)
	}
}

func (m *Manager) handlePublications(ctx context.Context, ev PublicationsUpdated) {
	seen := make(map[datatrack.TrackSid]struct{})
	for _, infos := range ev.Tracks {
		for _, info := range infos {
			seen[info.Sid] = struct{}{}
		}
	}

	for sid, d := range m.descriptors {
		if _, ok := seen[sid]; ok {
			continue
		}
		util.LogInfo("track %s unpublished", sid)
		m.unpublish(d, datatrack.ErrUnpublished)
		delete(m.descriptors, sid)
	}

	for _, publisher := range sortedKeys(ev.Tracks) {
		for _, info := range ev.Tracks[publisher] {
			if _, ok := m.descriptors[info.Sid]; ok {
				continue
			}
			track := &RemoteTrack{
				info:             &datatrack.TrackInfo{Sid: info.Sid, Name: info.Name, UsesE2EE: info.UsesE2EE},
				publisher:        publisher,
				published:        newPublishedState(),
				input:            m.Input(),
				subscribeTimeout: m.cfg.SubscribeTimeout,
			}
			m.descriptors[info.Sid] = &descriptor{track: track, state: stateAvailable}
			util.LogInfo("track %s published by %s", track.info, publisher)
			m.emit(ctx, TrackAvailable{Track: track})
		}
	}
}

func (m *Manager) handleSubscribe(ctx context.Context, ev subscribeInput) {
	d, ok := m.descriptors[ev.sid]
	if !ok {
		ev.waiter.Complete(nil, datatrack.Internalf("subscribe to unknown track %s", ev.sid))
		return
	}

	switch d.state {
	case stateAvailable:
		d.state = statePending
		d.waiters = append(d.waiters, ev.waiter)
		m.emit(ctx, SubscriptionUpdated{Sid: ev.sid, Subscribe: true})
	case statePending:
		d.waiters = append(d.waiters, ev.waiter)
	case stateSubscribed:
		m.deliver(ctx, d, []*oneshot.Waiter[*Subscription]{ev.waiter})
	}
}

func (m *Manager) handleSubscriberHandles(ctx context.Context, ev SubscriberHandles) {
	for _, handle := range sortedKeys(ev.Mapping) {
		sid := ev.Mapping[handle]
		d, ok := m.descriptors[sid]
		if !ok {
			util.LogDebug("[%s] handle bound to unknown track %s", handle, sid)
			continue
		}

		switch d.state {
		case stateAvailable:
			util.LogDebug("[%s] handle bound to unsubscribed track %s", handle, sid)
		case stateSubscribed:
			if d.handle != handle {
				// Reassigned, e.g. after a reconnect.
				m.handles.insert(handle, sid)
				d.handle = handle
			}
		case statePending:
			m.bind(d, handle)
			waiters := d.waiters
			d.waiters = nil
			m.deliver(ctx, d, waiters)
		}
	}
}

// bind spawns the pipeline of a track and registers its handle.
func (m *Manager) bind(d *descriptor, handle datatrack.Handle) {
	info := d.track.info
	d.state = stateSubscribed
	d.handle = handle
	d.packets = make(chan *protocol.Packet, m.cfg.PacketCapacity)
	d.bcast = newBroadcaster(m.cfg.FrameCapacity)
	d.stop = make(chan struct{})
	m.handles.insert(handle, info.Sid)

	p := &pipeline{
		handle:       handle,
		info:         info,
		publisher:    d.track.publisher,
		depacketizer: framing.NewDepacketizer(),
		packets:      d.packets,
		frames:       d.bcast,
		stop:         d.stop,
	}
	if info.UsesE2EE {
		p.decryption = m.decryption
	}
	go p.run()

	util.Stats.AddSubscribed()
	util.LogInfo("[%s] subscribed to %s", handle, info.Sid)
}

// deliver hands a new subscription to each waiter. Subscriptions nobody
// waits for any more are closed on the spot.
func (m *Manager) deliver(ctx context.Context, d *descriptor, waiters []*oneshot.Waiter[*Subscription]) {
	for _, w := range waiters {
		id, frames, _ := d.bcast.subscribe()
		sub := &Subscription{sid: d.track.info.Sid, id: id, frames: frames, bcast: d.bcast, input: m.Input()}
		if !w.Complete(sub, nil) {
			d.bcast.unsubscribe(id)
		}
	}
	if d.bcast.len() == 0 {
		m.unsubscribe(ctx, d)
	}
}

func (m *Manager) handlePacket(ev PacketReceived) {
	pkt, err := protocol.Decode(ev.Data)
	if err != nil {
		util.LogDebug("packet decode failed: %v", err)
		return
	}
	util.Stats.AddPacketRecv(len(ev.Data))

	handle := pkt.Header.TrackHandle
	sid, ok := m.handles.sid(handle)
	if !ok {
		// Expected while a subscription is being set up or torn down.
		util.LogDebug("[%s] packet for unknown handle, dropping", handle)
		return
	}
	d := m.descriptors[sid]

	select {
	case d.packets <- pkt:
	default:
		util.LogDebug("[%s] packet queue full, dropping seq=%d", handle, pkt.Header.Sequence)
	}
}

func (m *Manager) handleUnsubscribe(ctx context.Context, ev unsubscribeInput) {
	d, ok := m.descriptors[ev.sid]
	if !ok || d.state != stateSubscribed || d.bcast != ev.bcast {
		return
	}
	if d.bcast.len() > 0 {
		// Someone subscribed again in the meantime.
		return
	}
	m.unsubscribe(ctx, d)
}

// unsubscribe tears down the pipeline and returns the track to Available.
func (m *Manager) unsubscribe(ctx context.Context, d *descriptor) {
	sid := d.track.info.Sid
	util.LogInfo("[%s] unsubscribed from %s", d.handle, sid)
	m.teardown(d)
	d.state = stateAvailable
	m.emit(ctx, SubscriptionUpdated{Sid: sid, Subscribe: false})
}

// teardown stops the pipeline of a subscribed track and drops its binding.
func (m *Manager) teardown(d *descriptor) {
	close(d.stop)
	d.bcast.close()
	m.handles.removeSid(d.track.info.Sid)
	d.handle, d.packets, d.bcast, d.stop = 0, nil, nil, nil
}

// unpublish ends a publication in any state. Pending subscribers get err.
func (m *Manager) unpublish(d *descriptor, err error) {
	switch d.state {
	case statePending:
		for _, w := range d.waiters {
			w.Complete(nil, err)
		}
		d.waiters = nil
	case stateSubscribed:
		m.teardown(d)
	}
	d.track.published.unpublish()
}

func (m *Manager) handleResend(ctx context.Context) {
	for _, sid := range sortedKeys(m.descriptors) {
		if m.descriptors[sid].state != stateAvailable {
			m.emit(ctx, SubscriptionUpdated{Sid: sid, Subscribe: true})
		}
	}
}

func (m *Manager) shutdown() {
	for sid, d := range m.descriptors {
		m.unpublish(d, datatrack.ErrDisconnected)
		delete(m.descriptors, sid)
	}
	util.LogDebug("remote manager stopped")
}

// emit delivers an event to the output queue, waiting for room unless ctx ends.
func (m *Manager) emit(ctx context.Context, ev OutputEvent) {
	select {
	case m.output <- ev:
	case <-ctx.Done():
		util.LogDebug("dropping %T: %v", ev, context.Cause(ctx))
	}
}

func sortedKeys[K ~string | ~uint16, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
