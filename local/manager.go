// Package local implements the publishing side of data tracks: a manager
// actor that negotiates publications and a pipeline per published track that
// turns frames into packets.
package local

import (
	"context"
	"slices"
	"time"

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
	Encryption datatrack.EncryptionProvider // optional
}

// Manager owns the publish lifecycle of every local data track. All of its
// state is touched only by the goroutine running Run.
type Manager struct {
	cfg        config.Config
	encryption datatrack.EncryptionProvider

	input  chan inputEvent
	output chan OutputEvent
	done   chan struct{}

	handles     *protocol.HandleAllocator
	descriptors map[datatrack.Handle]descriptor
}

// descriptor is either *pendingPublish or *activeTrack.
type descriptor interface{}

type pendingPublish struct {
	options  datatrack.PublishOptions
	usesE2EE bool
	waiter   *oneshot.Waiter[*LocalTrack]
	timer    *time.Timer
}

type activeTrack struct {
	state *trackState
	track *LocalTrack
}

// NewManager creates a manager. Zero config fields take their defaults.
func NewManager(opts Options) (*Manager, error) {
	cfg := opts.Config.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Manager{
		cfg:         cfg,
		encryption:  opts.Encryption,
		input:       make(chan inputEvent, cfg.InputCapacity),
		output:      make(chan OutputEvent, cfg.OutputCapacity),
		done:        make(chan struct{}),
		handles:     protocol.NewHandleAllocator(cfg.MaxTracks),
		descriptors: make(map[datatrack.Handle]descriptor),
	}, nil
}

// Input returns the handle used to send requests to the manager.
func (m *Manager) Input() Input { return Input{ch: m.input, done: m.done} }

// Events returns the stream of output events. It must be drained for
// publishing to make progress.
func (m *Manager) Events() <-chan OutputEvent { return m.output }

// Done is closed after Run returns.
func (m *Manager) Done() <-chan struct{} { return m.done }

// Run processes input events until Shutdown is received or ctx is cancelled.
// Every pending caller is answered before it returns.
func (m *Manager) Run(ctx context.Context) error {
	defer close(m.done)
	util.LogDebug("local manager started")

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
	case publishInput:
		m.handlePublish(ctx, ev)
	case PublishResult:
		m.handlePublishResult(ctx, ev)
	case publishTimeout:
		m.handleTimeout(ev)
	case Unpublish:
		m.handleUnpublish(ev)
	case trackEnded:
		m.handleTrackEnded(ctx, ev)
	case queryInput:
		m.handleQuery(ev)
	case republishInput:
		m.handleRepublish(ctx)
	}
}

func (m *Manager) handlePublish(ctx context.Context, ev publishInput) {
	handle, ok := m.handles.Get()
	if !ok {
		ev.waiter.Complete(nil, datatrack.ErrLimitReached)
		return
	}

	pending := &pendingPublish{
		options:  ev.options,
		usesE2EE: m.encryption != nil && !ev.options.DisableE2EE,
		waiter:   ev.waiter,
	}
	pending.timer = time.AfterFunc(m.cfg.PublishTimeout, func() {
		// Fires outside the manager; gives up once the manager is gone.
		select {
		case m.input <- publishTimeout{handle: handle, pending: pending}:
		case <-m.done:
		}
	})
	m.descriptors[handle] = pending

	util.LogDebug("[%s] publish requested for %q", handle, ev.options.Name)
	m.emit(ctx, PublishRequest{Handle: handle, Name: ev.options.Name, UsesE2EE: pending.usesE2EE})
}

func (m *Manager) handlePublishResult(ctx context.Context, res PublishResult) {
	if res.Err == nil && res.Info == nil {
		res.Err = datatrack.Internalf("publish result for %s carries no track info", res.Handle)
	}

	switch d := m.descriptors[res.Handle].(type) {
	case nil:
		if res.Err == nil {
			// The caller is gone (timeout or shutdown) but the peer accepted.
			util.LogDebug("[%s] stale publish result, unpublishing", res.Handle)
			m.emit(ctx, UnpublishRequest{Handle: res.Handle})
		}

	case *pendingPublish:
		d.timer.Stop()
		if res.Err != nil {
			m.remove(res.Handle)
			util.LogWarning("[%s] publish %q rejected: %v", res.Handle, d.options.Name, res.Err)
			d.waiter.Complete(nil, res.Err)
			return
		}

		info := *res.Info
		info.Handle = res.Handle
		info.UsesE2EE = d.usesE2EE
		track := m.activate(res.Handle, &info)
		util.LogInfo("[%s] published %s", res.Handle, &info)

		if !d.waiter.Complete(track, nil) {
			util.LogDebug("[%s] publisher went away, unpublishing", res.Handle)
			track.Unpublish()
		}

	case *activeTrack:
		if !d.state.republishing.Load() {
			util.LogError("[%s] duplicate publish result", res.Handle)
			return
		}
		if res.Err != nil {
			util.LogWarning("[%s] republish rejected: %v", res.Handle, res.Err)
			d.state.unpublish(InitiatorSfu)
			m.remove(res.Handle)
			return
		}
		info := *res.Info
		info.Handle = res.Handle
		info.UsesE2EE = d.state.info.Load().UsesE2EE
		d.state.info.Store(&info)
		d.state.republishing.Store(false)
		util.LogInfo("[%s] republished %s", res.Handle, &info)
	}
}

// activate spawns the pipeline of a track accepted by the remote peer.
func (m *Manager) activate(handle datatrack.Handle, info *datatrack.TrackInfo) *LocalTrack {
	state := newTrackState(info)
	frames := make(chan datatrack.Frame, m.cfg.FrameCapacity)

	p := &pipeline{
		handle:     handle,
		state:      state,
		packetizer: framing.NewPacketizer(handle, m.cfg.MTU),
		frames:     frames,
		output:     m.output,
		input:      m.Input(),
	}
	if info.UsesE2EE {
		p.encryption = m.encryption
	}
	go p.run()

	track := &LocalTrack{state: state, frames: frames}
	m.descriptors[handle] = &activeTrack{state: state, track: track}
	util.Stats.AddPublished()
	return track
}

func (m *Manager) handleTimeout(ev publishTimeout) {
	if d, ok := m.descriptors[ev.handle].(*pendingPublish); !ok || d != ev.pending {
		return
	}
	m.remove(ev.handle)
	util.LogWarning("[%s] publish %q timed out", ev.handle, ev.pending.options.Name)
	ev.pending.waiter.Complete(nil, datatrack.ErrPublishTimeout)
}

func (m *Manager) handleUnpublish(ev Unpublish) {
	switch d := m.descriptors[ev.Handle].(type) {
	case nil:
		util.LogDebug("[%s] unpublish for unknown track", ev.Handle)
	case *pendingPublish:
		util.LogError("[%s] unpublish received for a pending publication", ev.Handle)
	case *activeTrack:
		d.state.unpublish(InitiatorSfu)
		m.remove(ev.Handle)
		util.LogInfo("[%s] unpublished by server", ev.Handle)
	}
}

func (m *Manager) handleTrackEnded(ctx context.Context, ev trackEnded) {
	d, ok := m.descriptors[ev.handle].(*activeTrack)
	if !ok || d.state != ev.state {
		// Already removed, e.g. the server unpublished it first.
		return
	}
	m.remove(ev.handle)
	util.LogInfo("[%s] unpublished", ev.handle)
	m.emit(ctx, UnpublishRequest{Handle: ev.handle})
}

func (m *Manager) handleQuery(ev queryInput) {
	infos := make([]*datatrack.TrackInfo, 0, len(m.descriptors))
	for _, d := range m.descriptors {
		if a, ok := d.(*activeTrack); ok {
			infos = append(infos, a.state.info.Load())
		}
	}
	slices.SortFunc(infos, func(a, b *datatrack.TrackInfo) int { return int(a.Handle) - int(b.Handle) })
	ev.result <- infos
}

func (m *Manager) handleRepublish(ctx context.Context) {
	for _, handle := range m.sortedHandles() {
		switch d := m.descriptors[handle].(type) {
		case *pendingPublish:
			d.timer.Stop()
			m.remove(handle)
			d.waiter.Complete(nil, datatrack.ErrDisconnected)
		case *activeTrack:
			d.state.republishing.Store(true)
			info := d.state.info.Load()
			m.emit(ctx, PublishRequest{Handle: handle, Name: info.Name, UsesE2EE: info.UsesE2EE})
		}
	}
}

func (m *Manager) shutdown() {
	for handle, d := range m.descriptors {
		switch d := d.(type) {
		case *pendingPublish:
			d.timer.Stop()
			d.waiter.Complete(nil, datatrack.ErrDisconnected)
		case *activeTrack:
			d.state.unpublish(InitiatorShutdown)
		}
		m.remove(handle)
	}
	util.LogDebug("local manager stopped")
}

// remove deletes the descriptor and releases its handle together, so that
// neither outlives the other.
func (m *Manager) remove(handle datatrack.Handle) {
	delete(m.descriptors, handle)
	m.handles.Release(handle)
}

func (m *Manager) sortedHandles() []datatrack.Handle {
	handles := make([]datatrack.Handle, 0, len(m.descriptors))
	for h := range m.descriptors {
		handles = append(handles, h)
	}
	slices.Sort(handles)
	return handles
}

// emit delivers an event to the output queue, waiting for room unless ctx ends.
func (m *Manager) emit(ctx context.Context, ev OutputEvent) {
	select {
	case m.output <- ev:
	case <-ctx.Done():
		util.LogDebug("dropping %T: %v", ev, context.Cause(ctx))
	}
}
