package remote

import (
	"sync"

	"github.com/1ureka/datatrack"
)

// broadcaster fans the frames of one track out to every subscription.
// Each subscriber has its own bounded queue; a full queue drops the frame for
// that subscriber only.
type broadcaster struct {
	capacity int

	mu     sync.Mutex
	subs   map[uint64]chan datatrack.Frame
	nextID uint64
	closed bool
}

func newBroadcaster(capacity int) *broadcaster {
	return &broadcaster{capacity: capacity, subs: make(map[uint64]chan datatrack.Frame)}
}

// subscribe adds a subscriber. ok is false once the broadcaster is closed.
func (b *broadcaster) subscribe() (id uint64, frames <-chan datatrack.Frame, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, nil, false
	}
	ch := make(chan datatrack.Frame, b.capacity)
	b.nextID++
	b.subs[b.nextID] = ch
	return b.nextID, ch, true
}

// unsubscribe removes a subscriber and closes its queue. It returns the
// number of subscribers left.
func (b *broadcaster) unsubscribe(id uint64) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
	return len(b.subs)
}

// publish delivers frame to every subscriber without blocking and returns the
// number of subscribers that missed it.
func (b *broadcaster) publish(frame datatrack.Frame) (dropped int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- frame:
		default:
			dropped++
		}
	}
	return dropped
}

func (b *broadcaster) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// close ends every subscription.
func (b *broadcaster) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
