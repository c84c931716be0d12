package protocol

import (
	"fmt"
	"math"
)

// Handle identifies a track within a transport session. Zero is never valid.
type Handle uint16

// HandleFromUint32 validates a raw handle value.
func HandleFromUint32(v uint32) (Handle, error) {
	if v == 0 || v > math.MaxUint16 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidHandle, v)
	}
	return Handle(v), nil
}

func (h Handle) String() string { return fmt.Sprintf("%04x", uint16(h)) }

// MaxHandles is the largest pool a HandleAllocator can manage.
const MaxHandles = math.MaxUint16

// HandleAllocator hands out unique handles from a bounded pool. It is owned by
// exactly one manager goroutine and needs no locking.
type HandleAllocator struct {
	limit int
	next  uint32
	inUse map[Handle]struct{}
}

// NewHandleAllocator creates an allocator for at most limit concurrently
// allocated handles. A limit outside 1..MaxHandles is clamped.
func NewHandleAllocator(limit int) *HandleAllocator {
	if limit <= 0 || limit > MaxHandles {
		limit = MaxHandles
	}
	return &HandleAllocator{
		limit: limit,
		next:  1,
		inUse: make(map[Handle]struct{}),
	}
}

// Get allocates a handle. Returns false when the pool is exhausted.
// Handles are issued round-robin so a released handle is not reused immediately.
func (a *HandleAllocator) Get() (Handle, bool) {
	if len(a.inUse) >= a.limit {
		return 0, false
	}
	for range a.limit {
		h := Handle(a.next)
		a.next++
		if a.next > uint32(a.limit) {
			a.next = 1
		}
		if _, taken := a.inUse[h]; !taken {
			a.inUse[h] = struct{}{}
			return h, true
		}
	}
	return 0, false
}

// Release returns a handle to the pool. Releasing a free handle is a no-op.
func (a *HandleAllocator) Release(h Handle) {
	delete(a.inUse, h)
}

// InUse reports whether h is currently allocated.
func (a *HandleAllocator) InUse(h Handle) bool {
	_, ok := a.inUse[h]
	return ok
}

// Len returns the number of allocated handles.
func (a *HandleAllocator) Len() int { return len(a.inUse) }
