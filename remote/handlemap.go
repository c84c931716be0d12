package remote

import "github.com/1ureka/datatrack"

// handleMap is the bidirectional handle <-> sid index of subscribed tracks.
// Each handle maps to at most one sid and each sid to at most one handle.
type handleMap struct {
	sidIndex    map[datatrack.Handle]datatrack.TrackSid
	handleIndex map[datatrack.TrackSid]datatrack.Handle
}

func newHandleMap() *handleMap {
	return &handleMap{
		sidIndex:    make(map[datatrack.Handle]datatrack.TrackSid),
		handleIndex: make(map[datatrack.TrackSid]datatrack.Handle),
	}
}

// insert binds handle to sid, dropping any earlier binding of either.
func (m *handleMap) insert(handle datatrack.Handle, sid datatrack.TrackSid) {
	if old, ok := m.sidIndex[handle]; ok {
		delete(m.handleIndex, old)
	}
	if old, ok := m.handleIndex[sid]; ok {
		delete(m.sidIndex, old)
	}
	m.sidIndex[handle] = sid
	m.handleIndex[sid] = handle
}

func (m *handleMap) sid(handle datatrack.Handle) (datatrack.TrackSid, bool) {
	sid, ok := m.sidIndex[handle]
	return sid, ok
}

func (m *handleMap) handle(sid datatrack.TrackSid) (datatrack.Handle, bool) {
	h, ok := m.handleIndex[sid]
	return h, ok
}

func (m *handleMap) removeSid(sid datatrack.TrackSid) {
	if h, ok := m.handleIndex[sid]; ok {
		delete(m.sidIndex, h)
		delete(m.handleIndex, sid)
	}
}

func (m *handleMap) len() int { return len(m.sidIndex) }
