// Package protocol defines the data track packet format: a fixed 12-byte base
// header, an optional block of tagged extensions, and an opaque payload.
package protocol

import "fmt"

// Wire constants.
const (
	SupportedVersion uint8 = 0
	BaseHeaderSize         = 12 // initial(1) + reserved(1) + handle(2) + seq(2) + frame(2) + timestamp(4)

	versionShift = 5
	versionMask  = 0x07
	markerShift  = 3
	markerMask   = 0x03
	extFlagShift = 2
	extFlagMask  = 0x01

	extWordsSize  = 2 // u16 extension word count (stored as words - 1)
	extMarkerSize = 4 // tag(2) + len(2)
	extWordSize   = 4
)

// Extension tags.
const (
	TagPadding       uint16 = 0
	TagE2EE          uint16 = 1
	TagUserTimestamp uint16 = 2
)

// Fixed payload lengths of the known extensions.
const (
	E2EELen          = 13 // key index(1) + IV(12)
	UserTimestampLen = 8
)

// FrameMarker indicates a packet's position in relation to its frame.
type FrameMarker uint8

const (
	MarkerInter  FrameMarker = 0x0 // within a frame
	MarkerFinal  FrameMarker = 0x1 // last packet of a frame
	MarkerStart  FrameMarker = 0x2 // first packet of a frame
	MarkerSingle FrameMarker = 0x3 // only packet of a frame
)

func (m FrameMarker) String() string {
	switch m {
	case MarkerInter:
		return "inter"
	case MarkerFinal:
		return "final"
	case MarkerStart:
		return "start"
	case MarkerSingle:
		return "single"
	}
	return fmt.Sprintf("marker(%d)", uint8(m))
}

// E2EE carries the parameters needed to decrypt a frame payload.
type E2EE struct {
	KeyIndex uint8
	IV       [12]byte
}

// String hides the IV.
func (e E2EE) String() string { return "E2EE{...}" }

// Extensions is the set of known header extensions. A nil field is absent.
type Extensions struct {
	E2EE          *E2EE
	UserTimestamp *uint64
}

// IsEmpty reports whether no extension is set.
func (e Extensions) IsEmpty() bool {
	return e.E2EE == nil && e.UserTimestamp == nil
}

// Header is the per-packet metadata.
type Header struct {
	Marker      FrameMarker
	TrackHandle Handle
	Sequence    uint16
	FrameNumber uint16
	Timestamp   uint32 // 90 kHz ticks
	Extensions  Extensions
}

// Packet is a header plus an opaque payload chunk.
type Packet struct {
	Header  Header
	Payload []byte
}

func (p *Packet) String() string {
	return fmt.Sprintf("Packet{handle=%s seq=%d frame=%d marker=%s payload_len=%d}",
		p.Header.TrackHandle, p.Header.Sequence, p.Header.FrameNumber, p.Header.Marker, len(p.Payload))
}
