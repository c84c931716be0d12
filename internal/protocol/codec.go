package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Decode errors.
var (
	ErrTooShort           = errors.New("too short to contain a valid header")
	ErrUnsupportedVersion = errors.New("unsupported version")
	ErrInvalidHandle      = errors.New("invalid track handle")
	ErrMissingExtWords    = errors.New("extension word indicator is missing")
	ErrHeaderOverrun      = errors.New("header exceeds total packet length")
	ErrMalformedExt       = errors.New("malformed extension")
)

// ErrBufferTooSmall is returned by EncodeInto when the destination cannot hold the packet.
var ErrBufferTooSmall = errors.New("buffer cannot fit packet")

// extLen is the length of the serialized extensions, excluding padding.
func (e Extensions) extLen() int {
	n := 0
	if e.E2EE != nil {
		n += extMarkerSize + E2EELen
	}
	if e.UserTimestamp != nil {
		n += extMarkerSize + UserTimestampLen
	}
	return n
}

// metrics returns the extension length, the whole word count and the padding needed.
func (h *Header) metrics() (extLen, extWords, padding int) {
	extLen = h.Extensions.extLen()
	extWords = (extLen + extWordSize - 1) / extWordSize
	padding = extWords*extWordSize - extLen
	return
}

// EncodedLen returns the serialized length of the header in bytes.
func (h *Header) EncodedLen() int {
	extLen, _, padding := h.metrics()
	if extLen == 0 {
		return BaseHeaderSize
	}
	return BaseHeaderSize + extWordsSize + extLen + padding
}

// EncodedLen returns the serialized length of the packet in bytes.
func (p *Packet) EncodedLen() int {
	return p.Header.EncodedLen() + len(p.Payload)
}

// Encode serializes a Packet into a new byte slice.
func Encode(pkt *Packet) []byte {
	buf := make([]byte, pkt.EncodedLen())
	// Cannot fail: buf is sized exactly.
	_, _ = EncodeInto(pkt, buf)
	return buf
}

// EncodeInto serializes a Packet into buf and returns the number of bytes written.
func EncodeInto(pkt *Packet, buf []byte) (int, error) {
	h := &pkt.Header
	size := pkt.EncodedLen()
	if len(buf) < size {
		return 0, fmt.Errorf("%w: need %d bytes, have %d", ErrBufferTooSmall, size, len(buf))
	}
	extLen, extWords, padding := h.metrics()

	initial := SupportedVersion << versionShift
	initial |= uint8(h.Marker&markerMask) << markerShift
	if extLen > 0 {
		initial |= 1 << extFlagShift
	}
	buf[0] = initial
	buf[1] = 0 // Reserved
	binary.BigEndian.PutUint16(buf[2:4], uint16(h.TrackHandle))
	binary.BigEndian.PutUint16(buf[4:6], h.Sequence)
	binary.BigEndian.PutUint16(buf[6:8], h.FrameNumber)
	binary.BigEndian.PutUint32(buf[8:12], h.Timestamp)

	off := BaseHeaderSize
	if extLen > 0 {
		binary.BigEndian.PutUint16(buf[off:], uint16(extWords-1))
		off += extWordsSize
		if e := h.Extensions.E2EE; e != nil {
			binary.BigEndian.PutUint16(buf[off:], TagE2EE)
			binary.BigEndian.PutUint16(buf[off+2:], E2EELen-1)
			buf[off+4] = e.KeyIndex
			copy(buf[off+5:off+5+len(e.IV)], e.IV[:])
			off += extMarkerSize + E2EELen
		}
		if ts := h.Extensions.UserTimestamp; ts != nil {
			binary.BigEndian.PutUint16(buf[off:], TagUserTimestamp)
			binary.BigEndian.PutUint16(buf[off+2:], UserTimestampLen-1)
			binary.BigEndian.PutUint64(buf[off+4:], *ts)
			off += extMarkerSize + UserTimestampLen
		}
		clear(buf[off : off+padding])
		off += padding
	}

	off += copy(buf[off:], pkt.Payload)
	return off, nil
}

// Decode deserializes a byte slice into a Packet. The payload is copied and
// does not alias data.
func Decode(data []byte) (*Packet, error) {
	h, n, err := DecodeHeader(data)
	if err != nil {
		return nil, err
	}
	pkt := &Packet{Header: h}
	if len(data) > n {
		pkt.Payload = make([]byte, len(data)-n)
		copy(pkt.Payload, data[n:])
	}
	return pkt, nil
}

// DecodeHeader parses the header at the start of data and returns it along
// with the number of bytes it occupies.
func DecodeHeader(data []byte) (Header, int, error) {
	var h Header
	if len(data) < BaseHeaderSize {
		return h, 0, fmt.Errorf("%w: %d bytes (need at least %d)", ErrTooShort, len(data), BaseHeaderSize)
	}
	initial := data[0]
	if version := initial >> versionShift & versionMask; version > SupportedVersion {
		return h, 0, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}
	h.Marker = FrameMarker(initial >> markerShift & markerMask)
	extFlag := initial>>extFlagShift&extFlagMask != 0

	handle, err := HandleFromUint32(uint32(binary.BigEndian.Uint16(data[2:4])))
	if err != nil {
		return h, 0, err
	}
	h.TrackHandle = handle
	h.Sequence = binary.BigEndian.Uint16(data[4:6])
	h.FrameNumber = binary.BigEndian.Uint16(data[6:8])
	h.Timestamp = binary.BigEndian.Uint32(data[8:12])

	off := BaseHeaderSize
	if !extFlag {
		return h, off, nil
	}
	if len(data)-off < extWordsSize {
		return h, 0, ErrMissingExtWords
	}
	words := int(binary.BigEndian.Uint16(data[off:])) + 1
	off += extWordsSize

	blockLen := words * extWordSize
	if blockLen > len(data)-off {
		return h, 0, fmt.Errorf("%w: extension block of %d bytes, %d remaining", ErrHeaderOverrun, blockLen, len(data)-off)
	}
	ext, err := decodeExtensions(data[off : off+blockLen])
	if err != nil {
		return h, 0, err
	}
	h.Extensions = ext
	return h, off + blockLen, nil
}

// decodeExtensions walks a word-aligned extension block. Unknown tags are
// skipped using their declared length.
func decodeExtensions(block []byte) (Extensions, error) {
	var ext Extensions
	for len(block) >= extMarkerSize {
		tag := binary.BigEndian.Uint16(block[0:2])
		declared := int(binary.BigEndian.Uint16(block[2:4])) + 1
		block = block[extMarkerSize:]
		if tag == TagPadding {
			continue
		}
		switch tag {
		case TagE2EE:
			if declared < E2EELen || len(block) < E2EELen {
				return ext, fmt.Errorf("%w: tag %d", ErrMalformedExt, tag)
			}
			e := &E2EE{KeyIndex: block[0]}
			copy(e.IV[:], block[1:E2EELen])
			ext.E2EE = e
		case TagUserTimestamp:
			if declared < UserTimestampLen || len(block) < UserTimestampLen {
				return ext, fmt.Errorf("%w: tag %d", ErrMalformedExt, tag)
			}
			ts := binary.BigEndian.Uint64(block[:UserTimestampLen])
			ext.UserTimestamp = &ts
		}
		if len(block) < declared {
			return ext, fmt.Errorf("%w: tag %d declares %d bytes, %d remaining", ErrMalformedExt, tag, declared, len(block))
		}
		block = block[declared:]
	}
	return ext, nil
}
