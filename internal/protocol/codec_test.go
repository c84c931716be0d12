package protocol

import (
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func u64(v uint64) *uint64 { return &v }

// fullPacket returns a packet with every field and both extensions set.
func fullPacket() *Packet {
	return &Packet{
		Header: Header{
			Marker:      MarkerFinal,
			TrackHandle: 0x8811,
			Sequence:    0x4422,
			FrameNumber: 0x4411,
			Timestamp:   0x44221188,
			Extensions: Extensions{
				E2EE:          &E2EE{KeyIndex: 0xFA, IV: [12]byte{0x3C, 0x3C, 0x3C, 0x3C, 0x3C, 0x3C, 0x3C, 0x3C, 0x3C, 0x3C, 0x3C, 0x3C}},
				UserTimestamp: u64(0x4411221111118811),
			},
		},
		Payload: bytesOf(0xFA, 1024),
	}
}

func bytesOf(b byte, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = b
	}
	return out
}

// minimalHeader is the simplest valid base header: version 0, inter, handle 1.
func minimalHeader() []byte {
	raw := make([]byte, BaseHeaderSize)
	raw[3] = 1
	return raw
}

func withExtFlag(raw []byte) []byte {
	raw[0] |= 1 << extFlagShift
	return raw
}

func appendU16(raw []byte, v uint16) []byte {
	return binary.BigEndian.AppendUint16(raw, v)
}

func TestEncodedLen(t *testing.T) {
	pkt := fullPacket()

	extLen, words, padding := pkt.Header.metrics()
	assert.Equal(t, 29, extLen)
	assert.Equal(t, 8, words)
	assert.Equal(t, 3, padding)

	assert.Equal(t, 46, pkt.Header.EncodedLen())
	assert.Equal(t, 1070, pkt.EncodedLen())
}

func TestEncodeLayout(t *testing.T) {
	buf := Encode(fullPacket())
	require.Len(t, buf, 1070)

	assert.Equal(t, byte(0x0C), buf[0], "version 0, final, extension flag")
	assert.Equal(t, byte(0), buf[1], "reserved")
	assert.Equal(t, uint16(0x8811), binary.BigEndian.Uint16(buf[2:]))
	assert.Equal(t, uint16(0x4422), binary.BigEndian.Uint16(buf[4:]))
	assert.Equal(t, uint16(0x4411), binary.BigEndian.Uint16(buf[6:]))
	assert.Equal(t, uint32(0x44221188), binary.BigEndian.Uint32(buf[8:]))
	assert.Equal(t, uint16(7), binary.BigEndian.Uint16(buf[12:]), "extension words - 1")

	// E2EE
	assert.Equal(t, TagE2EE, binary.BigEndian.Uint16(buf[14:]))
	assert.Equal(t, uint16(12), binary.BigEndian.Uint16(buf[16:]))
	assert.Equal(t, byte(0xFA), buf[18])
	assert.Equal(t, bytesOf(0x3C, 12), buf[19:31])

	// User timestamp
	assert.Equal(t, TagUserTimestamp, binary.BigEndian.Uint16(buf[31:]))
	assert.Equal(t, uint16(7), binary.BigEndian.Uint16(buf[33:]))
	assert.Equal(t, uint64(0x4411221111118811), binary.BigEndian.Uint64(buf[35:]))

	assert.Equal(t, []byte{0, 0, 0}, buf[43:46], "padding")
	assert.Equal(t, bytesOf(0xFA, 1024), buf[46:])
}

func TestEncodeIntoTooSmall(t *testing.T) {
	pkt := fullPacket()
	_, err := EncodeInto(pkt, make([]byte, pkt.EncodedLen()-1))
	require.ErrorIs(t, err, ErrBufferTooSmall)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	testCases := []struct {
		name string
		pkt  *Packet
	}{
		{"single without extensions", &Packet{
			Header:  Header{Marker: MarkerSingle, TrackHandle: 1, Sequence: 0, FrameNumber: 0, Timestamp: 0},
			Payload: []byte("hello world"),
		}},
		{"start with e2ee", &Packet{
			Header: Header{Marker: MarkerStart, TrackHandle: 0xFFFF, Sequence: 0xFFFF, FrameNumber: 0xFFFF, Timestamp: 0xFFFFFFFF,
				Extensions: Extensions{E2EE: &E2EE{KeyIndex: 3, IV: [12]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}}}},
			Payload: bytesOf(0xAB, 16*1024),
		}},
		{"inter with user timestamp", &Packet{
			Header: Header{Marker: MarkerInter, TrackHandle: 42, Sequence: 7, FrameNumber: 3, Timestamp: 12345,
				Extensions: Extensions{UserTimestamp: u64(0)}},
			Payload: []byte{0x01},
		}},
		{"final with both extensions", fullPacket()},
		{"empty payload", &Packet{
			Header: Header{Marker: MarkerSingle, TrackHandle: 9},
		}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			decoded, err := Decode(Encode(tc.pkt))
			require.NoError(t, err)
			assert.Equal(t, tc.pkt.Header, decoded.Header)
			assert.Equal(t, len(tc.pkt.Payload), len(decoded.Payload))
			if len(tc.pkt.Payload) > 0 {
				assert.Equal(t, tc.pkt.Payload, decoded.Payload)
			}
		})
	}
}

func TestDecodeBaseHeader(t *testing.T) {
	raw := []byte{
		0x08, 0x00, // version 0, final, no extensions; reserved
		0x88, 0x11, // handle
		0x44, 0x22, // sequence
		0x44, 0x11, // frame number
		0x44, 0x22, 0x11, 0x88, // timestamp
	}
	pkt, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, MarkerFinal, pkt.Header.Marker)
	assert.Equal(t, Handle(0x8811), pkt.Header.TrackHandle)
	assert.Equal(t, uint16(0x4422), pkt.Header.Sequence)
	assert.Equal(t, uint16(0x4411), pkt.Header.FrameNumber)
	assert.Equal(t, uint32(0x44221188), pkt.Header.Timestamp)
	assert.True(t, pkt.Header.Extensions.IsEmpty())
	assert.Empty(t, pkt.Payload)
}

func TestDecodeTooShort(t *testing.T) {
	for n := 0; n < BaseHeaderSize; n++ {
		t.Run(fmt.Sprintf("%d bytes", n), func(t *testing.T) {
			_, err := Decode(minimalHeader()[:n])
			require.ErrorIs(t, err, ErrTooShort)
		})
	}
}

func TestDecodeErrors(t *testing.T) {
	testCases := []struct {
		name string
		raw  func() []byte
		want error
	}{
		{"unsupported version", func() []byte {
			raw := minimalHeader()
			raw[0] = 0x20 // version 1
			return raw
		}, ErrUnsupportedVersion},
		{"zero handle", func() []byte {
			raw := minimalHeader()
			raw[3] = 0
			return raw
		}, ErrInvalidHandle},
		{"missing extension words", func() []byte {
			return withExtFlag(minimalHeader())
		}, ErrMissingExtWords},
		{"extension words beyond buffer", func() []byte {
			return appendU16(withExtFlag(minimalHeader()), 1)
		}, ErrHeaderOverrun},
		{"extension block not word aligned", func() []byte {
			raw := appendU16(withExtFlag(minimalHeader()), 0)
			return append(raw, 0, 0, 0)
		}, ErrHeaderOverrun},
		{"e2ee declared too short", func() []byte {
			raw := appendU16(withExtFlag(minimalHeader()), 4)
			raw = appendU16(raw, TagE2EE)
			raw = appendU16(raw, 3) // 4 bytes, needs 13
			return append(raw, bytesOf(0, 16)...)
		}, ErrMalformedExt},
		{"user timestamp truncated by block", func() []byte {
			raw := appendU16(withExtFlag(minimalHeader()), 1)
			raw = appendU16(raw, TagUserTimestamp)
			raw = appendU16(raw, 7)
			return append(raw, 0, 0, 0, 0)
		}, ErrMalformedExt},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode(tc.raw())
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestDecodeSkipsPadding(t *testing.T) {
	for _, words := range []uint16{0, 1, 24} {
		t.Run(fmt.Sprintf("%d words", words), func(t *testing.T) {
			raw := appendU16(withExtFlag(minimalHeader()), words)
			raw = append(raw, bytesOf(0, int(words+1)*4)...)

			pkt, err := Decode(raw)
			require.NoError(t, err)
			assert.Empty(t, pkt.Payload)
			assert.True(t, pkt.Header.Extensions.IsEmpty())
		})
	}
}

func TestDecodeE2EE(t *testing.T) {
	raw := appendU16(withExtFlag(minimalHeader()), 4)
	raw = appendU16(raw, TagE2EE)
	raw = appendU16(raw, 12)
	raw = append(raw, 0xFA)
	raw = append(raw, bytesOf(0x3C, 12)...)
	raw = append(raw, 0, 0, 0)

	pkt, err := Decode(raw)
	require.NoError(t, err)
	require.NotNil(t, pkt.Header.Extensions.E2EE)
	assert.Equal(t, uint8(0xFA), pkt.Header.Extensions.E2EE.KeyIndex)
	assert.Equal(t, bytesOf(0x3C, 12), pkt.Header.Extensions.E2EE.IV[:])
}

func TestDecodeUserTimestamp(t *testing.T) {
	raw := appendU16(withExtFlag(minimalHeader()), 2)
	raw = appendU16(raw, TagUserTimestamp)
	raw = appendU16(raw, 7)
	raw = append(raw, 0x44, 0x11, 0x22, 0x11, 0x11, 0x11, 0x88, 0x11)

	pkt, err := Decode(raw)
	require.NoError(t, err)
	require.NotNil(t, pkt.Header.Extensions.UserTimestamp)
	assert.Equal(t, uint64(0x4411221111118811), *pkt.Header.Extensions.UserTimestamp)
}

func TestDecodeUnknownExtension(t *testing.T) {
	raw := appendU16(withExtFlag(minimalHeader()), 5)
	// Unknown tag 8 with a 5-byte payload, then a known user timestamp.
	raw = appendU16(raw, 8)
	raw = appendU16(raw, 4)
	raw = append(raw, 0xEE, 0xEE, 0xEE, 0xEE, 0xEE)
	raw = appendU16(raw, TagUserTimestamp)
	raw = appendU16(raw, 7)
	raw = binary.BigEndian.AppendUint64(raw, 99)
	raw = append(raw, 0, 0, 0) // pad 21 -> 24
	raw = append(raw, []byte("payload")...)

	pkt, err := Decode(raw)
	require.NoError(t, err, "should skip unknown extension")
	require.NotNil(t, pkt.Header.Extensions.UserTimestamp)
	assert.Equal(t, uint64(99), *pkt.Header.Extensions.UserTimestamp)
	assert.Nil(t, pkt.Header.Extensions.E2EE)
}

func TestDecodeDropsUnknownOnReencode(t *testing.T) {
	raw := appendU16(withExtFlag(minimalHeader()), 1)
	raw = appendU16(raw, 9)
	raw = appendU16(raw, 3)
	raw = append(raw, 1, 2, 3, 4)
	raw = append(raw, []byte("data")...)

	pkt, err := Decode(raw)
	require.NoError(t, err)
	assert.True(t, pkt.Header.Extensions.IsEmpty())

	reencoded := Encode(pkt)
	assert.Equal(t, BaseHeaderSize+4, len(reencoded))
	assert.Zero(t, reencoded[0]&(1<<extFlagShift), "extension flag must be cleared")
	assert.Equal(t, []byte("data"), reencoded[BaseHeaderSize:])
}

func TestDecodePreservesPayload(t *testing.T) {
	encoded := Encode(&Packet{Header: Header{Marker: MarkerSingle, TrackHandle: 1}, Payload: []byte("original")})
	decoded, err := Decode(encoded)
	require.NoError(t, err)

	encoded[BaseHeaderSize] = 0xFF
	assert.Equal(t, []byte("original"), decoded.Payload, "payload must not alias the input buffer")
}
