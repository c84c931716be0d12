package framing

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/datatrack/internal/protocol"
)

func payloadOf(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 251)
	}
	return b
}

func TestPacketizeSingle(t *testing.T) {
	p := NewPacketizer(1, 1024)
	packets, err := p.Packetize(Frame{Payload: []byte("hello")})
	require.NoError(t, err)
	require.Len(t, packets, 1)

	h := packets[0].Header
	assert.Equal(t, protocol.MarkerSingle, h.Marker)
	assert.Equal(t, protocol.Handle(1), h.TrackHandle)
	assert.Equal(t, uint16(0), h.Sequence)
	assert.Equal(t, uint16(0), h.FrameNumber)
	assert.Equal(t, []byte("hello"), packets[0].Payload)
}

func TestPacketizeEmptyPayload(t *testing.T) {
	p := NewPacketizer(1, 1024)
	packets, err := p.Packetize(Frame{})
	require.NoError(t, err)
	require.Len(t, packets, 1)
	assert.Equal(t, protocol.MarkerSingle, packets[0].Header.Marker)
	assert.Empty(t, packets[0].Payload)
}

func TestPacketizeZeroMTU(t *testing.T) {
	p := NewPacketizer(1, 0)
	_, err := p.Packetize(Frame{Payload: []byte{1}})
	assert.ErrorIs(t, err, ErrMTUTooShort)
}

func TestPacketizeMulti(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		mtu     int
		markers []protocol.FrameMarker
	}{
		{"two packets", 2000, 1024, []protocol.FrameMarker{protocol.MarkerStart, protocol.MarkerFinal}},
		{"exact multiple", 3072, 1024, []protocol.FrameMarker{protocol.MarkerStart, protocol.MarkerInter, protocol.MarkerFinal}},
		{"default mtu", 40_000, DefaultMTU, []protocol.FrameMarker{protocol.MarkerStart, protocol.MarkerInter, protocol.MarkerFinal}},
		{"exactly one mtu", 1024, 1024, []protocol.FrameMarker{protocol.MarkerSingle}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPacketizer(7, tt.mtu)
			data := payloadOf(tt.size)
			packets, err := p.Packetize(Frame{Payload: data})
			require.NoError(t, err)
			require.Len(t, packets, len(tt.markers))

			var joined []byte
			for i, pkt := range packets {
				assert.Equal(t, tt.markers[i], pkt.Header.Marker)
				assert.Equal(t, uint16(i), pkt.Header.Sequence)
				assert.Equal(t, uint16(0), pkt.Header.FrameNumber)
				assert.Equal(t, packets[0].Header.Timestamp, pkt.Header.Timestamp)
				assert.LessOrEqual(t, len(pkt.Payload), tt.mtu)
				joined = append(joined, pkt.Payload...)
			}
			assert.True(t, bytes.Equal(data, joined))
		})
	}
}

func TestPacketizeCounters(t *testing.T) {
	p := NewPacketizer(1, 100)

	first, err := p.Packetize(Frame{Payload: payloadOf(250)})
	require.NoError(t, err)
	second, err := p.Packetize(Frame{Payload: payloadOf(10)})
	require.NoError(t, err)

	require.Len(t, first, 3)
	require.Len(t, second, 1)
	assert.Equal(t, uint16(1), second[0].Header.FrameNumber)
	assert.Equal(t, uint16(3), second[0].Header.Sequence)
}

func TestPacketizeExtensionsOnEveryPacket(t *testing.T) {
	ts := uint64(1234)
	ext := protocol.Extensions{UserTimestamp: &ts}
	p := NewPacketizer(1, 10)

	packets, err := p.Packetize(Frame{Payload: payloadOf(25), Extensions: ext})
	require.NoError(t, err)
	require.Len(t, packets, 3)
	for _, pkt := range packets {
		require.NotNil(t, pkt.Header.Extensions.UserTimestamp)
		assert.Equal(t, ts, *pkt.Header.Extensions.UserTimestamp)
	}
}

// wire runs packets through the codec as the transport would.
func wire(t *testing.T, packets []*protocol.Packet) []*protocol.Packet {
	t.Helper()
	out := make([]*protocol.Packet, len(packets))
	for i, pkt := range packets {
		decoded, err := protocol.Decode(protocol.Encode(pkt))
		require.NoError(t, err)
		out[i] = decoded
	}
	return out
}

func TestRoundTrip(t *testing.T) {
	ts := uint64(42)
	for _, size := range []int{0, 1, 999, 1000, 1001, 40_000} {
		p := NewPacketizer(3, 1000)
		d := NewDepacketizer()
		data := payloadOf(size)

		packets, err := p.Packetize(Frame{Payload: data, Extensions: protocol.Extensions{UserTimestamp: &ts}})
		require.NoError(t, err)

		var frames []*Frame
		for _, pkt := range wire(t, packets) {
			if f := d.Push(pkt); f != nil {
				frames = append(frames, f)
			}
		}
		require.Len(t, frames, 1, "size %d", size)
		assert.True(t, bytes.Equal(data, frames[0].Payload), "size %d", size)
		require.NotNil(t, frames[0].Extensions.UserTimestamp)
		assert.Equal(t, ts, *frames[0].Extensions.UserTimestamp)
	}
}

func TestDepacketizeMissingPacket(t *testing.T) {
	p := NewPacketizer(1, 10)
	d := NewDepacketizer()

	packets, err := p.Packetize(Frame{Payload: payloadOf(30)})
	require.NoError(t, err)
	require.Len(t, packets, 3)

	assert.Nil(t, d.Push(packets[0]))
	assert.Nil(t, d.Push(packets[2]))
	assert.Equal(t, 1, d.Dropped())

	// The next complete frame is still delivered.
	next, err := p.Packetize(Frame{Payload: payloadOf(15)})
	require.NoError(t, err)
	assert.Nil(t, d.Push(next[0]))
	f := d.Push(next[1])
	require.NotNil(t, f)
	assert.Len(t, f.Payload, 15)
}

func TestDepacketizeInterruptedByNewFrame(t *testing.T) {
	p := NewPacketizer(1, 10)
	d := NewDepacketizer()

	older, err := p.Packetize(Frame{Payload: payloadOf(20)})
	require.NoError(t, err)
	newer, err := p.Packetize(Frame{Payload: payloadOf(20)})
	require.NoError(t, err)

	assert.Nil(t, d.Push(older[0]))
	assert.Nil(t, d.Push(newer[0]))
	assert.Nil(t, d.Push(older[1]), "packet of the dropped frame must not complete anything")
	assert.Equal(t, 1, d.Dropped())

	f := d.Push(newer[1])
	require.NotNil(t, f, "late packet of the older frame must not cost the newer one")
	assert.Equal(t, payloadOf(20), f.Payload)
	assert.Equal(t, 1, d.Dropped())
}

func TestDepacketizeStaleStartAndDuplicate(t *testing.T) {
	p := NewPacketizer(1, 10)
	d := NewDepacketizer()

	older, err := p.Packetize(Frame{Payload: payloadOf(20)})
	require.NoError(t, err)
	newer, err := p.Packetize(Frame{Payload: payloadOf(30)})
	require.NoError(t, err)
	require.Len(t, newer, 3)

	assert.Nil(t, d.Push(newer[0]))
	assert.Nil(t, d.Push(older[0]), "start of an older frame")
	assert.Nil(t, d.Push(newer[1]))
	assert.Nil(t, d.Push(newer[1]), "duplicate")
	f := d.Push(newer[2])
	require.NotNil(t, f)
	assert.Equal(t, payloadOf(30), f.Payload)
	assert.Equal(t, 0, d.Dropped())
}

func TestDepacketizeFinalWithoutStart(t *testing.T) {
	d := NewDepacketizer()
	pkt := &protocol.Packet{Header: protocol.Header{Marker: protocol.MarkerFinal, TrackHandle: 1}, Payload: []byte{1}}
	assert.Nil(t, d.Push(pkt))
	assert.Equal(t, 0, d.Dropped())
}

func TestDepacketizeSingleInterrupts(t *testing.T) {
	p := NewPacketizer(1, 10)
	d := NewDepacketizer()

	multi, err := p.Packetize(Frame{Payload: payloadOf(20)})
	require.NoError(t, err)
	single, err := p.Packetize(Frame{Payload: payloadOf(5)})
	require.NoError(t, err)

	assert.Nil(t, d.Push(multi[0]))
	f := d.Push(single[0])
	require.NotNil(t, f)
	assert.Len(t, f.Payload, 5)
	assert.Equal(t, 1, d.Dropped())
	assert.Nil(t, d.Push(multi[1]))
}

func TestDepacketizeSequenceWrap(t *testing.T) {
	d := NewDepacketizer()
	mk := func(m protocol.FrameMarker, seq uint16) *protocol.Packet {
		return &protocol.Packet{
			Header:  protocol.Header{Marker: m, TrackHandle: 1, Sequence: seq, FrameNumber: 9},
			Payload: []byte{byte(seq)},
		}
	}
	assert.Nil(t, d.Push(mk(protocol.MarkerStart, 0xFFFF)))
	f := d.Push(mk(protocol.MarkerFinal, 0))
	require.NotNil(t, f)
	assert.Equal(t, []byte{0xFF, 0x00}, f.Payload)
}

func TestDepacketizeFrameTooLarge(t *testing.T) {
	d := NewDepacketizer()
	d.maxFrameSize = 15

	p := NewPacketizer(1, 10)
	packets, err := p.Packetize(Frame{Payload: payloadOf(20)})
	require.NoError(t, err)

	assert.Nil(t, d.Push(packets[0]))
	assert.Nil(t, d.Push(packets[1]))
	assert.Equal(t, 1, d.Dropped())
}
