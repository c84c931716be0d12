package transport

import (
	"context"
	"sync/atomic"

	"github.com/1ureka/datatrack/internal/util"
)

const (
	highWaterMark  = 1024 * 1024 // pause sending when bufferedAmount exceeds this
	lowWaterMark   = 256 * 1024  // resume sending when bufferedAmount drops below this
	sendBufferSize = 256         // outgoing packet channel capacity
)

// dataChannel is the part of *webrtc.DataChannel the sender needs.
type dataChannel interface {
	Send(data []byte) error
	BufferedAmount() uint64
	SetBufferedAmountLowThreshold(th uint64)
	OnBufferedAmountLow(f func())
}

// sender is a goroutine-based packet writer that serializes all writes to a
// single DataChannel, adding open-gate and backpressure control.
type sender struct {
	inbox       chan []byte
	drainSignal chan struct{}
	dropped     atomic.Uint64
}

// newSender creates a sender, wires the backpressure callbacks on dc, and
// starts the background loop. The loop exits when ctx is cancelled.
func newSender(ctx context.Context, dc dataChannel, openSignal <-chan struct{}) *sender {
	s := &sender{
		inbox:       make(chan []byte, sendBufferSize),
		drainSignal: make(chan struct{}, 1),
	}

	dc.SetBufferedAmountLowThreshold(uint64(lowWaterMark))
	dc.OnBufferedAmountLow(func() {
		select {
		case s.drainSignal <- struct{}{}:
		default:
		}
	})

	go s.loop(ctx, dc, openSignal)

	return s
}

// loop is the single-writer goroutine. It waits for the DataChannel to open,
// then drains the inbox with backpressure awareness.
func (s *sender) loop(ctx context.Context, dc dataChannel, openSignal <-chan struct{}) {
	// Phase 1: wait for DC to be open.
	select {
	case <-openSignal:
	case <-ctx.Done():
		return
	}

	// Phase 2: send packets with backpressure.
	for {
		select {
		case data := <-s.inbox:
			if dc.BufferedAmount() > uint64(highWaterMark) {
				select {
				case <-s.drainSignal:
				case <-ctx.Done():
					return
				}
			}

			if err := dc.Send(data); err != nil {
				util.LogError("failed to send packet (%d bytes): %v", len(data), err)
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// send enqueues an encoded packet for transmission. Packets are dropped once
// ctx is cancelled or while the inbox is full.
func (s *sender) send(ctx context.Context, data []byte) {
	if ctx.Err() != nil {
		return
	}
	select {
	case s.inbox <- data:
	default:
		if n := s.dropped.Add(1); n == 1 || n%1000 == 0 {
			util.LogWarning("send queue full, %d packets dropped so far", n)
		}
	}
}
