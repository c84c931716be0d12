// Package util provides logging and traffic accounting shared by all packages.
package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide data track traffic counter.
var Stats = &stats{}

type stats struct {
	TracksPublished  atomic.Int64 // cumulative local tracks that became active
	TracksSubscribed atomic.Int64 // cumulative remote tracks bound to a handle
	FramesSent       atomic.Int64 // frames packetized by local pipelines
	FramesRecv       atomic.Int64 // frames reassembled by remote pipelines
	FramesDropped    atomic.Int64 // frames lost to full queues, gaps or decrypt failures
	PacketsSent      atomic.Int64
	PacketsRecv      atomic.Int64
	BytesSent        atomic.Int64 // encoded packet bytes handed to the transport
	BytesRecv        atomic.Int64 // encoded packet bytes received from the transport
}

func (s *stats) AddPublished()          { s.TracksPublished.Add(1) }
func (s *stats) AddSubscribed()         { s.TracksSubscribed.Add(1) }
func (s *stats) AddFrameSent()          { s.FramesSent.Add(1) }
func (s *stats) AddFrameRecv()          { s.FramesRecv.Add(1) }
func (s *stats) AddFramesDropped(n int) { s.FramesDropped.Add(int64(n)) }
func (s *stats) AddPacketSent(n int)    { s.PacketsSent.Add(1); s.BytesSent.Add(int64(n)) }
func (s *stats) AddPacketRecv(n int)    { s.PacketsRecv.Add(1); s.BytesRecv.Add(int64(n)) }

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	FramesSent, FramesRecv, FramesDropped int64
	PacketsSent, PacketsRecv              int64
	BytesSent, BytesRecv                  int64
}

// Snapshot loads every counter.
func (s *stats) Snapshot() Snapshot {
	return Snapshot{
		FramesSent:    s.FramesSent.Load(),
		FramesRecv:    s.FramesRecv.Load(),
		FramesDropped: s.FramesDropped.Load(),
		PacketsSent:   s.PacketsSent.Load(),
		PacketsRecv:   s.PacketsRecv.Load(),
		BytesSent:     s.BytesSent.Load(),
		BytesRecv:     s.BytesRecv.Load(),
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs traffic statistics
// every interval. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		prev := Stats.Snapshot()
		secs := interval.Seconds()
		for {
			select {
			case <-ticker.C:
				cur := Stats.Snapshot()

				out := float64(cur.BytesSent-prev.BytesSent) / secs
				in := float64(cur.BytesRecv-prev.BytesRecv) / secs
				dropped := cur.FramesDropped - prev.FramesDropped

				if out > 10 || in > 10 || dropped > 0 {
					LogInfo("%s", formatStats(out, in, cur.FramesSent-prev.FramesSent, cur.FramesRecv-prev.FramesRecv, dropped))
				}
				prev = cur

			case <-ctx.Done():
				return
			}
		}
	}()
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a human-readable string with fixed width (exactly 8 chars)
// for example: "99.0   B", " 1.5 KiB", " 0.1 MiB", "98.9 GiB", etc.
func formatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < 5 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// formatStats returns a formatted string of the current stats for display in the logger.
func formatStats(outS, inS float64, framesOut, framesIn, dropped int64) string {
	return fmt.Sprintf("Out: %s/s | In: %s/s | Frames: %3d↑ %3d↓ | Dropped: %d",
		formatBytes(outS),
		formatBytes(inS),
		framesOut,
		framesIn,
		dropped,
	)
}
