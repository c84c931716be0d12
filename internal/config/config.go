// Package config holds the tuning parameters shared by the data track managers.
package config

import (
	"errors"
	"time"
)

// Defaults.
const (
	DefaultMTU              = 16_000
	DefaultPublishTimeout   = 10 * time.Second
	DefaultSubscribeTimeout = 10 * time.Second
	DefaultMaxTracks        = 0xFFFF

	// Channel capacities. All inter-goroutine queues are bounded.
	DefaultInputCapacity  = 16
	DefaultOutputCapacity = 64
	DefaultFrameCapacity  = 16
	DefaultPacketCapacity = 64
)

var (
	ErrInvalidMTU     = errors.New("config: MTU must be positive")
	ErrInvalidTimeout = errors.New("config: timeouts must be positive")
	ErrInvalidLimit   = errors.New("config: max tracks must be between 1 and 65535")
	ErrInvalidQueue   = errors.New("config: channel capacities must be positive")
)

// Config stores the parameters of one data track session.
type Config struct {
	MTU              int           // maximum payload bytes per packet
	PublishTimeout   time.Duration // time to wait for a PublishResult
	SubscribeTimeout time.Duration // time RemoteTrack.Subscribe waits for a handle binding
	MaxTracks        int           // size of the local handle pool

	InputCapacity  int // manager input queue
	OutputCapacity int // manager output event queue
	FrameCapacity  int // per-track frame queue (local push, remote fan-out)
	PacketCapacity int // per-track inbound packet queue
}

// Default returns a Config populated with the default values.
func Default() Config {
	return Config{
		MTU:              DefaultMTU,
		PublishTimeout:   DefaultPublishTimeout,
		SubscribeTimeout: DefaultSubscribeTimeout,
		MaxTracks:        DefaultMaxTracks,
		InputCapacity:    DefaultInputCapacity,
		OutputCapacity:   DefaultOutputCapacity,
		FrameCapacity:    DefaultFrameCapacity,
		PacketCapacity:   DefaultPacketCapacity,
	}
}

// WithDefaults returns a copy of c with every zero field replaced by its default.
func (c Config) WithDefaults() Config {
	d := Default()
	if c.MTU == 0 {
		c.MTU = d.MTU
	}
	if c.PublishTimeout == 0 {
		c.PublishTimeout = d.PublishTimeout
	}
	if c.SubscribeTimeout == 0 {
		c.SubscribeTimeout = d.SubscribeTimeout
	}
	if c.MaxTracks == 0 {
		c.MaxTracks = d.MaxTracks
	}
	if c.InputCapacity == 0 {
		c.InputCapacity = d.InputCapacity
	}
	if c.OutputCapacity == 0 {
		c.OutputCapacity = d.OutputCapacity
	}
	if c.FrameCapacity == 0 {
		c.FrameCapacity = d.FrameCapacity
	}
	if c.PacketCapacity == 0 {
		c.PacketCapacity = d.PacketCapacity
	}
	return c
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	switch {
	case c.MTU <= 0:
		return ErrInvalidMTU
	case c.PublishTimeout <= 0, c.SubscribeTimeout <= 0:
		return ErrInvalidTimeout
	case c.MaxTracks < 1 || c.MaxTracks > 0xFFFF:
		return ErrInvalidLimit
	case c.InputCapacity <= 0, c.OutputCapacity <= 0, c.FrameCapacity <= 0, c.PacketCapacity <= 0:
		return ErrInvalidQueue
	}
	return nil
}
