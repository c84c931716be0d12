package session

import (
	"context"

	"github.com/1ureka/datatrack/internal/signaling"
)

// Host waits for a peer on addr, sets up the WebRTC transport and returns a
// session ready to Run. An empty pin generates one, shown in the log.
func Host(ctx context.Context, addr, pin string, opts Options) (*Session, error) {
	tr, conn, err := signaling.EstablishAsHost(ctx, addr, pin, opts.ICEServers)
	if err != nil {
		return nil, err
	}
	s, err := New(opts, tr, conn)
	if err != nil {
		tr.Close()
		conn.Close()
		return nil, err
	}
	return s, nil
}

// URL returns the address Dial uses to reach a Host listening on host:port.
func URL(host string, port int, pin string) string {
	return signaling.URL(host, port, pin)
}

// Dial connects to a hosting peer at a URL built by URL, e.g.
// "ws://host:port/datatrack?pin=123456".
func Dial(ctx context.Context, url string, opts Options) (*Session, error) {
	tr, conn, err := signaling.EstablishAsClient(ctx, url, opts.ICEServers)
	if err != nil {
		return nil, err
	}
	s, err := New(opts, tr, conn)
	if err != nil {
		tr.Close()
		conn.Close()
		return nil, err
	}
	return s, nil
}
