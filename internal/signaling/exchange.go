package signaling

import (
	"context"
	"fmt"

	"github.com/1ureka/datatrack/internal/transport"
	"github.com/1ureka/datatrack/internal/util"
)

// EstablishAsHost executes the full host-side setup:
//  1. Start a WS server on addr, protected by pin (generated if empty)
//  2. Wait for the other peer to connect
//  3. Create a Transport and send the Offer
//  4. Exchange ICE candidates until the DataChannel is ready
//
// Unlike a pure tunnel, the WS connection stays open afterwards: it carries
// the data track negotiation. The listener is closed before returning.
func EstablishAsHost(ctx context.Context, addr, pin string, iceServers []string) (*transport.Transport, *Conn, error) {
	if pin == "" {
		pin = generatePIN(6)
	}
	srv := newServer(pin)
	port, err := srv.start(addr)
	if err != nil {
		return nil, nil, err
	}
	defer srv.close()
	util.LogInfo("signaling server listening on port %d, peers dial %s", port, URL("<host>", port, pin))

	ws, err := srv.waitForClient(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to wait for client: %w", err)
	}
	conn := NewConn(ws)
	util.LogInfo("peer connected")

	tr, err := establish(ctx, conn, iceServers, true)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	return tr, conn, nil
}

// EstablishAsClient connects to a host's WS server and completes the
// client-side SDP/ICE exchange.
func EstablishAsClient(ctx context.Context, wsURL string, iceServers []string) (*transport.Transport, *Conn, error) {
	ws, err := connect(ctx, wsURL)
	if err != nil {
		return nil, nil, err
	}
	conn := NewConn(ws)
	util.LogInfo("WS connected: %s", wsURL)

	tr, err := establish(ctx, conn, iceServers, false)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	return tr, conn, nil
}

func establish(ctx context.Context, conn *Conn, iceServers []string, offerer bool) (*transport.Transport, error) {
	tr, err := transport.NewTransport(ctx, iceServers)
	if err != nil {
		return nil, fmt.Errorf("failed to create Transport: %w", err)
	}

	// Trickle ICE candidates.
	tr.OnICECandidate(func(candidate string) {
		// Best effort; a lost candidate only narrows the choice of paths.
		if err := conn.Send(Message{Type: MsgTypeCandidate, Candidate: candidate}); err != nil {
			util.LogDebug("send candidate: %v", err)
		}
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- watchSDP(conn, tr)
	}()

	if offerer {
		if err := sendDescription(conn, tr, true); err != nil {
			tr.Close()
			return nil, fmt.Errorf("failed to send Offer: %w", err)
		}
	}

	select {
	case <-tr.Ready():
		util.LogInfo("WebRTC DataChannel established")
		return tr, nil

	case err := <-errCh:
		tr.Close()
		return nil, fmt.Errorf("signaling failed: %w", err)

	case <-ctx.Done():
		tr.Close()
		return nil, ctx.Err()
	}
}

// watchSDP applies remote descriptions and candidates for as long as the
// connection lives, so late candidates are still used.
func watchSDP(conn *Conn, tr *transport.Transport) error {
	for {
		var msg Message
		select {
		case msg = <-conn.sdp:
		case <-conn.Done():
			return conn.Err()
		}

		switch msg.Type {
		case MsgTypeOffer:
			if err := tr.SetRemoteDescription(true, msg.SDP); err != nil {
				return err
			}
			if err := sendDescription(conn, tr, false); err != nil {
				return err
			}

		case MsgTypeAnswer:
			if err := tr.SetRemoteDescription(false, msg.SDP); err != nil {
				return err
			}

		case MsgTypeCandidate:
			if err := tr.AddICECandidate(msg.Candidate); err != nil {
				return err
			}
		}
	}
}

// sendDescription creates and applies an offer or answer, then sends it.
func sendDescription(conn *Conn, tr *transport.Transport, offer bool) error {
	sdp, err := tr.LocalDescription(offer)
	if err != nil {
		return err
	}
	typ := MsgTypeAnswer
	if offer {
		typ = MsgTypeOffer
	}
	return conn.Send(Message{Type: typ, SDP: sdp})
}
