package signaling

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/randutil"
)

const (
	// Path is the HTTP path the host serves the signaling WebSocket on.
	Path = "/datatrack"

	// Subprotocol is negotiated on every signaling WebSocket so that a peer
	// speaking another protocol fails at the handshake.
	Subprotocol = "datatrack.v1"

	handshakeTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	HandshakeTimeout: handshakeTimeout,
	Subprotocols:     []string{Subprotocol},
	CheckOrigin:      func(r *http.Request) bool { return true },
}

var errSubprotocol = errors.New("peer did not accept the " + Subprotocol + " subprotocol")

// URL returns the address a peer dials to reach a host on host:port.
func URL(host string, port int, pin string) string {
	u := url.URL{
		Scheme:   "ws",
		Host:     net.JoinHostPort(host, strconv.Itoa(port)),
		Path:     Path,
		RawQuery: url.Values{"pin": {pin}}.Encode(),
	}
	return u.String()
}

// server accepts exactly one peer, authenticated by PIN.
type server struct {
	pin    string
	http   *http.Server
	connCh chan *websocket.Conn
}

func newServer(pin string) *server {
	return &server{
		pin:    pin,
		connCh: make(chan *websocket.Conn, 1),
	}
}

// start listens on addr (":0" picks a free port) and returns the port.
func (s *server) start(addr string) (int, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return 0, fmt.Errorf("failed to start signaling server: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc(Path, s.handleWS)
	s.http = &http.Server{Handler: mux, ReadHeaderTimeout: handshakeTimeout}

	go func() {
		_ = s.http.Serve(listener)
	}()

	return listener.Addr().(*net.TCPAddr).Port, nil
}

func (s *server) handleWS(w http.ResponseWriter, r *http.Request) {
	pin := r.URL.Query().Get("pin")
	if subtle.ConstantTimeCompare([]byte(pin), []byte(s.pin)) != 1 {
		http.Error(w, "invalid PIN", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	select {
	case s.connCh <- conn:
	default:
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "peer already connected"))
		conn.Close()
	}
}

func (s *server) waitForClient(ctx context.Context) (*websocket.Conn, error) {
	select {
	case conn := <-s.connCh:
		return conn, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// close stops accepting peers. An accepted WebSocket outlives it.
func (s *server) close() {
	if s.http != nil {
		s.http.Close()
	}
}

// connect dials a host and checks the subprotocol it agreed to.
func connect(ctx context.Context, wsURL string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
		Subprotocols:     []string{Subprotocol},
	}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to signaling server: %w", err)
	}
	if conn.Subprotocol() != Subprotocol {
		conn.Close()
		return nil, errSubprotocol
	}
	return conn, nil
}

// generatePIN returns a random numeric PIN.
func generatePIN(length int) string {
	pin, err := randutil.GenerateCryptoRandomString(length, "0123456789")
	if err != nil {
		panic(fmt.Sprintf("generate PIN: %v", err))
	}
	return pin
}
