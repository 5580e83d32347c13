package widget

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"marketchat/internal/observability"
	"marketchat/internal/protocol"
)

// Socket is a live chat connection carrying raw frames. Emit and the read
// side may be used from different goroutines; Close unblocks a pending Read.
type Socket interface {
	Emit(protocol.Event) error
	Read() ([]byte, error)
	Close() error
}

// Dialer opens a Socket for a given user. The production implementation
// dials the chat server's websocket endpoint; tests substitute in-memory
// fakes.
type Dialer interface {
	Dial(ctx context.Context, rawURL, userID string) (Socket, error)
}

// WebsocketDialer dials the chat server over a real websocket.
type WebsocketDialer struct {
	// Token, when set, is passed to the server for verification alongside
	// the user ID.
	Token string

	HandshakeTimeout time.Duration
}

func (d *WebsocketDialer) Dial(ctx context.Context, rawURL, userID string) (Socket, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("userId", userID)
	if d.Token != "" {
		q.Set("token", d.Token)
	}
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: d.HandshakeTimeout}
	if dialer.HandshakeTimeout == 0 {
		dialer.HandshakeTimeout = 10 * time.Second
	}
	conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return &wsSocket{conn: conn}, nil
}

type wsSocket struct {
	writeMu sync.Mutex
	conn    *websocket.Conn
}

func (s *wsSocket) Emit(ev protocol.Event) error {
	frame, err := protocol.Encode(ev)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, frame)
}

func (s *wsSocket) Read() ([]byte, error) {
	_, frame, err := s.conn.ReadMessage()
	return frame, err
}

func (s *wsSocket) Close() error {
	return s.conn.Close()
}

const (
	reconnectBaseDelay  = 500 * time.Millisecond
	reconnectMaxRetries = 5
)

// ConnManager owns the widget's single chat connection across its whole
// lifetime. It connects once per identity, survives rescoping to different
// counterparts without reconnecting, transparently redials with bounded
// backoff when the transport drops, and fans every inbound event into the
// handler it was built with.
type ConnManager struct {
	dialer Dialer
	url    string
	onEv   func(protocol.Event)
	log    *observability.Logger

	mu     sync.Mutex
	selfID string
	scope  string
	sock   Socket
	gen    int
	closed bool
}

func NewConnManager(dialer Dialer, rawURL string, onEvent func(protocol.Event)) *ConnManager {
	return &ConnManager{
		dialer: dialer,
		url:    rawURL,
		onEv:   onEvent,
		log:    observability.GlobalLogger,
	}
}

// Connect establishes the connection for the given identity. A missing
// identity is a silent no-op: the widget renders in a degraded, read-only
// fashion until a real user ID shows up. Calling Connect again with the
// same identity while connected is also a no-op.
func (cm *ConnManager) Connect(selfID string) error {
	if selfID == "" {
		return nil
	}
	cm.mu.Lock()
	if cm.closed {
		cm.closed = false
	}
	if cm.sock != nil && cm.selfID == selfID {
		cm.mu.Unlock()
		return nil
	}
	if cm.sock != nil {
		cm.sock.Close()
		cm.sock = nil
	}
	cm.selfID = selfID
	cm.gen++
	gen := cm.gen
	cm.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	sock, err := cm.dialer.Dial(ctx, cm.url, selfID)
	if err != nil {
		cm.log.Warn("chat socket dial failed", "user_id", selfID, "error", err)
		return err
	}

	cm.mu.Lock()
	if cm.closed || cm.gen != gen {
		cm.mu.Unlock()
		sock.Close()
		return nil
	}
	cm.sock = sock
	cm.mu.Unlock()

	go cm.readLoop(gen, sock)
	return nil
}

// Connected reports whether a live socket is currently held.
func (cm *ConnManager) Connected() bool {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.sock != nil
}

// ScopeTo records which counterpart the connection is serving. The socket
// itself is unaffected; scope only matters for what gets re-requested after
// a reconnect.
func (cm *ConnManager) ScopeTo(counterpartID string) {
	cm.mu.Lock()
	cm.scope = counterpartID
	cm.mu.Unlock()
}

func (cm *ConnManager) Scope() string {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.scope
}

// Emit sends an event on the live socket. Emissions while disconnected are
// dropped: outbound chat traffic is fire-and-forget and the history
// reconciler repairs any gap once the connection returns.
func (cm *ConnManager) Emit(ev protocol.Event) {
	cm.mu.Lock()
	sock := cm.sock
	cm.mu.Unlock()
	if sock == nil {
		return
	}
	if err := sock.Emit(ev); err != nil {
		cm.log.Warn("chat socket emit failed", "event", ev.EventName(), "error", err)
	}
}

// RequestHistory asks the server to push the full history for the scoped
// pair over the socket. Used as the fallback path when the REST fetch
// fails.
func (cm *ConnManager) RequestHistory(counterpartID string) {
	cm.mu.Lock()
	selfID := cm.selfID
	cm.mu.Unlock()
	if selfID == "" || counterpartID == "" {
		return
	}
	cm.Emit(protocol.GetHistory{UserID: selfID, ReceiverID: counterpartID})
}

// Disconnect tears the connection down. It is idempotent; Connect may be
// called again afterwards.
func (cm *ConnManager) Disconnect() {
	cm.mu.Lock()
	cm.closed = true
	cm.gen++
	sock := cm.sock
	cm.sock = nil
	cm.mu.Unlock()
	if sock != nil {
		sock.Close()
	}
}

// readLoop pumps frames off one socket until the transport fails. Frames
// that fail to decode are dropped without touching the connection; only a
// transport error tears the socket down and triggers the redial.
func (cm *ConnManager) readLoop(gen int, sock Socket) {
	for {
		frame, err := sock.Read()
		if err != nil {
			_ = sock.Close()
			cm.mu.Lock()
			stale := cm.closed || cm.gen != gen
			cm.mu.Unlock()
			if stale {
				return
			}
			cm.reconnect(gen)
			return
		}
		ev, derr := protocol.Decode(frame)
		if derr != nil {
			cm.log.Warn("undecodable chat frame dropped", "error", derr)
			continue
		}
		if ev == nil {
			continue
		}
		if _, unknown := ev.(protocol.Unknown); unknown {
			continue
		}
		cm.onEv(ev)
	}
}

// reconnect redials with exponential backoff. After a successful redial the
// history for the current scope is re-requested so any messages that landed
// during the gap reach the live buffer.
func (cm *ConnManager) reconnect(gen int) {
	cm.mu.Lock()
	if cm.closed || cm.gen != gen {
		cm.mu.Unlock()
		return
	}
	cm.gen++
	gen = cm.gen
	selfID := cm.selfID
	cm.sock = nil
	cm.mu.Unlock()

	delay := reconnectBaseDelay
	for attempt := 1; attempt <= reconnectMaxRetries; attempt++ {
		time.Sleep(delay)
		delay *= 2

		cm.mu.Lock()
		if cm.closed || cm.gen != gen {
			cm.mu.Unlock()
			return
		}
		cm.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		sock, err := cm.dialer.Dial(ctx, cm.url, selfID)
		cancel()
		if err != nil {
			cm.log.Warn("chat socket reconnect failed", "user_id", selfID, "attempt", attempt, "error", err)
			continue
		}

		cm.mu.Lock()
		if cm.closed || cm.gen != gen {
			cm.mu.Unlock()
			sock.Close()
			return
		}
		cm.sock = sock
		scope := cm.scope
		cm.mu.Unlock()

		go cm.readLoop(gen, sock)
		if scope != "" {
			cm.RequestHistory(scope)
		}
		cm.log.Info("chat socket reconnected", "user_id", selfID, "attempt", attempt)
		return
	}
	cm.log.Error("chat socket reconnect exhausted", "user_id", selfID, "attempts", reconnectMaxRetries)
}
