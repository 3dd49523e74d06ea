package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WSReconnectConfig bounds the dial/backoff/keepalive behavior of one
// managed feed connection.
type WSReconnectConfig struct {
	// InitialDelay is the pause before the first redial; each further
	// attempt doubles it up to MaxDelay.
	InitialDelay time.Duration
	MaxDelay     time.Duration
	// MaxRetries bounds consecutive failed redials (0 = unlimited). The
	// counter resets on every successful dial.
	MaxRetries int
	// ConnectTimeout bounds one dial plus handshake.
	ConnectTimeout time.Duration
	// PingInterval is the keepalive cadence on an open connection.
	PingInterval time.Duration
	// MaxSilence is the heartbeat bound: if no frame of any kind (data
	// or pong) arrives within it, the connection is declared dead and
	// redialed even though the socket still looks open. Must exceed
	// PingInterval or a healthy idle feed would flap.
	MaxSilence time.Duration
}

// DefaultWSReconnectConfig is the feed's standard schedule: redials at
// 2s, 4s, 8s, 16s (capped), giving up after 10 consecutive failures; a
// ping every 30s and a 75s silence bound, so two lost pongs in a row
// declare the connection dead.
func DefaultWSReconnectConfig() WSReconnectConfig {
	return WSReconnectConfig{
		InitialDelay:   2 * time.Second,
		MaxDelay:       16 * time.Second,
		MaxRetries:     10,
		ConnectTimeout: 10 * time.Second,
		PingInterval:   30 * time.Second,
		MaxSilence:     75 * time.Second,
	}
}

const wsWriteTimeout = 10 * time.Second

// WSReconnectManager owns one exchange WebSocket feed for its whole
// lifetime: it dials, replays the standing subscription set on every
// dial, enforces the ping/silence heartbeat, and redials with
// exponential backoff whenever the connection dies. A single supervise
// goroutine owns each connection generation, so there is no reconnect
// state machine shared between racing pumps.
//
// SetOnMessage must be called before Connect; the manager reads the
// handler without locking afterward. Subscriptions are guarded by their
// own mutex, and every dial replays the ones recorded so far.
type WSReconnectManager struct {
	name   string
	url    string
	cfg    WSReconnectConfig
	logger *zap.Logger

	onMessage func([]byte)

	subsMu sync.Mutex
	subs   []interface{}

	connMu sync.Mutex
	conn   *websocket.Conn

	closed    chan struct{}
	closeOnce sync.Once
}

// NewWSReconnectManager creates a manager for a single named feed.
func NewWSReconnectManager(name, url string, cfg WSReconnectConfig, logger *zap.Logger) *WSReconnectManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSReconnectManager{
		name:   name,
		url:    url,
		cfg:    cfg,
		logger: logger.With(zap.String("feed", name)),
		closed: make(chan struct{}),
	}
}

// SetOnMessage installs the raw-frame handler. Call before Connect.
func (m *WSReconnectManager) SetOnMessage(handler func([]byte)) {
	m.onMessage = handler
}

// AddSubscription records a subscription message replayed on every dial,
// the initial one included.
func (m *WSReconnectManager) AddSubscription(sub interface{}) {
	m.subsMu.Lock()
	m.subs = append(m.subs, sub)
	m.subsMu.Unlock()
}

func (m *WSReconnectManager) snapshotSubs() []interface{} {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	return append([]interface{}(nil), m.subs...)
}

// Connect performs the initial dial and hands the connection to the
// supervise goroutine. Drops after this point never surface to the
// caller; they are logged and redialed.
func (m *WSReconnectManager) Connect() error {
	conn, err := m.dial()
	if err != nil {
		return err
	}
	m.logger.Info("feed connected", zap.String("url", m.url))
	go m.supervise(conn)
	return nil
}

// dial opens the socket and replays the subscription set.
func (m *WSReconnectManager) dial() (*websocket.Conn, error) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ConnectTimeout)
	defer cancel()

	dialer := websocket.Dialer{HandshakeTimeout: m.cfg.ConnectTimeout}
	conn, _, err := dialer.DialContext(ctx, m.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", m.name, err)
	}

	// Any pong pushes the silence deadline out, same as a data frame.
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(m.cfg.MaxSilence))
	})

	for _, sub := range m.snapshotSubs() {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(sub); err != nil {
			conn.Close()
			return nil, fmt.Errorf("subscribe %s: %w", m.name, err)
		}
	}

	m.connMu.Lock()
	select {
	case <-m.closed:
		m.connMu.Unlock()
		conn.Close()
		return nil, fmt.Errorf("%s: manager closed", m.name)
	default:
	}
	m.conn = conn
	m.connMu.Unlock()
	return conn, nil
}

// supervise owns the feed across connection generations: read the
// current connection until it dies, then redial until Close.
func (m *WSReconnectManager) supervise(conn *websocket.Conn) {
	for {
		m.readUntilDead(conn)
		conn.Close()

		select {
		case <-m.closed:
			return
		default:
		}

		next, ok := m.redial()
		if !ok {
			return
		}
		conn = next
	}
}

// readUntilDead is the connection's sole reader. Every received frame
// pushes the silence deadline; a read past it (or any transport error)
// ends the generation.
func (m *WSReconnectManager) readUntilDead(conn *websocket.Conn) {
	stopPing := make(chan struct{})
	defer close(stopPing)
	go m.pingLoop(conn, stopPing)

	for {
		_ = conn.SetReadDeadline(time.Now().Add(m.cfg.MaxSilence))
		_, frame, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-m.closed:
			default:
				m.logger.Warn("feed read failed, reconnecting", zap.Error(err))
			}
			return
		}
		if m.onMessage != nil {
			m.onMessage(frame)
		}
	}
}

func (m *WSReconnectManager) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(m.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-m.closed:
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				// The reader notices through its deadline; nothing more
				// to do from the write side.
				return
			}
		}
	}
}

// redial retries the dial with exponential backoff until it succeeds,
// the consecutive-failure budget is spent, or the manager closes.
func (m *WSReconnectManager) redial() (*websocket.Conn, bool) {
	delay := m.cfg.InitialDelay
	for attempt := 1; m.cfg.MaxRetries <= 0 || attempt <= m.cfg.MaxRetries; attempt++ {
		select {
		case <-m.closed:
			return nil, false
		case <-time.After(delay):
		}

		conn, err := m.dial()
		if err == nil {
			m.logger.Info("feed reconnected", zap.Int("attempt", attempt))
			return conn, true
		}
		m.logger.Warn("reconnect attempt failed",
			zap.Int("attempt", attempt), zap.Int("max", m.cfg.MaxRetries), zap.Error(err))

		delay *= 2
		if delay > m.cfg.MaxDelay {
			delay = m.cfg.MaxDelay
		}
	}
	m.logger.Error("feed exhausted reconnect attempts")
	return nil, false
}

// Close ends the feed for good: the supervise goroutine stops redialing
// and the current connection, if any, is torn down.
func (m *WSReconnectManager) Close() error {
	m.closeOnce.Do(func() { close(m.closed) })

	m.connMu.Lock()
	defer m.connMu.Unlock()
	if m.conn != nil {
		err := m.conn.Close()
		m.conn = nil
		return err
	}
	return nil
}
