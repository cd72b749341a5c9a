package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Events delivered by the backend.
const (
	EventMarketSummary = "market:summary"
	EventSignalNew     = "signal:new"
	EventSignalUpdate  = "signal:update"
)

// Topics subscribed after every successful connect.
var DefaultTopics = []string{"signals", "trades"}

const writeWait = 10 * time.Second

var (
	ErrNoCredential = errors.New("stream: no bearer credential")
	ErrNotConnected = errors.New("stream: not connected")
)

// Handler receives the first argument of a stream event.
type Handler func(payload json.RawMessage)

type Options struct {
	URL               string
	Token             string
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	HandshakeTimeout  time.Duration
	Topics            []string
}

func DefaultOptions(url, token string) Options {
	return Options{
		URL:               url,
		Token:             token,
		ReconnectAttempts: 10,
		ReconnectDelay:    3 * time.Second,
		HandshakeTimeout:  10 * time.Second,
		Topics:            DefaultTopics,
	}
}

type listener struct {
	id    uint64
	event string
	fn    Handler
	state func(connected bool)
}

// Transport owns one socket.io connection to the backend. It is shared by
// every consumer through Attach; detaching a consumer never closes the
// connection, only Disconnect does.
type Transport struct {
	opts   Options
	logger *logrus.Logger
	dialer websocket.Dialer

	mu        sync.Mutex
	conn      *websocket.Conn
	running   bool
	cancel    context.CancelFunc
	done      chan struct{}
	exhausted bool

	writeMu   sync.Mutex
	connected atomic.Bool

	handlerMu sync.RWMutex
	listeners []listener
	nextID    uint64
}

func NewTransport(opts Options, logger *logrus.Logger) *Transport {
	if opts.ReconnectAttempts <= 0 {
		opts.ReconnectAttempts = 10
	}
	if opts.ReconnectDelay < 0 {
		opts.ReconnectDelay = 0
	}
	if opts.Topics == nil {
		opts.Topics = DefaultTopics
	}
	return &Transport{
		opts:   opts,
		logger: logger,
		dialer: websocket.Dialer{HandshakeTimeout: opts.HandshakeTimeout},
	}
}

// Connect starts the connection loop. Calling it while a loop is already
// live reuses that connection. Without a bearer token no dial is attempted.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.opts.Token == "" {
		return ErrNoCredential
	}
	if t.running {
		return nil
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	t.running = true
	t.exhausted = false
	t.cancel = cancel
	t.done = done

	go t.run(loopCtx, done)
	return nil
}

// Disconnect tears the connection down and stops reconnecting.
func (t *Transport) Disconnect() {
	t.mu.Lock()
	cancel, done, conn := t.cancel, t.done, t.conn
	t.running = false
	t.cancel = nil
	t.done = nil
	t.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	if conn != nil {
		t.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		t.writeMu.Unlock()
		conn.Close()
	}
	<-done
}

// SetToken replaces the bearer credential used by subsequent dials.
func (t *Transport) SetToken(token string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.opts.Token = token
}

func (t *Transport) Connected() bool {
	return t.connected.Load()
}

// Exhausted reports that every reconnect attempt failed. Data fed from the
// stream should be treated as stale until Connect is called again.
func (t *Transport) Exhausted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.exhausted
}

// Emit sends an event to the server.
func (t *Transport) Emit(event string, args ...any) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	msg, err := encodeEvent(event, args...)
	if err != nil {
		return fmt.Errorf("stream: encode %s: %w", event, err)
	}
	return t.write(conn, msg)
}

func (t *Transport) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer func() {
		t.mu.Lock()
		if t.done == done {
			t.running = false
		}
		t.mu.Unlock()
	}()

	attempt := 0
	for {
		wasConnected, err := t.session(ctx)
		if ctx.Err() != nil {
			return
		}
		if wasConnected {
			attempt = 0
		}
		if err != nil {
			t.logger.WithError(err).Warn("Stream connection lost")
		}

		attempt++
		if attempt > t.opts.ReconnectAttempts {
			t.logger.WithField("attempts", t.opts.ReconnectAttempts).Error("Stream reconnect attempts exhausted")
			t.mu.Lock()
			t.exhausted = true
			t.mu.Unlock()
			return
		}

		t.logger.WithFields(logrus.Fields{
			"attempt": attempt,
			"max":     t.opts.ReconnectAttempts,
			"delay":   t.opts.ReconnectDelay,
		}).Info("Reconnecting stream")

		select {
		case <-ctx.Done():
			return
		case <-time.After(t.opts.ReconnectDelay):
		}
	}
}

// session runs one connection until it drops. It reports whether the
// namespace connect succeeded during its lifetime.
func (t *Transport) session(ctx context.Context) (bool, error) {
	endpoint, err := socketURL(t.opts.URL)
	if err != nil {
		return false, err
	}

	t.mu.Lock()
	token := t.opts.Token
	t.mu.Unlock()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	header.Set("X-Session-ID", uuid.NewString())

	conn, _, err := t.dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		t.logger.WithError(err).Warn("Stream connection error")
		return false, fmt.Errorf("failed to connect to stream: %w", err)
	}
	defer conn.Close()

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		if t.conn == conn {
			t.conn = nil
		}
		t.mu.Unlock()
	}()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	connected := false
	defer func() {
		if connected {
			t.setConnected(false)
		}
	}()

	var readTimeout time.Duration
	for {
		if readTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			return connected, fmt.Errorf("read: %w", err)
		}

		pkt, err := decodePacket(data)
		if err != nil {
			t.logger.WithError(err).Debug("Dropping malformed stream packet")
			continue
		}

		switch pkt.engine {
		case engineOpen:
			var open openPayload
			if err := json.Unmarshal(pkt.data, &open); err == nil {
				readTimeout = open.readTimeout()
			}
			msg, err := encodeConnect(map[string]string{"token": token})
			if err != nil {
				return false, err
			}
			if err := t.write(conn, msg); err != nil {
				return false, fmt.Errorf("send connect: %w", err)
			}

		case enginePing:
			if err := t.write(conn, []byte{enginePong}); err != nil {
				return connected, fmt.Errorf("send pong: %w", err)
			}

		case engineClose:
			return connected, errors.New("server closed the session")

		case engineMessage:
			switch pkt.socket {
			case socketConnect:
				if !connected {
					connected = true
					t.onConnect(conn)
				}
			case socketConnectError:
				var ce connectError
				_ = json.Unmarshal(pkt.data, &ce)
				t.logger.WithField("reason", ce.Message).Warn("Stream connection error")
				return connected, fmt.Errorf("connect rejected: %s", ce.Message)
			case socketDisconnect:
				return connected, errors.New("server disconnected the namespace")
			case socketEvent:
				name, payload, err := pkt.event()
				if err != nil {
					t.logger.WithError(err).Debug("Dropping malformed stream event")
					continue
				}
				t.dispatch(name, payload)
			}
		}
	}
}

// onConnect fires on every connected transition, so subscriptions are
// re-declared after each reconnect.
func (t *Transport) onConnect(conn *websocket.Conn) {
	t.logger.Info("Connected to backend stream")
	for _, topic := range t.opts.Topics {
		msg, err := encodeEvent("subscribe:" + topic)
		if err != nil {
			continue
		}
		if err := t.write(conn, msg); err != nil {
			t.logger.WithError(err).WithField("topic", topic).Error("Failed to subscribe")
		}
	}
	t.setConnected(true)
}

func (t *Transport) setConnected(v bool) {
	if t.connected.Swap(v) == v {
		return
	}
	if !v {
		t.logger.Info("Disconnected from backend stream")
	}
	t.handlerMu.RLock()
	fns := make([]func(bool), 0, len(t.listeners))
	for _, l := range t.listeners {
		if l.state != nil {
			fns = append(fns, l.state)
		}
	}
	t.handlerMu.RUnlock()
	for _, fn := range fns {
		fn(v)
	}
}

// dispatch runs on the read goroutine, so handlers see events in arrival
// order and never concurrently with each other.
func (t *Transport) dispatch(event string, payload json.RawMessage) {
	t.handlerMu.RLock()
	fns := make([]Handler, 0, 2)
	for _, l := range t.listeners {
		if l.fn != nil && l.event == event {
			fns = append(fns, l.fn)
		}
	}
	t.handlerMu.RUnlock()
	for _, fn := range fns {
		fn(payload)
	}
}

func (t *Transport) write(conn *websocket.Conn, msg []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, msg)
}

func (t *Transport) addListener(l listener) uint64 {
	t.handlerMu.Lock()
	defer t.handlerMu.Unlock()
	t.nextID++
	l.id = t.nextID
	t.listeners = append(t.listeners, l)
	return l.id
}

func (t *Transport) removeListeners(ids []uint64) {
	if len(ids) == 0 {
		return
	}
	drop := make(map[uint64]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	t.handlerMu.Lock()
	defer t.handlerMu.Unlock()
	kept := t.listeners[:0]
	for _, l := range t.listeners {
		if _, ok := drop[l.id]; !ok {
			kept = append(kept, l)
		}
	}
	t.listeners = kept
}

// socketURL turns an http(s) or ws(s) base URL into the socket.io websocket
// endpoint.
func socketURL(base string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", fmt.Errorf("invalid stream URL: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid stream URL scheme %q", u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/socket.io/"
	}
	q := u.Query()
	q.Set("EIO", "4")
	q.Set("transport", "websocket")
	u.RawQuery = q.Encode()
	return u.String(), nil
}
