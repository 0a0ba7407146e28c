package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/havenhomes/chat-client/shared/metrics"
)

// State is the observable connection state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
)

var ErrNotConnected = errors.New("channel: not connected")

var errClientClosed = errors.New("channel: client closed")

// Handler receives a raw event envelope. Handlers run on the read loop
// goroutine and must not block.
type Handler func(Envelope)

// Listener identifies a registered handler so it can be removed. Every On
// must be paired with an Off; the Scope handle does this bookkeeping for
// listeners tied to a conversation's lifecycle.
type Listener struct {
	event string
	id    uint64
}

type Options struct {
	URL               string
	Token             string
	DialTimeout       time.Duration
	HeartbeatInterval time.Duration
	ReconnectBase     time.Duration
	ReconnectMax      time.Duration
	Logger            *zap.SugaredLogger
}

func (o *Options) defaults() {
	if o.DialTimeout == 0 {
		o.DialTimeout = 10 * time.Second
	}
	if o.HeartbeatInterval == 0 {
		o.HeartbeatInterval = 25 * time.Second
	}
	if o.ReconnectBase == 0 {
		o.ReconnectBase = time.Second
	}
	if o.ReconnectMax == 0 {
		o.ReconnectMax = 30 * time.Second
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop().Sugar()
	}
}

// Client owns the live event connection: one websocket shared by every
// consumer, with ref-counted conversation scopes. Reconnection is handled
// internally; all held scopes are rejoined after a reconnect because a
// dropped connection silently unsubscribes us server-side.
type Client struct {
	opts Options
	log  *zap.SugaredLogger

	mu       sync.Mutex
	conn     *websocket.Conn
	state    State
	closed   bool
	cancel   context.CancelFunc
	scopes   map[string]int // conversationID -> consumer refcount
	nextID   uint64
	handlers map[string]map[uint64]Handler
	stateHs  map[uint64]func(State)
}

func NewClient(opts Options) *Client {
	opts.defaults()
	return &Client{
		opts:     opts,
		log:      opts.Logger,
		state:    StateDisconnected,
		scopes:   make(map[string]int),
		handlers: make(map[string]map[uint64]Handler),
		stateHs:  make(map[uint64]func(State)),
	}
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnStateChange registers an observer for connection state transitions.
func (c *Client) OnStateChange(h func(State)) Listener {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	c.stateHs[c.nextID] = h
	return Listener{event: "_state", id: c.nextID}
}

// On registers a handler for an event type and returns the Listener needed
// to remove it.
func (c *Client) On(event string, h Handler) Listener {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	if c.handlers[event] == nil {
		c.handlers[event] = make(map[uint64]Handler)
	}
	c.handlers[event][c.nextID] = h
	return Listener{event: event, id: c.nextID}
}

// Off removes a previously registered handler.
func (c *Client) Off(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if l.event == "_state" {
		delete(c.stateHs, l.id)
		return
	}
	if hs, ok := c.handlers[l.event]; ok {
		delete(hs, l.id)
		if len(hs) == 0 {
			delete(c.handlers, l.event)
		}
	}
}

// ListenerCount reports how many handlers are registered for an event type.
func (c *Client) ListenerCount(event string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handlers[event])
}

// Connect establishes the websocket if not already connected. Safe to call
// repeatedly; concurrent consumers share the one connection.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnected || c.state == StateConnecting {
		c.mu.Unlock()
		return nil
	}
	c.closed = false
	c.mu.Unlock()

	c.setState(StateConnecting)
	if err := c.dial(ctx); err != nil {
		c.setState(StateDisconnected)
		return err
	}
	return nil
}

// Close tears the connection down for good. No reconnect follows.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	c.setState(StateDisconnected)
	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "client closing")
	}
	return nil
}

// TypingStart tells the server the local user began typing in a conversation.
func (c *Client) TypingStart(ctx context.Context, conversationID string) error {
	return c.send(ctx, command{Type: cmdTypingStart, Payload: conversationRef{ConversationID: conversationID}})
}

// TypingStop tells the server the local user stopped typing.
func (c *Client) TypingStop(ctx context.Context, conversationID string) error {
	return c.send(ctx, command{Type: cmdTypingStop, Payload: conversationRef{ConversationID: conversationID}})
}

func (c *Client) dial(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, c.opts.DialTimeout)
	defer cancel()

	url := c.opts.URL
	if c.opts.Token != "" {
		url += "?token=" + c.opts.Token
	}
	conn, _, err := websocket.Dial(dialCtx, url, nil)
	if err != nil {
		return fmt.Errorf("channel dial: %w", err)
	}

	runCtx, cancelRun := context.WithCancel(context.Background())
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cancelRun()
		_ = conn.Close(websocket.StatusNormalClosure, "client closing")
		return errClientClosed
	}
	c.conn = conn
	c.cancel = cancelRun
	c.mu.Unlock()

	c.setState(StateConnected)
	c.rejoinScopes(runCtx)

	go c.readLoop(runCtx, cancelRun, conn)
	go c.heartbeat(runCtx, conn)
	return nil
}

func (c *Client) readLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			cancel()
			c.mu.Lock()
			intentional := c.closed
			if c.conn == conn {
				c.conn = nil
			}
			c.mu.Unlock()
			if intentional {
				return
			}
			c.log.Warnw("channel connection lost", "err", err)
			c.setState(StateReconnecting)
			go c.reconnect()
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
			// malformed frame, never fatal
			continue
		}
		c.dispatch(env)
	}
}

func (c *Client) heartbeat(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, c.opts.DialTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				// force the read loop to notice and reconnect
				_ = conn.Close(websocket.StatusGoingAway, "heartbeat timeout")
				return
			}
		}
	}
}

func (c *Client) reconnect() {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.opts.ReconnectBase
	bo.MaxInterval = c.opts.ReconnectMax
	bo.MaxElapsedTime = 0

	op := func() error {
		if c.isClosed() {
			return backoff.Permanent(errClientClosed)
		}
		return c.dial(context.Background())
	}
	if err := backoff.Retry(op, bo); err != nil {
		c.setState(StateDisconnected)
		return
	}
	metrics.Reconnects.Inc()
	c.log.Infow("channel reconnected")
}

// rejoinScopes re-emits join-conversation for every held scope after a
// (re)connect.
func (c *Client) rejoinScopes(ctx context.Context) {
	c.mu.Lock()
	ids := make([]string, 0, len(c.scopes))
	for id, n := range c.scopes {
		if n > 0 {
			ids = append(ids, id)
		}
	}
	c.mu.Unlock()

	for _, id := range ids {
		if err := c.send(ctx, command{Type: cmdJoinConversation, Payload: conversationRef{ConversationID: id}}); err != nil {
			c.log.Warnw("scope rejoin failed", "conversation", id, "err", err)
		}
	}
}

func (c *Client) dispatch(env Envelope) {
	c.mu.Lock()
	hs := make([]Handler, 0, len(c.handlers[env.Type]))
	for _, h := range c.handlers[env.Type] {
		hs = append(hs, h)
	}
	c.mu.Unlock()

	for _, h := range hs {
		h(env)
	}
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	hs := make([]func(State), 0, len(c.stateHs))
	for _, h := range c.stateHs {
		hs = append(hs, h)
	}
	c.mu.Unlock()

	for _, h := range hs {
		h(s)
	}
}

func (c *Client) send(ctx context.Context, cmd command) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
