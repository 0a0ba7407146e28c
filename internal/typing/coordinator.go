package typing

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Emitter sends typing signals outward. Satisfied by the channel client.
type Emitter interface {
	TypingStart(ctx context.Context, conversationID string) error
	TypingStop(ctx context.Context, conversationID string) error
}

type outState struct {
	active bool
	timer  *time.Timer
}

// Coordinator owns both halves of typing state.
//
// Outbound: keystrokes in a conversation emit exactly one typing-start per
// quiet-to-active transition; a quiet window without further keystrokes
// emits typing-stop and disarms.
//
// Inbound: a remote user's flag goes true on user-typing and false on
// user-stopped-typing, with a safety decay per start so a lost stop event
// (sender's tab dying ungracefully) cannot leave the indicator stuck.
type Coordinator struct {
	quiet   time.Duration
	decay   time.Duration
	emitter Emitter
	log     *zap.SugaredLogger

	mu       sync.Mutex
	outbound map[string]*outState              // conversationID
	flags    map[string]map[string]bool        // conversationID -> userID
	decays   map[string]map[string]*time.Timer // conversationID -> userID
	closed   bool
}

func NewCoordinator(emitter Emitter, quiet, decay time.Duration, log *zap.SugaredLogger) *Coordinator {
	return &Coordinator{
		quiet:    quiet,
		decay:    decay,
		emitter:  emitter,
		log:      log,
		outbound: make(map[string]*outState),
		flags:    make(map[string]map[string]bool),
		decays:   make(map[string]map[string]*time.Timer),
	}
}

// Keystroke records local typing activity. The first keystroke after a
// quiet period emits typing-start; rapid typing only refreshes the quiet
// timer and never re-emits.
func (c *Coordinator) Keystroke(ctx context.Context, conversationID string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	st, ok := c.outbound[conversationID]
	if !ok {
		st = &outState{}
		c.outbound[conversationID] = st
	}
	emit := !st.active
	st.active = true
	if st.timer != nil {
		st.timer.Stop()
	}
	st.timer = time.AfterFunc(c.quiet, func() { c.quietElapsed(conversationID) })
	c.mu.Unlock()

	if emit {
		if err := c.emitter.TypingStart(ctx, conversationID); err != nil {
			c.log.Debugw("typing-start emit failed", "conversation", conversationID, "err", err)
		}
	}
}

// Flush forces an immediate typing-stop if the conversation is active.
// Called when a message is sent: the send itself ends the typing burst.
func (c *Coordinator) Flush(ctx context.Context, conversationID string) {
	c.mu.Lock()
	st, ok := c.outbound[conversationID]
	if !ok || !st.active {
		c.mu.Unlock()
		return
	}
	st.active = false
	if st.timer != nil {
		st.timer.Stop()
		st.timer = nil
	}
	c.mu.Unlock()

	if err := c.emitter.TypingStop(ctx, conversationID); err != nil {
		c.log.Debugw("typing-stop emit failed", "conversation", conversationID, "err", err)
	}
}

func (c *Coordinator) quietElapsed(conversationID string) {
	c.mu.Lock()
	st, ok := c.outbound[conversationID]
	if !ok || !st.active || c.closed {
		c.mu.Unlock()
		return
	}
	st.active = false
	st.timer = nil
	c.mu.Unlock()

	if err := c.emitter.TypingStop(context.Background(), conversationID); err != nil {
		c.log.Debugw("typing-stop emit failed", "conversation", conversationID, "err", err)
	}
}

// HandleStart sets a remote user's flag and arms the safety decay.
func (c *Coordinator) HandleStart(conversationID, userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if c.flags[conversationID] == nil {
		c.flags[conversationID] = make(map[string]bool)
		c.decays[conversationID] = make(map[string]*time.Timer)
	}
	c.flags[conversationID][userID] = true
	if t := c.decays[conversationID][userID]; t != nil {
		t.Stop()
	}
	c.decays[conversationID][userID] = time.AfterFunc(c.decay, func() {
		c.decayElapsed(conversationID, userID)
	})
}

// HandleStop clears a remote user's flag and disarms the decay.
func (c *Coordinator) HandleStop(conversationID, userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if users, ok := c.flags[conversationID]; ok {
		delete(users, userID)
	}
	if ts, ok := c.decays[conversationID]; ok {
		if t := ts[userID]; t != nil {
			t.Stop()
		}
		delete(ts, userID)
	}
}

func (c *Coordinator) decayElapsed(conversationID, userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if users, ok := c.flags[conversationID]; ok && users[userID] {
		delete(users, userID)
		c.log.Debugw("typing flag decayed without stop event",
			"conversation", conversationID, "user", userID)
	}
	if ts, ok := c.decays[conversationID]; ok {
		delete(ts, userID)
	}
}

// IsTyping reports whether a remote user is currently typing in a
// conversation.
func (c *Coordinator) IsTyping(conversationID, userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flags[conversationID][userID]
}

// TypingUsers lists remote users currently typing in a conversation.
func (c *Coordinator) TypingUsers(conversationID string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	users := c.flags[conversationID]
	out := make([]string, 0, len(users))
	for id, on := range users {
		if on {
			out = append(out, id)
		}
	}
	return out
}

// Close stops every armed timer. No emits after Close.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for _, st := range c.outbound {
		if st.timer != nil {
			st.timer.Stop()
		}
	}
	for _, ts := range c.decays {
		for _, t := range ts {
			t.Stop()
		}
	}
}
