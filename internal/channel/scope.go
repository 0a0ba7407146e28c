package channel

import (
	"context"
	"sync"

	"github.com/havenhomes/chat-client/shared/metrics"
)

// Scope is a ref-counted hold on a conversation's event stream. The
// join-conversation command goes out when the first consumer joins; the
// leave goes out only when the last one releases. Listeners registered
// through the scope are removed together on Leave, so a conversation
// switch cannot leak handlers.
type Scope struct {
	client         *Client
	conversationID string

	mu        sync.Mutex
	listeners []Listener
	released  bool
}

// JoinScope registers interest in a conversation. Scopes are additive;
// joining one never evicts another. If the channel is not yet connected the
// join command is deferred to the next (re)connect.
func (c *Client) JoinScope(ctx context.Context, conversationID string) *Scope {
	c.mu.Lock()
	c.scopes[conversationID]++
	first := c.scopes[conversationID] == 1
	connected := c.state == StateConnected
	c.mu.Unlock()

	if first {
		metrics.ActiveScopes.Inc()
		if connected {
			if err := c.send(ctx, command{Type: cmdJoinConversation, Payload: conversationRef{ConversationID: conversationID}}); err != nil {
				c.log.Warnw("scope join failed", "conversation", conversationID, "err", err)
			}
		}
	}
	return &Scope{client: c, conversationID: conversationID}
}

// ConversationID returns the conversation this scope is bound to.
func (s *Scope) ConversationID() string {
	return s.conversationID
}

// On registers a handler whose lifetime is tied to this scope.
func (s *Scope) On(event string, h Handler) {
	l := s.client.On(event, h)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		// late registration after Leave: drop it immediately
		s.client.Off(l)
		return
	}
	s.listeners = append(s.listeners, l)
}

// Leave releases the scope: every listener registered through it is
// removed, and if this was the last consumer the leave-conversation
// command is emitted. Idempotent.
func (s *Scope) Leave(ctx context.Context) {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return
	}
	s.released = true
	ls := s.listeners
	s.listeners = nil
	s.mu.Unlock()

	for _, l := range ls {
		s.client.Off(l)
	}

	c := s.client
	c.mu.Lock()
	c.scopes[s.conversationID]--
	last := c.scopes[s.conversationID] <= 0
	if last {
		delete(c.scopes, s.conversationID)
	}
	connected := c.state == StateConnected
	c.mu.Unlock()

	if last {
		metrics.ActiveScopes.Dec()
		if connected {
			if err := c.send(ctx, command{Type: cmdLeaveConversation, Payload: conversationRef{ConversationID: s.conversationID}}); err != nil {
				c.log.Warnw("scope leave failed", "conversation", s.conversationID, "err", err)
			}
		}
	}
}
