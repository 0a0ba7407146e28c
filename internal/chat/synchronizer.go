package chat

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/havenhomes/chat-client/internal/cache"
	"github.com/havenhomes/chat-client/internal/channel"
	"github.com/havenhomes/chat-client/internal/model"
	"github.com/havenhomes/chat-client/internal/presence"
	"github.com/havenhomes/chat-client/internal/rest"
	"github.com/havenhomes/chat-client/internal/typing"
	"github.com/havenhomes/chat-client/shared/metrics"
)

// SyncState tracks the lifecycle of the active conversation.
type SyncState string

const (
	SyncIdle     SyncState = "idle"
	SyncLoading  SyncState = "loading"
	SyncSynced   SyncState = "synced"
	SyncTornDown SyncState = "torn-down"
)

// Synchronizer keeps the cached view of conversations consistent with the
// REST history endpoint and the live channel. One instance per consumer;
// instances share the injected channel client, which ref-counts scope joins.
type Synchronizer struct {
	cache    *cache.Store
	api      *rest.Client
	ch       *channel.Client
	typing   *typing.Coordinator
	presence *presence.Tracker
	log      *zap.SugaredLogger

	mu       sync.Mutex
	active   string
	state    SyncState
	scope    *channel.Scope
	globalLs []channel.Listener
	started  bool
}

func NewSynchronizer(store *cache.Store, api *rest.Client, ch *channel.Client, ty *typing.Coordinator, pr *presence.Tracker, log *zap.SugaredLogger) *Synchronizer {
	s := &Synchronizer{
		cache:    store,
		api:      api,
		ch:       ch,
		typing:   ty,
		presence: pr,
		log:      log,
		state:    SyncIdle,
	}
	store.RegisterFetcher(KeyConversations, s.fetchConversations)
	return s
}

// Start connects the channel, attaches the global listeners (presence and
// conversation-list invalidation) and loads the conversation list.
func (s *Synchronizer) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	if err := s.ch.Connect(ctx); err != nil {
		// channel degrades silently; REST data still flows
		s.log.Warnw("channel connect failed, continuing without live events", "err", err)
	}

	ls := []channel.Listener{
		s.ch.On(channel.EventNewMessage, s.handleGlobalMessage),
		s.ch.On(channel.EventUserStatusChange, s.handleStatusChange),
	}
	s.mu.Lock()
	s.globalLs = ls
	s.mu.Unlock()

	list, err := s.fetchConversations(ctx)
	if err != nil {
		return err
	}
	s.cache.Set(KeyConversations, func(any) any { return list })
	return nil
}

// Stop detaches global listeners and tears down the active selection. The
// shared channel client is left to its owner.
func (s *Synchronizer) Stop(ctx context.Context) {
	s.Deselect(ctx)
	s.mu.Lock()
	ls := s.globalLs
	s.globalLs = nil
	s.started = false
	s.mu.Unlock()
	for _, l := range ls {
		s.ch.Off(l)
	}
}

// Select makes a conversation active: tears down the previous scope, joins
// the new one, and fetches the first history page in the background. The
// fetch is tagged with the conversation id; a result arriving after the
// selection moved on is discarded.
func (s *Synchronizer) Select(ctx context.Context, conversationID string) {
	s.mu.Lock()
	if s.active == conversationID && s.state != SyncTornDown {
		s.mu.Unlock()
		return
	}
	prev := s.scope
	s.scope = nil
	s.active = conversationID
	s.state = SyncLoading
	s.mu.Unlock()

	if prev != nil {
		prev.Leave(ctx)
	}

	s.cache.RegisterFetcher(MessagesKey(conversationID), s.messagesFetcher(conversationID))

	scope := s.ch.JoinScope(ctx, conversationID)
	scope.On(channel.EventNewMessage, s.scopedMessageHandler(conversationID))
	scope.On(channel.EventUserTyping, s.typingHandler(conversationID, true))
	scope.On(channel.EventUserStoppedTyping, s.typingHandler(conversationID, false))

	s.mu.Lock()
	if s.active != conversationID {
		// selection moved on while we were joining
		s.mu.Unlock()
		scope.Leave(ctx)
		return
	}
	s.scope = scope
	s.mu.Unlock()

	go s.loadHistory(ctx, conversationID)
}

// Deselect leaves the active scope and detaches every listener attached on
// selection. Terminal until the next Select.
func (s *Synchronizer) Deselect(ctx context.Context) {
	s.mu.Lock()
	scope := s.scope
	s.scope = nil
	s.active = ""
	if scope != nil {
		s.state = SyncTornDown
	}
	s.mu.Unlock()

	if scope != nil {
		scope.Leave(ctx)
	}
}

// State returns the sync state of the active selection.
func (s *Synchronizer) State() SyncState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Active returns the selected conversation id, or "".
func (s *Synchronizer) Active() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Conversations returns the cached conversation list.
func (s *Synchronizer) Conversations() []model.Conversation {
	v, ok := s.cache.Get(KeyConversations)
	if !ok {
		return nil
	}
	list, _ := v.([]model.Conversation)
	return list
}

// Rendered returns a conversation's messages in display order: ascending
// creation time, ties broken by id.
func (s *Synchronizer) Rendered(conversationID string) []model.Message {
	v, ok := s.cache.Get(MessagesKey(conversationID))
	if !ok {
		return nil
	}
	cached, _ := v.([]model.Message)
	out := make([]model.Message, len(cached))
	copy(out, cached)
	sortForDisplay(out)
	return out
}

func (s *Synchronizer) loadHistory(ctx context.Context, conversationID string) {
	msgs, err := s.api.GetMessages(ctx, conversationID, 1)
	if err != nil {
		// cache stays untouched on failure
		s.log.Warnw("history fetch failed", "conversation", conversationID, "err", err)
		return
	}

	s.mu.Lock()
	stale := s.active != conversationID
	s.mu.Unlock()
	if stale {
		s.log.Debugw("stale history fetch discarded", "conversation", conversationID)
		return
	}

	s.cache.Set(MessagesKey(conversationID), func(prev any) any {
		return mergeMessages(prev, msgs)
	})

	s.mu.Lock()
	if s.active == conversationID {
		s.state = SyncSynced
	}
	s.mu.Unlock()
}

func (s *Synchronizer) fetchConversations(ctx context.Context) (any, error) {
	list, err := s.api.ListConversations(ctx)
	if err != nil {
		return nil, err
	}
	seed := make(map[string]presence.Record, len(list))
	for _, c := range list {
		seed[c.Counterpart.ID] = presence.Record{
			IsOnline: c.Counterpart.IsOnline,
			LastSeen: c.Counterpart.LastSeen,
		}
	}
	s.presence.Seed(seed)
	return list, nil
}

func (s *Synchronizer) messagesFetcher(conversationID string) cache.Fetcher {
	return func(ctx context.Context) (any, error) {
		msgs, err := s.api.GetMessages(ctx, conversationID, 1)
		if err != nil {
			return nil, err
		}
		prev, _ := s.cache.Get(MessagesKey(conversationID))
		return mergeMessages(prev, msgs), nil
	}
}

// scopedMessageHandler merges new-message events for the scoped
// conversation into its cached page, unique by id. The duplicate case is
// the sender's own REST response racing the live echo.
func (s *Synchronizer) scopedMessageHandler(conversationID string) channel.Handler {
	return func(env channel.Envelope) {
		var p channel.NewMessagePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil || p.Message.ID == "" {
			return
		}
		if p.ConversationID != conversationID {
			return
		}
		s.cache.Set(MessagesKey(conversationID), func(prev any) any {
			existing, _ := prev.([]model.Message)
			if containsMessage(existing, p.Message.ID) {
				metrics.DuplicatesDropped.Inc()
			} else {
				metrics.MessagesMerged.Inc()
			}
			return mergeMessages(prev, []model.Message{p.Message})
		})
	}
}

// handleGlobalMessage refreshes the conversation list (preview, unread
// count) for events outside the active conversation, without touching that
// conversation's message cache.
func (s *Synchronizer) handleGlobalMessage(env channel.Envelope) {
	var p channel.NewMessagePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil || p.ConversationID == "" {
		return
	}
	s.mu.Lock()
	active := s.active
	s.mu.Unlock()
	if p.ConversationID == active {
		return
	}
	s.cache.Invalidate(KeyConversations)
}

func (s *Synchronizer) handleStatusChange(env channel.Envelope) {
	var p channel.StatusChangePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil || p.UserID == "" {
		return
	}
	if err := s.presence.Update(p.UserID, p.IsOnline, p.LastSeen); err != nil {
		s.log.Warnw("presence event dropped", "user", p.UserID, "err", err)
	}
}

func (s *Synchronizer) typingHandler(conversationID string, start bool) channel.Handler {
	return func(env channel.Envelope) {
		var p channel.TypingPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil || p.UserID == "" {
			return
		}
		if p.ConversationID != conversationID {
			return
		}
		if start {
			s.typing.HandleStart(conversationID, p.UserID)
		} else {
			s.typing.HandleStop(conversationID, p.UserID)
		}
	}
}
