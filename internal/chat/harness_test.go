package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/havenhomes/chat-client/internal/cache"
	"github.com/havenhomes/chat-client/internal/channel"
	"github.com/havenhomes/chat-client/internal/model"
	"github.com/havenhomes/chat-client/internal/presence"
	"github.com/havenhomes/chat-client/internal/rest"
	"github.com/havenhomes/chat-client/internal/typing"
	"github.com/havenhomes/chat-client/shared/logger"
)

// fakeBackend is an httptest stand-in for the conversation REST service.
type fakeBackend struct {
	mu            sync.Mutex
	conversations []model.Conversation
	messages      map[string][]model.Message
	listHits      int
	gates         map[string]chan struct{} // block a conversation's history fetch
	msgStatus     int
	sendStatus    int
	sendGate      chan struct{} // block the send POST until released
	sendReply     *model.Message
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		messages: make(map[string][]model.Message),
		gates:    make(map[string]chan struct{}),
	}
}

func (b *fakeBackend) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/api/v1/conversations")
		switch {
		case path == "" && r.Method == http.MethodGet:
			b.mu.Lock()
			b.listHits++
			list := b.conversations
			b.mu.Unlock()
			json.NewEncoder(w).Encode(map[string]any{"conversations": list})

		case strings.HasSuffix(path, "/messages") && r.Method == http.MethodGet:
			convID := strings.Trim(strings.TrimSuffix(path, "/messages"), "/")
			b.mu.Lock()
			gate := b.gates[convID]
			msgs := b.messages[convID]
			status := b.msgStatus
			b.mu.Unlock()
			if gate != nil {
				<-gate
			}
			if status != 0 {
				w.WriteHeader(status)
				return
			}
			json.NewEncoder(w).Encode(map[string]any{"messages": msgs})

		case strings.HasSuffix(path, "/messages") && r.Method == http.MethodPost:
			b.mu.Lock()
			status := b.sendStatus
			gate := b.sendGate
			reply := b.sendReply
			b.mu.Unlock()
			if gate != nil {
				<-gate
			}
			if status != 0 {
				w.WriteHeader(status)
				return
			}
			json.NewEncoder(w).Encode(reply)

		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

func (b *fakeBackend) listCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.listHits
}

type harness struct {
	backend  *fakeBackend
	store    *cache.Store
	api      *rest.Client
	ch       *channel.Client
	tracker  *presence.Tracker
	coord    *typing.Coordinator
	syncer   *Synchronizer
	composer *Composer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	backend := newFakeBackend()
	srv := httptest.NewServer(backend.handler())
	t.Cleanup(srv.Close)

	log := logger.Nop()
	api := rest.NewClient(rest.Config{
		BaseURL:         srv.URL,
		RetryMaxElapsed: 500 * time.Millisecond,
		SendPerSecond:   1000,
		SendBurst:       1000,
		Logger:          log,
	})
	// unreachable channel endpoint: the core degrades to REST-only, which
	// these tests rely on to drive events by hand
	ch := channel.NewClient(channel.Options{
		URL:         "ws://127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		Logger:      log,
	})
	store := cache.New(log)
	tracker := presence.NewTracker()
	coord := typing.NewCoordinator(ch, time.Minute, time.Minute, log)
	t.Cleanup(coord.Close)

	return &harness{
		backend:  backend,
		store:    store,
		api:      api,
		ch:       ch,
		tracker:  tracker,
		coord:    coord,
		syncer:   NewSynchronizer(store, api, ch, coord, tracker, log),
		composer: NewComposer(store, api, coord, "u1", log),
	}
}

func (h *harness) newMessageEvent(t *testing.T, m model.Message) channel.Envelope {
	t.Helper()
	payload, err := json.Marshal(channel.NewMessagePayload{ConversationID: m.ConversationID, Message: m})
	if err != nil {
		t.Fatal(err)
	}
	return channel.Envelope{Type: channel.EventNewMessage, Payload: payload}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func ts(sec int) time.Time {
	return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC).Add(time.Duration(sec) * time.Second)
}

func msg(id, conv string, at time.Time) model.Message {
	return model.Message{ID: id, ConversationID: conv, SenderID: "u2", Content: "msg " + id, CreatedAt: at}
}

var testCtx = context.Background()
