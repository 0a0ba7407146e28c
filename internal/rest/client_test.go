package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/havenhomes/chat-client/shared/logger"
)

func testClient(baseURL string) *Client {
	return NewClient(Config{
		BaseURL:         baseURL,
		Token:           "test-token",
		RetryMaxElapsed: 2 * time.Second,
		SendPerSecond:   1000,
		SendBurst:       1000,
		Logger:          logger.Nop(),
	})
}

func TestListConversations(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/conversations" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("auth header = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"conversations": []map[string]any{
				{
					"id":           "c1",
					"unread_count": 3,
					"counterpart":  map[string]any{"id": "u2", "name": "Agent Smith", "is_online": true},
				},
			},
		})
	}))
	defer srv.Close()

	list, err := testClient(srv.URL).ListConversations(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].ID != "c1" || list[0].UnreadCount != 3 {
		t.Fatalf("list = %+v", list)
	}
	if !list[0].Counterpart.IsOnline {
		t.Fatal("counterpart presence snapshot lost")
	}
}

func TestGetMessagesPaging(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/conversations/c1/messages" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("page"); got != "1" {
			t.Errorf("page = %q, want 1 (page 0 normalizes to first page)", got)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"messages": []map[string]any{{"id": "m1", "conversation_id": "c1", "content": "hi"}},
		})
	}))
	defer srv.Close()

	msgs, err := testClient(srv.URL).GetMessages(context.Background(), "c1", 0)
	if err != nil {
		t.Fatalf("get messages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].ID != "m1" {
		t.Fatalf("msgs = %+v", msgs)
	}
}

func TestSendMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["content"] != "hello" {
			t.Errorf("content = %q", body["content"])
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id": "srv-1", "conversation_id": "c1", "sender_id": "u1", "content": "hello",
		})
	}))
	defer srv.Close()

	msg, err := testClient(srv.URL).SendMessage(context.Background(), "c1", "hello")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if msg.ID != "srv-1" {
		t.Fatalf("msg = %+v", msg)
	}
}

func TestNotFoundIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).GetMessages(context.Background(), "gone", 1)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("hits = %d, 4xx must not be retried", hits.Load())
	}
}

func TestServerErrorRetriedUntilSuccess(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"conversations": []any{}})
	}))
	defer srv.Close()

	c := NewClient(Config{
		BaseURL:         srv.URL,
		RetryMaxElapsed: 5 * time.Second,
		Logger:          logger.Nop(),
	})
	if _, err := c.ListConversations(context.Background()); err != nil {
		t.Fatalf("list after retry: %v", err)
	}
	if hits.Load() < 2 {
		t.Fatalf("hits = %d, want a retry after the 500", hits.Load())
	}
}
