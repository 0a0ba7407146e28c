package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/havenhomes/chat-client/shared/logger"
)

func TestSetMergesAgainstPrevious(t *testing.T) {
	s := New(logger.Nop())

	s.Set("k", func(prev any) any {
		if prev != nil {
			t.Fatalf("first write saw prev = %v", prev)
		}
		return []string{"a"}
	})
	s.Set("k", func(prev any) any {
		return append(prev.([]string), "b")
	})

	v, ok := s.Get("k")
	if !ok {
		t.Fatal("key missing")
	}
	got := v.([]string)
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("got %v, want [a b]", got)
	}
}

func TestGetUnknownKey(t *testing.T) {
	s := New(logger.Nop())
	if _, ok := s.Get("nope"); ok {
		t.Fatal("unknown key reported as present")
	}
}

func TestInvalidateTriggersRefetchOnNextRead(t *testing.T) {
	s := New(logger.Nop())
	var fetches atomic.Int32
	s.RegisterFetcher("k", func(ctx context.Context) (any, error) {
		fetches.Add(1)
		return "fresh", nil
	})

	s.Set("k", func(any) any { return "stale-value" })
	s.Invalidate("k")

	// stale value served while the refetch runs in the background
	v, ok := s.Get("k")
	if !ok || v != "stale-value" {
		t.Fatalf("stale read = %v, %v", v, ok)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if v, _ := s.Get("k"); v == "fresh" {
			if n := fetches.Load(); n != 1 {
				t.Fatalf("fetches = %d, want 1", n)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("refetch never landed")
}

func TestFailedRefetchKeepsStaleData(t *testing.T) {
	s := New(logger.Nop())
	s.RegisterFetcher("k", func(ctx context.Context) (any, error) {
		return nil, errors.New("backend down")
	})

	s.Set("k", func(any) any { return "stale-value" })
	s.Invalidate("k")

	v, _ := s.Get("k")
	if v != "stale-value" {
		t.Fatalf("got %v, want stale-value", v)
	}
	time.Sleep(50 * time.Millisecond)
	v, ok := s.Get("k")
	if !ok || v != "stale-value" {
		t.Fatalf("stale data lost after failed refetch: %v, %v", v, ok)
	}
}

func TestWriteClearsStaleness(t *testing.T) {
	s := New(logger.Nop())
	var fetches atomic.Int32
	s.RegisterFetcher("k", func(ctx context.Context) (any, error) {
		fetches.Add(1)
		return "fetched", nil
	})

	s.Set("k", func(any) any { return "v1" })
	s.Invalidate("k")
	s.Set("k", func(any) any { return "v2" })

	if v, _ := s.Get("k"); v != "v2" {
		t.Fatalf("got %v, want v2", v)
	}
	time.Sleep(50 * time.Millisecond)
	if n := fetches.Load(); n != 0 {
		t.Fatalf("refetch ran after the write refreshed the key (%d)", n)
	}
}
