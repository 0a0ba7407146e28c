package cache

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/havenhomes/chat-client/shared/metrics"
)

// Updater transforms the previous cached value into the next one. prev is
// nil when the key has never been set. Updaters must be pure: the previous
// value is passed in explicitly so merges never clobber unseen entries.
type Updater func(prev any) any

// Fetcher loads fresh data for a key from the backend.
type Fetcher func(ctx context.Context) (any, error)

type entry struct {
	value      any
	populated  bool
	stale      bool
	refetching bool
}

// Store is a keyed in-memory cache of server-derived state. Writes are
// synchronous and visible immediately; concurrent Sets on a key apply in
// call order (last writer wins per key). There is no eviction beyond
// explicit invalidation; the dataset is bounded by the user's conversations.
type Store struct {
	mu       sync.Mutex
	entries  map[string]*entry
	fetchers map[string]Fetcher
	log      *zap.SugaredLogger
}

func New(log *zap.SugaredLogger) *Store {
	return &Store{
		entries:  make(map[string]*entry),
		fetchers: make(map[string]Fetcher),
		log:      log,
	}
}

// RegisterFetcher binds a key to its backend loader. An invalidated key
// triggers this loader in the background on the next Get.
func (s *Store) RegisterFetcher(key string, f Fetcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetchers[key] = f
}

// Get returns the cached value for key. A stale key is served as-is while a
// background refetch runs; readers see the refreshed value on a later Get.
func (s *Store) Get(key string) (any, bool) {
	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok {
		s.mu.Unlock()
		return nil, false
	}
	val, populated := e.value, e.populated
	needsFetch := e.stale && !e.refetching
	var f Fetcher
	if needsFetch {
		f = s.fetchers[key]
		if f != nil {
			e.refetching = true
		}
	}
	s.mu.Unlock()

	if f != nil {
		go s.refetch(key, f)
	}
	return val, populated
}

// Set applies the updater to the previous value of key and stores the
// result. The
// write also clears staleness: a merge of fresh data counts as a refresh.
func (s *Store) Set(key string, up Updater) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		e = &entry{}
		s.entries[key] = e
	}
	var prev any
	if e.populated {
		prev = e.value
	}
	e.value = up(prev)
	e.populated = true
	e.stale = false
}

// Invalidate marks key stale. The next Get serves the old value and kicks
// off the registered fetcher in the background.
func (s *Store) Invalidate(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok {
		e.stale = true
	} else {
		s.entries[key] = &entry{stale: true}
	}
	metrics.CacheInvalidations.Inc()
}

func (s *Store) refetch(key string, f Fetcher) {
	val, err := f(context.Background())

	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return
	}
	e.refetching = false
	if err != nil {
		// keep serving stale data, retry on a later read
		s.log.Warnw("cache refetch failed", "key", key, "err", err)
		return
	}
	e.value = val
	e.populated = true
	e.stale = false
}
