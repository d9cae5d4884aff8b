package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

const (
	defaultMaxBytes = 256 << 20
	defaultTTL      = time.Hour
)

// MemoryStore is an in-process LRU bounded by total PCM bytes. Entries past
// the TTL count as misses and are dropped on access.
type MemoryStore struct {
	mu        sync.Mutex
	maxBytes  int64
	ttl       time.Duration
	curBytes  int64
	ll        *list.List
	items     map[string]*list.Element
	hits      int64
	misses    int64
	evictions int64
	now       func() time.Time
}

type memoryEntry struct {
	entry     Entry
	expiresAt time.Time
}

// NewMemoryStore builds an LRU holding at most maxBytes of PCM. Zero values
// pick the defaults; a negative ttl disables expiry.
func NewMemoryStore(maxBytes int64, ttl time.Duration) *MemoryStore {
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	if ttl == 0 {
		ttl = defaultTTL
	}
	return &MemoryStore{
		maxBytes: maxBytes,
		ttl:      ttl,
		ll:       list.New(),
		items:    make(map[string]*list.Element),
		now:      time.Now,
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.items[key]
	if !ok {
		s.misses++
		return Entry{}, false, nil
	}
	me := el.Value.(*memoryEntry)
	if s.ttl > 0 && s.now().After(me.expiresAt) {
		s.removeElement(el)
		s.misses++
		return Entry{}, false, nil
	}
	s.ll.MoveToFront(el)
	s.hits++
	return me.entry, true, nil
}

func (s *MemoryStore) Put(_ context.Context, e Entry) error {
	size := int64(len(e.PCM))
	if size == 0 || size > s.maxBytes {
		return nil
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.items[e.Key]; ok {
		old := el.Value.(*memoryEntry)
		s.curBytes += size - int64(len(old.entry.PCM))
		old.entry = e
		old.expiresAt = s.expiry()
		s.ll.MoveToFront(el)
	} else {
		el := s.ll.PushFront(&memoryEntry{entry: e, expiresAt: s.expiry()})
		s.items[e.Key] = el
		s.curBytes += size
	}

	for s.curBytes > s.maxBytes {
		s.evictOldest()
	}
	return nil
}

// Prune drops every expired entry.
func (s *MemoryStore) Prune(_ context.Context) error {
	if s.ttl <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for el := s.ll.Back(); el != nil; {
		prev := el.Prev()
		if now.After(el.Value.(*memoryEntry).expiresAt) {
			s.removeElement(el)
		}
		el = prev
	}
	return nil
}

func (s *MemoryStore) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Hits:      s.hits,
		Misses:    s.misses,
		Evictions: s.evictions,
		Entries:   s.ll.Len(),
		Bytes:     s.curBytes,
		MaxBytes:  s.maxBytes,
	}
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) expiry() time.Time {
	if s.ttl <= 0 {
		return time.Time{}
	}
	return s.now().Add(s.ttl)
}

func (s *MemoryStore) evictOldest() {
	el := s.ll.Back()
	if el == nil {
		return
	}
	s.removeElement(el)
	s.evictions++
}

func (s *MemoryStore) removeElement(el *list.Element) {
	me := el.Value.(*memoryEntry)
	s.ll.Remove(el)
	delete(s.items, me.entry.Key)
	s.curBytes -= int64(len(me.entry.PCM))
}
