// ABOUTME: TTL-bounded, size-capped record of message IDs already rendered
// ABOUTME: Deduplicates history replays against live events after reconnects

package client

import (
	"container/list"
	"sync"
	"time"
)

// seenEntry pairs the mark time with the entry's position in eviction order.
type seenEntry struct {
	timestamp time.Time
	element   *list.Element
}

// Seen records which message IDs the client has already processed. The server
// re-sends full history on every join, so each incoming message runs through
// CheckAndMark and duplicates stay off the screen. Entries age out after the
// TTL; past maxSize the entry untouched the longest is evicted.
type Seen struct {
	mu      sync.Mutex
	seen    map[string]*seenEntry
	order   *list.List // message IDs, least recently marked at the front
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// NewSeen creates a seen-tracker with the given TTL and maximum size. A
// background goroutine sweeps out expired entries until Close.
func NewSeen(ttl time.Duration, maxSize int) *Seen {
	s := &Seen{
		seen:    make(map[string]*seenEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go s.sweep()
	return s
}

// CheckAndMark reports whether the message ID was already seen, marking it
// either way. A live duplicate refreshes its recency; a new or expired ID is
// recorded fresh, evicting the stalest entry when the tracker is full.
func (s *Seen) CheckAndMark(messageID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if entry, ok := s.seen[messageID]; ok {
		alive := now.Sub(entry.timestamp) < s.ttl
		entry.timestamp = now
		s.order.MoveToBack(entry.element)
		return alive
	}

	if len(s.seen) >= s.maxSize {
		s.evictOldest()
	}
	s.seen[messageID] = &seenEntry{
		timestamp: now,
		element:   s.order.PushBack(messageID),
	}
	return false
}

// evictOldest drops the least recently marked entry. Must be called with mu
// held.
func (s *Seen) evictOldest() {
	front := s.order.Front()
	if front == nil {
		return
	}
	messageID, _ := front.Value.(string)
	s.order.Remove(front)
	delete(s.seen, messageID)
}

// sweep periodically removes expired entries so idle trackers don't hold
// every ID until capacity pressure.
func (s *Seen) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			now := time.Now()
			for messageID, entry := range s.seen {
				if now.Sub(entry.timestamp) > s.ttl {
					s.order.Remove(entry.element)
					delete(s.seen, messageID)
				}
			}
			s.mu.Unlock()
		case <-s.done:
			return
		}
	}
}

// Close stops the background sweep. Safe to call multiple times.
func (s *Seen) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		close(s.done)
		s.closed = true
	}
}
