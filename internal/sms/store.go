package sms

import (
	"strings"
	"sync"

	"github.com/Stig-Johnny/pushbullet-sms-mcp/internal/metrics"
)

// DefaultMaxStored bounds the buffer; the oldest entries are evicted once
// it is exceeded.
const DefaultMaxStored = 100

// Store is the bounded, newest-first buffer of normalized messages. Both
// delivery channels write through it; inserts are idempotent by message id,
// which is the only coordination concurrent writers need.
type Store struct {
	mu       sync.Mutex
	max      int
	messages []Message // newest first, by insertion order
	ids      map[string]struct{}
	subs     map[int]chan Message
	nextSub  int
}

func NewStore(max int) *Store {
	if max <= 0 {
		max = DefaultMaxStored
	}
	return &Store{
		max:  max,
		ids:  map[string]struct{}{},
		subs: map[int]chan Message{},
	}
}

// Insert places msg at the front of the buffer and evicts from the tail,
// one entry at a time, while over capacity. Inserting an id that is already
// present is a no-op. Every subscriber is notified of a stored message.
// Returns true when the message was stored.
func (s *Store) Insert(msg Message) bool {
	s.mu.Lock()
	if _, dup := s.ids[msg.ID]; dup {
		s.mu.Unlock()
		metrics.MessagesDeduplicated.Inc()
		return false
	}
	s.ids[msg.ID] = struct{}{}
	s.messages = append([]Message{msg}, s.messages...)
	for len(s.messages) > s.max {
		evicted := s.messages[len(s.messages)-1]
		s.messages = s.messages[:len(s.messages)-1]
		delete(s.ids, evicted.ID)
	}
	size := len(s.messages)
	notify := make([]chan Message, 0, len(s.subs))
	for _, ch := range s.subs {
		notify = append(notify, ch)
	}
	s.mu.Unlock()

	metrics.StoredMessages.Set(float64(size))
	for _, ch := range notify {
		// Non-blocking: a slow waiter must never stall ingestion.
		select {
		case ch <- msg:
		default:
		}
	}
	return true
}

// List returns up to limit entries newest-first, optionally filtered by a
// case-insensitive substring match on the sender. A non-positive limit
// returns everything.
func (s *Store) List(limit int, senderFilter string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = len(s.messages)
	}
	filter := strings.ToLower(strings.TrimSpace(senderFilter))
	out := make([]Message, 0, limit)
	for _, msg := range s.messages {
		if len(out) >= limit {
			break
		}
		if filter != "" && !strings.Contains(strings.ToLower(msg.Sender), filter) {
			continue
		}
		out = append(out, msg)
	}
	return out
}

func (s *Store) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

func (s *Store) MostRecent() (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.messages) == 0 {
		return Message{}, false
	}
	return s.messages[0], true
}

// Subscribe registers a notification channel that receives every stored
// message until the returned cancel func is called. The channel is buffered;
// notifications to a full channel are dropped rather than blocking Insert.
func (s *Store) Subscribe() (<-chan Message, func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	ch := make(chan Message, 64)
	s.subs[id] = ch
	s.mu.Unlock()
	cancel := func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
	return ch, cancel
}
