package client

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"storyboard/domain"
)

// CardStore is the client's single source of truth for the rendered
// board: a card collection plus the change marker certifying how fresh
// it is. All mutations are serialized through its mutex, so interleaved
// coordinator and poller callbacks cannot corrupt it.
type CardStore struct {
	mu     sync.Mutex
	cards  map[string]domain.Card
	marker domain.Marker
	logger *log.Logger
}

// NewCardStore creates an empty store.
func NewCardStore(logger *log.Logger) *CardStore {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &CardStore{cards: make(map[string]domain.Card), logger: logger}
}

// Get returns a copy of the card with the given id.
func (s *CardStore) Get(id string) (domain.Card, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cards[id]
	if !ok {
		return domain.Card{}, false
	}
	return c.Clone(), true
}

// All returns a copy of the full card collection.
func (s *CardStore) All() map[string]domain.Card {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]domain.Card, len(s.cards))
	for id, c := range s.cards {
		out[id] = c.Clone()
	}
	return out
}

// Len reports the number of cards held.
func (s *CardStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cards)
}

// ReplaceAll swaps in a fresh server snapshot together with the marker
// that certifies it. It is the only operation that removes cards.
func (s *CardStore) ReplaceAll(cards map[string]domain.Card, marker domain.Marker) {
	next := make(map[string]domain.Card, len(cards))
	for id, c := range cards {
		next[id] = c.Clone()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cards = next
	s.marker = marker
}

// ApplyPatch merges field values into an existing card. Unknown ids are
// a benign reload-vs-callback race: logged and ignored, never an error.
func (s *CardStore) ApplyPatch(id string, fields map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cards[id]
	if !ok {
		s.logger.WithField("card", id).Debug("patch for unknown card dropped")
		return
	}
	for k, v := range fields {
		c.SetField(k, v)
	}
	s.cards[id] = c
}

// SetStatus updates a single card's status. Unknown ids are ignored,
// same as ApplyPatch.
func (s *CardStore) SetStatus(id, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cards[id]
	if !ok {
		s.logger.WithField("card", id).Debug("status change for unknown card dropped")
		return
	}
	c.Status = status
	s.cards[id] = c
}

// Marker returns the marker of the currently held snapshot.
func (s *CardStore) Marker() domain.Marker {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.marker
}

// AdvanceMarker moves the marker forward. Older or equal values are
// dropped; the client never rewinds the clock the server handed out.
func (s *CardStore) AdvanceMarker(m domain.Marker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.After(s.marker) {
		s.marker = m
	}
}

// StatusSnapshot captures id→status for every held card. Refresh uses
// it to diff rendered statuses against a freshly fetched snapshot.
func (s *CardStore) StatusSnapshot() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.cards))
	for id, c := range s.cards {
		out[id] = c.Status
	}
	return out
}
