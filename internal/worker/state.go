package worker

import (
	"sync"

	"fridgeclinic/internal/models"
)

// historyState is the in-process copy of conversation histories kept warm
// between replies.
type historyState struct {
	mu      sync.RWMutex
	history map[string][]models.Message
}

func newHistoryState() *historyState {
	return &historyState{history: make(map[string][]models.Message)}
}

func (s *historyState) get(conversationID string) ([]models.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.history[conversationID]
	if !ok {
		return nil, false
	}
	return cloneMessages(h), true
}

func (s *historyState) set(conversationID string, history []models.Message) {
	s.mu.Lock()
	s.history[conversationID] = cloneMessages(history)
	s.mu.Unlock()
}

func (s *historyState) append(conversationID string, msgs ...models.Message) []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history[conversationID] = append(s.history[conversationID], msgs...)
	return cloneMessages(s.history[conversationID])
}

func (s *historyState) purge(conversationID string) {
	s.mu.Lock()
	delete(s.history, conversationID)
	s.mu.Unlock()
}

func (s *historyState) reset() {
	s.mu.Lock()
	s.history = make(map[string][]models.Message)
	s.mu.Unlock()
}

func cloneMessages(in []models.Message) []models.Message {
	out := make([]models.Message, len(in))
	copy(out, in)
	return out
}
