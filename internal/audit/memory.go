package audit

import (
	"context"
	"sync"
)

// InMemory keeps events grouped by wallet address. Used in dev mode and
// tests; production runs the Kafka sink.
type InMemory struct {
	mu     sync.RWMutex
	events map[string][]Event
}

func NewInMemory() *InMemory {
	return &InMemory{events: make(map[string][]Event)}
}

func (s *InMemory) Append(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[event.WalletAddress] = append(s.events[event.WalletAddress], event)
	return nil
}

func (s *InMemory) ListByWallet(_ context.Context, walletAddress string) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Event{}, s.events[walletAddress]...), nil
}

func (s *InMemory) ListAll(_ context.Context) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var all []Event
	for _, walletEvents := range s.events {
		all = append(all, walletEvents...)
	}
	return all, nil
}

func (s *InMemory) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = make(map[string][]Event)
}
