package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/flashbots/kanon/protocol"
)

// InMemoryStore implements protocol.MessageStore and protocol.ParameterStore
// for testing and single-process deployments without a database.
type InMemoryStore struct {
	clock clock.Clock

	mu       sync.Mutex
	nextID   int64
	messages []*protocol.Message
	client   []*protocol.ClientParameters
	server   []*protocol.ServerParameters
}

// NewInMemoryStore creates an in-memory store. CreatedAt is taken from clk.
func NewInMemoryStore(clk clock.Clock) *InMemoryStore {
	if clk == nil {
		clk = clock.New()
	}
	return &InMemoryStore{clock: clk, nextID: 1}
}

func copyMessage(m *protocol.Message) *protocol.Message {
	c := *m
	if m.ID != nil {
		id := *m.ID
		c.ID = &id
	}
	if m.CorrespondingClientParamsExpiry != nil {
		t := *m.CorrespondingClientParamsExpiry
		c.CorrespondingClientParamsExpiry = &t
	}
	return &c
}

func (s *InMemoryStore) InsertNew(_ context.Context, messages []*protocol.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	for _, m := range messages {
		id := s.nextID
		s.nextID++

		m.ID = &id
		m.CreatedAt = now
		if m.Status == "" {
			m.Status = protocol.StatusNotProcessed
		}
		s.messages = append(s.messages, copyMessage(m))
	}
	return nil
}

// newestFirst orders by creation time, then by ID, both descending.
func newestFirst(messages []*protocol.Message) {
	sort.SliceStable(messages, func(i, j int) bool {
		if !messages[i].CreatedAt.Equal(messages[j].CreatedAt) {
			return messages[i].CreatedAt.After(messages[j].CreatedAt)
		}
		return *messages[i].ID > *messages[j].ID
	})
}

func (s *InMemoryStore) FetchByHash(_ context.Context, hashSet string) ([]*protocol.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*protocol.Message
	for _, m := range s.messages {
		if m.HashSet == hashSet {
			result = append(result, copyMessage(m))
		}
	}
	newestFirst(result)
	return result, nil
}

func (s *InMemoryStore) FetchNWithStatus(_ context.Context, n int, status protocol.MessageStatus) ([]*protocol.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*protocol.Message
	for _, m := range s.messages {
		if m.Status == status {
			result = append(result, copyMessage(m))
		}
	}
	newestFirst(result)
	if len(result) > n {
		result = result[:max(n, 0)]
	}
	return result, nil
}

func (s *InMemoryStore) UpdateStatus(_ context.Context, messages []*protocol.Message, status protocol.MessageStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := make([]*protocol.Message, len(messages))
	for i, m := range messages {
		if m.ID == nil {
			return fmt.Errorf("updating status of %q: %w", m.HashSet, errMissingID)
		}
		stored[i] = s.findLocked(*m.ID)
		if stored[i] == nil {
			return fmt.Errorf("message %d not found", *m.ID)
		}
	}

	for i, m := range messages {
		stored[i].Status = status
		if m.CorrespondingClientParamsExpiry != nil {
			t := *m.CorrespondingClientParamsExpiry
			stored[i].CorrespondingClientParamsExpiry = &t
		}
		m.Status = status
	}
	return nil
}

func (s *InMemoryStore) findLocked(id int64) *protocol.Message {
	for _, m := range s.messages {
		if *m.ID == id {
			return m
		}
	}
	return nil
}

// Messages returns a snapshot of every stored message in insertion order.
func (s *InMemoryStore) Messages() []*protocol.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]*protocol.Message, len(s.messages))
	for i, m := range s.messages {
		result[i] = copyMessage(m)
	}
	return result
}

func (s *InMemoryStore) ActiveClientParameters(_ context.Context, now time.Time) (*protocol.ClientParameters, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *protocol.ClientParameters
	for _, p := range s.client {
		if p.Active(now) && (best == nil || p.Expiry.After(best.Expiry)) {
			best = p
		}
	}
	if best == nil {
		return nil, nil
	}
	c := *best
	return &c, nil
}

func (s *InMemoryStore) ActiveServerParameters(_ context.Context, now time.Time) ([]*protocol.ServerParameters, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*protocol.ServerParameters
	for _, p := range s.server {
		if p.Active(now) {
			c := *p
			result = append(result, &c)
		}
	}
	return result, nil
}

func (s *InMemoryStore) DeleteAllClientParameters(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.client = nil
	return nil
}

func (s *InMemoryStore) DeleteAllServerParameters(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.server = nil
	return nil
}

func (s *InMemoryStore) InsertClientParameters(_ context.Context, p *protocol.ClientParameters) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *p
	s.client = append(s.client, &c)
	return nil
}

func (s *InMemoryStore) InsertServerParameters(_ context.Context, p *protocol.ServerParameters) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *p
	s.server = append(s.server, &c)
	return nil
}

// ReplaceParameters swaps both parameter sets under one lock.
func (s *InMemoryStore) ReplaceParameters(_ context.Context, client *protocol.ClientParameters, server *protocol.ServerParameters) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *client
	sp := *server
	s.client = []*protocol.ClientParameters{&c}
	s.server = []*protocol.ServerParameters{&sp}
	return nil
}

// ParameterCounts returns how many client and server parameter records are stored.
func (s *InMemoryStore) ParameterCounts() (client, server int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.client), len(s.server)
}
