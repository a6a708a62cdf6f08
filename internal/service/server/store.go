package server

import (
	"context"
	"mpc_session/internal/model"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMemoryEntries bounds the in-memory relay, matching the cache size of the
// relay that runs on a device for local-network ceremonies.
const DefaultMemoryEntries = 1000

type (
	// Store is the relay's storage. Messages live in mailboxes identified by a scope
	// (session, recipient and optional message id) and are keyed by hash inside it.
	Store interface {
		PutMessage(ctx context.Context, scope string, msg *model.Message) error
		ListMessages(ctx context.Context, scope string) ([]*model.Message, error)
		DeleteMessage(ctx context.Context, scope, hash string) error

		// Get reports false when the key is absent.
		Get(ctx context.Context, key string) (string, bool, error)
		Set(ctx context.Context, key, value string) error
		Del(ctx context.Context, keys ...string) error
	}

	mailboxEntry struct {
		scope string
		hash  string
	}

	// MemoryStore is a bounded Store for a single relay process. The least recently
	// used entries are evicted once the limit is hit.
	MemoryStore struct {
		mu       sync.Mutex
		messages *lru.Cache[mailboxEntry, *model.Message]
		values   *lru.Cache[string, string]
	}
)

func NewMemoryStore(size int) (*MemoryStore, error) {
	if size <= 0 {
		size = DefaultMemoryEntries
	}
	messages, err := lru.New[mailboxEntry, *model.Message](size)
	if err != nil {
		return nil, err
	}
	values, err := lru.New[string, string](size)
	if err != nil {
		return nil, err
	}
	return &MemoryStore{messages: messages, values: values}, nil
}

func (s *MemoryStore) PutMessage(_ context.Context, scope string, msg *model.Message) error {
	cp := *msg
	s.messages.Add(mailboxEntry{scope: scope, hash: msg.Hash}, &cp)
	return nil
}

func (s *MemoryStore) ListMessages(_ context.Context, scope string) ([]*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := make([]*model.Message, 0)
	for _, k := range s.messages.Keys() {
		if k.scope != scope {
			continue
		}
		// Peek so listing does not reorder eviction.
		if m, ok := s.messages.Peek(k); ok {
			cp := *m
			res = append(res, &cp)
		}
	}
	return res, nil
}

func (s *MemoryStore) DeleteMessage(_ context.Context, scope, hash string) error {
	s.messages.Remove(mailboxEntry{scope: scope, hash: hash})
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := s.values.Get(key)
	return v, ok, nil
}

func (s *MemoryStore) Set(_ context.Context, key, value string) error {
	s.values.Add(key, value)
	return nil
}

func (s *MemoryStore) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		s.values.Remove(k)
	}
	return nil
}
