package commands

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Store keeps the last published command set per scope. The empty scope is
// the global command set.
type Store interface {
	Replace(ctx context.Context, scope string, cmds []PublishedCommand) error
	List(ctx context.Context, scope string) ([]PublishedCommand, error)
	Close() error
}

type MemoryStore struct {
	mu     sync.RWMutex
	scopes map[string][]PublishedCommand
}

var _ Store = &MemoryStore{}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{scopes: map[string][]PublishedCommand{}}
}

func (s *MemoryStore) Replace(_ context.Context, scope string, cmds []PublishedCommand) error {
	scope = strings.TrimSpace(scope)
	cp := append([]PublishedCommand(nil), cmds...)
	sortByName(cp)
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(cp) == 0 {
		delete(s.scopes, scope)
		return nil
	}
	s.scopes[scope] = cp
	return nil
}

func (s *MemoryStore) List(_ context.Context, scope string) ([]PublishedCommand, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]PublishedCommand(nil), s.scopes[strings.TrimSpace(scope)]...), nil
}

func (s *MemoryStore) Close() error { return nil }

func sortByName(cmds []PublishedCommand) {
	sort.SliceStable(cmds, func(i, j int) bool { return cmds[i].Name < cmds[j].Name })
}
