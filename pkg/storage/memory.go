package storage

import (
	"fmt"
	"sort"
	"sync"

	"github.com/cuemby/jenkins-relay/pkg/types"
)

// MemoryStore keeps relation state in process memory
type MemoryStore struct {
	mu        sync.RWMutex
	relations map[string]*types.RelationState
	published map[string]map[string]string
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		relations: make(map[string]*types.RelationState),
		published: make(map[string]map[string]string),
	}
}

func (s *MemoryStore) PutRelation(state *types.RelationState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.relations[state.Key()] = state.Clone()
	return nil
}

func (s *MemoryStore) GetRelation(relationID, remoteUnit string) (*types.RelationState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.relations[types.InstanceKey(relationID, remoteUnit)]
	if !ok {
		return nil, fmt.Errorf("relation %s unit %s: %w", relationID, remoteUnit, ErrNotFound)
	}
	return state.Clone(), nil
}

func (s *MemoryStore) ListRelations() ([]*types.RelationState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.relations))
	for k := range s.relations {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	states := make([]*types.RelationState, 0, len(keys))
	for _, k := range keys {
		states = append(states, s.relations[k].Clone())
	}
	return states, nil
}

func (s *MemoryStore) ListRelationsByID(relationID string) ([]*types.RelationState, error) {
	states, _ := s.ListRelations()
	return filterByID(states, relationID), nil
}

func (s *MemoryStore) DeleteRelation(relationID, remoteUnit string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.relations, types.InstanceKey(relationID, remoteUnit))
	return nil
}

func (s *MemoryStore) PutPublished(relationID string, fields map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	merged, ok := s.published[relationID]
	if !ok {
		merged = make(map[string]string)
		s.published[relationID] = merged
	}
	for k, v := range fields {
		merged[k] = v
	}
	return nil
}

func (s *MemoryStore) GetPublished(relationID string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fields := make(map[string]string, len(s.published[relationID]))
	for k, v := range s.published[relationID] {
		fields[k] = v
	}
	return fields, nil
}

func (s *MemoryStore) DeletePublished(relationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.published, relationID)
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
