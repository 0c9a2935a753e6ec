package storage

import (
	"errors"

	"github.com/cuemby/jenkins-relay/pkg/types"
)

// ErrNotFound is returned when a relation instance is not stored
var ErrNotFound = errors.New("not found")

// Store defines the interface for relation state storage
type Store interface {
	// Relation instances
	PutRelation(state *types.RelationState) error
	GetRelation(relationID, remoteUnit string) (*types.RelationState, error)
	ListRelations() ([]*types.RelationState, error)
	ListRelationsByID(relationID string) ([]*types.RelationState, error)
	DeleteRelation(relationID, remoteUnit string) error

	// Fields this side published on a relation id
	PutPublished(relationID string, fields map[string]string) error
	GetPublished(relationID string) (map[string]string, error)
	DeletePublished(relationID string) error

	// Utility
	Close() error
}

func filterByID(states []*types.RelationState, relationID string) []*types.RelationState {
	var filtered []*types.RelationState
	for _, s := range states {
		if s.RelationID == relationID {
			filtered = append(filtered, s)
		}
	}
	return filtered
}
