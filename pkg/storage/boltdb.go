package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/cuemby/jenkins-relay/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketRelations = []byte("relations")
	bucketPublished = []byte("published")
)

// DBFile is the database file name inside the state directory
const DBFile = "relay.db"

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, DBFile)

	// Hooks may overlap briefly with a serve process; don't block forever on
	// the file lock.
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketRelations, bucketPublished} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Relation operations
func (s *BoltStore) PutRelation(state *types.RelationState) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRelations)
		data, err := json.Marshal(state)
		if err != nil {
			return err
		}
		return b.Put([]byte(state.Key()), data)
	})
}

func (s *BoltStore) GetRelation(relationID, remoteUnit string) (*types.RelationState, error) {
	var state types.RelationState
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRelations)
		data := b.Get([]byte(types.InstanceKey(relationID, remoteUnit)))
		if data == nil {
			return fmt.Errorf("relation %s unit %s: %w", relationID, remoteUnit, ErrNotFound)
		}
		return json.Unmarshal(data, &state)
	})
	if err != nil {
		return nil, err
	}
	return &state, nil
}

func (s *BoltStore) ListRelations() ([]*types.RelationState, error) {
	var states []*types.RelationState
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRelations)
		return b.ForEach(func(k, v []byte) error {
			var state types.RelationState
			if err := json.Unmarshal(v, &state); err != nil {
				return err
			}
			states = append(states, &state)
			return nil
		})
	})
	return states, err
}

func (s *BoltStore) ListRelationsByID(relationID string) ([]*types.RelationState, error) {
	states, err := s.ListRelations()
	if err != nil {
		return nil, err
	}
	return filterByID(states, relationID), nil
}

func (s *BoltStore) DeleteRelation(relationID, remoteUnit string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRelations)
		return b.Delete([]byte(types.InstanceKey(relationID, remoteUnit)))
	})
}

// Published field operations

// PutPublished merges fields into what was already published on relationID
func (s *BoltStore) PutPublished(relationID string, fields map[string]string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPublished)
		merged := make(map[string]string)
		if data := b.Get([]byte(relationID)); data != nil {
			if err := json.Unmarshal(data, &merged); err != nil {
				return err
			}
		}
		for k, v := range fields {
			merged[k] = v
		}
		data, err := json.Marshal(merged)
		if err != nil {
			return err
		}
		return b.Put([]byte(relationID), data)
	})
}

func (s *BoltStore) GetPublished(relationID string) (map[string]string, error) {
	fields := make(map[string]string)
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketPublished).Get([]byte(relationID))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &fields)
	})
	return fields, err
}

func (s *BoltStore) DeletePublished(relationID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPublished).Delete([]byte(relationID))
	})
}
