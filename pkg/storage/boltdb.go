package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/terrapool/pkg/types"
)

// DBFileName is the database file inside the data directory
const DBFileName = "terrapool.db"

var (
	// Bucket names
	bucketAgents      = []byte("agents")
	bucketCredentials = []byte("credentials")
)

// BoltStore implements Store using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the database in dataDir
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, DBFileName)

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketAgents, bucketCredentials} {
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

// Ping checks the database is readable
func (s *BoltStore) Ping() error {
	return s.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketAgents) == nil {
			return fmt.Errorf("bucket %s missing", bucketAgents)
		}
		return nil
	})
}

// Agent operations
func (s *BoltStore) SaveAgent(agent *types.Agent) error {
	return put(s.db, bucketAgents, agent.Name, agent)
}

func (s *BoltStore) GetAgent(name string) (*types.Agent, error) {
	var agent types.Agent
	if err := get(s.db, bucketAgents, name, &agent); err != nil {
		return nil, fmt.Errorf("agent %s: %w", name, err)
	}
	return &agent, nil
}

func (s *BoltStore) ListAgents() ([]*types.Agent, error) {
	var agents []*types.Agent
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAgents).ForEach(func(k, v []byte) error {
			var agent types.Agent
			if err := json.Unmarshal(v, &agent); err != nil {
				return err
			}
			agents = append(agents, &agent)
			return nil
		})
	})
	return agents, err
}

func (s *BoltStore) DeleteAgent(name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAgents).Delete([]byte(name))
	})
}

// Credential operations
func (s *BoltStore) SaveCredential(cred *CredentialRecord) error {
	return put(s.db, bucketCredentials, cred.ID, cred)
}

func (s *BoltStore) GetCredential(id string) (*CredentialRecord, error) {
	var cred CredentialRecord
	if err := get(s.db, bucketCredentials, id, &cred); err != nil {
		return nil, fmt.Errorf("credential %s: %w", id, err)
	}
	return &cred, nil
}

func (s *BoltStore) ListCredentials() ([]*CredentialRecord, error) {
	var creds []*CredentialRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCredentials).ForEach(func(k, v []byte) error {
			var cred CredentialRecord
			if err := json.Unmarshal(v, &cred); err != nil {
				return err
			}
			creds = append(creds, &cred)
			return nil
		})
	})
	sort.Slice(creds, func(i, j int) bool { return creds[i].ID < creds[j].ID })
	return creds, err
}

func (s *BoltStore) DeleteCredential(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCredentials)
		if b.Get([]byte(id)) == nil {
			return fmt.Errorf("credential %s: %w", id, ErrNotFound)
		}
		return b.Delete([]byte(id))
	})
}

func put(db *bolt.DB, bucket []byte, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Put([]byte(key), data)
	})
}

func get(db *bolt.DB, bucket []byte, key string, v any) error {
	return db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucket).Get([]byte(key))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, v)
	})
}
