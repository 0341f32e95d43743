package persistence

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	bolt "github.com/boltdb/bolt"
)

const idempotencyBucket = "idempotency_keys"

type idempotencyRecord struct {
	Value     string    `json:"value"`
	CreatedAt time.Time `json:"created_at"`
}

// BoltIdempotencyStore keeps Idempotency-Key reservations in an embedded
// BoltDB file so they survive restarts.
type BoltIdempotencyStore struct {
	db *bolt.DB
}

// OpenBoltIdempotencyStore opens (or creates) the database at path.
func OpenBoltIdempotencyStore(path string) (*BoltIdempotencyStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(idempotencyBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltIdempotencyStore{db: db}, nil
}

// Close releases the database file lock.
func (s *BoltIdempotencyStore) Close() error {
	return s.db.Close()
}

// Reserve stores value under key unless the key is already present, in which
// case the stored value is returned and nothing is written.
func (s *BoltIdempotencyStore) Reserve(_ context.Context, key, value string) (string, bool, error) {
	stored := value
	created := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(idempotencyBucket))
		if existing := b.Get([]byte(key)); existing != nil {
			var record idempotencyRecord
			if err := json.Unmarshal(existing, &record); err != nil {
				return err
			}
			stored = record.Value
			return nil
		}
		data, err := json.Marshal(idempotencyRecord{Value: value, CreatedAt: time.Now().UTC()})
		if err != nil {
			return err
		}
		created = true
		return b.Put([]byte(key), data)
	})
	if err != nil {
		return "", false, err
	}
	return stored, created, nil
}

// Release deletes key. Releasing an unknown key is not an error.
func (s *BoltIdempotencyStore) Release(_ context.Context, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(idempotencyBucket)).Delete([]byte(key))
	})
}

// MemoryIdempotencyStore is the process-local variant used with the memory
// storage driver and in tests.
type MemoryIdempotencyStore struct {
	mu   sync.Mutex
	keys map[string]string
}

func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{keys: make(map[string]string)}
}

func (s *MemoryIdempotencyStore) Reserve(_ context.Context, key, value string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.keys[key]; ok {
		return existing, false, nil
	}
	s.keys[key] = value
	return value, true, nil
}

func (s *MemoryIdempotencyStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, key)
	return nil
}
