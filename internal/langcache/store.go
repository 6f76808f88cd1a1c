package langcache

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.etcd.io/bbolt"
)

const usageBucket = "usage"

// Stats is the persisted usage record of one pack.
type Stats struct {
	Count      int       `json:"count"`
	LastUsedAt time.Time `json:"last_used_at"`
}

// Store persists usage statistics keyed by artifact id.
type Store interface {
	Record(id string, at time.Time) (Stats, error)
	All() (map[string]Stats, error)
	Close() error
}

// BoltStore keeps Stats as JSON values in a single bbolt bucket.
type BoltStore struct {
	db *bbolt.DB
}

var _ Store = (*BoltStore)(nil)

// OpenBoltStore opens (creating if needed) the stats database at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("could not open usage stats: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(usageBucket))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create usage bucket failed: %w", err)
	}
	return &BoltStore{db: db}, nil
}

// Record increments the use count of id and sets its last-used time.
func (s *BoltStore) Record(id string, at time.Time) (Stats, error) {
	var st Stats
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(usageBucket))
		if b == nil {
			return errors.New("usage bucket is nil")
		}
		if v := b.Get([]byte(id)); v != nil {
			if err := json.Unmarshal(v, &st); err != nil {
				return fmt.Errorf("decode stats for %s: %w", id, err)
			}
		}
		st.Count++
		st.LastUsedAt = at.UTC()
		v, err := json.Marshal(st)
		if err != nil {
			return err
		}
		return b.Put([]byte(id), v)
	})
	return st, err
}

// All returns every persisted record.
func (s *BoltStore) All() (map[string]Stats, error) {
	out := make(map[string]Stats)
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(usageBucket))
		if b == nil {
			return errors.New("usage bucket is nil")
		}
		return b.ForEach(func(k, v []byte) error {
			var st Stats
			if err := json.Unmarshal(v, &st); err != nil {
				return fmt.Errorf("decode stats for %s: %w", k, err)
			}
			out[string(k)] = st
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) Close() error { return s.db.Close() }

// MemoryStore is a non-durable Store.
type MemoryStore struct {
	mu    sync.Mutex
	stats map[string]Stats
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{stats: make(map[string]Stats)} }

func (s *MemoryStore) Record(id string, at time.Time) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats[id]
	st.Count++
	st.LastUsedAt = at.UTC()
	s.stats[id] = st
	return st, nil
}

func (s *MemoryStore) All() (map[string]Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Stats, len(s.stats))
	for k, v := range s.stats {
		out[k] = v
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
