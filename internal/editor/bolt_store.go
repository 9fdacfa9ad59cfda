package editor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

var sessionsBucket = []byte("sessions")

type boltRecord struct {
	ExpiresAt time.Time `json:"expiresAt"`
	Session   *Session  `json:"session"`
}

// BoltStore keeps sessions in a single local file. It is meant for one API
// process; locks are held in memory.
type BoltStore struct {
	db  *bolt.DB
	ttl time.Duration

	mu    sync.Mutex
	locks map[string]struct{}
}

func OpenBoltStore(path string, ttl time.Duration) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open session db: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(sessionsBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init session db: %w", err)
	}
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	return &BoltStore{db: db, ttl: ttl, locks: map[string]struct{}{}}, nil
}

func (s *BoltStore) Save(_ context.Context, sess *Session) error {
	data, err := json.Marshal(boltRecord{ExpiresAt: time.Now().Add(s.ttl), Session: sess})
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionsBucket).Put([]byte(sess.ID), data)
	}); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Get returns a live session and pushes its expiry out by the TTL, matching
// the sliding expiry of the Redis store.
func (s *BoltStore) Get(_ context.Context, id string) (*Session, error) {
	var rec boltRecord
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(sessionsBucket)
		data := b.Get([]byte(id))
		if data == nil {
			return ErrSessionNotFound
		}
		if err := json.Unmarshal(data, &rec); err != nil {
			return err
		}
		now := time.Now()
		if rec.Session == nil || now.After(rec.ExpiresAt) {
			if err := b.Delete([]byte(id)); err != nil {
				return err
			}
			return ErrSessionNotFound
		}
		rec.ExpiresAt = now.Add(s.ttl)
		refreshed, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put([]byte(id), refreshed)
	})
	if errors.Is(err, ErrSessionNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return rec.Session, nil
}

func (s *BoltStore) Delete(_ context.Context, id string) error {
	return s.delete(id)
}

func (s *BoltStore) delete(id string) error {
	if err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionsBucket).Delete([]byte(id))
	}); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// Purge removes expired sessions and reports how many were dropped.
func (s *BoltStore) Purge(now time.Time) (int, error) {
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(sessionsBucket)
		var expired [][]byte
		if err := b.ForEach(func(k, v []byte) error {
			var rec boltRecord
			if err := json.Unmarshal(v, &rec); err != nil || now.After(rec.ExpiresAt) {
				expired = append(expired, append([]byte{}, k...))
			}
			return nil
		}); err != nil {
			return err
		}
		for _, k := range expired {
			if err := b.Delete(k); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("purge sessions: %w", err)
	}
	return removed, nil
}

func (s *BoltStore) Lock(_ context.Context, id string) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, held := s.locks[id]; held {
		return nil, ErrLocked
	}
	s.locks[id] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.locks, id)
			s.mu.Unlock()
		})
	}, nil
}

func (s *BoltStore) Locked(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, held := s.locks[id]
	return held, nil
}

func (s *BoltStore) Ping(context.Context) error {
	return s.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(sessionsBucket) == nil {
			return errors.New("sessions bucket missing")
		}
		return nil
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
