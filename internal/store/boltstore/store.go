// Package boltstore persists chat threads and user settings in an embedded
// bbolt database: one bucket per collection, JSON values keyed by record id.
package boltstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"chatrelay/internal/chat"
)

const (
	chatsBucket    = "chats"
	settingsBucket = "settings"
)

type Store struct {
	db        *bolt.DB
	closeOnce sync.Once

	mu      sync.Mutex
	subs    map[int]chan struct{}
	nextSub int
}

// Open creates the database file (and its directory) if needed and ensures
// both buckets exist. The returned Store must be closed by the caller.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("boltstore: create directory: %w", err)
		}
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("boltstore: open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{chatsBucket, settingsBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("boltstore: create buckets: %w", err)
	}

	return &Store{db: db, subs: make(map[int]chan struct{})}, nil
}

func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.db.Close()
	})
	return err
}

// ListChats returns all threads sorted most-recent-timestamp first.
func (s *Store) ListChats() ([]chat.Chat, error) {
	var chats []chat.Chat
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(chatsBucket)).ForEach(func(_, v []byte) error {
			var c chat.Chat
			if err := json.Unmarshal(v, &c); err != nil {
				return err
			}
			chats = append(chats, c)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(chats, func(i, j int) bool {
		return chat.ParseISO(chats[i].Timestamp).After(chat.ParseISO(chats[j].Timestamp))
	})
	return chats, nil
}

// GetChat returns nil when no thread with the given id exists.
func (s *Store) GetChat(id string) (*chat.Chat, error) {
	var c *chat.Chat
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(chatsBucket)).Get([]byte(id))
		if v == nil {
			return nil
		}
		c = &chat.Chat{}
		return json.Unmarshal(v, c)
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// PutChat upserts a full thread record in a single transaction.
func (s *Store) PutChat(c *chat.Chat) error {
	b, err := json.Marshal(c)
	if err != nil {
		return err
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(chatsBucket)).Put([]byte(c.ID), b)
	})
	if err != nil {
		return err
	}
	s.notify()
	return nil
}

func (s *Store) DeleteChat(id string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(chatsBucket)).Delete([]byte(id))
	})
	if err != nil {
		return err
	}
	s.notify()
	return nil
}

// Settings returns the singleton settings record, or defaults if absent.
func (s *Store) Settings() (chat.Settings, error) {
	settings := chat.DefaultSettings()
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(settingsBucket)).Get([]byte(chat.SettingsID))
		if v == nil {
			return nil
		}
		return json.Unmarshal(v, &settings)
	})
	if err != nil {
		return chat.DefaultSettings(), err
	}
	return settings, nil
}

func (s *Store) PutSettings(settings chat.Settings) error {
	settings.ID = chat.SettingsID
	b, err := json.Marshal(settings)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(settingsBucket)).Put([]byte(chat.SettingsID), b)
	})
}

// Subscribe registers for change notifications on the chats collection.
// The signal is best-effort: slow consumers coalesce, they never block a
// write. The returned cancel func releases the subscription.
func (s *Store) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
	return ch, cancel
}

func (s *Store) notify() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
