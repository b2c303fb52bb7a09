// Package identity persists the per-installation machine id and the last
// player name used, so lobby rosters recognise a returning player.
package identity

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

const fileName = "identity.db"

var (
	bucketLocal = []byte("local")
	keyMachine  = []byte("machine_id")
	keyName     = []byte("player_name")
)

// Store is a small bbolt database under the data directory.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if needed) the store in dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	db, err := bolt.Open(filepath.Join(dir, fileName), 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open identity store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// MachineID returns the stored machine id, generating and saving one on
// first use.
func (s *Store) MachineID() (string, error) {
	var id string
	err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketLocal)
		if err != nil {
			return err
		}
		if v := b.Get(keyMachine); v != nil {
			if parsed, err := uuid.ParseBytes(v); err == nil {
				id = parsed.String()
				return nil
			}
		}
		id = uuid.NewString()
		return b.Put(keyMachine, []byte(id))
	})
	if err != nil {
		return "", fmt.Errorf("failed to load machine id: %w", err)
	}
	return id, nil
}

// PlayerName returns the last saved player name, or "" when none was saved.
func (s *Store) PlayerName() (string, error) {
	var name string
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLocal)
		if b == nil {
			return nil
		}
		name = string(b.Get(keyName))
		return nil
	})
	return name, err
}

// SetPlayerName saves name for the next run.
func (s *Store) SetPlayerName(name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketLocal)
		if err != nil {
			return err
		}
		return b.Put(keyName, []byte(name))
	})
}
