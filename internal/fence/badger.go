package fence

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

// BadgerCooldownStore persists cooldown timestamps in an embedded badger
// database so alert suppression survives a processor restart.
type BadgerCooldownStore struct {
	db *badger.DB
}

// NewBadgerCooldownStore opens (or creates) a badger database at path.
func NewBadgerCooldownStore(path string, logger *slog.Logger) (*BadgerCooldownStore, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil // badger's own logger is too chatty; errors surface via return values

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open cooldown store at %s: %w", path, err)
	}

	logger.Info("cooldown store opened", "path", path)
	return &BadgerCooldownStore{db: db}, nil
}

func (s *BadgerCooldownStore) LastAlert(key string) (time.Time, bool) {
	var nanos int64
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) != 8 {
				return fmt.Errorf("corrupt cooldown value for %s", key)
			}
			nanos = int64(binary.BigEndian.Uint64(val))
			return nil
		})
	})
	if err != nil {
		if !errors.Is(err, badger.ErrKeyNotFound) {
			// A read failure suppresses nothing; treated as no prior alert.
			return time.Time{}, false
		}
		return time.Time{}, false
	}
	return time.Unix(0, nanos).UTC(), true
}

func (s *BadgerCooldownStore) SetLastAlert(key string, t time.Time) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(t.UnixNano()))
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), buf[:])
	})
	if err != nil {
		return fmt.Errorf("failed to persist cooldown for %s: %w", key, err)
	}
	return nil
}

func (s *BadgerCooldownStore) Close() error {
	return s.db.Close()
}
