package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	cerrors "github.com/combot/combot/internal/errors"
	"github.com/combot/combot/internal/models"
)

const draftPrefix = "draft:"

// DraftStore keeps in-flight conversation drafts in BadgerDB with a TTL
type DraftStore struct {
	db       *badger.DB
	ttl      time.Duration
	inMemory bool
}

// OpenDraftStore opens a draft store at path. An empty path keeps drafts in memory.
func OpenDraftStore(path string, ttl time.Duration) (*DraftStore, error) {
	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(expandPath(path))
	}
	opts = opts.WithLoggingLevel(badger.WARNING)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}

	return &DraftStore{db: db, ttl: ttl, inMemory: path == ""}, nil
}

// Put saves a draft, refreshing its TTL. CreatedAt is kept if already set.
func (s *DraftStore) Put(ctx context.Context, draft *models.Draft) error {
	now := time.Now().UTC()
	if draft.CreatedAt.IsZero() {
		draft.CreatedAt = now
	}
	draft.UpdatedAt = now

	data, err := json.Marshal(draft)
	if err != nil {
		return fmt.Errorf("failed to marshal draft: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(draftPrefix+draft.SessionID), data)
		if s.ttl > 0 {
			entry = entry.WithTTL(s.ttl)
		}
		return txn.SetEntry(entry)
	})
}

// Get loads a draft by session ID
func (s *DraftStore) Get(ctx context.Context, sessionID string) (*models.Draft, error) {
	var draft models.Draft

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(draftPrefix + sessionID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &draft)
		})
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, cerrors.NewNotFound("draft", sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load draft %s: %w", sessionID, err)
	}
	return &draft, nil
}

// Delete removes a draft. Deleting a missing draft is not an error.
func (s *DraftStore) Delete(ctx context.Context, sessionID string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(draftPrefix + sessionID))
	})
	if err != nil {
		return fmt.Errorf("failed to delete draft %s: %w", sessionID, err)
	}
	return nil
}

// Count returns the number of live drafts
func (s *DraftStore) Count() (int, error) {
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(draftPrefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// Compact reclaims value log space
func (s *DraftStore) Compact() error {
	if s.inMemory {
		return nil
	}
	for {
		err := s.db.RunValueLogGC(0.5)
		if errors.Is(err, badger.ErrNoRewrite) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("value log gc failed: %w", err)
		}
	}
}

// Close closes the database
func (s *DraftStore) Close() error {
	return s.db.Close()
}
