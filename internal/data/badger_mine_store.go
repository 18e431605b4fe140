package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"

	"github.com/target/muster/internal/domain/model"
)

// minePrefix namespaces mine entries inside the badger keyspace; keys are
// muster:mine:<agent>:<function> so a per-agent flush is one prefix scan.
const minePrefix = "muster:mine:"

// BadgerMineStore is the embedded mine store used when no shared Redis is
// configured. One store instance owns the badger DB handle.
type BadgerMineStore struct {
	db *badger.DB
}

// BadgerMineStoreOptions bundles parameters for NewBadgerMineStore.
type BadgerMineStoreOptions struct {
	// Path is the badger directory; ignored when InMemory is set.
	Path     string
	InMemory bool
	Logger   *slog.Logger
}

// NewBadgerMineStore opens (or creates) the embedded store.
func NewBadgerMineStore(opts BadgerMineStoreOptions) (*BadgerMineStore, error) {
	badgerOpts := badger.DefaultOptions(opts.Path).
		WithInMemory(opts.InMemory).
		WithLogger(nil)
	if opts.Logger != nil {
		badgerOpts = badgerOpts.WithLogger(badgerSlog{logger: opts.Logger})
	}
	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("open badger mine store: %w", err)
	}
	return &BadgerMineStore{db: db}, nil
}

// Close releases the badger handle.
func (s *BadgerMineStore) Close() error {
	return s.db.Close()
}

// Set implements core.MineStore: a full replace per (agent, function).
func (s *BadgerMineStore) Set(_ context.Context, entry model.MineEntry) error {
	if entry.AgentID == "" || entry.Function == "" {
		return errors.New("mine entry requires agent id and function")
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode mine entry: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(mineKey(entry.AgentID, entry.Function), raw)
	})
	if err != nil {
		return fmt.Errorf("badger set mine entry: %w", err)
	}
	return nil
}

// Get implements core.MineStore. A nil entry with nil error means the agent
// never pushed this function.
func (s *BadgerMineStore) Get(_ context.Context, agentID, function string) (*model.MineEntry, error) {
	var entry *model.MineEntry
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(mineKey(agentID, function))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var e model.MineEntry
			if err := json.Unmarshal(val, &e); err != nil {
				return fmt.Errorf("decode mine entry: %w", err)
			}
			entry = &e
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("badger get mine entry: %w", err)
	}
	return entry, nil
}

// Flush implements core.MineStore: removes every entry for the agent.
func (s *BadgerMineStore) Flush(_ context.Context, agentID string) error {
	prefix := []byte(minePrefix + agentID + ":")
	err := s.db.Update(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		defer it.Close()
		var keys [][]byte
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		for _, key := range keys {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("badger flush mine entries: %w", err)
	}
	return nil
}

func mineKey(agentID, function string) []byte {
	return []byte(minePrefix + agentID + ":" + function)
}

// badgerSlog adapts slog to badger's logger interface.
type badgerSlog struct {
	logger *slog.Logger
}

func (l badgerSlog) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l badgerSlog) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l badgerSlog) Infof(format string, args ...any) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l badgerSlog) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
