package speaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"
)

var badgerPrefix = []byte("speaker:")

// BadgerStore keeps one msgpack-encoded profile per key in BadgerDB.
type BadgerStore struct {
	db *badger.DB
}

// BadgerStoreOptions configures NewBadgerStore.
type BadgerStoreOptions struct {
	// Dir holds the database files. Required unless InMemory is set.
	Dir string

	// InMemory runs without disk persistence.
	InMemory bool

	Logger *slog.Logger
}

// NewBadgerStore opens (or creates) a BadgerDB-backed store.
func NewBadgerStore(opts BadgerStoreOptions) (*BadgerStore, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("speaker: badger store requires a directory")
	}
	dbOpts := badger.DefaultOptions(opts.Dir)
	if opts.InMemory {
		dbOpts = dbOpts.WithInMemory(true)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	dbOpts = dbOpts.WithLogger(badgerLogger{logger})
	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("speaker: open badger: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func profileKey(name string) []byte {
	return append(append([]byte{}, badgerPrefix...), name...)
}

// Load implements Store.
func (s *BadgerStore) Load(_ context.Context, cfg ProfileConfig) ([]*Profile, error) {
	ps := []*Profile{}
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: badgerPrefix, PrefetchValues: true, PrefetchSize: 16})
		defer it.Close()
		for it.Seek(badgerPrefix); it.ValidForPrefix(badgerPrefix); it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				var r profileRecord
				if err := msgpack.Unmarshal(val, &r); err != nil {
					return fmt.Errorf("decode %s: %w", item.Key(), err)
				}
				ps = append(ps, r.profile(cfg))
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("speaker: load badger: %w", err)
	}
	return ps, nil
}

// Save implements Store. Profiles absent from ps are deleted.
func (s *BadgerStore) Save(_ context.Context, ps []*Profile) error {
	keep := make(map[string]bool, len(ps))
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, p := range ps {
		val, err := msgpack.Marshal(toRecord(p))
		if err != nil {
			return fmt.Errorf("speaker: encode %s: %w", p.Name, err)
		}
		k := profileKey(p.Name)
		keep[string(k)] = true
		if err := wb.Set(k, val); err != nil {
			return err
		}
	}

	var stale [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: badgerPrefix})
		defer it.Close()
		for it.Seek(badgerPrefix); it.ValidForPrefix(badgerPrefix); it.Next() {
			if k := it.Item().KeyCopy(nil); !keep[string(k)] {
				stale = append(stale, k)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, k := range stale {
		if err := wb.Delete(k); err != nil {
			return err
		}
	}
	return wb.Flush()
}

// Close closes the database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// badgerLogger forwards warnings and errors to slog.
type badgerLogger struct{ l *slog.Logger }

func (b badgerLogger) Errorf(f string, v ...any)   { b.l.Error("speaker: badger: " + fmt.Sprintf(f, v...)) }
func (b badgerLogger) Warningf(f string, v ...any) { b.l.Warn("speaker: badger: " + fmt.Sprintf(f, v...)) }
func (badgerLogger) Infof(string, ...any)          {}
func (badgerLogger) Debugf(string, ...any)         {}
