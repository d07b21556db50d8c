package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/hashicorp/go-hclog"

	"github.com/scan-io-git/triageio/internal/config"
)

const keyPrefix = "analysis/"

// BadgerOptions configures a BadgerStore.
type BadgerOptions struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path     string
	InMemory bool
	// TTL expires entries; zero keeps them forever.
	TTL    time.Duration
	Logger hclog.Logger
}

// OptionsFromConfig maps the cache section onto BadgerOptions.
func OptionsFromConfig(c config.Cache, logger hclog.Logger) BadgerOptions {
	return BadgerOptions{Path: c.Path, InMemory: c.InMemory, TTL: c.TTL, Logger: logger}
}

// badgerLogger routes badger's internal messages through hclog.
type badgerLogger struct {
	logger hclog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Trace(fmt.Sprintf(format, args...))
}

// BadgerStore persists entries in an embedded BadgerDB.
type BadgerStore struct {
	db     *badger.DB
	ttl    time.Duration
	logger hclog.Logger
}

// OpenBadger opens or creates the store.
func OpenBadger(opts BadgerOptions) (*BadgerStore, error) {
	if !opts.InMemory && opts.Path == "" {
		return nil, errors.New("cache path is required for a persistent cache")
	}
	logger := opts.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	logger = logger.Named("cache")

	var bo badger.Options
	if opts.InMemory {
		bo = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(opts.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create cache directory %s: %w", opts.Path, err)
		}
		bo = badger.DefaultOptions(opts.Path)
	}
	bo = bo.WithNumVersionsToKeep(1).WithLogger(&badgerLogger{logger: logger})

	db, err := badger.Open(bo)
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}
	logger.Debug("cache opened", "path", opts.Path, "in_memory", opts.InMemory, "ttl", opts.TTL)
	return &BadgerStore{db: db, ttl: opts.TTL, logger: logger}, nil
}

// Get returns the entry for fingerprint. A missing or expired key is not an error.
func (s *BadgerStore) Get(ctx context.Context, fingerprint string) (Entry, bool, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, false, err
	}
	var e Entry
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + fingerprint))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &e)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("cache get %s: %w", fingerprint, err)
	}
	return e, true, nil
}

// Put stores e under fingerprint, replacing any previous entry.
func (s *BadgerStore) Put(ctx context.Context, fingerprint string, e Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.StoredAt.IsZero() {
		e.StoredAt = time.Now().UTC()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("cache encode %s: %w", fingerprint, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(keyPrefix+fingerprint), data)
		if s.ttl > 0 {
			entry = entry.WithTTL(s.ttl)
		}
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("cache put %s: %w", fingerprint, err)
	}
	return nil
}

// Len counts stored entries.
func (s *BadgerStore) Len() (int, error) {
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// Open returns the store configured by c, or nil when caching is disabled.
func Open(c config.Cache, logger hclog.Logger) (Store, error) {
	if !c.Enabled {
		return nil, nil
	}
	s, err := OpenBadger(OptionsFromConfig(c, logger))
	if err != nil {
		return nil, err
	}
	return s, nil
}
