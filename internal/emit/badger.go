package emit

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"
)

// keyPrefix namespaces fingerprint entries in the database.
const keyPrefix = "fp:"

// BadgerConfig configures a BadgerStore.
type BadgerConfig struct {
	// Path is the directory holding the database. Ignored when InMemory is set.
	Path string

	InMemory bool

	// SyncWrites fsyncs every write. Slower, survives power loss.
	SyncWrites bool

	// Logger receives badger's internal messages. Nil silences them.
	Logger *slog.Logger
}

// BadgerStore is a Store persisted in BadgerDB, so dedup state survives
// between runs.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadgerStore opens or creates the database described by cfg.
func OpenBadgerStore(cfg BadgerConfig) (*BadgerStore, error) {
	var opts badger.Options

	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, errors.New("badger path is required when not in memory")
		}

		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("failed to create dedup directory: %w", err)
		}

		opts = badger.DefaultOptions(cfg.Path).WithSyncWrites(cfg.SyncWrites)
	}

	opts = opts.WithNumVersionsToKeep(1)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{log: cfg.Logger.With("component", "badger")})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open dedup store: %w", err)
	}

	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Lookup(id string) (string, bool, error) {
	var fp string

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + id))
		if err != nil {
			return err
		}

		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}

		fp = string(val)

		return nil
	})

	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
		return "", false, nil
	case errors.Is(err, badger.ErrDBClosed):
		return "", false, ErrStoreClosed
	case err != nil:
		return "", false, fmt.Errorf("dedup lookup %s: %w", id, err)
	}

	return fp, true, nil
}

func (s *BadgerStore) Put(id, fingerprint string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keyPrefix+id), []byte(fingerprint))
	})

	if errors.Is(err, badger.ErrDBClosed) {
		return ErrStoreClosed
	}

	if err != nil {
		return fmt.Errorf("dedup put %s: %w", id, err)
	}

	return nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// badgerLogger adapts slog to badger.Logger.
type badgerLogger struct {
	log *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.log.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.log.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.log.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.log.Debug(fmt.Sprintf(format, args...))
}
