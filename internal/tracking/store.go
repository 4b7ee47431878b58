package tracking

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const runKeyPrefix = "run/"

// StoreSink persists entries in a badger database so runs can be inspected
// offline. Keys are run/<run_id>/<step> with the step zero-padded, so a
// prefix scan returns a run's entries in step order.
type StoreSink struct {
	db  *badger.DB
	ttl time.Duration
}

// OpenStore opens (or creates) the run store at dir. An empty dir keeps the
// store in memory. ttl > 0 expires entries that long after they are written.
func OpenStore(dir string, ttl time.Duration) (*StoreSink, error) {
	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("tracking: create store dir %s: %w", dir, err)
		}
		opts = badger.DefaultOptions(dir)
	}
	opts = opts.WithLogger(badgerLogger{})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("tracking: open store: %w", err)
	}
	return &StoreSink{db: db, ttl: ttl}, nil
}

func entryKey(runID string, step int64) []byte {
	return []byte(fmt.Sprintf("%s%s/%020d", runKeyPrefix, runID, step))
}

// Write stores e. Rewriting the same run and step replaces the entry.
func (s *StoreSink) Write(_ context.Context, e Entry) error {
	val, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("%w: encode entry: %v", ErrPermanent, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		be := badger.NewEntry(entryKey(e.RunID, e.Step), val)
		if s.ttl > 0 {
			be = be.WithTTL(s.ttl)
		}
		return txn.SetEntry(be)
	})
	if err != nil {
		return fmt.Errorf("tracking: store write: %w", err)
	}
	return nil
}

// List returns the unexpired entries of runID in step order.
func (s *StoreSink) List(runID string) ([]Entry, error) {
	prefix := []byte(runKeyPrefix + runID + "/")
	var out []Entry
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var e Entry
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			out = append(out, e)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("tracking: store list %s: %w", runID, err)
	}
	return out, nil
}

// Runs returns the ids of all runs with unexpired entries, sorted.
func (s *StoreSink) Runs() ([]string, error) {
	prefix := []byte(runKeyPrefix)
	var runs []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			rest := strings.TrimPrefix(string(it.Item().Key()), runKeyPrefix)
			id, _, _ := strings.Cut(rest, "/")
			if len(runs) == 0 || runs[len(runs)-1] != id {
				runs = append(runs, id)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("tracking: store runs: %w", err)
	}
	return runs, nil
}

// Close closes the database.
func (s *StoreSink) Close() error {
	return s.db.Close()
}

// badgerLogger routes badger's internal logging to slog.
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...interface{}) {
	slog.Error("tracking: badger: " + strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (badgerLogger) Warningf(format string, args ...interface{}) {
	slog.Warn("tracking: badger: " + strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (badgerLogger) Infof(format string, args ...interface{}) {
	slog.Debug("tracking: badger: " + strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (badgerLogger) Debugf(format string, args ...interface{}) {
	slog.Debug("tracking: badger: " + strings.TrimSpace(fmt.Sprintf(format, args...)))
}
