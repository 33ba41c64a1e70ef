package journal

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/adwski/whiteboard/backend/model"
	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"
)

var ErrCorruptEntry = errors.New("corrupt journal entry")

var drawPrefix = []byte("draw:")

// Journal keeps the session history on disk so a restarted host can pick
// up where it stopped.
type Journal struct {
	db     *badger.DB
	logger zerolog.Logger
}

// Open opens or creates a journal in dir. An empty dir keeps the journal
// in memory, which is what tests use.
func Open(dir string, logger *zerolog.Logger) (*Journal, error) {
	l := logger.With().Str("component", "journal").Logger()
	opts := badger.DefaultOptions(dir).WithLogger(badgerLogger{l})
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return &Journal{db: db, logger: l}, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

// Keys are zero padded so lexicographic order equals history order.
func key(seq int) []byte {
	return []byte(fmt.Sprintf("%s%019d", drawPrefix, seq))
}

func (j *Journal) Append(seq int, d model.Drawable) error {
	b, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return j.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(seq), b)
	})
}

// Replace rewrites the journal to hold exactly history. Positions are
// overwritten in place and entries past the new end are deleted.
func (j *Journal) Replace(history []model.Drawable) error {
	var stale [][]byte
	err := j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = drawPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		tail := key(len(history))
		for it.Seek(tail); it.ValidForPrefix(drawPrefix); it.Next() {
			stale = append(stale, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("scan journal: %w", err)
	}

	wb := j.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range stale {
		if err = wb.Delete(k); err != nil {
			return err
		}
	}
	for i, d := range history {
		b, err := json.Marshal(d)
		if err != nil {
			return err
		}
		if err = wb.Set(key(i), b); err != nil {
			return err
		}
	}
	return wb.Flush()
}

// Load returns the journaled history in order.
func (j *Journal) Load() ([]model.Drawable, error) {
	var history []model.Drawable
	err := j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = drawPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(drawPrefix); it.ValidForPrefix(drawPrefix); it.Next() {
			item := it.Item()
			err := item.Value(func(v []byte) error {
				var d model.Drawable
				if err := json.Unmarshal(v, &d); err != nil {
					return errors.Join(ErrCorruptEntry, err)
				}
				history = append(history, d)
				return nil
			})
			if err != nil {
				return fmt.Errorf("%s: %w", item.Key(), err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	j.logger.Debug().Int("entries", len(history)).Msg("journal loaded")
	return history, nil
}

type badgerLogger struct {
	l zerolog.Logger
}

func (b badgerLogger) Errorf(f string, v ...interface{})   { b.l.Error().Msgf(f, v...) }
func (b badgerLogger) Warningf(f string, v ...interface{}) { b.l.Warn().Msgf(f, v...) }
func (b badgerLogger) Infof(f string, v ...interface{})    { b.l.Debug().Msgf(f, v...) }
func (b badgerLogger) Debugf(f string, v ...interface{})   { b.l.Trace().Msgf(f, v...) }
