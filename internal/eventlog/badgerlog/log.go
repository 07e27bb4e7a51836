// Package badgerlog implements the durable event log on BadgerDB. Each
// category is an independent logical log under its own key prefix, so a burst
// in one category never blocks recovery or flush timing of the other.
package badgerlog

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/BarkinBalci/interaction-metrics-engine/internal/domain"
	"github.com/BarkinBalci/interaction-metrics-engine/internal/eventlog"
)

const keyPrefix = "evt:"

// Log is a BadgerDB-backed eventlog.Log. Keys are
// "evt:<category>:<big-endian seq>" so prefix iteration yields entries in
// insertion order.
type Log struct {
	db  *badger.DB
	log *zap.Logger

	// next sequence number per category, initialized from the highest
	// persisted key at open time
	seqs map[domain.Category]*atomic.Uint64
}

// Open opens (or creates) the event log at the given directory. Writes are
// synchronous: Append does not return until the entry is on stable storage.
func Open(dir string, log *zap.Logger) (*Log, error) {
	opts := badger.DefaultOptions(dir).
		WithSyncWrites(true).
		WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open badger at %s: %v", eventlog.ErrStorage, dir, err)
	}

	l := &Log{
		db:   db,
		log:  log,
		seqs: make(map[domain.Category]*atomic.Uint64, len(domain.Categories())),
	}

	for _, category := range domain.Categories() {
		last, err := l.lastSeq(category)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		seq := &atomic.Uint64{}
		seq.Store(last)
		l.seqs[category] = seq
	}

	return l, nil
}

// Append durably writes the event and returns its handle.
func (l *Log) Append(ctx context.Context, event *domain.RawEvent) (eventlog.Handle, error) {
	if err := ctx.Err(); err != nil {
		return eventlog.Handle{}, err
	}
	if !event.Category.Valid() {
		return eventlog.Handle{}, fmt.Errorf("%w: unknown category %q", eventlog.ErrStorage, event.Category)
	}

	value, err := json.Marshal(event)
	if err != nil {
		return eventlog.Handle{}, fmt.Errorf("%w: failed to marshal event %s: %v", eventlog.ErrStorage, event.ID, err)
	}

	handle := eventlog.Handle{
		Category: event.Category,
		Seq:      l.seqs[event.Category].Add(1),
	}

	err = l.db.Update(func(txn *badger.Txn) error {
		return txn.Set(entryKey(handle), value)
	})
	if err != nil {
		return eventlog.Handle{}, fmt.Errorf("%w: failed to append event %s: %v", eventlog.ErrStorage, event.ID, err)
	}

	return handle, nil
}

// Recover returns every unreleased entry of the category in insertion order.
func (l *Log) Recover(ctx context.Context, category domain.Category) ([]eventlog.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var entries []eventlog.Entry
	prefix := categoryPrefix(category)

	err := l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			seq := binary.BigEndian.Uint64(item.Key()[len(prefix):])

			var event domain.RawEvent
			err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &event)
			})
			if err != nil {
				// A single undecodable entry must not block recovery of
				// the rest of the log.
				l.log.Warn("Skipping undecodable event log entry",
					zap.String("category", string(category)),
					zap.Uint64("seq", seq),
					zap.Error(err))
				continue
			}

			entries = append(entries, eventlog.Entry{
				Handle: eventlog.Handle{Category: category, Seq: seq},
				Event:  &event,
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to recover category %s: %v", eventlog.ErrStorage, category, err)
	}

	return entries, nil
}

// Release removes an entry. Deleting an absent key is a no-op in Badger,
// which gives the required idempotence for free.
func (l *Log) Release(ctx context.Context, handle eventlog.Handle) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := l.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(entryKey(handle))
	})
	if err != nil {
		return fmt.Errorf("%w: failed to release entry %s/%d: %v", eventlog.ErrStorage, handle.Category, handle.Seq, err)
	}
	return nil
}

// Close closes the underlying database.
func (l *Log) Close() error {
	if err := l.db.Close(); err != nil {
		return fmt.Errorf("%w: failed to close badger: %v", eventlog.ErrStorage, err)
	}
	return nil
}

// lastSeq finds the highest persisted sequence number for a category.
func (l *Log) lastSeq(category domain.Category) (uint64, error) {
	var last uint64
	prefix := categoryPrefix(category)

	err := l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.Reverse = true
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		// Seek to the end of the prefix range; 0xff sorts after any
		// big-endian sequence byte.
		seek := append(append([]byte{}, prefix...), 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff)
		it.Seek(seek)
		if it.ValidForPrefix(prefix) {
			last = binary.BigEndian.Uint64(it.Item().Key()[len(prefix):])
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: failed to scan category %s: %v", eventlog.ErrStorage, category, err)
	}
	return last, nil
}

func categoryPrefix(category domain.Category) []byte {
	return []byte(keyPrefix + string(category) + ":")
}

func entryKey(handle eventlog.Handle) []byte {
	key := categoryPrefix(handle.Category)
	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], handle.Seq)
	return append(key, seq[:]...)
}
