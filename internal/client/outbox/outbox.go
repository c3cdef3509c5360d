// Package outbox persists mutations written while offline. Entries are
// stored in BoltDB under monotonically increasing sequence keys so the drain
// order matches the write order.
package outbox

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/fieldops/worksync/pkg/api"
)

var (
	// ErrStorageClosed indicates the outbox was used after Close
	ErrStorageClosed = errors.New("outbox storage is closed")

	// ErrEmpty indicates there are no pending entries
	ErrEmpty = errors.New("outbox is empty")
)

// pendingBucket stores queued mutations keyed by big-endian sequence number
var pendingBucket = []byte("pending")

// Entry is one queued mutation with its queue position.
type Entry struct {
	Mutation api.Mutation `json:"mutation"`
	Seq      uint64       `json:"seq"`
}

// Outbox is a BoltDB-backed FIFO of unsent mutations.
type Outbox struct {
	db *bbolt.DB
}

// New opens (or creates) the outbox database at dbPath.
func New(ctx context.Context, dbPath string) (*Outbox, error) {
	db, err := bbolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open boltdb: %w", err)
	}

	o := &Outbox{db: db}

	if err := o.initBuckets(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}

	return o, nil
}

// Close closes the database connection
func (o *Outbox) Close() error {
	if o.db == nil {
		return nil
	}
	err := o.db.Close()
	o.db = nil
	return err
}

func (o *Outbox) initBuckets() error {
	return o.db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(pendingBucket); err != nil {
			return fmt.Errorf("failed to create pending bucket: %w", err)
		}
		return nil
	})
}

// Enqueue appends a mutation to the back of the queue.
func (o *Outbox) Enqueue(ctx context.Context, m api.Mutation) error {
	if o.db == nil {
		return ErrStorageClosed
	}

	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal mutation: %w", err)
	}

	err = o.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(pendingBucket)

		seq, err := bucket.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to allocate sequence: %w", err)
		}

		if err := bucket.Put(seqKey(seq), data); err != nil {
			return fmt.Errorf("failed to save entry: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("transaction failed: %w", err)
	}

	return nil
}

// Peek returns the oldest pending entry without removing it.
// Returns ErrEmpty when nothing is queued.
func (o *Outbox) Peek(ctx context.Context) (*Entry, error) {
	if o.db == nil {
		return nil, ErrStorageClosed
	}

	var entry *Entry

	err := o.db.View(func(tx *bbolt.Tx) error {
		k, v := tx.Bucket(pendingBucket).Cursor().First()
		if k == nil {
			return ErrEmpty
		}

		var m api.Mutation
		if err := json.Unmarshal(v, &m); err != nil {
			return fmt.Errorf("failed to unmarshal mutation: %w", err)
		}

		entry = &Entry{Seq: binary.BigEndian.Uint64(k), Mutation: m}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return entry, nil
}

// Ack removes a delivered entry from the queue.
func (o *Outbox) Ack(ctx context.Context, seq uint64) error {
	if o.db == nil {
		return ErrStorageClosed
	}

	return o.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(pendingBucket).Delete(seqKey(seq))
	})
}

// Pending returns all queued entries in write order.
func (o *Outbox) Pending(ctx context.Context) ([]Entry, error) {
	if o.db == nil {
		return nil, ErrStorageClosed
	}

	var entries []Entry

	err := o.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(pendingBucket).ForEach(func(k, v []byte) error {
			var m api.Mutation
			if err := json.Unmarshal(v, &m); err != nil {
				return fmt.Errorf("failed to unmarshal mutation: %w", err)
			}
			entries = append(entries, Entry{Seq: binary.BigEndian.Uint64(k), Mutation: m})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return entries, nil
}

// Len reports how many entries are queued.
func (o *Outbox) Len(ctx context.Context) (int, error) {
	if o.db == nil {
		return 0, ErrStorageClosed
	}

	var n int
	err := o.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(pendingBucket).Stats().KeyN
		return nil
	})
	return n, err
}

// seqKey encodes a sequence number as a sortable big-endian key.
func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}
