package ledger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

var bucketLedger = []byte("ledger")

// BoltRepo persists the ledger in a bbolt database. Keys are big-endian
// sequence numbers, so cursor order is insertion order; bbolt admits one
// writer at a time.
type BoltRepo struct {
	db *bbolt.DB
}

// OpenBoltRepo opens or creates the bbolt database at dbPath.
func OpenBoltRepo(dbPath string) (*BoltRepo, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("%w: create directory: %w", ErrIO, err)
	}
	db, err := bbolt.Open(dbPath, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: open bolt db: %w", ErrIO, err)
	}
	return &BoltRepo{db: db}, nil
}

// OpenBoltRepoReadOnly opens an existing bbolt database without taking the
// writer lock. Append and Init fail on the returned repo.
func OpenBoltRepoReadOnly(dbPath string) (*BoltRepo, error) {
	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{ReadOnly: true, Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("%w: open bolt db read-only: %w", ErrIO, err)
	}
	return &BoltRepo{db: db}, nil
}

// Close closes the underlying database.
func (r *BoltRepo) Close() error { return r.db.Close() }

// Init creates the ledger bucket if needed.
func (r *BoltRepo) Init(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := r.db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketLedger)
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: create bucket: %w", ErrIO, err)
	}
	return nil
}

// Append stores e under the next sequence number.
func (r *BoltRepo) Append(ctx context.Context, e Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := Validate(e); err != nil {
		return err
	}
	data, err := json.Marshal(ToRecord(e))
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}

	err = r.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketLedger)
		if err != nil {
			return err
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		return b.Put(seqKey(seq), data)
	})
	if err != nil {
		return fmt.Errorf("%w: append entry: %w", ErrIO, err)
	}
	return nil
}

// FindByName resolves name against savedAs, then originalFileName.
func (r *BoltRepo) FindByName(ctx context.Context, name string) (Entry, error) {
	entries, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	return findByName(entries, name)
}

// History returns the entries recorded for savedAs.
func (r *BoltRepo) History(ctx context.Context, savedAs string) ([]Entry, error) {
	entries, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	return historyOf(entries, savedAs), nil
}

// List walks the bucket in key order.
func (r *BoltRepo) List(ctx context.Context) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var records []Record
	err := r.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketLedger)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decode entry %d: %w", binary.BigEndian.Uint64(k), err)
			}
			records = append(records, rec)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}
	return decodeRecords(records, r.db.Path()), nil
}

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}

var _ Repo = (*BoltRepo)(nil)
