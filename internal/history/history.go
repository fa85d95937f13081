// Package history keeps a persistent log of notification firings in a bbolt
// database, newest last, trimmed to a fixed number of records.
package history

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/doughall/notifier/internal/scheduler"
	bolt "go.etcd.io/bbolt"
)

const firingsBucket = "firings"

// Record is one delivered (or attempted) firing.
type Record struct {
	ID          uint64            `json:"id"`
	JobID       scheduler.JobID   `json:"job_id"`
	Label       string            `json:"label"`
	Level       scheduler.Level   `json:"level"`
	Source      string            `json:"source,omitempty"`
	ScheduledAt time.Time         `json:"scheduled_at"`
	FiredAt     time.Time         `json:"fired_at"`
	Delivered   []string          `json:"delivered,omitempty"`
	Errors      map[string]string `json:"errors,omitempty"`
}

// OK reports whether every sink accepted the firing.
func (r Record) OK() bool { return len(r.Errors) == 0 }

// Store is the bbolt-backed firing log.
type Store struct {
	db *bolt.DB
}

// Open opens or creates the history database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open history %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(firingsBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Append stores r, assigning it the next sequence number.
func (s *Store) Append(r *Record) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(firingsBucket))

		id, err := b.NextSequence()
		if err != nil {
			return err
		}
		r.ID = id

		data, err := json.Marshal(r)
		if err != nil {
			return err
		}
		return b.Put(itob(id), data)
	})
}

// Recent returns up to limit records, newest first.
func (s *Store) Recent(limit int) ([]Record, error) {
	var out []Record
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(firingsBucket)).Cursor()
		for k, v := c.Last(); k != nil && (limit <= 0 || len(out) < limit); k, v = c.Prev() {
			var r Record
			if err := json.Unmarshal(v, &r); err != nil {
				continue
			}
			out = append(out, r)
		}
		return nil
	})
	return out, err
}

// Prune keeps the newest keep records and deletes the rest. It returns how
// many were removed.
func (s *Store) Prune(keep int) (int, error) {
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(firingsBucket))
		excess := b.Stats().KeyN - keep
		if excess <= 0 {
			return nil
		}
		stale := make([][]byte, 0, excess)
		c := b.Cursor()
		for k, _ := c.First(); k != nil && len(stale) < excess; k, _ = c.Next() {
			stale = append(stale, append([]byte(nil), k...))
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	return removed, err
}

// Count returns the number of stored records.
func (s *Store) Count() (int, error) {
	var count int
	err := s.db.View(func(tx *bolt.Tx) error {
		count = tx.Bucket([]byte(firingsBucket)).Stats().KeyN
		return nil
	})
	return count, err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// itob converts uint64 to big-endian bytes for ordered keys
func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
