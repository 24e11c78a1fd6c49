// Package ledger provides the append-only feedback store backing model
// retraining. It uses BoltDB as the storage engine: every observed outcome
// is appended under a monotonic sequence key and never mutated or deleted,
// giving retraining a durable audit trail of (input, outcome) pairs.
//
// Appends are concurrent-safe and reads produce a consistent snapshot, so
// iteration during an in-flight retraining run never observes a torn record.
package ledger

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

const feedbackBucket = "feedback"

// Outcome is the observed real-world result for a prediction. Either the
// explicit completion flag or a watch-time ratio proxy must be present;
// when both exist the explicit flag wins during labelling.
type Outcome struct {
	Completed      *bool    `json:"completed,omitempty"`
	WatchTimeRatio *float64 `json:"watch_time_ratio,omitempty"`
}

// MovieContext is optional metadata about the movie the outcome refers to.
type MovieContext struct {
	ID             string  `json:"id,omitempty"`
	Title          string  `json:"title,omitempty"`
	RuntimeMinutes int     `json:"runtime_minutes,omitempty"`
	IMDBScore      float64 `json:"imdb_score,omitempty"`
}

// Record pairs the raw survey responses with the observed outcome.
// Immutable once appended.
type Record struct {
	Seq       uint64         `json:"seq"`
	Timestamp time.Time      `json:"timestamp"`
	Responses map[string]any `json:"responses"`
	Outcome   Outcome        `json:"outcome"`
	Movie     *MovieContext  `json:"movie,omitempty"`
}

// Ledger is the append-only feedback store.
type Ledger struct {
	db *bbolt.DB
}

// Open creates or opens the ledger database under dataPath.
func Open(dataPath string) (*Ledger, error) {
	dbPath := filepath.Join(dataPath, "feedback.db")

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open feedback database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(feedbackBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create feedback bucket: %w", err)
	}

	return &Ledger{db: db}, nil
}

// Close releases the underlying database.
func (l *Ledger) Close() error {
	if l.db != nil {
		return l.db.Close()
	}
	return nil
}

// Append stores a record and returns its assigned sequence number. The
// timestamp is filled in when the caller left it zero. Well-formed records
// are never rejected.
func (l *Ledger) Append(rec Record) (uint64, error) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	var seq uint64
	err := l.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(feedbackBucket))

		var err error
		seq, err = b.NextSequence()
		if err != nil {
			return fmt.Errorf("next sequence: %w", err)
		}
		rec.Seq = seq

		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal feedback record: %w", err)
		}
		return b.Put(seqKey(seq), data)
	})
	if err != nil {
		return 0, err
	}
	return seq, nil
}

// All returns every record in append order. Each call reads a fresh
// consistent snapshot; appends arriving during iteration are not observed.
func (l *Ledger) All() ([]Record, error) {
	var records []Record
	err := l.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(feedbackBucket)).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				continue // skip malformed records
			}
			records = append(records, rec)
		}
		return nil
	})
	return records, err
}

// Count returns the total number of records.
func (l *Ledger) Count() (int, error) {
	var n int
	err := l.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket([]byte(feedbackBucket)).Stats().KeyN
		return nil
	})
	return n, err
}

// CountSince returns the number of records with a timestamp at or after t.
func (l *Ledger) CountSince(t time.Time) (int, error) {
	var n int
	err := l.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(feedbackBucket)).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				continue
			}
			if !rec.Timestamp.Before(t) {
				n++
			}
		}
		return nil
	})
	return n, err
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}
