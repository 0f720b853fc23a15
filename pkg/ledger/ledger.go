// Package ledger records the history of environment builds in a bbolt
// database under the cache directory. It is append-only observability
// data, not a job queue or result store; no HTTP route serves it.
package ledger

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketBuilds = []byte("environment_builds")

// Entry records the outcome of one environment build attempt.
type Entry struct {
	Fingerprint  string    `json:"fingerprint"`
	Dependencies []string  `json:"dependencies"`
	StartedAt    time.Time `json:"started_at"`
	Duration     string    `json:"duration"`
	Success      bool      `json:"success"`
	Message      string    `json:"message,omitempty"`
}

// Ledger is a bbolt-backed append-only log of environment builds.
type Ledger struct {
	db *bolt.DB
}

// Open opens (creating if necessary) the ledger database under dataDir.
func Open(dataDir string) (*Ledger, error) {
	dbPath := filepath.Join(dataDir, "ledger.db")

	db, err := bolt.Open(dbPath, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("ledger: open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketBuilds)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("ledger: create bucket: %w", err)
	}

	return &Ledger{db: db}, nil
}

// Close closes the underlying database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Record appends one build entry, keyed by fingerprint and start time so
// repeated builds of the same fingerprint (e.g. a failed build attempted
// again) each get their own record.
func (l *Ledger) Record(entry Entry) error {
	return l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBuilds)
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		key := fmt.Sprintf("%s-%d", entry.Fingerprint, entry.StartedAt.UnixNano())
		return b.Put([]byte(key), data)
	})
}

// Recent returns up to limit entries, most recently started first.
func (l *Ledger) Recent(limit int) ([]Entry, error) {
	var entries []Entry
	err := l.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBuilds)
		c := b.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var entry Entry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			entries = append(entries, entry)
			if limit > 0 && len(entries) >= limit {
				break
			}
		}
		return nil
	})
	return entries, err
}
