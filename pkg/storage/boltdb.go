package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync/atomic"

	bolt "go.etcd.io/bbolt"
)

var bucketAudit = []byte("audit")

// BoltAuditLog implements AuditLog on top of a single bbolt bucket keyed
// by an 8-byte big-endian sequence number. One bucket is enough: an
// audit trail has a single entity type.
type BoltAuditLog struct {
	db  *bolt.DB
	seq uint64
}

// NewBoltAuditLog opens (creating if necessary) a bbolt-backed audit log
// under dataDir. Passing an empty dataDir disables persistence entirely
// by returning a NoopAuditLog instead; the coordinator must run
// correctly with zero persisted state.
func NewBoltAuditLog(dataDir string) (AuditLog, error) {
	if dataDir == "" {
		return NoopAuditLog{}, nil
	}

	dbPath := filepath.Join(dataDir, "coordinator-audit.db")
	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}

	var last uint64
	err = db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketAudit)
		if err != nil {
			return err
		}
		if k, _ := b.Cursor().Last(); k != nil {
			last = binary.BigEndian.Uint64(k)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltAuditLog{db: db, seq: last}, nil
}

// Append writes one entry, assigning it the next monotonic sequence
// number regardless of what the caller set.
func (l *BoltAuditLog) Append(entry AuditEntry) error {
	entry.Sequence = atomic.AddUint64(&l.seq, 1)

	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, entry.Sequence)

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}

	return l.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAudit).Put(key, data)
	})
}

// Recent returns up to limit entries, most recent first.
func (l *BoltAuditLog) Recent(limit int) ([]AuditEntry, error) {
	var entries []AuditEntry
	err := l.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketAudit).Cursor()
		for k, v := c.Last(); k != nil && len(entries) < limit; k, v = c.Prev() {
			var entry AuditEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			entries = append(entries, entry)
		}
		return nil
	})
	return entries, err
}

// Close closes the underlying database file.
func (l *BoltAuditLog) Close() error {
	return l.db.Close()
}

// NoopAuditLog discards every entry. It backs coordinator runs started
// without a checkpoint/audit directory configured, so audit logging is
// strictly optional and never load-bearing.
type NoopAuditLog struct{}

func (NoopAuditLog) Append(AuditEntry) error          { return nil }
func (NoopAuditLog) Recent(int) ([]AuditEntry, error) { return nil, nil }
func (NoopAuditLog) Close() error                     { return nil }
