package state

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/cfkarakulak/superdeploy/pkg/log"
	"github.com/cfkarakulak/superdeploy/pkg/types"
)

var (
	// Bucket names
	bucketRecords = []byte("records")
	bucketRuns    = []byte("runs")
	bucketLocks   = []byte("locks")
)

// BoltStore implements Store using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the state database at path.
func NewBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketRecords,
			bucketRuns,
			bucketLocks,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Record operations

// recordKey joins project and unit ID into a bucket key. Unit IDs
// already contain a slash, so the key reads "project/kind/name".
func recordKey(project, unitID string) []byte {
	return []byte(project + "/" + unitID)
}

// PushRecord makes the record the new head of its unit's chain. The
// previous head becomes record.Previous and the chain is trimmed to
// MaxRecordDepth. Any Previous set by the caller is discarded; the
// store owns the chain.
func (s *BoltStore) PushRecord(record *types.DeploymentRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRecords)
		key := recordKey(record.Project, record.UnitID)

		if data := b.Get(key); data != nil {
			var current types.DeploymentRecord
			if err := json.Unmarshal(data, &current); err != nil {
				return fmt.Errorf("corrupt record for %s: %w", record.UnitID, err)
			}
			record.Previous = &current
		} else {
			record.Previous = nil
		}
		trimChain(record, MaxRecordDepth)

		data, err := json.Marshal(record)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
}

// GetRecord returns the head of the unit's record chain.
func (s *BoltStore) GetRecord(project, unitID string) (*types.DeploymentRecord, error) {
	var record types.DeploymentRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRecords)
		data := b.Get(recordKey(project, unitID))
		if data == nil {
			return types.ErrRecordAbsent
		}
		return json.Unmarshal(data, &record)
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// ListRecords returns the record heads for every unit of a project,
// sorted by unit ID.
func (s *BoltStore) ListRecords(project string) ([]*types.DeploymentRecord, error) {
	var records []*types.DeploymentRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketRecords).Cursor()
		prefix := []byte(project + "/")
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var record types.DeploymentRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return err
			}
			records = append(records, &record)
		}
		return nil
	})
	return records, err
}

// DeleteRecord removes a unit's record chain entirely.
func (s *BoltStore) DeleteRecord(project, unitID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRecords)
		return b.Delete(recordKey(project, unitID))
	})
}

// trimChain truncates the record chain to at most depth entries.
func trimChain(head *types.DeploymentRecord, depth int) {
	cur := head
	for i := 1; cur != nil && i < depth; i++ {
		cur = cur.Previous
	}
	if cur != nil {
		cur.Previous = nil
	}
}

// Run operations

// SaveRun upserts a run. The orchestrator saves on every status change
// so webhook pollers observe progress.
func (s *BoltStore) SaveRun(run *types.Run) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRuns)
		data, err := json.Marshal(run)
		if err != nil {
			return err
		}
		return b.Put([]byte(run.ID), data)
	})
}

// GetRun retrieves a run by ID.
func (s *BoltStore) GetRun(id string) (*types.Run, error) {
	var run types.Run
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRuns)
		data := b.Get([]byte(id))
		if data == nil {
			return types.ErrRunNotFound
		}
		return json.Unmarshal(data, &run)
	})
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// ListRuns returns runs newest first, optionally filtered by project.
// A limit of 0 means no limit.
func (s *BoltStore) ListRuns(project string, limit int) ([]*types.Run, error) {
	var runs []*types.Run
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRuns)
		return b.ForEach(func(k, v []byte) error {
			var run types.Run
			if err := json.Unmarshal(v, &run); err != nil {
				return err
			}
			if project != "" && run.Project != project {
				return nil
			}
			runs = append(runs, &run)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// Lock operations

// AcquireLock takes the project's advisory lock. A lock held longer
// than StaleLockAge is treated as abandoned and reclaimed.
func (s *BoltStore) AcquireLock(project, owner string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLocks)
		key := []byte(project)

		if data := b.Get(key); data != nil {
			var held Lock
			if err := json.Unmarshal(data, &held); err != nil {
				return fmt.Errorf("corrupt lock for %s: %w", project, err)
			}
			age := time.Since(held.AcquiredAt)
			if age < StaleLockAge {
				return fmt.Errorf("%w: held by %s for %s", types.ErrProjectLocked, held.Owner, age.Round(time.Second))
			}
			logger := log.WithComponent("state")
			logger.Warn().
				Str("project", project).
				Str("owner", held.Owner).
				Dur("age", age).
				Msg("Reclaiming stale project lock")
		}

		data, err := json.Marshal(Lock{Project: project, Owner: owner, AcquiredAt: time.Now().UTC()})
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
}

// ReleaseLock drops the project's lock. Only the owner may release it.
func (s *BoltStore) ReleaseLock(project, owner string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLocks)
		key := []byte(project)

		data := b.Get(key)
		if data == nil {
			return nil
		}
		var held Lock
		if err := json.Unmarshal(data, &held); err != nil {
			return fmt.Errorf("corrupt lock for %s: %w", project, err)
		}
		if held.Owner != owner {
			return fmt.Errorf("lock for %s is held by %s, not %s", project, held.Owner, owner)
		}
		return b.Delete(key)
	})
}

// Maintenance operations

// PruneRuns deletes all but the newest keep terminal runs per project.
// An empty project prunes every project. Runs that have not reached a
// terminal status are never deleted. Returns the number of runs
// removed.
func (s *BoltStore) PruneRuns(project string, keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}

	pruned := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRuns)

		// Deleting inside ForEach is not allowed, so collect first.
		byProject := make(map[string][]*types.Run)
		if err := b.ForEach(func(k, v []byte) error {
			var run types.Run
			if err := json.Unmarshal(v, &run); err != nil {
				return err
			}
			if project != "" && run.Project != project {
				return nil
			}
			if !run.Status.Terminal() {
				return nil
			}
			byProject[run.Project] = append(byProject[run.Project], &run)
			return nil
		}); err != nil {
			return err
		}

		for _, runs := range byProject {
			sort.Slice(runs, func(i, j int) bool {
				return runs[i].CreatedAt.After(runs[j].CreatedAt)
			})
			if len(runs) <= keep {
				continue
			}
			for _, run := range runs[keep:] {
				if err := b.Delete([]byte(run.ID)); err != nil {
					return err
				}
				pruned++
			}
		}
		return nil
	})
	return pruned, err
}

// Backup streams a consistent snapshot of the database to w. The copy
// runs inside a read transaction, so a live server keeps serving while
// it is taken.
func (s *BoltStore) Backup(w io.Writer) (int64, error) {
	var n int64
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		n, err = tx.WriteTo(w)
		return err
	})
	return n, err
}
