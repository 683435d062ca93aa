package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"

	"github.com/cfkarakulak/superdeploy/pkg/types"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	store, err := NewBoltStore(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func record(project, unitID, version, hash string) *types.DeploymentRecord {
	return &types.DeploymentRecord{
		Project:    project,
		UnitID:     unitID,
		Version:    version,
		ConfigHash: hash,
		Config:     map[string]any{"version": version},
		DeployedAt: time.Now().UTC(),
	}
}

func TestPushRecordChain(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.PushRecord(record("shop", "addon/postgres", "16.1", "h1")))
	require.NoError(t, s.PushRecord(record("shop", "addon/postgres", "16.2", "h2")))
	require.NoError(t, s.PushRecord(record("shop", "addon/postgres", "16.3", "h3")))

	head, err := s.GetRecord("shop", "addon/postgres")
	require.NoError(t, err)
	assert.Equal(t, "16.3", head.Version)
	assert.Equal(t, 3, head.Depth())

	require.NotNil(t, head.Previous)
	assert.Equal(t, "16.2", head.Previous.Version)
	assert.Equal(t, "16.1", head.Previous.Previous.Version)
}

func TestPushRecordBoundedDepth(t *testing.T) {
	s := newTestStore(t)

	for i := 1; i <= MaxRecordDepth+2; i++ {
		rec := record("shop", "app/api", fmt.Sprintf("v%d", i), fmt.Sprintf("h%d", i))
		require.NoError(t, s.PushRecord(rec))
	}

	head, err := s.GetRecord("shop", "app/api")
	require.NoError(t, err)
	assert.Equal(t, MaxRecordDepth, head.Depth())
	assert.Equal(t, "v7", head.Version)

	// Oldest surviving record is v3; v1 and v2 fell off the end
	tail := head
	for tail.Previous != nil {
		tail = tail.Previous
	}
	assert.Equal(t, "v3", tail.Version)
}

func TestPushRecordOwnsChain(t *testing.T) {
	s := newTestStore(t)

	rec := record("shop", "app/api", "v2", "h2")
	rec.Previous = record("shop", "app/api", "bogus", "hx")
	require.NoError(t, s.PushRecord(rec))

	head, err := s.GetRecord("shop", "app/api")
	require.NoError(t, err)
	assert.Equal(t, 1, head.Depth()) // caller-set Previous is discarded
}

func TestGetRecordAbsent(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetRecord("shop", "addon/postgres")
	assert.ErrorIs(t, err, types.ErrRecordAbsent)
}

func TestListRecordsByProject(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.PushRecord(record("shop", "addon/postgres", "16.3", "h1")))
	require.NoError(t, s.PushRecord(record("shop", "app/api", "1.0", "h2")))
	require.NoError(t, s.PushRecord(record("blog", "addon/redis", "7.2", "h3")))

	records, err := s.ListRecords("shop")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "addon/postgres", records[0].UnitID)
	assert.Equal(t, "app/api", records[1].UnitID)

	records, err = s.ListRecords("missing")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestDeleteRecord(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.PushRecord(record("shop", "app/api", "1.0", "h1")))
	require.NoError(t, s.DeleteRecord("shop", "app/api"))

	_, err := s.GetRecord("shop", "app/api")
	assert.ErrorIs(t, err, types.ErrRecordAbsent)
}

func TestSaveAndGetRun(t *testing.T) {
	s := newTestStore(t)

	run := &types.Run{
		ID:          "run-1",
		Project:     "shop",
		Environment: "prod",
		Trigger:     types.TriggerCLI,
		Status:      types.RunRunning,
		CreatedAt:   time.Now().UTC(),
	}
	require.NoError(t, s.SaveRun(run))

	run.Status = types.RunSucceeded
	run.Steps = []*types.StepSummary{{UnitID: "app/api", Status: types.StepSucceeded, Outcome: types.OutcomeCreated}}
	require.NoError(t, s.SaveRun(run))

	got, err := s.GetRun("run-1")
	require.NoError(t, err)
	assert.Equal(t, types.RunSucceeded, got.Status)
	require.Len(t, got.Steps, 1)
	assert.Equal(t, "app/api", got.Steps[0].UnitID)
}

func TestGetRunNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetRun("nope")
	assert.ErrorIs(t, err, types.ErrRunNotFound)
}

func TestListRunsNewestFirst(t *testing.T) {
	s := newTestStore(t)

	base := time.Now().UTC()
	for i, project := range []string{"shop", "shop", "blog"} {
		run := &types.Run{
			ID:        fmt.Sprintf("run-%d", i),
			Project:   project,
			Status:    types.RunSucceeded,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, s.SaveRun(run))
	}

	runs, err := s.ListRuns("", 0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "run-2", runs[0].ID)

	runs, err = s.ListRuns("shop", 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-1", runs[0].ID)

	runs, err = s.ListRuns("", 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-2", runs[0].ID)
}

func TestAcquireLockConflict(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.AcquireLock("shop", "run-1"))
	err := s.AcquireLock("shop", "run-2")
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrProjectLocked)
	assert.Contains(t, err.Error(), "run-1")

	// Another project is unaffected
	require.NoError(t, s.AcquireLock("blog", "run-2"))
}

func TestAcquireLockStaleReclaim(t *testing.T) {
	s := newTestStore(t)

	stale := Lock{Project: "shop", Owner: "dead-run", AcquiredAt: time.Now().Add(-2 * time.Hour)}
	err := s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(stale)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketLocks).Put([]byte("shop"), data)
	})
	require.NoError(t, err)

	require.NoError(t, s.AcquireLock("shop", "run-2"))
	require.NoError(t, s.ReleaseLock("shop", "run-2"))
}

func TestReleaseLock(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.AcquireLock("shop", "run-1"))

	err := s.ReleaseLock("shop", "someone-else")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "held by")

	require.NoError(t, s.ReleaseLock("shop", "run-1"))
	require.NoError(t, s.AcquireLock("shop", "run-2"))

	// Releasing an unheld lock is not an error
	require.NoError(t, s.ReleaseLock("missing", "run-1"))
}

func TestPruneRuns(t *testing.T) {
	s := newTestStore(t)

	base := time.Now().UTC().Add(-time.Hour)
	save := func(id, project string, status types.RunStatus, offset int) {
		require.NoError(t, s.SaveRun(&types.Run{
			ID:        id,
			Project:   project,
			Status:    status,
			CreatedAt: base.Add(time.Duration(offset) * time.Minute),
		}))
	}

	save("shop-1", "shop", types.RunSucceeded, 1)
	save("shop-2", "shop", types.RunFailed, 2)
	save("shop-3", "shop", types.RunSucceeded, 3)
	save("shop-4", "shop", types.RunRunning, 4)
	save("blog-1", "blog", types.RunSucceeded, 1)
	save("blog-2", "blog", types.RunSucceeded, 2)

	pruned, err := s.PruneRuns("", 1)
	require.NoError(t, err)
	assert.Equal(t, 3, pruned)

	// Newest terminal run per project survives, as does the live one
	for _, id := range []string{"shop-3", "shop-4", "blog-2"} {
		_, err := s.GetRun(id)
		assert.NoError(t, err, id)
	}
	for _, id := range []string{"shop-1", "shop-2", "blog-1"} {
		_, err := s.GetRun(id)
		assert.ErrorIs(t, err, types.ErrRunNotFound, id)
	}
}

func TestPruneRunsProjectScoped(t *testing.T) {
	s := newTestStore(t)

	base := time.Now().UTC()
	for i := 0; i < 3; i++ {
		require.NoError(t, s.SaveRun(&types.Run{
			ID: fmt.Sprintf("shop-%d", i), Project: "shop",
			Status: types.RunSucceeded, CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
		require.NoError(t, s.SaveRun(&types.Run{
			ID: fmt.Sprintf("blog-%d", i), Project: "blog",
			Status: types.RunSucceeded, CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	pruned, err := s.PruneRuns("shop", 0)
	require.NoError(t, err)
	assert.Equal(t, 3, pruned)

	runs, err := s.ListRuns("blog", 0)
	require.NoError(t, err)
	assert.Len(t, runs, 3)
}

func TestBackup(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.PushRecord(record("shop", "app/api", "1.0", "h1")))

	dest := filepath.Join(t.TempDir(), "backup.db")
	f, err := os.Create(dest)
	require.NoError(t, err)

	n, err := s.Backup(f)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	assert.Greater(t, n, int64(0))

	restored, err := NewBoltStore(dest)
	require.NoError(t, err)
	defer restored.Close()

	rec, err := restored.GetRecord("shop", "app/api")
	require.NoError(t, err)
	assert.Equal(t, "1.0", rec.Version)
}

func TestReopenPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")

	s, err := NewBoltStore(path)
	require.NoError(t, err)
	require.NoError(t, s.PushRecord(record("shop", "app/api", "1.0", "h1")))
	require.NoError(t, s.SaveRun(&types.Run{ID: "run-1", Project: "shop", Status: types.RunSucceeded, CreatedAt: time.Now().UTC()}))
	require.NoError(t, s.Close())

	s, err = NewBoltStore(path)
	require.NoError(t, err)
	defer s.Close()

	rec, err := s.GetRecord("shop", "app/api")
	require.NoError(t, err)
	assert.Equal(t, "1.0", rec.Version)

	run, err := s.GetRun("run-1")
	require.NoError(t, err)
	assert.Equal(t, types.RunSucceeded, run.Status)
}
