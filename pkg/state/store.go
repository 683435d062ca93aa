package state

import (
	"time"

	"github.com/cfkarakulak/superdeploy/pkg/types"
)

const (
	// MaxRecordDepth bounds the deployment record chain per unit. Older
	// records fall off the end when a new one is pushed.
	MaxRecordDepth = 5

	// StaleLockAge is how old a project lock may grow before another
	// process is allowed to reclaim it.
	StaleLockAge = time.Hour
)

// Lock is an advisory per-project lock. It prevents two orchestrator
// runs from deploying the same project concurrently.
type Lock struct {
	Project    string    `json:"project"`
	Owner      string    `json:"owner"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Store defines the interface for orchestrator state storage
type Store interface {
	// Deployment records
	PushRecord(record *types.DeploymentRecord) error
	GetRecord(project, unitID string) (*types.DeploymentRecord, error)
	ListRecords(project string) ([]*types.DeploymentRecord, error)
	DeleteRecord(project, unitID string) error

	// Runs
	SaveRun(run *types.Run) error
	GetRun(id string) (*types.Run, error)
	ListRuns(project string, limit int) ([]*types.Run, error)

	// Project locks
	AcquireLock(project, owner string) error
	ReleaseLock(project, owner string) error

	// Utility
	Close() error
}
