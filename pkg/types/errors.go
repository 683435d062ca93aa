package types

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors shared across packages
var (
	// ErrHashAbsent is returned by Driver.CurrentHash when nothing is
	// deployed for the unit on its target.
	ErrHashAbsent = errors.New("no deployed hash for unit")

	// ErrRecordAbsent is returned by the state store when a unit has no
	// deployment record.
	ErrRecordAbsent = errors.New("no deployment record")

	// ErrNoPriorVersion is returned when a rollback has no record to
	// restore.
	ErrNoPriorVersion = errors.New("no prior version to roll back to")

	// ErrProjectLocked is returned when another run holds the project's
	// advisory lock.
	ErrProjectLocked = errors.New("project locked by another run")

	// ErrRunNotFound is returned by the state store for unknown run IDs.
	ErrRunNotFound = errors.New("run not found")
)

// ConfigErrorKind classifies configuration load failures
type ConfigErrorKind string

const (
	ConfigMissingRequiredField ConfigErrorKind = "missing_required_field"
	ConfigTypeMismatch         ConfigErrorKind = "type_mismatch"
	ConfigDuplicateKey         ConfigErrorKind = "duplicate_key"
	ConfigUnknownAddonKind     ConfigErrorKind = "unknown_addon_kind"
)

// ConfigError is a fatal configuration failure. The whole load aborts and
// no host is contacted.
type ConfigError struct {
	Kind   ConfigErrorKind
	Path   string // offending key path, e.g. "projects/demo.yaml: apps[0].image"
	Detail string
}

func (e *ConfigError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("config error (%s) at %s", e.Kind, e.Path)
	}
	return fmt.Sprintf("config error (%s) at %s: %s", e.Kind, e.Path, e.Detail)
}

// CyclicDependencyError reports that the dependency graph is not a DAG.
// Cycle holds every member of the cycle in path order.
type CyclicDependencyError struct {
	Cycle []string
}

func (e *CyclicDependencyError) Error() string {
	return "cyclic dependency: " + strings.Join(e.Cycle, " -> ")
}

// UnknownDependencyError reports a declared dependency on a unit that is
// not part of the resolved project.
type UnknownDependencyError struct {
	Unit       string
	Dependency string
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("unit %s depends on %s which is not part of the project", e.Unit, e.Dependency)
}

// RenderErrorKind classifies template rendering failures
type RenderErrorKind string

const (
	RenderUndefinedReference  RenderErrorKind = "undefined_reference"
	RenderTemplateSyntaxError RenderErrorKind = "template_syntax_error"
)

// RenderError is fatal for its unit and never retried. An
// UndefinedReference means loader validation let an incomplete tree
// through, which is an internal consistency failure.
type RenderError struct {
	Kind   RenderErrorKind
	Unit   string
	Detail string
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render error (%s) for %s: %s", e.Kind, e.Unit, e.Detail)
}

// DriverErrorKind classifies apply failures
type DriverErrorKind string

const (
	DriverApplyTimeout     DriverErrorKind = "apply_timeout"
	DriverHostUnreachable  DriverErrorKind = "host_unreachable"
	DriverConflictingState DriverErrorKind = "conflicting_state"
	DriverApplyFailed      DriverErrorKind = "apply_failed"
)

// DriverError is a runtime failure confined to one unit. It triggers an
// automatic rollback of that unit and does not cancel independent units.
type DriverError struct {
	Kind   DriverErrorKind
	Unit   string
	Host   string
	Detail string
	Err    error
}

func (e *DriverError) Error() string {
	msg := fmt.Sprintf("driver error (%s) for %s on %s: %s", e.Kind, e.Unit, e.Host, e.Detail)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DriverError) Unwrap() error {
	return e.Err
}

// HealthError reports a unit that never reached healthy within its probe
// budget. Treated like a DriverError for rollback purposes.
type HealthError struct {
	Unit   string
	Reason string
}

func (e *HealthError) Error() string {
	return fmt.Sprintf("health check failed for %s: %s", e.Unit, e.Reason)
}

// RollbackError reports a rollback that could not restore the prior
// version. The unit is left in its current state and the failure is
// surfaced to the operator; it is never retried automatically.
type RollbackError struct {
	Unit   string
	Reason string
	Err    error
}

func (e *RollbackError) Error() string {
	msg := fmt.Sprintf("rollback failed for %s: %s", e.Unit, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RollbackError) Unwrap() error {
	return e.Err
}

// IsConfigError reports whether err is a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// IsPlanningError reports whether err is a cyclic or unknown dependency
// failure.
func IsPlanningError(err error) bool {
	var cyc *CyclicDependencyError
	var unk *UnknownDependencyError
	return errors.As(err, &cyc) || errors.As(err, &unk)
}

// IsDriverError reports whether err is a DriverError, optionally of a
// specific kind.
func IsDriverError(err error, kinds ...DriverErrorKind) bool {
	var de *DriverError
	if !errors.As(err, &de) {
		return false
	}
	if len(kinds) == 0 {
		return true
	}
	for _, k := range kinds {
		if de.Kind == k {
			return true
		}
	}
	return false
}

// FailureKind names the taxonomy class of err for operator-facing output.
func FailureKind(err error) string {
	var (
		ce  *ConfigError
		cyc *CyclicDependencyError
		unk *UnknownDependencyError
		re  *RenderError
		de  *DriverError
		he  *HealthError
		rbe *RollbackError
	)
	switch {
	case errors.As(err, &ce):
		return "config/" + string(ce.Kind)
	case errors.As(err, &cyc), errors.As(err, &unk):
		return "planning"
	case errors.As(err, &re):
		return "render/" + string(re.Kind)
	case errors.As(err, &de):
		return "apply/" + string(de.Kind)
	case errors.As(err, &he):
		return "health"
	case errors.As(err, &rbe):
		return "rollback"
	}
	return "internal"
}
