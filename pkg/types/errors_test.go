package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFailureKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "config error",
			err:  &ConfigError{Kind: ConfigMissingRequiredField, Path: "apps[0].image"},
			want: "config/missing_required_field",
		},
		{
			name: "cycle",
			err:  &CyclicDependencyError{Cycle: []string{"addon/a", "addon/b", "addon/a"}},
			want: "planning",
		},
		{
			name: "unknown dependency",
			err:  &UnknownDependencyError{Unit: "app/api", Dependency: "addon/kafka"},
			want: "planning",
		},
		{
			name: "render error",
			err:  &RenderError{Kind: RenderUndefinedReference, Unit: "app/api"},
			want: "render/undefined_reference",
		},
		{
			name: "driver error",
			err:  &DriverError{Kind: DriverHostUnreachable, Unit: "addon/postgres"},
			want: "apply/host_unreachable",
		},
		{
			name: "health error",
			err:  &HealthError{Unit: "app/api", Reason: "HTTP 503"},
			want: "health",
		},
		{
			name: "wrapped driver error",
			err:  fmt.Errorf("step failed: %w", &DriverError{Kind: DriverApplyTimeout, Unit: "app/api"}),
			want: "apply/apply_timeout",
		},
		{
			name: "plain error",
			err:  errors.New("boom"),
			want: "internal",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FailureKind(tt.err))
		})
	}
}

func TestIsDriverError(t *testing.T) {
	err := fmt.Errorf("apply: %w", &DriverError{Kind: DriverConflictingState, Unit: "addon/redis"})

	assert.True(t, IsDriverError(err))
	assert.True(t, IsDriverError(err, DriverConflictingState))
	assert.False(t, IsDriverError(err, DriverHostUnreachable))
	assert.False(t, IsDriverError(errors.New("boom")))
}

func TestDriverErrorUnwrap(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := &DriverError{Kind: DriverHostUnreachable, Unit: "app/api", Host: "10.0.0.5:22", Err: cause}

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "host_unreachable")
	assert.Contains(t, err.Error(), "10.0.0.5:22")
}

func TestCyclicDependencyErrorMessage(t *testing.T) {
	err := &CyclicDependencyError{Cycle: []string{"addon/a", "addon/b", "addon/a"}}
	assert.Equal(t, "cyclic dependency: addon/a -> addon/b -> addon/a", err.Error())
}

func TestStepStatusTerminal(t *testing.T) {
	terminal := []StepStatus{StepSucceeded, StepRolledBack, StepRollbackFailed, StepSkipped}
	for _, s := range terminal {
		assert.True(t, s.Terminal(), string(s))
	}

	active := []StepStatus{StepPending, StepRendering, StepApplying, StepVerifying, StepFailed, StepRollingBack}
	for _, s := range active {
		assert.False(t, s.Terminal(), string(s))
	}
}

func TestRecordDepth(t *testing.T) {
	var r *DeploymentRecord
	assert.Equal(t, 0, r.Depth())

	r = &DeploymentRecord{Version: "3", Previous: &DeploymentRecord{Version: "2", Previous: &DeploymentRecord{Version: "1"}}}
	assert.Equal(t, 3, r.Depth())
}
