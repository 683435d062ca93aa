package types

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// Project is the deployable description of one project bound to an
// environment. It is built fresh from configuration at the start of every
// run and never mutated in place.
type Project struct {
	Name     string
	Env      *Environment
	Addons   []*AddonInstance // declaration order preserved
	Apps     []*AppDefinition // declaration order preserved
	Units    []*Unit          // normalized view over Addons and Apps
	LoadedAt time.Time
}

// Unit returns the unit with the given ID, or nil.
func (p *Project) Unit(id string) *Unit {
	for _, u := range p.Units {
		if u.ID == id {
			return u
		}
	}
	return nil
}

// Environment describes where and how a project deploys
type Environment struct {
	Name       string
	Subnet     string
	Driver     DriverKind
	Workdir    string // remote base directory for unit files
	SSH        *SSHConfig
	Inventory  *Inventory
	SecretsRef string // path of the secrets bundle that was applied
}

// DriverKind selects the driver implementation for an environment
type DriverKind string

const (
	DriverSSH   DriverKind = "ssh"
	DriverLocal DriverKind = "local"
)

// SSHConfig holds connection defaults for an environment's hosts
type SSHConfig struct {
	User                  string
	Port                  int
	KeyPath               string
	Password              string
	KnownHostsPath        string
	InsecureIgnoreHostKey bool
	ConnectTimeout        time.Duration
}

// Endpoint is one reachable host belonging to an inventory role
type Endpoint struct {
	Host string
	Port int
	User string // overrides the environment SSH user when set
	Role string
}

// Address returns the host:port form of the endpoint.
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// Inventory maps logical role names to host endpoints. It is produced by
// the provisioning collaborator and consumed read-only.
type Inventory struct {
	Roles map[string][]Endpoint
}

// Endpoints returns all endpoints for a role.
func (inv *Inventory) Endpoints(role string) []Endpoint {
	if inv == nil {
		return nil
	}
	return inv.Roles[role]
}

// First returns the first endpoint of a role, which is where a unit
// targeting that role is placed.
func (inv *Inventory) First(role string) (Endpoint, bool) {
	eps := inv.Endpoints(role)
	if len(eps) == 0 {
		return Endpoint{}, false
	}
	return eps[0], true
}

// AddonDefinition is the per-kind defaults file for a managed addon
// (database, cache, git server, monitoring)
type AddonDefinition struct {
	Kind       string
	Defaults   map[string]any // default configuration layer
	DependsOn  []string       // addon kinds that must be healthy first
	Template   string
	TargetRole string
	Health     *HealthCheck
}

// AddonInstance is an addon enabled for one project with its configuration
// fully resolved
type AddonInstance struct {
	Kind       string
	Project    string
	Config     map[string]any // resolved tree after layer merge
	ConfigHash string
	DependsOn  []string
	Template   string
	Target     Endpoint
}

// AppDefinition is a project application workload with its configuration
// fully resolved
type AppDefinition struct {
	Name       string
	Project    string
	Image      string
	Port       int
	TargetRole string
	DependsOn  []string // addon kinds this app requires
	Config     map[string]any
	ConfigHash string
	Template   string
	Health     *HealthCheck
	Target     Endpoint
}

// UnitKind distinguishes addons from apps
type UnitKind string

const (
	UnitAddon UnitKind = "addon"
	UnitApp   UnitKind = "app"
)

// UnitID builds the canonical unit identifier, e.g. "addon/postgres".
func UnitID(kind UnitKind, name string) string {
	return string(kind) + "/" + name
}

// Unit is the atomic target of a deployment step: one addon instance or
// one app definition, normalized so the planner, renderer and drivers can
// treat both uniformly.
type Unit struct {
	ID          string // "addon/<kind>" or "app/<name>"
	Kind        UnitKind
	Name        string
	Project     string
	Environment string
	Image       string // image reference without tag
	Version     string // image tag or addon version
	Port        int
	TargetRole  string
	Target      Endpoint
	DependsOn   []string // unit IDs
	Config      map[string]any
	ConfigHash  string
	Template    string
	Health      *HealthCheck
	DeclIndex   int // position in the project descriptor, tie-break order
}

// Ref returns the driver addressing for this unit.
func (u *Unit) Ref() UnitRef {
	return UnitRef{Project: u.Project, UnitID: u.ID, Target: u.Target}
}

// UnitRef addresses a deployed unit on its target host
type UnitRef struct {
	Project string
	UnitID  string
	Target  Endpoint
}

// ProbeType represents the type of health probe
type ProbeType string

const (
	ProbeHTTP ProbeType = "http"
	ProbeTCP  ProbeType = "tcp"
	ProbeExec ProbeType = "exec"
)

// RetryPolicy selects how probe attempts are spaced
type RetryPolicy string

const (
	RetryFixed       RetryPolicy = "fixed"
	RetryExponential RetryPolicy = "exponential"
)

// HealthCheck is the per-unit probe configuration
type HealthCheck struct {
	Type        ProbeType
	Path        string   // http probes
	Port        int      // defaults to the unit port
	Command     []string // exec probes
	Interval    time.Duration
	Timeout     time.Duration
	MaxAttempts int
	Policy      RetryPolicy
	StartPeriod time.Duration // grace before the first probe
}

// ServiceSpec is the typed shape of a rendered unit, for drivers that
// drive a runtime API instead of shipping the artifact text
type ServiceSpec struct {
	Name    string // <project>-<unit name>
	Image   string // full reference including tag
	Env     []string
	Ports   []PortMapping
	Volumes []VolumeMount
	Network string
	Restart string
}

// PortMapping defines port exposure
type PortMapping struct {
	HostPort      int
	ContainerPort int
	Protocol      string // "tcp" or "udp"
}

// String formats the mapping in compose notation, "8080:8080" or
// "53:53/udp".
func (p PortMapping) String() string {
	s := fmt.Sprintf("%d:%d", p.HostPort, p.ContainerPort)
	if p.Protocol != "" && p.Protocol != "tcp" {
		s += "/" + p.Protocol
	}
	return s
}

// VolumeMount defines a volume binding
type VolumeMount struct {
	Source      string
	Destination string
	ReadOnly    bool
}

// String formats the mount in compose notation, "src:dst" or "src:dst:ro".
func (v VolumeMount) String() string {
	s := v.Source + ":" + v.Destination
	if v.ReadOnly {
		s += ":ro"
	}
	return s
}

// Artifact is the rendered service definition for one unit. Content is
// byte-identical for identical resolved configuration and template version.
type Artifact struct {
	Ref             UnitRef
	Spec            ServiceSpec
	Content         []byte
	ConfigHash      string
	TemplateVersion string // sha256 of the template text
	Checksum        string // sha256 of Content
}

// DeploymentPlan is an ordered sequence of steps for one project run.
// Steps is a topological order of the unit dependency graph; Waves groups
// step IDs that are mutually independent and may execute concurrently.
type DeploymentPlan struct {
	ID          string
	Project     string
	Environment string
	Steps       []*PlanStep
	Waves       [][]string
	CreatedAt   time.Time
}

// Step returns the plan step with the given ID, or nil.
func (p *DeploymentPlan) Step(id string) *PlanStep {
	for _, s := range p.Steps {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// PlanStep is one scheduled apply-and-verify action for a unit
type PlanStep struct {
	ID         string // equals the unit ID
	Unit       *Unit
	DependsOn  []string // step IDs that must succeed first
	Wave       int
	Status     StepStatus
	Outcome    Outcome
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// StepStatus is the state of a plan step
type StepStatus string

const (
	StepPending        StepStatus = "pending"
	StepRendering      StepStatus = "rendering"
	StepApplying       StepStatus = "applying"
	StepVerifying      StepStatus = "verifying"
	StepSucceeded      StepStatus = "succeeded"
	StepFailed         StepStatus = "failed"
	StepRollingBack    StepStatus = "rolling_back"
	StepRolledBack     StepStatus = "rolled_back"
	StepRollbackFailed StepStatus = "rollback_failed"
	StepSkipped        StepStatus = "skipped"
)

// Terminal reports whether the status is final for a step.
func (s StepStatus) Terminal() bool {
	switch s {
	case StepSucceeded, StepRolledBack, StepRollbackFailed, StepSkipped:
		return true
	}
	return false
}

// Outcome is the driver's report of what an apply did
type Outcome string

const (
	OutcomeCreated   Outcome = "created"
	OutcomeUpdated   Outcome = "updated"
	OutcomeUnchanged Outcome = "unchanged"
)

// Mutated reports whether the apply changed the target host.
func (o Outcome) Mutated() bool {
	return o == OutcomeCreated || o == OutcomeUpdated
}

// Verdict is the health verifier's answer for one unit
type Verdict struct {
	Healthy  bool
	Reason   string // set when unhealthy
	Attempts int
	Elapsed  time.Duration
}

// String returns "healthy" or "unhealthy: <reason>".
func (v Verdict) String() string {
	if v.Healthy {
		return "healthy"
	}
	return "unhealthy: " + v.Reason
}

// DeploymentRecord is the durable record of the last successful deployment
// of a unit. Each successful deployment pushes a new record retaining the
// prior one as Previous, so rollback always has a well-defined target.
type DeploymentRecord struct {
	Project    string
	UnitID     string
	Version    string
	ConfigHash string
	Config     map[string]any // resolved tree snapshot, re-rendered on rollback
	Template   string
	RunID      string
	DeployedAt time.Time
	Previous   *DeploymentRecord
}

// Depth returns the length of the record chain including this record.
func (r *DeploymentRecord) Depth() int {
	n := 0
	for cur := r; cur != nil; cur = cur.Previous {
		n++
	}
	return n
}

// RunStatus is the state of an orchestrator run
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunCanceled  RunStatus = "canceled"
)

// Terminal reports whether the status is final for a run.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunSucceeded, RunFailed, RunCanceled:
		return true
	}
	return false
}

// RunTrigger records what started a run
type RunTrigger string

const (
	TriggerCLI     RunTrigger = "cli"
	TriggerWebhook RunTrigger = "webhook"
	TriggerWatch   RunTrigger = "watch"
)

// Run is the persisted record of one orchestrator invocation. Webhook
// callers poll it until Status is terminal.
type Run struct {
	ID          string
	Project     string
	Environment string
	Version     string // requested tag override, empty when unset
	Trigger     RunTrigger
	Status      RunStatus
	Steps       []*StepSummary
	Error       string
	CreatedAt   time.Time
	StartedAt   time.Time
	FinishedAt  time.Time
}

// StepSummary is the persisted per-step outcome inside a Run
type StepSummary struct {
	UnitID     string
	Status     StepStatus
	Outcome    Outcome
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// RollbackResult reports an operator-requested rollback
type RollbackResult struct {
	Project         string
	UnitID          string
	RestoredVersion string
	Status          StepStatus // rolled_back or rollback_failed
	Error           string
}

// FormatUnitFailure builds the operator-facing failure line for a step:
// the failing unit, the failure kind, and whether rollback succeeded.
func FormatUnitFailure(unitID, kind, detail string, rolledBack bool) string {
	s := fmt.Sprintf("unit %s failed (%s): %s", unitID, kind, detail)
	if rolledBack {
		return s + "; rolled back to previous version"
	}
	return s + "; rollback did not restore a prior version"
}
