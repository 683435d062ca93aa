package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/cfkarakulak/superdeploy/pkg/inventory"
	"github.com/cfkarakulak/superdeploy/pkg/types"
)

// DefaultTargetRole is where units are placed when no role is declared.
const DefaultTargetRole = "core"

// DefaultWorkdir is the remote base directory for unit files.
const DefaultWorkdir = "/srv/superdeploy"

// Loader reads the layered configuration directory and produces immutable
// Project snapshots. Loading is a pure transform over the input files; it
// contacts no host and returns no partial tree on failure.
type Loader struct {
	dir       string
	masterKey []byte
	validate  *validator.Validate
}

// LoadOptions tune a single load.
type LoadOptions struct {
	// Version overrides the version key of every app's resolved tree.
	// Used by CI-triggered deploys that carry a freshly built image tag.
	Version string
}

// NewLoader creates a loader rooted at a configuration directory.
func NewLoader(dir string) *Loader {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Loader{dir: dir, validate: v}
}

// WithMasterKey sets the key used to open sealed secrets bundles.
func (l *Loader) WithMasterKey(key []byte) *Loader {
	l.masterKey = key
	return l
}

// Dir returns the configuration directory root.
func (l *Loader) Dir() string {
	return l.dir
}

// File schemas. Free-form configuration blocks stay map[string]any; the
// structured fields carry validation tags.

type addonFile struct {
	Kind       string         `yaml:"kind" validate:"required"`
	TargetRole string         `yaml:"target_role"`
	DependsOn  []string       `yaml:"depends_on"`
	Template   string         `yaml:"template"`
	Config     map[string]any `yaml:"config"`
	Health     *healthSpec    `yaml:"health"`
}

type projectFile struct {
	Name               string         `yaml:"name"`
	DefaultEnvironment string         `yaml:"default_environment"`
	Environments       []string       `yaml:"environments"`
	Addons             []projectAddon `yaml:"addons" validate:"dive"`
	Apps               []projectApp   `yaml:"apps" validate:"dive"`
}

type projectAddon struct {
	Kind       string         `yaml:"kind" validate:"required"`
	TargetRole string         `yaml:"target_role"`
	DependsOn  []string       `yaml:"depends_on"`
	Config     map[string]any `yaml:"config"`
	Health     *healthSpec    `yaml:"health"`
}

type projectApp struct {
	Name       string         `yaml:"name" validate:"required"`
	Image      string         `yaml:"image" validate:"required"`
	Port       int            `yaml:"port" validate:"required,gt=0,lte=65535"`
	TargetRole string         `yaml:"target_role"`
	DependsOn  []string       `yaml:"depends_on"`
	Template   string         `yaml:"template"`
	Config     map[string]any `yaml:"config"`
	Health     *healthSpec    `yaml:"health"`
}

type environmentFile struct {
	Subnet    string   `yaml:"subnet"`
	Driver    string   `yaml:"driver"`
	Workdir   string   `yaml:"workdir"`
	Inventory string   `yaml:"inventory"`
	SSH       *sshSpec `yaml:"ssh"`
}

type sshSpec struct {
	User       string `yaml:"user"`
	Port       int    `yaml:"port"`
	KeyPath    string `yaml:"key_path"`
	Password   string `yaml:"password"`
	KnownHosts string `yaml:"known_hosts"`
	Insecure   bool   `yaml:"insecure"`
	Timeout    string `yaml:"timeout"`
}

type healthSpec struct {
	Type        string   `yaml:"type"`
	Path        string   `yaml:"path"`
	Port        int      `yaml:"port"`
	Command     []string `yaml:"command"`
	Interval    string   `yaml:"interval"`
	Timeout     string   `yaml:"timeout"`
	MaxAttempts int      `yaml:"max_attempts"`
	Policy      string   `yaml:"policy"`
	StartPeriod string   `yaml:"start_period"`
}

type secretsFile struct {
	Addons map[string]map[string]any `yaml:"addons"`
	Apps   map[string]map[string]any `yaml:"apps"`
}

// Load builds the Project snapshot for a project and environment. The
// environment may be empty, in which case the project's declared default
// is used. Fails with a *types.ConfigError for schema violations; the
// whole load aborts and no partial tree is returned.
func (l *Loader) Load(project, environment string, opts LoadOptions) (*types.Project, error) {
	pf, err := l.loadProjectFile(project)
	if err != nil {
		return nil, err
	}

	envName := environment
	if envName == "" {
		envName = pf.DefaultEnvironment
	}
	if envName == "" {
		return nil, fmt.Errorf("project %s: no environment given and no default_environment declared", project)
	}
	if len(pf.Environments) > 0 && !contains(pf.Environments, envName) {
		return nil, fmt.Errorf("project %s is not deployable to environment %s (declared: %s)",
			project, envName, strings.Join(pf.Environments, ", "))
	}

	env, err := l.loadEnvironment(envName)
	if err != nil {
		return nil, err
	}

	global, err := l.loadGlobalDefaults()
	if err != nil {
		return nil, err
	}

	registry, err := l.loadAddonRegistry()
	if err != nil {
		return nil, err
	}

	secrets, secretsRef, err := l.loadSecrets(project, envName)
	if err != nil {
		return nil, err
	}
	env.SecretsRef = secretsRef

	proj := &types.Project{
		Name:     project,
		Env:      env,
		LoadedAt: time.Now(),
	}

	seenAddons := make(map[string]bool)
	for i, pa := range pf.Addons {
		entry := fmt.Sprintf("projects/%s.yaml: addons[%d]", project, i)
		if seenAddons[pa.Kind] {
			return nil, &types.ConfigError{Kind: types.ConfigDuplicateKey, Path: entry + ".kind", Detail: "addon " + pa.Kind + " enabled twice"}
		}
		seenAddons[pa.Kind] = true

		def, ok := registry[pa.Kind]
		if !ok {
			return nil, &types.ConfigError{Kind: types.ConfigUnknownAddonKind, Path: entry + ".kind", Detail: "no addons/" + pa.Kind + ".yaml default file"}
		}

		inst, unit, err := l.resolveAddon(proj, env, def, &pa, global, secrets.Addons[pa.Kind], entry, len(proj.Units))
		if err != nil {
			return nil, err
		}
		proj.Addons = append(proj.Addons, inst)
		proj.Units = append(proj.Units, unit)
	}

	seenApps := make(map[string]bool)
	for i, pa := range pf.Apps {
		entry := fmt.Sprintf("projects/%s.yaml: apps[%d]", project, i)
		if seenApps[pa.Name] {
			return nil, &types.ConfigError{Kind: types.ConfigDuplicateKey, Path: entry + ".name", Detail: "app " + pa.Name + " declared twice"}
		}
		seenApps[pa.Name] = true

		app, unit, err := l.resolveApp(proj, env, &pa, global, secrets.Apps[pa.Name], opts.Version, entry, len(proj.Units))
		if err != nil {
			return nil, err
		}
		proj.Apps = append(proj.Apps, app)
		proj.Units = append(proj.Units, unit)
	}

	return proj, nil
}

// Projects lists the project names present in the configuration directory.
func (l *Loader) Projects() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(l.dir, "projects", "*.yaml"))
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, strings.TrimSuffix(filepath.Base(m), ".yaml"))
	}
	sort.Strings(names)
	return names, nil
}

func (l *Loader) loadProjectFile(project string) (*projectFile, error) {
	rel := "projects/" + project + ".yaml"
	var pf projectFile
	if err := l.readYAML(rel, &pf); err != nil {
		return nil, err
	}
	if err := l.validateStruct(rel, &pf); err != nil {
		return nil, err
	}
	if pf.Name == "" {
		pf.Name = project
	}
	return &pf, nil
}

func (l *Loader) loadEnvironment(name string) (*types.Environment, error) {
	rel := "environments/" + name + ".yaml"
	var ef environmentFile
	if err := l.readYAML(rel, &ef); err != nil {
		return nil, err
	}

	driver := types.DriverKind(ef.Driver)
	switch driver {
	case "":
		driver = types.DriverSSH
	case types.DriverSSH, types.DriverLocal:
	default:
		return nil, &types.ConfigError{Kind: types.ConfigTypeMismatch, Path: rel + ": driver", Detail: "must be ssh or local"}
	}

	env := &types.Environment{
		Name:    name,
		Subnet:  ef.Subnet,
		Driver:  driver,
		Workdir: ef.Workdir,
	}
	if env.Workdir == "" {
		env.Workdir = DefaultWorkdir
	}

	ssh := &types.SSHConfig{User: "root", Port: inventory.DefaultSSHPort, ConnectTimeout: 10 * time.Second}
	if ef.SSH != nil {
		if ef.SSH.User != "" {
			ssh.User = ef.SSH.User
		}
		if ef.SSH.Port != 0 {
			ssh.Port = ef.SSH.Port
		}
		ssh.KeyPath = ef.SSH.KeyPath
		ssh.Password = ef.SSH.Password
		ssh.KnownHostsPath = ef.SSH.KnownHosts
		ssh.InsecureIgnoreHostKey = ef.SSH.Insecure
		if ef.SSH.Timeout != "" {
			d, err := parseDuration(rel+": ssh.timeout", ef.SSH.Timeout)
			if err != nil {
				return nil, err
			}
			ssh.ConnectTimeout = d
		}
	}
	env.SSH = ssh

	if driver == types.DriverSSH {
		if ef.Inventory == "" {
			return nil, &types.ConfigError{Kind: types.ConfigMissingRequiredField, Path: rel + ": inventory", Detail: "ssh environments need a host inventory"}
		}
		inv, err := inventory.Load(filepath.Join(l.dir, ef.Inventory))
		if err != nil {
			return nil, err
		}
		env.Inventory = inv
	} else if ef.Inventory != "" {
		inv, err := inventory.Load(filepath.Join(l.dir, ef.Inventory))
		if err != nil {
			return nil, err
		}
		env.Inventory = inv
	}

	return env, nil
}

func (l *Loader) loadGlobalDefaults() (map[string]any, error) {
	rel := "defaults.yaml"
	if _, err := os.Stat(filepath.Join(l.dir, rel)); errors.Is(err, os.ErrNotExist) {
		return map[string]any{}, nil
	}
	var tree map[string]any
	if err := l.readYAML(rel, &tree); err != nil {
		return nil, err
	}
	if tree == nil {
		tree = map[string]any{}
	}
	return tree, nil
}

func (l *Loader) loadAddonRegistry() (map[string]*addonFile, error) {
	matches, err := filepath.Glob(filepath.Join(l.dir, "addons", "*.yaml"))
	if err != nil {
		return nil, err
	}

	registry := make(map[string]*addonFile, len(matches))
	for _, m := range matches {
		rel := "addons/" + filepath.Base(m)
		var af addonFile
		if err := l.readYAML(rel, &af); err != nil {
			return nil, err
		}
		if err := l.validateStruct(rel, &af); err != nil {
			return nil, err
		}
		if prev, ok := registry[af.Kind]; ok && prev != nil {
			return nil, &types.ConfigError{Kind: types.ConfigDuplicateKey, Path: rel + ": kind", Detail: "addon kind " + af.Kind + " defined by another file"}
		}
		registry[af.Kind] = &af
	}
	return registry, nil
}

// loadSecrets reads the project/environment secrets bundle. A sealed
// bundle takes precedence over a plaintext one at the same path.
func (l *Loader) loadSecrets(project, env string) (*secretsFile, string, error) {
	rel := fmt.Sprintf("secrets/%s/%s.yaml", project, env)
	sealedRel := rel + SealedExt

	var raw []byte
	ref := ""
	if b, err := os.ReadFile(filepath.Join(l.dir, sealedRel)); err == nil {
		if len(l.masterKey) == 0 {
			return nil, "", fmt.Errorf("%s exists but no master key is configured (set %s)", sealedRel, MasterKeyEnv)
		}
		plain, err := OpenBundle(b, l.masterKey)
		if err != nil {
			return nil, "", fmt.Errorf("open %s: %w", sealedRel, err)
		}
		raw, ref = plain, sealedRel
	} else if b, err := os.ReadFile(filepath.Join(l.dir, rel)); err == nil {
		raw, ref = b, rel
	} else {
		return &secretsFile{}, "", nil
	}

	var sf secretsFile
	if err := yaml.Unmarshal(raw, &sf); err != nil {
		return nil, "", yamlConfigError(ref, err)
	}
	return &sf, ref, nil
}

func (l *Loader) resolveAddon(proj *types.Project, env *types.Environment, def *addonFile, pa *projectAddon, global map[string]any, secrets map[string]any, path string, declIndex int) (*types.AddonInstance, *types.Unit, error) {
	merged := Merge(global, def.Config, pa.Config, secrets)

	image, err := requireString(merged, "image", path)
	if err != nil {
		return nil, nil, err
	}
	port, err := requirePort(merged, path)
	if err != nil {
		return nil, nil, err
	}

	hash, err := Hash(merged)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}

	dependsOn := def.DependsOn
	if len(pa.DependsOn) > 0 {
		dependsOn = pa.DependsOn
	}

	role := firstNonEmpty(pa.TargetRole, def.TargetRole, DefaultTargetRole)
	target, err := l.placeUnit(env, role, path)
	if err != nil {
		return nil, nil, err
	}

	hs := def.Health
	if pa.Health != nil {
		hs = pa.Health
	}
	health, err := healthFromSpec(path, hs)
	if err != nil {
		return nil, nil, err
	}

	inst := &types.AddonInstance{
		Kind:       pa.Kind,
		Project:    proj.Name,
		Config:     merged,
		ConfigHash: hash,
		DependsOn:  dependsOn,
		Template:   def.Template,
		Target:     target,
	}
	unit := &types.Unit{
		ID:          types.UnitID(types.UnitAddon, pa.Kind),
		Kind:        types.UnitAddon,
		Name:        pa.Kind,
		Project:     proj.Name,
		Environment: env.Name,
		Image:       image,
		Version:     versionFrom(merged),
		Port:        port,
		TargetRole:  role,
		Target:      target,
		DependsOn:   unitDeps(dependsOn),
		Config:      merged,
		ConfigHash:  hash,
		Template:    def.Template,
		Health:      health,
		DeclIndex:   declIndex,
	}
	return inst, unit, nil
}

func (l *Loader) resolveApp(proj *types.Project, env *types.Environment, pa *projectApp, global map[string]any, secrets map[string]any, versionOverride string, path string, declIndex int) (*types.AppDefinition, *types.Unit, error) {
	// Structured fields become tree keys so the hash covers them and the
	// renderer reads a single source. The config block may override them.
	seed := map[string]any{"image": pa.Image, "port": pa.Port}
	merged := Merge(global, seed, pa.Config, secrets)
	if versionOverride != "" {
		merged["version"] = versionOverride
	}

	image, err := requireString(merged, "image", path)
	if err != nil {
		return nil, nil, err
	}
	port, err := requirePort(merged, path)
	if err != nil {
		return nil, nil, err
	}

	hash, err := Hash(merged)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}

	role := firstNonEmpty(pa.TargetRole, DefaultTargetRole)
	target, err := l.placeUnit(env, role, path)
	if err != nil {
		return nil, nil, err
	}

	health, err := healthFromSpec(path, pa.Health)
	if err != nil {
		return nil, nil, err
	}

	app := &types.AppDefinition{
		Name:       pa.Name,
		Project:    proj.Name,
		Image:      image,
		Port:       port,
		TargetRole: role,
		DependsOn:  pa.DependsOn,
		Config:     merged,
		ConfigHash: hash,
		Template:   pa.Template,
		Health:     health,
		Target:     target,
	}
	unit := &types.Unit{
		ID:          types.UnitID(types.UnitApp, pa.Name),
		Kind:        types.UnitApp,
		Name:        pa.Name,
		Project:     proj.Name,
		Environment: env.Name,
		Image:       image,
		Version:     versionFrom(merged),
		Port:        port,
		TargetRole:  role,
		Target:      target,
		DependsOn:   unitDeps(pa.DependsOn),
		Config:      merged,
		ConfigHash:  hash,
		Template:    pa.Template,
		Health:      health,
		DeclIndex:   declIndex,
	}
	return app, unit, nil
}

// placeUnit resolves a target role to the endpoint a unit deploys to.
// Units are placed on the first endpoint of their role.
func (l *Loader) placeUnit(env *types.Environment, role, path string) (types.Endpoint, error) {
	if env.Driver == types.DriverLocal {
		return types.Endpoint{Role: role}, nil
	}
	ep, ok := env.Inventory.First(role)
	if !ok {
		return types.Endpoint{}, &types.ConfigError{
			Kind:   types.ConfigMissingRequiredField,
			Path:   fmt.Sprintf("inventory for %s: roles.%s", env.Name, role),
			Detail: "role has no endpoints (required by " + path + ")",
		}
	}
	if ep.User == "" {
		ep.User = env.SSH.User
	}
	return ep, nil
}

func (l *Loader) readYAML(rel string, out any) error {
	b, err := os.ReadFile(filepath.Join(l.dir, rel))
	if err != nil {
		return fmt.Errorf("read %s: %w", rel, err)
	}
	if err := yaml.Unmarshal(b, out); err != nil {
		return yamlConfigError(rel, err)
	}
	return nil
}

func (l *Loader) validateStruct(rel string, v any) error {
	err := l.validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		kind := types.ConfigTypeMismatch
		if fe.Tag() == "required" {
			kind = types.ConfigMissingRequiredField
		}
		return &types.ConfigError{
			Kind:   kind,
			Path:   rel + ": " + fieldPath(fe),
			Detail: "failed " + fe.Tag() + " validation",
		}
	}
	return fmt.Errorf("validate %s: %w", rel, err)
}

// yamlConfigError classifies yaml decode failures into the ConfigError
// taxonomy where the shape of the failure allows it. Duplicate mapping
// keys surface inside yaml.TypeError, so they are checked first.
func yamlConfigError(rel string, err error) error {
	var te *yaml.TypeError
	if errors.As(err, &te) {
		detail := strings.Join(te.Errors, "; ")
		kind := types.ConfigTypeMismatch
		if strings.Contains(detail, "already defined") {
			kind = types.ConfigDuplicateKey
		}
		return &types.ConfigError{Kind: kind, Path: rel, Detail: detail}
	}
	if strings.Contains(err.Error(), "already defined") {
		return &types.ConfigError{Kind: types.ConfigDuplicateKey, Path: rel, Detail: err.Error()}
	}
	return fmt.Errorf("parse %s: %w", rel, err)
}

func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		ns = ns[i+1:]
	}
	return ns
}

func requireString(tree map[string]any, key, path string) (string, error) {
	v, ok := tree[key]
	if !ok || v == nil {
		return "", &types.ConfigError{Kind: types.ConfigMissingRequiredField, Path: path + "." + key}
	}
	s, ok := v.(string)
	if !ok {
		return "", &types.ConfigError{Kind: types.ConfigTypeMismatch, Path: path + "." + key, Detail: fmt.Sprintf("expected string, got %T", v)}
	}
	if s == "" {
		return "", &types.ConfigError{Kind: types.ConfigMissingRequiredField, Path: path + "." + key}
	}
	return s, nil
}

func requirePort(tree map[string]any, path string) (int, error) {
	v, ok := tree["port"]
	if !ok || v == nil {
		return 0, &types.ConfigError{Kind: types.ConfigMissingRequiredField, Path: path + ".port"}
	}
	var port int
	switch n := v.(type) {
	case int:
		port = n
	case int64:
		port = int(n)
	default:
		return 0, &types.ConfigError{Kind: types.ConfigTypeMismatch, Path: path + ".port", Detail: fmt.Sprintf("expected integer, got %T", v)}
	}
	if port <= 0 || port > 65535 {
		return 0, &types.ConfigError{Kind: types.ConfigTypeMismatch, Path: path + ".port", Detail: fmt.Sprintf("port %d out of range", port)}
	}
	return port, nil
}

func healthFromSpec(path string, hs *healthSpec) (*types.HealthCheck, error) {
	if hs == nil {
		return nil, nil
	}

	hc := &types.HealthCheck{
		Type:        types.ProbeType(hs.Type),
		Path:        hs.Path,
		Port:        hs.Port,
		Command:     hs.Command,
		MaxAttempts: hs.MaxAttempts,
		Policy:      types.RetryPolicy(hs.Policy),
	}
	switch hc.Type {
	case "", types.ProbeHTTP, types.ProbeTCP, types.ProbeExec:
	default:
		return nil, &types.ConfigError{Kind: types.ConfigTypeMismatch, Path: path + ".health.type", Detail: "must be http, tcp or exec"}
	}
	switch hc.Policy {
	case "", types.RetryFixed, types.RetryExponential:
	default:
		return nil, &types.ConfigError{Kind: types.ConfigTypeMismatch, Path: path + ".health.policy", Detail: "must be fixed or exponential"}
	}

	var err error
	if hc.Interval, err = parseDuration(path+".health.interval", hs.Interval); err != nil {
		return nil, err
	}
	if hc.Timeout, err = parseDuration(path+".health.timeout", hs.Timeout); err != nil {
		return nil, err
	}
	if hc.StartPeriod, err = parseDuration(path+".health.start_period", hs.StartPeriod); err != nil {
		return nil, err
	}
	return hc, nil
}

func parseDuration(path, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, &types.ConfigError{Kind: types.ConfigTypeMismatch, Path: path, Detail: err.Error()}
	}
	return d, nil
}

func versionFrom(tree map[string]any) string {
	if v, ok := tree["version"]; ok {
		switch tv := v.(type) {
		case string:
			return tv
		case int:
			return fmt.Sprintf("%d", tv)
		case float64:
			return fmt.Sprintf("%g", tv)
		}
	}
	return "latest"
}

// unitDeps maps declared addon-kind dependencies to unit IDs. Entries
// already in unit form ("addon/x", "app/y") pass through.
func unitDeps(deps []string) []string {
	if len(deps) == 0 {
		return nil
	}
	out := make([]string, len(deps))
	for i, d := range deps {
		if strings.Contains(d, "/") {
			out[i] = d
			continue
		}
		out[i] = types.UnitID(types.UnitAddon, d)
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
