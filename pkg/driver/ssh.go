package driver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"
	"sync"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/cfkarakulak/superdeploy/pkg/log"
	"github.com/cfkarakulak/superdeploy/pkg/types"
)

// Remote file names inside a unit's directory
const (
	unitFileName   = "unit.yaml"
	markerFileName = ".hash"
)

// SSHDriver deploys units to remote hosts over SSH. Artifacts upload via
// SFTP into <workdir>/<project>/<unit>/ and come up with docker compose.
// A marker file next to the artifact records the deployed config hash so
// applies can short-circuit without diffing file content.
type SSHDriver struct {
	cfg     *types.SSHConfig
	workdir string

	mu      sync.Mutex
	clients map[string]*ssh.Client // keyed by host:port
}

// NewSSHDriver creates a driver for remote hosts. Connections are dialed
// lazily per host and reused across units.
func NewSSHDriver(cfg *types.SSHConfig, workdir string) *SSHDriver {
	return &SSHDriver{
		cfg:     cfg,
		workdir: workdir,
		clients: make(map[string]*ssh.Client),
	}
}

// Apply uploads the artifact and brings the unit up on its target.
func (d *SSHDriver) Apply(ctx context.Context, artifact *types.Artifact) (types.Outcome, error) {
	ref := artifact.Ref
	logger := log.WithUnit(ref.UnitID)

	client, err := d.dial(ctx, ref.Target)
	if err != nil {
		return "", unreachable(ref, err)
	}

	dir := d.unitDir(ref)
	markerPath := path.Join(dir, markerFileName)

	outcome := types.OutcomeCreated
	if raw, err := d.readFile(client, markerPath); err == nil {
		unitID, hash, err := parseMarker(raw)
		if err != nil || unitID != ref.UnitID {
			return "", &types.DriverError{
				Kind: types.DriverConflictingState, Unit: ref.UnitID, Host: ref.Target.Host,
				Detail: fmt.Sprintf("foreign deployment marker at %s", markerPath),
			}
		}
		if hash == artifact.ConfigHash {
			logger.Debug().Str("hash", hash).Msg("Deployed hash matches, nothing to apply")
			return types.OutcomeUnchanged, nil
		}
		outcome = types.OutcomeUpdated
	}

	if err := d.upload(client, path.Join(dir, unitFileName), artifact.Content, 0o644); err != nil {
		return "", applyFailed(ref, "upload artifact", err)
	}

	up := fmt.Sprintf("docker compose -p %s -f %s up -d --remove-orphans",
		composeProject(ref), shellQuote(path.Join(dir, unitFileName)))
	if _, stderr, err := d.run(ctx, client, up); err != nil {
		if ctx.Err() != nil {
			return "", timedOut(ref, "compose up", err)
		}
		return "", applyFailed(ref, "compose up: "+stderr, err)
	}

	marker := []byte(ref.UnitID + " " + artifact.ConfigHash + "\n")
	if err := d.upload(client, markerPath, marker, 0o644); err != nil {
		return "", applyFailed(ref, "write deployment marker", err)
	}

	logger.Info().
		Str("host", ref.Target.Host).
		Str("outcome", string(outcome)).
		Str("hash", artifact.ConfigHash).
		Msg("Unit applied")
	return outcome, nil
}

// CurrentHash reads the deployed config hash from the unit's marker.
func (d *SSHDriver) CurrentHash(ctx context.Context, ref types.UnitRef) (string, error) {
	client, err := d.dial(ctx, ref.Target)
	if err != nil {
		return "", unreachable(ref, err)
	}

	raw, err := d.readFile(client, path.Join(d.unitDir(ref), markerFileName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", types.ErrHashAbsent
		}
		return "", applyFailed(ref, "read deployment marker", err)
	}

	unitID, hash, err := parseMarker(raw)
	if err != nil || unitID != ref.UnitID {
		return "", &types.DriverError{
			Kind: types.DriverConflictingState, Unit: ref.UnitID, Host: ref.Target.Host,
			Detail: "foreign deployment marker",
		}
	}
	return hash, nil
}

// Stop brings the unit down and removes its directory.
func (d *SSHDriver) Stop(ctx context.Context, ref types.UnitRef) error {
	client, err := d.dial(ctx, ref.Target)
	if err != nil {
		return unreachable(ref, err)
	}

	dir := d.unitDir(ref)
	unitPath := path.Join(dir, unitFileName)
	if _, err := d.readFile(client, unitPath); errors.Is(err, os.ErrNotExist) {
		return nil
	}

	down := fmt.Sprintf("docker compose -p %s -f %s down --remove-orphans",
		composeProject(ref), shellQuote(unitPath))
	if _, stderr, err := d.run(ctx, client, down); err != nil {
		if ctx.Err() != nil {
			return timedOut(ref, "compose down", err)
		}
		return applyFailed(ref, "compose down: "+stderr, err)
	}

	if err := d.removeDir(client, dir); err != nil {
		return applyFailed(ref, "remove unit directory", err)
	}
	logger := log.WithUnit(ref.UnitID)
	logger.Info().Str("host", ref.Target.Host).Msg("Unit stopped")
	return nil
}

// RunCommand executes a command inside the unit's container, enabling
// exec health probes over SSH.
func (d *SSHDriver) RunCommand(ctx context.Context, ref types.UnitRef, command []string) (string, error) {
	client, err := d.dial(ctx, ref.Target)
	if err != nil {
		return "", unreachable(ref, err)
	}

	quoted := make([]string, len(command))
	for i, arg := range command {
		quoted[i] = shellQuote(arg)
	}
	cmd := "docker exec " + containerName(ref) + " " + strings.Join(quoted, " ")

	stdout, stderr, err := d.run(ctx, client, cmd)
	if err != nil {
		if stderr != "" {
			return stderr, err
		}
		return stdout, err
	}
	return stdout, nil
}

// Close tears down all pooled connections.
func (d *SSHDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var firstErr error
	for addr, client := range d.clients {
		if err := client.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(d.clients, addr)
	}
	return firstErr
}

// dial returns a pooled connection to the endpoint, establishing one on
// first use.
func (d *SSHDriver) dial(ctx context.Context, ep types.Endpoint) (*ssh.Client, error) {
	addr := ep.Address()

	d.mu.Lock()
	if client, ok := d.clients[addr]; ok {
		d.mu.Unlock()
		return client, nil
	}
	d.mu.Unlock()

	clientConfig, err := d.clientConfig(ep)
	if err != nil {
		return nil, err
	}

	// ssh.Dial has no context variant; run it aside and race the context
	type dialResult struct {
		client *ssh.Client
		err    error
	}
	ch := make(chan dialResult, 1)
	go func() {
		client, err := ssh.Dial("tcp", addr, clientConfig)
		ch <- dialResult{client, err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.client != nil {
				r.client.Close()
			}
		}()
		return nil, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		d.mu.Lock()
		if existing, ok := d.clients[addr]; ok {
			d.mu.Unlock()
			r.client.Close()
			return existing, nil
		}
		d.clients[addr] = r.client
		d.mu.Unlock()
		logger := log.WithComponent("driver")
		logger.Debug().Str("address", addr).Msg("SSH connection established")
		return r.client, nil
	}
}

func (d *SSHDriver) clientConfig(ep types.Endpoint) (*ssh.ClientConfig, error) {
	user := ep.User
	if user == "" {
		user = d.cfg.User
	}

	var auth []ssh.AuthMethod
	if d.cfg.KeyPath != "" {
		keyBytes, err := os.ReadFile(d.cfg.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("read ssh key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(keyBytes)
		if err != nil {
			return nil, fmt.Errorf("parse ssh key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if d.cfg.Password != "" {
		auth = append(auth, ssh.Password(d.cfg.Password))
	}
	if len(auth) == 0 {
		return nil, fmt.Errorf("ssh config for %s has neither key_path nor password", ep.Host)
	}

	hostKeys := ssh.InsecureIgnoreHostKey() //nolint:gosec // explicit opt-in below
	if !d.cfg.InsecureIgnoreHostKey {
		if d.cfg.KnownHostsPath == "" {
			return nil, fmt.Errorf("ssh host key checking enabled but no known_hosts configured")
		}
		callback, err := knownhosts.New(d.cfg.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("load known_hosts: %w", err)
		}
		hostKeys = callback
	}

	return &ssh.ClientConfig{
		User:            user,
		Auth:            auth,
		HostKeyCallback: hostKeys,
		Timeout:         d.cfg.ConnectTimeout,
	}, nil
}

// run executes a shell command on the remote host, capturing output.
func (d *SSHDriver) run(ctx context.Context, client *ssh.Client, cmd string) (string, string, error) {
	session, err := client.NewSession()
	if err != nil {
		return "", "", fmt.Errorf("open session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() {
		done <- session.Run(cmd)
	}()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		return strings.TrimSpace(stdout.String()), strings.TrimSpace(stderr.String()), ctx.Err()
	case err := <-done:
		return strings.TrimSpace(stdout.String()), strings.TrimSpace(stderr.String()), err
	}
}

// unitDir is where a unit's files live on the remote host. Unit IDs
// contain a slash, which becomes a dash on disk.
func (d *SSHDriver) unitDir(ref types.UnitRef) string {
	return path.Join(d.workdir, ref.Project, unitDirName(ref.UnitID))
}

func unitDirName(unitID string) string {
	return strings.ReplaceAll(unitID, "/", "-")
}

// composeProject names the compose project for a unit. Each unit is its
// own compose project; units share a network by explicit name instead.
func composeProject(ref types.UnitRef) string {
	return ref.Project + "-" + unitDirName(ref.UnitID)
}

// containerName matches the container_name the templates render.
func containerName(ref types.UnitRef) string {
	name := ref.UnitID
	if i := strings.Index(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return ref.Project + "-" + name
}

// parseMarker splits "<unitID> <configHash>" marker content.
func parseMarker(raw []byte) (string, string, error) {
	fields := strings.Fields(string(raw))
	if len(fields) != 2 {
		return "", "", fmt.Errorf("malformed deployment marker")
	}
	return fields[0], fields[1], nil
}

// shellQuote wraps s in single quotes for safe interpolation into a
// remote shell command.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func unreachable(ref types.UnitRef, err error) error {
	return &types.DriverError{
		Kind: types.DriverHostUnreachable, Unit: ref.UnitID, Host: ref.Target.Host,
		Detail: "ssh dial failed", Err: err,
	}
}

func timedOut(ref types.UnitRef, op string, err error) error {
	return &types.DriverError{
		Kind: types.DriverApplyTimeout, Unit: ref.UnitID, Host: ref.Target.Host,
		Detail: op, Err: err,
	}
}

func applyFailed(ref types.UnitRef, detail string, err error) error {
	return &types.DriverError{
		Kind: types.DriverApplyFailed, Unit: ref.UnitID, Host: ref.Target.Host,
		Detail: detail, Err: err,
	}
}
