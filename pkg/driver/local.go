package driver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/errdefs"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	"github.com/google/uuid"
	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/cfkarakulak/superdeploy/pkg/log"
	"github.com/cfkarakulak/superdeploy/pkg/types"
)

const (
	// DefaultContainerdSocket is the default containerd socket
	DefaultContainerdSocket = "/run/containerd/containerd.sock"

	// DefaultNamespace is the containerd namespace for superdeploy
	DefaultNamespace = "superdeploy"

	// DefaultVolumeRoot is where named volumes live on the local host
	DefaultVolumeRoot = "/var/lib/superdeploy/volumes"

	stopGracePeriod = 10 * time.Second
)

// Container labels carrying deployment identity
const (
	labelProject    = "superdeploy.project"
	labelUnit       = "superdeploy.unit"
	labelConfigHash = "superdeploy.config-hash"
)

// LocalDriver runs units as containers on the local containerd daemon.
// It exists for development environments; containers join the host
// network namespace so health probes reach them on 127.0.0.1.
type LocalDriver struct {
	client     *containerd.Client
	namespace  string
	volumeRoot string
}

// NewLocalDriver connects to containerd at socketPath.
func NewLocalDriver(socketPath, namespace string) (*LocalDriver, error) {
	if socketPath == "" {
		socketPath = DefaultContainerdSocket
	}
	if namespace == "" {
		namespace = DefaultNamespace
	}

	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to containerd: %w", err)
	}

	return &LocalDriver{
		client:     client,
		namespace:  namespace,
		volumeRoot: DefaultVolumeRoot,
	}, nil
}

// Close closes the containerd client connection
func (d *LocalDriver) Close() error {
	if d.client != nil {
		return d.client.Close()
	}
	return nil
}

// Apply creates or replaces the unit's container. A container whose
// config-hash label already matches the artifact is left untouched.
func (d *LocalDriver) Apply(ctx context.Context, artifact *types.Artifact) (types.Outcome, error) {
	ctx = namespaces.WithNamespace(ctx, d.namespace)
	ref := artifact.Ref
	id := artifact.Spec.Name

	outcome := types.OutcomeCreated
	if container, err := d.client.LoadContainer(ctx, id); err == nil {
		labels, err := container.Labels(ctx)
		if err != nil {
			return "", d.applyErr(ref, "read container labels", err)
		}
		if unit := labels[labelUnit]; unit != "" && unit != ref.UnitID {
			return "", &types.DriverError{
				Kind: types.DriverConflictingState, Unit: ref.UnitID, Host: "local",
				Detail: fmt.Sprintf("container %s belongs to unit %s", id, unit),
			}
		}
		if labels[labelConfigHash] == artifact.ConfigHash {
			logger := log.WithUnit(ref.UnitID)
			logger.Debug().Str("hash", artifact.ConfigHash).Msg("Deployed hash matches, nothing to apply")
			return types.OutcomeUnchanged, nil
		}
		if err := d.teardown(ctx, container); err != nil {
			return "", d.applyErr(ref, "replace container", err)
		}
		outcome = types.OutcomeUpdated
	} else if !errdefs.IsNotFound(err) {
		return "", d.applyErr(ref, "load container", err)
	}

	image, err := d.client.Pull(ctx, normalizeImageRef(artifact.Spec.Image), containerd.WithPullUnpack)
	if err != nil {
		return "", d.applyErr(ref, "pull image "+artifact.Spec.Image, err)
	}

	mounts, err := d.bindMounts(ref.Project, artifact.Spec.Volumes)
	if err != nil {
		return "", d.applyErr(ref, "prepare volumes", err)
	}

	opts := []oci.SpecOpts{
		oci.WithImageConfig(image),
		oci.WithEnv(artifact.Spec.Env),
		oci.WithHostNamespace(specs.NetworkNamespace),
	}
	if len(mounts) > 0 {
		opts = append(opts, oci.WithMounts(mounts))
	}

	container, err := d.client.NewContainer(
		ctx,
		id,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(id+"-snapshot", image),
		containerd.WithNewSpec(opts...),
		containerd.WithContainerLabels(map[string]string{
			labelProject:    ref.Project,
			labelUnit:       ref.UnitID,
			labelConfigHash: artifact.ConfigHash,
		}),
	)
	if err != nil {
		return "", d.applyErr(ref, "create container", err)
	}

	task, err := container.NewTask(ctx, cio.NullIO)
	if err != nil {
		_ = container.Delete(ctx, containerd.WithSnapshotCleanup)
		return "", d.applyErr(ref, "create task", err)
	}
	if err := task.Start(ctx); err != nil {
		_, _ = task.Delete(ctx)
		_ = container.Delete(ctx, containerd.WithSnapshotCleanup)
		return "", d.applyErr(ref, "start task", err)
	}

	logger := log.WithUnit(ref.UnitID)
	logger.Info().
		Str("container", id).
		Str("outcome", string(outcome)).
		Str("hash", artifact.ConfigHash).
		Msg("Unit applied")
	return outcome, nil
}

// CurrentHash reads the deployed config hash from the container labels.
func (d *LocalDriver) CurrentHash(ctx context.Context, ref types.UnitRef) (string, error) {
	ctx = namespaces.WithNamespace(ctx, d.namespace)

	container, err := d.client.LoadContainer(ctx, containerName(ref))
	if err != nil {
		if errdefs.IsNotFound(err) {
			return "", types.ErrHashAbsent
		}
		return "", d.applyErr(ref, "load container", err)
	}

	labels, err := container.Labels(ctx)
	if err != nil {
		return "", d.applyErr(ref, "read container labels", err)
	}
	if unit := labels[labelUnit]; unit != "" && unit != ref.UnitID {
		return "", &types.DriverError{
			Kind: types.DriverConflictingState, Unit: ref.UnitID, Host: "local",
			Detail: fmt.Sprintf("container belongs to unit %s", unit),
		}
	}
	hash := labels[labelConfigHash]
	if hash == "" {
		return "", types.ErrHashAbsent
	}
	return hash, nil
}

// Stop removes the unit's container and snapshot. A missing container is
// not an error.
func (d *LocalDriver) Stop(ctx context.Context, ref types.UnitRef) error {
	ctx = namespaces.WithNamespace(ctx, d.namespace)

	container, err := d.client.LoadContainer(ctx, containerName(ref))
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil
		}
		return d.applyErr(ref, "load container", err)
	}

	if err := d.teardown(ctx, container); err != nil {
		return d.applyErr(ref, "stop container", err)
	}
	logger := log.WithUnit(ref.UnitID)
	logger.Info().Msg("Unit stopped")
	return nil
}

// RunCommand executes a command inside the unit's container, enabling
// exec health probes against local deployments.
func (d *LocalDriver) RunCommand(ctx context.Context, ref types.UnitRef, command []string) (string, error) {
	ctx = namespaces.WithNamespace(ctx, d.namespace)

	container, err := d.client.LoadContainer(ctx, containerName(ref))
	if err != nil {
		return "", fmt.Errorf("load container: %w", err)
	}
	task, err := container.Task(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("container is not running: %w", err)
	}
	spec, err := container.Spec(ctx)
	if err != nil {
		return "", fmt.Errorf("read container spec: %w", err)
	}

	pspec := spec.Process
	pspec.Args = command

	var buf bytes.Buffer
	process, err := task.Exec(ctx, "probe-"+uuid.NewString()[:8], pspec, cio.NewCreator(cio.WithStreams(nil, &buf, &buf)))
	if err != nil {
		return "", fmt.Errorf("exec: %w", err)
	}
	defer process.Delete(context.WithoutCancel(ctx))

	statusC, err := process.Wait(ctx)
	if err != nil {
		return "", fmt.Errorf("wait: %w", err)
	}
	if err := process.Start(ctx); err != nil {
		return "", fmt.Errorf("start exec: %w", err)
	}

	select {
	case <-ctx.Done():
		_ = process.Kill(context.WithoutCancel(ctx), syscall.SIGKILL)
		return "", ctx.Err()
	case status := <-statusC:
		process.IO().Wait()
		code, _, err := status.Result()
		if err != nil {
			return buf.String(), err
		}
		if code != 0 {
			return buf.String(), fmt.Errorf("exit status %d", code)
		}
		return buf.String(), nil
	}
}

// teardown stops the container's task if one is running, then deletes
// the container with its snapshot.
func (d *LocalDriver) teardown(ctx context.Context, container containerd.Container) error {
	task, err := container.Task(ctx, nil)
	if err == nil {
		statusC, err := task.Wait(ctx)
		if err != nil {
			return fmt.Errorf("failed to wait for task: %w", err)
		}

		stopCtx, cancel := context.WithTimeout(ctx, stopGracePeriod)
		defer cancel()

		// Try graceful shutdown first, escalate after the grace period
		if err := task.Kill(stopCtx, syscall.SIGTERM); err != nil && !errdefs.IsNotFound(err) {
			return fmt.Errorf("failed to kill task: %w", err)
		}
		select {
		case <-statusC:
		case <-stopCtx.Done():
			if err := task.Kill(ctx, syscall.SIGKILL); err != nil && !errdefs.IsNotFound(err) {
				return fmt.Errorf("failed to force kill task: %w", err)
			}
			<-statusC
		}

		if _, err := task.Delete(ctx); err != nil {
			return fmt.Errorf("failed to delete task: %w", err)
		}
	}

	if err := container.Delete(ctx, containerd.WithSnapshotCleanup); err != nil {
		return fmt.Errorf("failed to delete container: %w", err)
	}
	return nil
}

// bindMounts converts volume mounts to OCI bind mounts. Named volumes
// are backed by directories under the volume root, created on demand.
func (d *LocalDriver) bindMounts(project string, volumes []types.VolumeMount) ([]specs.Mount, error) {
	mounts := make([]specs.Mount, 0, len(volumes))
	for _, v := range volumes {
		source := v.Source
		if !strings.HasPrefix(source, "/") && !strings.HasPrefix(source, ".") {
			source = filepath.Join(d.volumeRoot, project, source)
			if err := os.MkdirAll(source, 0o755); err != nil {
				return nil, fmt.Errorf("create volume dir %s: %w", source, err)
			}
		}
		options := []string{"bind"}
		if v.ReadOnly {
			options = []string{"ro", "bind"}
		}
		mounts = append(mounts, specs.Mount{
			Source:      source,
			Destination: v.Destination,
			Type:        "bind",
			Options:     options,
		})
	}
	return mounts, nil
}

func (d *LocalDriver) applyErr(ref types.UnitRef, detail string, err error) error {
	kind := types.DriverApplyFailed
	if errors.Is(err, context.DeadlineExceeded) {
		kind = types.DriverApplyTimeout
	}
	return &types.DriverError{Kind: kind, Unit: ref.UnitID, Host: "local", Detail: detail, Err: err}
}

// normalizeImageRef qualifies docker-style short names. containerd
// requires fully qualified references, so "postgres:16.3" becomes
// "docker.io/library/postgres:16.3".
func normalizeImageRef(ref string) string {
	first := ref
	if i := strings.Index(ref, "/"); i >= 0 {
		first = ref[:i]
	} else {
		return "docker.io/library/" + ref
	}
	if strings.ContainsAny(first, ".:") || first == "localhost" {
		return ref
	}
	return "docker.io/" + ref
}
