package render

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/cfkarakulak/superdeploy/pkg/types"
)

// DefaultRestart is the restart policy applied when the configuration
// tree does not set one.
const DefaultRestart = "unless-stopped"

// BuildSpec projects a unit's resolved configuration tree onto the
// structured service definition the templates and drivers consume. The
// projection is deterministic: environment variables come out sorted by
// name and list entries keep their configured order.
func BuildSpec(u *types.Unit) (types.ServiceSpec, error) {
	spec := types.ServiceSpec{
		Name:    u.Project + "-" + u.Name,
		Image:   u.Image + ":" + u.Version,
		Network: u.Project + "-net",
		Restart: DefaultRestart,
	}

	if restart, ok := u.Config["restart"].(string); ok && restart != "" {
		spec.Restart = restart
	}

	if env, ok := u.Config["env"].(map[string]any); ok {
		names := make([]string, 0, len(env))
		for name := range env {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			spec.Env = append(spec.Env, name+"="+stringify(env[name]))
		}
	}

	if raw, ok := u.Config["ports"]; ok {
		entries, ok := raw.([]any)
		if !ok {
			return spec, specError(u, "ports", fmt.Sprintf("expected list, got %T", raw))
		}
		for i, entry := range entries {
			pm, err := parsePortEntry(entry)
			if err != nil {
				return spec, specError(u, fmt.Sprintf("ports[%d]", i), err.Error())
			}
			spec.Ports = append(spec.Ports, pm)
		}
	} else if u.Port > 0 {
		spec.Ports = []types.PortMapping{{HostPort: u.Port, ContainerPort: u.Port, Protocol: "tcp"}}
	}

	if raw, ok := u.Config["volumes"]; ok {
		entries, ok := raw.([]any)
		if !ok {
			return spec, specError(u, "volumes", fmt.Sprintf("expected list, got %T", raw))
		}
		for i, entry := range entries {
			vm, err := parseVolumeEntry(entry)
			if err != nil {
				return spec, specError(u, fmt.Sprintf("volumes[%d]", i), err.Error())
			}
			spec.Volumes = append(spec.Volumes, vm)
		}
	}

	return spec, nil
}

// namedVolumes returns the named (non-bind) volume sources of a spec,
// sorted and deduplicated. Compose files must declare these at top level.
func namedVolumes(spec types.ServiceSpec) []string {
	seen := make(map[string]bool)
	var names []string
	for _, v := range spec.Volumes {
		if strings.HasPrefix(v.Source, "/") || strings.HasPrefix(v.Source, ".") {
			continue
		}
		if !seen[v.Source] {
			seen[v.Source] = true
			names = append(names, v.Source)
		}
	}
	sort.Strings(names)
	return names
}

func specError(u *types.Unit, key, detail string) error {
	return &types.ConfigError{
		Kind:   types.ConfigTypeMismatch,
		Path:   u.ID + ": " + key,
		Detail: detail,
	}
}

// parsePortEntry accepts "8080", "8080:80", "53:53/udp" or a bare
// integer, which maps the same port on host and container.
func parsePortEntry(entry any) (types.PortMapping, error) {
	switch v := entry.(type) {
	case int:
		return types.PortMapping{HostPort: v, ContainerPort: v, Protocol: "tcp"}, nil
	case string:
		proto := "tcp"
		spec := v
		if i := strings.Index(spec, "/"); i >= 0 {
			proto = spec[i+1:]
			spec = spec[:i]
		}
		if proto != "tcp" && proto != "udp" {
			return types.PortMapping{}, fmt.Errorf("unknown protocol %q", proto)
		}

		parts := strings.Split(spec, ":")
		if len(parts) > 2 {
			return types.PortMapping{}, fmt.Errorf("malformed port %q", v)
		}
		host, err := parsePortNumber(parts[0])
		if err != nil {
			return types.PortMapping{}, err
		}
		container := host
		if len(parts) == 2 {
			if container, err = parsePortNumber(parts[1]); err != nil {
				return types.PortMapping{}, err
			}
		}
		return types.PortMapping{HostPort: host, ContainerPort: container, Protocol: proto}, nil
	default:
		return types.PortMapping{}, fmt.Errorf("expected string or integer, got %T", entry)
	}
}

func parsePortNumber(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("not a port number: %q", s)
	}
	if n <= 0 || n > 65535 {
		return 0, fmt.Errorf("port %d out of range", n)
	}
	return n, nil
}

// parseVolumeEntry accepts "source:destination" with an optional ":ro"
// suffix. Sources starting with "/" or "." are bind mounts; anything else
// is a named volume.
func parseVolumeEntry(entry any) (types.VolumeMount, error) {
	s, ok := entry.(string)
	if !ok {
		return types.VolumeMount{}, fmt.Errorf("expected string, got %T", entry)
	}
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return types.VolumeMount{}, fmt.Errorf("malformed volume %q", s)
	}
	vm := types.VolumeMount{Source: parts[0], Destination: parts[1]}
	if vm.Source == "" || vm.Destination == "" {
		return types.VolumeMount{}, fmt.Errorf("malformed volume %q", s)
	}
	if len(parts) == 3 {
		if parts[2] != "ro" {
			return types.VolumeMount{}, fmt.Errorf("unknown volume option %q", parts[2])
		}
		vm.ReadOnly = true
	}
	return vm, nil
}

func stringify(v any) string {
	switch tv := v.(type) {
	case string:
		return tv
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", tv)
	}
}
