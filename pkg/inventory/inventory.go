// Package inventory parses host inventory files produced by the
// provisioning collaborator. An inventory maps logical role names to host
// endpoints and is consumed read-only; superdeploy never mutates it.
package inventory

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/cfkarakulak/superdeploy/pkg/types"
)

// DefaultSSHPort is assumed for endpoints that do not declare one.
const DefaultSSHPort = 22

type inventoryFile struct {
	Roles map[string][]endpointEntry `yaml:"roles"`
}

type endpointEntry struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	User string `yaml:"user"`
}

// Load reads an inventory file and returns the role to endpoint mapping.
func Load(path string) (*types.Inventory, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read inventory: %w", err)
	}
	return Parse(b)
}

// Parse decodes inventory YAML.
func Parse(b []byte) (*types.Inventory, error) {
	var f inventoryFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse inventory: %w", err)
	}

	inv := &types.Inventory{Roles: make(map[string][]types.Endpoint, len(f.Roles))}
	for role, entries := range f.Roles {
		eps := make([]types.Endpoint, 0, len(entries))
		for i, e := range entries {
			if e.Host == "" {
				return nil, fmt.Errorf("inventory role %s: endpoint %d has no host", role, i)
			}
			port := e.Port
			if port == 0 {
				port = DefaultSSHPort
			}
			eps = append(eps, types.Endpoint{Host: e.Host, Port: port, User: e.User, Role: role})
		}
		inv.Roles[role] = eps
	}
	return inv, nil
}

// Roles returns the role names of an inventory in sorted order.
func Roles(inv *types.Inventory) []string {
	if inv == nil {
		return nil
	}
	roles := make([]string, 0, len(inv.Roles))
	for role := range inv.Roles {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	return roles
}
