package driver

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/cfkarakulak/superdeploy/pkg/types"
)

func TestNewSelectsDriver(t *testing.T) {
	env := &types.Environment{
		Driver:  types.DriverSSH,
		Workdir: "/srv/superdeploy",
		SSH:     &types.SSHConfig{User: "deploy", Password: "secret", InsecureIgnoreHostKey: true},
	}

	d, err := New(env)
	require.NoError(t, err)
	assert.IsType(t, &SSHDriver{}, d)
}

func TestNewUnknownDriver(t *testing.T) {
	_, err := New(&types.Environment{Driver: "vagrant"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vagrant")
}

func TestParseMarker(t *testing.T) {
	unitID, hash, err := parseMarker([]byte("addon/postgres abc123\n"))
	require.NoError(t, err)
	assert.Equal(t, "addon/postgres", unitID)
	assert.Equal(t, "abc123", hash)

	_, _, err = parseMarker([]byte("justonefield"))
	assert.Error(t, err)

	_, _, err = parseMarker([]byte(""))
	assert.Error(t, err)

	_, _, err = parseMarker([]byte("a b c"))
	assert.Error(t, err)
}

func TestUnitDirName(t *testing.T) {
	assert.Equal(t, "addon-postgres", unitDirName("addon/postgres"))
	assert.Equal(t, "app-api", unitDirName("app/api"))
}

func TestComposeProject(t *testing.T) {
	ref := types.UnitRef{Project: "shop", UnitID: "addon/postgres"}
	assert.Equal(t, "shop-addon-postgres", composeProject(ref))
}

func TestContainerName(t *testing.T) {
	assert.Equal(t, "shop-postgres", containerName(types.UnitRef{Project: "shop", UnitID: "addon/postgres"}))
	assert.Equal(t, "shop-api", containerName(types.UnitRef{Project: "shop", UnitID: "app/api"}))
}

func TestShellQuote(t *testing.T) {
	assert.Equal(t, "'plain'", shellQuote("plain"))
	assert.Equal(t, "'with space'", shellQuote("with space"))
	assert.Equal(t, `'it'\''s'`, shellQuote("it's"))
}

func TestUnitDir(t *testing.T) {
	d := NewSSHDriver(&types.SSHConfig{}, "/srv/superdeploy")
	ref := types.UnitRef{Project: "shop", UnitID: "addon/postgres"}
	assert.Equal(t, "/srv/superdeploy/shop/addon-postgres", d.unitDir(ref))
}

func TestClientConfigPassword(t *testing.T) {
	d := NewSSHDriver(&types.SSHConfig{
		User:                  "root",
		Password:              "hunter2",
		InsecureIgnoreHostKey: true,
	}, "/srv")

	cfg, err := d.clientConfig(types.Endpoint{Host: "10.0.0.1", Port: 22, User: "deploy"})
	require.NoError(t, err)
	assert.Equal(t, "deploy", cfg.User) // endpoint user wins over the environment default
	assert.Len(t, cfg.Auth, 1)
}

func TestClientConfigKeyFile(t *testing.T) {
	_, private, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	block, err := ssh.MarshalPrivateKey(private, "")
	require.NoError(t, err)

	keyPath := filepath.Join(t.TempDir(), "id_ed25519")
	require.NoError(t, os.WriteFile(keyPath, pem.EncodeToMemory(block), 0o600))

	d := NewSSHDriver(&types.SSHConfig{
		User:                  "root",
		KeyPath:               keyPath,
		InsecureIgnoreHostKey: true,
	}, "/srv")

	cfg, err := d.clientConfig(types.Endpoint{Host: "10.0.0.1", Port: 22})
	require.NoError(t, err)
	assert.Equal(t, "root", cfg.User)
	assert.Len(t, cfg.Auth, 1)
}

func TestClientConfigNoAuth(t *testing.T) {
	d := NewSSHDriver(&types.SSHConfig{User: "root", InsecureIgnoreHostKey: true}, "/srv")
	_, err := d.clientConfig(types.Endpoint{Host: "10.0.0.1", Port: 22})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "key_path")
}

func TestClientConfigRequiresKnownHosts(t *testing.T) {
	d := NewSSHDriver(&types.SSHConfig{User: "root", Password: "x"}, "/srv")
	_, err := d.clientConfig(types.Endpoint{Host: "10.0.0.1", Port: 22})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "known_hosts")
}

func TestNormalizeImageRef(t *testing.T) {
	cases := map[string]string{
		"postgres:16.3":              "docker.io/library/postgres:16.3",
		"redis":                      "docker.io/library/redis",
		"myorg/app:1.2":              "docker.io/myorg/app:1.2",
		"ghcr.io/org/app:v1":         "ghcr.io/org/app:v1",
		"localhost:5000/app:dev":     "localhost:5000/app:dev",
		"registry.example.com/a/b:c": "registry.example.com/a/b:c",
	}
	for in, want := range cases {
		assert.Equal(t, want, normalizeImageRef(in), "input %q", in)
	}
}
