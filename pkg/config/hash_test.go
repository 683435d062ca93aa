package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashDeterministic(t *testing.T) {
	// identical content built in different insertion order
	a := map[string]any{}
	a["image"] = "postgres"
	a["port"] = 5432
	a["env"] = map[string]any{"TZ": "UTC", "LANG": "C"}

	b := map[string]any{}
	b["env"] = map[string]any{"LANG": "C", "TZ": "UTC"}
	b["port"] = 5432
	b["image"] = "postgres"

	ha, err := Hash(a)
	require.NoError(t, err)
	hb, err := Hash(b)
	require.NoError(t, err)

	assert.Equal(t, ha, hb)
	assert.Len(t, ha, 64) // hex sha256
}

func TestHashChangesWithContent(t *testing.T) {
	base := map[string]any{"image": "redis", "port": 6379}
	changed := map[string]any{"image": "redis", "port": 6380}

	hBase, err := Hash(base)
	require.NoError(t, err)
	hChanged, err := Hash(changed)
	require.NoError(t, err)

	assert.NotEqual(t, hBase, hChanged)
}

func TestShortHash(t *testing.T) {
	assert.Equal(t, "abcdef123456", ShortHash("abcdef1234567890"))
	assert.Equal(t, "short", ShortHash("short"))
}
