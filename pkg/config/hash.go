package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Hash returns the deterministic configuration hash of a resolved tree:
// sha256 over the canonical JSON encoding. encoding/json sorts map keys,
// so identical trees hash identically regardless of construction order.
func Hash(tree map[string]any) (string, error) {
	b, err := json.Marshal(tree)
	if err != nil {
		return "", fmt.Errorf("canonical encoding of config tree: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// ShortHash returns the display prefix of a configuration hash.
func ShortHash(hash string) string {
	if len(hash) <= 12 {
		return hash
	}
	return hash[:12]
}
