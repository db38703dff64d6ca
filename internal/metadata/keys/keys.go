// Package keys builds and parses the metadata keys used by vacuumd.
//
// Layout:
//
//	/vacuum/v1/checkpoints/<scopeId>   per-scope checkpoint (durable)
//	/vacuum/v1/leases/<scopeId>        scope lease (ephemeral)
package keys

import (
	"errors"
	"fmt"
	"strings"
)

// Key prefixes.
const (
	// Prefix is the root prefix for all vacuum keys.
	Prefix = "/vacuum/v1"

	// CheckpointsPrefix is the prefix for scope checkpoints.
	CheckpointsPrefix = Prefix + "/checkpoints"

	// LeasesPrefix is the prefix for scope leases.
	LeasesPrefix = Prefix + "/leases"
)

// ErrInvalidKey is returned when a key cannot be parsed.
var ErrInvalidKey = errors.New("keys: invalid key format")

// CheckpointKeyPath returns the checkpoint key of a scope.
func CheckpointKeyPath(scopeID string) string {
	return fmt.Sprintf("%s/%s", CheckpointsPrefix, scopeID)
}

// ParseCheckpointKey returns the scope id of a checkpoint key.
func ParseCheckpointKey(key string) (string, error) {
	return parseScopeKey(key, CheckpointsPrefix)
}

// LeaseKeyPath returns the lease key of a scope.
func LeaseKeyPath(scopeID string) string {
	return fmt.Sprintf("%s/%s", LeasesPrefix, scopeID)
}

// ParseLeaseKey returns the scope id of a lease key.
func ParseLeaseKey(key string) (string, error) {
	return parseScopeKey(key, LeasesPrefix)
}

func parseScopeKey(key, prefix string) (string, error) {
	prefix += "/"
	if !strings.HasPrefix(key, prefix) {
		return "", ErrInvalidKey
	}
	scopeID := key[len(prefix):]
	if scopeID == "" || strings.Contains(scopeID, "/") {
		return "", ErrInvalidKey
	}
	return scopeID, nil
}
