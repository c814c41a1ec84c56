// Package statestore persists the small state documents of the node:
// seeding config, pinned channels, the seed table, and the hidden set.
package statestore

import "errors"

// ErrNotFound is returned by Get when no value exists for a key.
var ErrNotFound = errors.New("statestore: not found")

// Storer is the persistence collaborator consumed by the directory and
// the seed cache. Values are JSON documents keyed by string.
type Storer interface {
	Get(key string, v any) error
	Put(key string, v any) error
	Delete(key string) error
	Close() error
}

// Well-known keys.
const (
	KeySeedingConfig  = "seeding-config"
	KeyPinnedChannels = "pinned-channels"
	KeyActiveSeeds    = "active-seeds"
	KeyHiddenSet      = "gossip-hidden"
)
