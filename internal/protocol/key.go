// Package protocol defines content keys and the gossip wire messages
// exchanged between nodes.
package protocol

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// KeySize is the identifier length in bytes.
	KeySize = 32
	// KeyHexLen is the length of the hex rendering.
	KeyHexLen = KeySize * 2
)

var ErrInvalidKey = errors.New("protocol: invalid content key")

// ContentKey addresses one piece of shared content. The canonical form
// is lowercase hex; Validate rejects anything else.
type ContentKey string

// ParseKey normalizes raw input to canonical form.
func ParseKey(raw string) (ContentKey, error) {
	key := ContentKey(strings.ToLower(raw))
	if err := key.Validate(); err != nil {
		return "", err
	}
	return key, nil
}

func (k ContentKey) Validate() error {
	if len(k) != KeyHexLen {
		return fmt.Errorf("%w: length %d, want %d", ErrInvalidKey, len(k), KeyHexLen)
	}
	for i := 0; i < len(k); i++ {
		c := k[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return fmt.Errorf("%w: non-hex byte at %d", ErrInvalidKey, i)
		}
	}
	return nil
}

// Short returns an 8-char prefix for log lines.
func (k ContentKey) Short() string {
	if len(k) < 8 {
		return string(k)
	}
	return string(k[:8])
}
