package credential

import (
	"fmt"
	"strings"

	"github.com/99designs/keyring"
)

// Prefix marks a configured value as a reference into the keyring.
const Prefix = "keyring:"

// Resolver looks up secret references in a keyring.
type Resolver struct {
	ring keyring.Keyring
}

// Open returns a Resolver backed by the system keyring, falling back to an
// encrypted file store in fileDir.
func Open(service, fileDir, filePassword string) (*Resolver, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: service,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  fileDir,
		FilePasswordFunc:         keyring.FixedStringPrompt(filePassword),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return NewResolver(ring), nil
}

// NewResolver wraps an already opened keyring.
func NewResolver(ring keyring.Keyring) *Resolver {
	return &Resolver{ring: ring}
}

// Resolve returns value unchanged unless it starts with Prefix, in which case
// the remainder is looked up in the keyring.
func (r *Resolver) Resolve(value string) (string, error) {
	key, ok := strings.CutPrefix(value, Prefix)
	if !ok {
		return value, nil
	}

	item, err := r.ring.Get(key)
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}
	return string(item.Data), nil
}

// Set stores a credential value by key.
func (r *Resolver) Set(key, value string) error {
	err := r.ring.Set(keyring.Item{
		Key:  key,
		Data: []byte(value),
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}
	return nil
}
