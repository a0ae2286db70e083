package store

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/99designs/keyring"
	"github.com/CompassSecurity/docleek/pkg/config"
	"github.com/CompassSecurity/docleek/pkg/model"
	"github.com/rs/zerolog/log"
)

// KeyProvider is the external credential store holding the master key.
// Failures must be reported as model.KindKeyUnavailable.
type KeyProvider interface {
	Key(ctx context.Context) ([]byte, error)
}

func keyUnavailable(format string, args ...any) error {
	return model.Errorf(model.KindKeyUnavailable, "", format, args...)
}

// StaticKey returns a fixed key. Used for tests and imports of exported key material.
type StaticKey []byte

func (k StaticKey) Key(context.Context) ([]byte, error) {
	if len(k) != KeySize {
		return nil, keyUnavailable("static key has %d bytes", len(k))
	}
	return []byte(k), nil
}

// EnvKey reads a base64 encoded key from an environment variable.
type EnvKey struct {
	Name string
}

func (e EnvKey) Key(context.Context) ([]byte, error) {
	v, ok := os.LookupEnv(e.Name)
	if !ok || strings.TrimSpace(v) == "" {
		return nil, keyUnavailable("environment variable %s is not set", e.Name)
	}
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(v))
	if err != nil {
		return nil, keyUnavailable("environment variable %s is not base64: %w", e.Name, err)
	}
	if len(key) != KeySize {
		return nil, keyUnavailable("environment variable %s holds %d bytes, want %d", e.Name, len(key), KeySize)
	}
	return key, nil
}

// KeyringPasswordEnv unlocks the encrypted file keyring backend.
const KeyringPasswordEnv = "DOCLEEK_KEYRING_PASSWORD"

const keyringItem = "store-key"

// KeyringKey loads the key from the OS credential store, creating it on first use.
type KeyringKey struct {
	Service string
	Backend string
	Dir     string
}

func (k KeyringKey) open() (keyring.Keyring, error) {
	cfg := keyring.Config{
		ServiceName:              k.Service,
		KeychainName:             k.Service,
		FileDir:                  k.Dir,
		KeychainTrustApplication: true,
		FilePasswordFunc: func(string) (string, error) {
			pw, ok := os.LookupEnv(KeyringPasswordEnv)
			if !ok {
				return "", fmt.Errorf("%s is not set", KeyringPasswordEnv)
			}
			return pw, nil
		},
	}
	if k.Backend != "" {
		cfg.AllowedBackends = []keyring.BackendType{keyring.BackendType(k.Backend)}
	}
	return keyring.Open(cfg)
}

func (k KeyringKey) Key(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, keyUnavailable("keyring: %w", err)
	}
	ring, err := k.open()
	if err != nil {
		return nil, keyUnavailable("keyring: open %s: %w", k.Service, err)
	}

	item, err := ring.Get(keyringItem)
	if err == nil {
		if len(item.Data) != KeySize {
			return nil, keyUnavailable("keyring: stored key has %d bytes", len(item.Data))
		}
		return item.Data, nil
	}
	if !errors.Is(err, keyring.ErrKeyNotFound) {
		return nil, keyUnavailable("keyring: get: %w", err)
	}

	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, keyUnavailable("keyring: generate: %w", err)
	}
	if err := ring.Set(keyring.Item{Key: keyringItem, Data: key, Label: "docleek findings store key"}); err != nil {
		return nil, keyUnavailable("keyring: set: %w", err)
	}
	log.Info().Str("service", k.Service).Msg("Created new findings store key in keyring")
	return key, nil
}

// ProviderFromConfig selects the key provider named by the store options.
func ProviderFromConfig(opts config.StoreOptions) KeyProvider {
	if opts.KeySource == "env" {
		return EnvKey{Name: opts.KeyEnv}
	}
	return KeyringKey{Service: opts.KeyringService, Backend: opts.KeyringBackend, Dir: opts.KeyringDir}
}
