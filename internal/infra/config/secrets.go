package config

import (
	"fmt"
	"os"
	"strings"
)

// SecretProvider resolves secret references. Values are read once at startup
// and must never be logged.
type SecretProvider interface {
	Get(key string) (string, error)
}

// ResolveSecret expands a secret reference of the form "secret://<key>"
// through the provider. Plain values pass through unchanged so local setups
// can inline them.
func ResolveSecret(p SecretProvider, ref string) (string, error) {
	const scheme = "secret://"
	if !strings.HasPrefix(ref, scheme) {
		return ref, nil
	}
	key := strings.TrimPrefix(ref, scheme)
	val, err := p.Get(key)
	if err != nil {
		return "", fmt.Errorf("resolving secret %q: %w", key, err)
	}
	return val, nil
}

// EnvSecretProvider reads secrets from environment variables.
type EnvSecretProvider struct{}

func (EnvSecretProvider) Get(key string) (string, error) {
	val, ok := os.LookupEnv(key)
	if !ok {
		return "", fmt.Errorf("environment variable %s not set", key)
	}
	return val, nil
}

// FileSecretProvider reads secrets from files under a root directory, one
// file per key. Suited to mounted secret volumes.
type FileSecretProvider struct {
	Root string
}

func (p FileSecretProvider) Get(key string) (string, error) {
	if strings.Contains(key, "..") || strings.ContainsRune(key, os.PathSeparator) {
		return "", fmt.Errorf("invalid secret key %q", key)
	}
	data, err := os.ReadFile(p.Root + string(os.PathSeparator) + key)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(data), "\n"), nil
}
