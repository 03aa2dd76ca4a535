package config

import (
	_ "embed"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Defaults are build-time operational constants shared by every replica.
// Keeping them embedded (rather than env-backed) guarantees all writers of
// the queue agree on backoff timing and foreign-key harvesting.
type Defaults struct {
	WellKnownForeignKeys []string `yaml:"wellKnownForeignKeys"`
	RetryBackoffSeconds  []int    `yaml:"retryBackoffSeconds"`
}

// LoadDefaults parses the embedded defaults file.
func LoadDefaults() (*Defaults, error) {
	var d Defaults
	if err := yaml.Unmarshal(defaultsYAML, &d); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}
	if len(d.RetryBackoffSeconds) == 0 {
		return nil, fmt.Errorf("embedded defaults missing retry backoff table")
	}
	return &d, nil
}

// Backoff returns the delay before retry attempt n (1-based). The second
// return is false when n exhausts the table and the failure is terminal.
func (d *Defaults) Backoff(n int) (time.Duration, bool) {
	if n < 1 || n > len(d.RetryBackoffSeconds) {
		return 0, false
	}
	return time.Duration(d.RetryBackoffSeconds[n-1]) * time.Second, true
}
