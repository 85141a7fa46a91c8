// Package config loads harvest settings from an optional TOML file.
// Command-line flags override anything read here.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/naka-gawa/org-harvest/internal/gateway"
	"github.com/naka-gawa/org-harvest/internal/ratelimit"
)

// DefaultLedgerFile is the ledger's file name inside the output directory.
const DefaultLedgerFile = "harvest.db"

// Config holds every setting of the harvest command.
type Config struct {
	Input       string  `toml:"input"`
	Output      string  `toml:"output"`
	Concurrency int     `toml:"concurrency"`
	PRCount     string  `toml:"pr_count"`
	ReResolve   bool    `toml:"re_resolve"`
	Ledger      string  `toml:"ledger"`
	NoLedger    bool    `toml:"no_ledger"`
	Pace        float64 `toml:"pace"`
	Retry       Retry   `toml:"retry"`
}

// Retry configures the backoff of transient failures. Durations use
// time.ParseDuration syntax, e.g. "1s" or "500ms".
type Retry struct {
	BaseDelay           string `toml:"base_delay"`
	MaxDelay            string `toml:"max_delay"`
	MaxAttempts         int    `toml:"max_attempts"`
	SecondarySleepLimit string `toml:"secondary_sleep_limit"`
}

// Default returns the settings used when neither a file nor a flag says otherwise.
func Default() Config {
	return Config{
		Input:       "companies.txt",
		Output:      "json_data",
		Concurrency: 1,
		PRCount:     string(gateway.PRCountREST),
		Retry: Retry{
			BaseDelay:           ratelimit.DefaultPolicy.Base.String(),
			MaxDelay:            ratelimit.DefaultPolicy.Cap.String(),
			MaxAttempts:         ratelimit.DefaultPolicy.MaxAttempts,
			SecondarySleepLimit: "0s",
		},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		var decodeErr *toml.DecodeError
		if errors.As(err, &decodeErr) {
			row, col := decodeErr.Position()
			return Config{}, fmt.Errorf("failed to parse config file %s at line %d, column %d: %w", path, row, col, err)
		}
		return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.Input == "" {
		return errors.New("input file is required")
	}
	if c.Output == "" {
		return errors.New("output directory is required")
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency)
	}
	switch gateway.PRCountStrategy(c.PRCount) {
	case gateway.PRCountREST, gateway.PRCountGraphQL:
	default:
		return fmt.Errorf("invalid pr count strategy %q: must be rest or graphql", c.PRCount)
	}
	if c.Pace < 0 {
		return fmt.Errorf("pace must not be negative, got %v", c.Pace)
	}
	if _, err := c.Policy(); err != nil {
		return err
	}
	if _, err := c.SecondarySleepLimit(); err != nil {
		return err
	}
	return nil
}

// LedgerPath returns where the run ledger lives, or "" when it is disabled.
func (c Config) LedgerPath() string {
	if c.NoLedger {
		return ""
	}
	if c.Ledger != "" {
		return c.Ledger
	}
	return filepath.Join(c.Output, DefaultLedgerFile)
}

// Policy builds the retry policy.
func (c Config) Policy() (ratelimit.Policy, error) {
	base, err := time.ParseDuration(c.Retry.BaseDelay)
	if err != nil {
		return ratelimit.Policy{}, fmt.Errorf("invalid retry.base_delay: %w", err)
	}
	maxDelay, err := time.ParseDuration(c.Retry.MaxDelay)
	if err != nil {
		return ratelimit.Policy{}, fmt.Errorf("invalid retry.max_delay: %w", err)
	}
	if c.Retry.MaxAttempts < 1 {
		return ratelimit.Policy{}, fmt.Errorf("retry.max_attempts must be at least 1, got %d", c.Retry.MaxAttempts)
	}
	if maxDelay < base {
		return ratelimit.Policy{}, fmt.Errorf("retry.max_delay %s is below retry.base_delay %s", maxDelay, base)
	}
	return ratelimit.Policy{Base: base, Cap: maxDelay, MaxAttempts: c.Retry.MaxAttempts}, nil
}

// SecondarySleepLimit is the longest single in-transport wait on a secondary rate
// limit. Zero hands every secondary limit to the budgeted retry.
func (c Config) SecondarySleepLimit() (time.Duration, error) {
	d, err := time.ParseDuration(c.Retry.SecondarySleepLimit)
	if err != nil {
		return 0, fmt.Errorf("invalid retry.secondary_sleep_limit: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("retry.secondary_sleep_limit must not be negative, got %s", d)
	}
	return d, nil
}
