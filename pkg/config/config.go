// Package config loads ledgerwatch's configuration from an optional YAML
// file with cobra-flag overrides layered on top, in that precedence order.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// Config holds every tunable the auditord binary needs to construct an
// auditor.State and its etcd-backed collaborators.
type Config struct {
	LogLevel    string `yaml:"logLevel"`
	LogJSON     bool   `yaml:"logJSON"`
	MetricsAddr string `yaml:"metricsAddr"`

	AuditorName string `yaml:"auditorName"`

	// Intervals, in seconds on disk, converted to time.Duration below.
	AuditorPeriodicCheckIntervalSeconds       int `yaml:"auditorPeriodicCheckInterval"`
	AuditorPeriodicBookieCheckIntervalSeconds int `yaml:"auditorPeriodicBookieCheckInterval"`
	AuditorURLedgerCheckIntervalSeconds       int `yaml:"auditorURLedgerCheckInterval"`

	UnderReplicationRoot string `yaml:"underReplicationRoot"`

	MetadataStoreEndpoints          []string `yaml:"metadataStoreEndpoints"`
	MetadataStoreDialTimeoutSeconds int      `yaml:"metadataStoreDialTimeout"`

	BookieRegistrationPrefix        string `yaml:"bookieRegistrationPrefix"`
	BookieStalenessWindowSeconds    int    `yaml:"bookieStalenessWindow"`
	BookieHealthProbeEnabled        bool   `yaml:"bookieHealthProbeEnabled"`
	BookieHealthProbeTimeoutSeconds int    `yaml:"bookieHealthProbeTimeout"`

	LedgerRegistrationPrefix string `yaml:"ledgerRegistrationPrefix"`
	LedgerIndexPrefix        string `yaml:"ledgerIndexPrefix"`
}

// Default returns the built-in defaults, applied before the YAML file and
// flags are layered on top.
func Default() Config {
	return Config{
		LogLevel:    "info",
		MetricsAddr: "127.0.0.1:9090",
		AuditorName: "auditor-1",

		AuditorPeriodicCheckIntervalSeconds:       60,
		AuditorPeriodicBookieCheckIntervalSeconds: 30,
		AuditorURLedgerCheckIntervalSeconds:       300,

		UnderReplicationRoot: "underreplication",

		MetadataStoreEndpoints:          []string{"127.0.0.1:2379"},
		MetadataStoreDialTimeoutSeconds: 5,

		BookieRegistrationPrefix:        "/ledgerwatch/bookies",
		BookieStalenessWindowSeconds:    30,
		BookieHealthProbeEnabled:        false,
		BookieHealthProbeTimeoutSeconds: 2,

		LedgerRegistrationPrefix: "/ledgerwatch/ledgers",
		LedgerIndexPrefix:        "/ledgerwatch/ledger-index",
	}
}

// Load reads path (if non-empty and it exists) as YAML over Default, then
// applies any flags the caller set on cmd.
func Load(path string, cmd *cobra.Command) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if cmd != nil {
		applyFlagOverrides(&cfg, cmd)
	}

	return cfg, nil
}

func applyFlagOverrides(cfg *Config, cmd *cobra.Command) {
	flags := cmd.Flags()

	if v, err := flags.GetString("log-level"); err == nil && flags.Changed("log-level") {
		cfg.LogLevel = v
	}
	if v, err := flags.GetBool("log-json"); err == nil && flags.Changed("log-json") {
		cfg.LogJSON = v
	}
	if v, err := flags.GetString("metrics-addr"); err == nil && flags.Changed("metrics-addr") {
		cfg.MetricsAddr = v
	}
	if v, err := flags.GetString("auditor-name"); err == nil && flags.Changed("auditor-name") {
		cfg.AuditorName = v
	}
	if v, err := flags.GetStringSlice("metadata-store-endpoints"); err == nil && flags.Changed("metadata-store-endpoints") {
		cfg.MetadataStoreEndpoints = v
	}
	if v, err := flags.GetInt("bookie-staleness-window"); err == nil && flags.Changed("bookie-staleness-window") {
		cfg.BookieStalenessWindowSeconds = v
	}
	if v, err := flags.GetBool("bookie-health-probe"); err == nil && flags.Changed("bookie-health-probe") {
		cfg.BookieHealthProbeEnabled = v
	}
}

// BookieAuditInterval returns AuditorPeriodicBookieCheckIntervalSeconds as
// a time.Duration.
func (c Config) BookieAuditInterval() time.Duration {
	return time.Duration(c.AuditorPeriodicBookieCheckIntervalSeconds) * time.Second
}

// LedgerCheckInterval returns AuditorPeriodicCheckIntervalSeconds as a
// time.Duration.
func (c Config) LedgerCheckInterval() time.Duration {
	return time.Duration(c.AuditorPeriodicCheckIntervalSeconds) * time.Second
}

// URSnapshotInterval returns AuditorURLedgerCheckIntervalSeconds as a
// time.Duration.
func (c Config) URSnapshotInterval() time.Duration {
	return time.Duration(c.AuditorURLedgerCheckIntervalSeconds) * time.Second
}

// MetadataStoreDialTimeout returns MetadataStoreDialTimeoutSeconds as a
// time.Duration.
func (c Config) MetadataStoreDialTimeout() time.Duration {
	return time.Duration(c.MetadataStoreDialTimeoutSeconds) * time.Second
}

// BookieStalenessWindow returns BookieStalenessWindowSeconds as a
// time.Duration.
func (c Config) BookieStalenessWindow() time.Duration {
	return time.Duration(c.BookieStalenessWindowSeconds) * time.Second
}

// BookieHealthProbeTimeout returns BookieHealthProbeTimeoutSeconds as a
// time.Duration.
func (c Config) BookieHealthProbeTimeout() time.Duration {
	return time.Duration(c.BookieHealthProbeTimeoutSeconds) * time.Second
}
