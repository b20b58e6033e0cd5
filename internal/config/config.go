// Package config loads the process configuration: defaults first, then
// an optional config file, then ITND_-prefixed environment variables.
package config

import (
	"time"
)

// Config is the complete process configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Ledger     LedgerConfig     `mapstructure:"ledger"`
	Auction    AuctionConfig    `mapstructure:"auction"`
	Settlement SettlementConfig `mapstructure:"settlement"`
	Limits     LimitsConfig     `mapstructure:"limits"`
	Log        LogConfig        `mapstructure:"log"`

	// BaseCurrency anchors FX conversion and the settlement ledger.
	BaseCurrency string `mapstructure:"base_currency"`
}

// ServerConfig holds the listener settings.
type ServerConfig struct {
	RESTAddr  string `mapstructure:"rest_addr"`
	GRPCAddr  string `mapstructure:"grpc_addr"`
	WSEnabled bool   `mapstructure:"ws_enabled"`
}

// StorageConfig selects the key-value backend for the ledger store and
// the relational archive.
type StorageConfig struct {
	// Backend is "pebble", "leveldb" or "memory".
	Backend string `mapstructure:"backend"`
	DataDir string `mapstructure:"data_dir"`

	// ArchiveDriver is "sqlite" or "postgres"; empty disables archiving.
	ArchiveDriver string `mapstructure:"archive_driver"`
	ArchiveDSN    string `mapstructure:"archive_dsn"`
}

// LedgerConfig holds decision ledger settings. The HMAC secret itself
// is never placed in the file; only the environment variable naming it.
type LedgerConfig struct {
	SecretEnv string `mapstructure:"secret_env"`
	Persist   bool   `mapstructure:"persist"`
}

// AuctionConfig tunes the capital auction.
type AuctionConfig struct {
	BidWindow time.Duration `mapstructure:"bid_window"`
}

// SettlementConfig tunes the settlement engine.
type SettlementConfig struct {
	Deadline           time.Duration `mapstructure:"deadline"`
	SweepInterval      time.Duration `mapstructure:"sweep_interval"`
	AuditInterval      time.Duration `mapstructure:"audit_interval"`
	RailHealthInterval time.Duration `mapstructure:"rail_health_interval"`
}

// LimitsConfig holds per-party rate limits.
type LimitsConfig struct {
	InvoicesPerHour int `mapstructure:"invoices_per_hour"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}
