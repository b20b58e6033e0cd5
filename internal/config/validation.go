package config

import (
	"fmt"
)

var (
	validBackends = map[string]bool{"pebble": true, "leveldb": true, "memory": true}
	validDrivers  = map[string]bool{"": true, "sqlite": true, "postgres": true}
	validLevels   = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validFormats  = map[string]bool{"json": true, "console": true}
)

// Validate rejects configurations the process cannot run with.
func Validate(c *Config) error {
	if c.Server.RESTAddr == "" {
		return fmt.Errorf("server.rest_addr must not be empty")
	}
	if c.Server.GRPCAddr == "" {
		return fmt.Errorf("server.grpc_addr must not be empty")
	}

	if !validBackends[c.Storage.Backend] {
		return fmt.Errorf("storage.backend %q is not one of pebble, leveldb, memory", c.Storage.Backend)
	}
	if c.Storage.Backend != "memory" && c.Storage.DataDir == "" {
		return fmt.Errorf("storage.data_dir must be set for backend %q", c.Storage.Backend)
	}
	if !validDrivers[c.Storage.ArchiveDriver] {
		return fmt.Errorf("storage.archive_driver %q is not one of sqlite, postgres", c.Storage.ArchiveDriver)
	}
	if c.Storage.ArchiveDriver != "" && c.Storage.ArchiveDSN == "" {
		return fmt.Errorf("storage.archive_dsn must be set when archiving is enabled")
	}

	if c.Auction.BidWindow <= 0 {
		return fmt.Errorf("auction.bid_window must be positive")
	}
	if c.Settlement.Deadline <= 0 {
		return fmt.Errorf("settlement.deadline must be positive")
	}
	if c.Settlement.SweepInterval <= 0 {
		return fmt.Errorf("settlement.sweep_interval must be positive")
	}
	if c.Settlement.AuditInterval <= 0 {
		return fmt.Errorf("settlement.audit_interval must be positive")
	}
	if c.Settlement.RailHealthInterval <= 0 {
		return fmt.Errorf("settlement.rail_health_interval must be positive")
	}
	if c.Limits.InvoicesPerHour <= 0 {
		return fmt.Errorf("limits.invoices_per_hour must be positive")
	}

	if !validLevels[c.Log.Level] {
		return fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("log.format %q is not one of json, console", c.Log.Format)
	}
	if c.BaseCurrency == "" {
		return fmt.Errorf("base_currency must not be empty")
	}
	return nil
}
