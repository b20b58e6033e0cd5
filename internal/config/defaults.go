package config

import (
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix namespaces the environment variables: ITND_SERVER_REST_ADDR
// overrides server.rest_addr and so on.
const EnvPrefix = "ITND"

// DefaultSecretEnv names the environment variable carrying the ledger
// HMAC secret.
const DefaultSecretEnv = "ITND_LEDGER_SECRET"

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.rest_addr", "0.0.0.0:8080")
	v.SetDefault("server.grpc_addr", "0.0.0.0:9090")
	v.SetDefault("server.ws_enabled", true)

	v.SetDefault("storage.backend", "pebble")
	v.SetDefault("storage.data_dir", "data")
	v.SetDefault("storage.archive_driver", "sqlite")
	v.SetDefault("storage.archive_dsn", "file:data/archive.db")

	v.SetDefault("ledger.secret_env", DefaultSecretEnv)
	v.SetDefault("ledger.persist", true)

	v.SetDefault("auction.bid_window", 10*time.Second)

	v.SetDefault("settlement.deadline", 5*time.Second)
	v.SetDefault("settlement.sweep_interval", time.Minute)
	v.SetDefault("settlement.audit_interval", 5*time.Minute)
	v.SetDefault("settlement.rail_health_interval", 10*time.Second)

	v.SetDefault("limits.invoices_per_hour", 100)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("base_currency", "USD")
}
