package cli

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/instanttrade/itnd/internal/di"
)

// recurringTickInterval spaces the recurring-invoice generator ticks.
const recurringTickInterval = time.Minute

var seedDemo bool

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the trade network daemon",
	Long: `Start itnd: the REST API, the websocket alert stream, the gRPC
health endpoint and the background sweep, audit and recurring-invoice
loops. This is the default command.`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
	rootCmd.RunE = serverCmd.RunE

	serverCmd.Flags().BoolVar(&seedDemo, "demo", false, "seed demo parties, capital providers and rails")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	provider := di.NewProvider(di.New(), cfg, log)
	provider.RegisterAll()
	defer provider.Close()

	if seedDemo {
		keys, err := provider.SeedDemo()
		if err != nil {
			return err
		}
		if err := writeDemoKeys(cfg.Storage.DataDir, keys); err != nil {
			return err
		}
		log.Info("demo network seeded", zap.Int("buyer_keys", len(keys)))
	}

	orch := provider.Orchestrator()
	restSrv := provider.REST()
	healthSrv := provider.GRPCHealth()
	gen := provider.Recurring()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("starting itnd",
		zap.String("version", provider.Versions().History().Current()),
		zap.String("rest_addr", cfg.Server.RESTAddr),
		zap.String("grpc_addr", cfg.Server.GRPCAddr))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return restSrv.Run(ctx) })
	g.Go(func() error { return healthSrv.Run(ctx) })
	g.Go(func() error {
		orch.RunSweepLoop(ctx, cfg.Settlement.SweepInterval)
		return nil
	})
	g.Go(func() error {
		orch.RunAuditLoop(ctx, cfg.Settlement.AuditInterval)
		return nil
	})
	g.Go(func() error {
		orch.RunRailHealthLoop(ctx, cfg.Settlement.RailHealthInterval)
		return nil
	})
	g.Go(func() error {
		gen.Run(ctx, recurringTickInterval)
		return nil
	})

	err = g.Wait()
	log.Info("itnd stopped")
	return err
}

// writeDemoKeys drops the generated buyer signing keys next to the
// data so a demo client can sign acceptances. Demo use only.
func writeDemoKeys(dataDir string, keys map[string]ed25519.PrivateKey) error {
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return err
	}
	out := make(map[string]string, len(keys))
	for id, key := range keys {
		out[id] = hex.EncodeToString(key)
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dataDir, "demo_keys.json"), data, 0o600)
}
