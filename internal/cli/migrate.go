package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/instanttrade/itnd/internal/core/version"
)

var (
	migrateTarget   string
	migrateState    string
	migrateRollback bool
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Migrate a state file to a target network version",
	Long: `Apply the migration chain from the state file's recorded
version to the target, verifying each step. With --rollback the chain
runs in reverse. The migrated state is written back to the file.`,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)

	migrateCmd.Flags().StringVar(&migrateTarget, "to", "", "target version (default: latest)")
	migrateCmd.Flags().StringVar(&migrateState, "state", "state.json", "state file to migrate")
	migrateCmd.Flags().BoolVar(&migrateRollback, "rollback", false, "roll back to the target instead")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	_, log, err := loadConfig()
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	state := version.State{}
	if data, err := os.ReadFile(migrateState); err == nil {
		if err := json.Unmarshal(data, &state); err != nil {
			return fmt.Errorf("parse state file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return err
	}

	h := version.NetworkHistory()
	target := migrateTarget
	if target == "" {
		latest, ok := h.Latest()
		if !ok {
			return fmt.Errorf("version history is empty")
		}
		target = latest.Version
	}

	mgr := version.NewManager(h, log, nil)
	if migrateRollback {
		state, err = mgr.RollbackTo(state, target)
	} else {
		state, err = mgr.Migrate(state, target)
	}
	for _, r := range mgr.Log() {
		log.Info("migration finished",
			zap.String("from", r.FromVersion),
			zap.String("to", r.ToVersion),
			zap.String("status", string(r.Status)))
	}
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(migrateState, data, 0o644); err != nil {
		return err
	}
	fmt.Printf("migrated %s to version %s\n", migrateState, target)
	return nil
}
