// Package cli — команды rosterd: serve, migrate, audit, seed.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Spok95/school-roster/internal/config"
	"github.com/Spok95/school-roster/internal/ctxutil"
	"github.com/Spok95/school-roster/internal/logging"
)

// Runtime — общее состояние, которое PersistentPreRunE готовит для подкоманд.
type Runtime struct {
	Config *config.Config
	Log    *logging.Log
}

func NewRootCommand() *cobra.Command {
	rt := &Runtime{}

	cmd := &cobra.Command{
		Use:           "rosterd",
		Short:         "School roster and lifecycle consistency service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			lg, err := logging.Init(cfg.LogLevel, cfg.Env)
			if err != nil {
				return fmt.Errorf("logger: %w", err)
			}
			ctxutil.DefaultDBTimeout = cfg.DBTimeout
			rt.Config = cfg
			rt.Log = lg
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if rt.Log != nil {
				rt.Log.Closer()
			}
		},
	}

	cmd.AddCommand(NewServeCommand(rt))
	cmd.AddCommand(NewMigrateCommand(rt))
	cmd.AddCommand(NewAuditCommand(rt))
	cmd.AddCommand(NewSeedCommand(rt))
	return cmd
}
