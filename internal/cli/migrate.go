package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Spok95/school-roster/internal/db"
)

func NewMigrateCommand(rt *Runtime) *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down|status]",
		Short:     "Apply, roll back or show schema migrations",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down", "status"},
		RunE: func(cmd *cobra.Command, args []string) error {
			action := "up"
			if len(args) == 1 {
				action = args[0]
			}
			ctx := cmd.Context()
			b, err := openBackend(ctx, rt.Config)
			if err != nil {
				return err
			}
			defer func() { _ = b.Close() }()
			database, err := b.requireSQL()
			if err != nil {
				return err
			}

			switch action {
			case "up":
				err = db.Migrate(ctx, database)
			case "down":
				err = db.MigrateDown(ctx, database)
			case "status":
				err = db.MigrateStatus(ctx, database, cmd.OutOrStdout())
			}
			if err != nil {
				return fmt.Errorf("migrate %s: %w", action, err)
			}
			return nil
		},
	}
}
