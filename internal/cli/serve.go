package cli

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Spok95/school-roster/internal/app"
	"github.com/Spok95/school-roster/internal/db"
	"github.com/Spok95/school-roster/internal/jobs"
	"github.com/Spok95/school-roster/internal/lifecycle"
	"github.com/Spok95/school-roster/internal/observability"
	"github.com/Spok95/school-roster/internal/policy"
	"github.com/Spok95/school-roster/internal/roster"
)

var release = "dev"

func NewServeCommand(rt *Runtime) *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			cfg, lg := rt.Config, rt.Log

			flush, err := observability.InitSentry(cfg.SentryDSN, cfg.Env, release)
			if err != nil {
				lg.Base.Warn("sentry init failed", zap.Error(err))
			}
			defer flush()

			b, err := openBackend(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = b.Close() }()

			if migrate && b.sqlDB != nil {
				if err := db.Migrate(ctx, b.sqlDB); err != nil {
					return fmt.Errorf("migrate: %w", err)
				}
			}

			engine := roster.NewEngine(b.classes, b.members, lg.Named("roster"))
			svc := lifecycle.NewService(policy.New(b.counter, nil), b.states, lg.Named("lifecycle"))

			audit := jobs.NewEnrollmentAudit(b.drift, lg.Named("jobs"))
			jobs.New(ctx).Every(cfg.AuditInterval, jobs.EnrollmentAuditName, audit.Run)

			srv := app.StartHTTP(ctx, cfg.HTTPAddr, app.NewHandler(app.Deps{
				Ping:      b.ping,
				Roster:    engine,
				Lifecycle: svc,
				Classes:   b.classes,
				Log:       lg.Named("http"),
			}), lg.Base)

			lg.Base.Info("rosterd started",
				zap.String("store", string(cfg.Store)),
				zap.Duration("audit_interval", cfg.AuditInterval))
			srv.Wait()
			lg.Base.Info("rosterd stopped")
			return nil
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", true, "apply migrations before serving (postgres only)")
	return cmd
}
