package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Spok95/school-roster/internal/export"
	"github.com/Spok95/school-roster/internal/jobs"
)

func NewAuditCommand(rt *Runtime) *cobra.Command {
	var xlsxPath string

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Report classes whose enrolled_count differs from live membership (read-only)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			b, err := openBackend(ctx, rt.Config)
			if err != nil {
				return err
			}
			defer func() { _ = b.Close() }()

			audit := jobs.NewEnrollmentAudit(b.drift, rt.Log.Named("audit"))
			if err := jobs.Run(ctx, jobs.EnrollmentAuditName, audit.Run); err != nil {
				return err
			}
			drift := audit.Last()

			if xlsxPath != "" {
				wb, err := export.DriftWorkbook(drift)
				if err != nil {
					return err
				}
				if err := wb.SaveAs(xlsxPath); err != nil {
					return fmt.Errorf("save %s: %w", xlsxPath, err)
				}
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{"drift": drift, "classes": len(drift)})
		},
	}
	cmd.Flags().StringVar(&xlsxPath, "xlsx", "", "also write the report to this .xlsx file")
	return cmd
}
