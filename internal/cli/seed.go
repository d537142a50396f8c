package cli

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/Spok95/school-roster/internal/db"
)

func NewSeedCommand(rt *Runtime) *cobra.Command {
	var maxStudents, students int

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Insert a demo class with free students (postgres only)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
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

			classID, ids, err := db.SeedDemo(ctx, database, maxStudents, students)
			if err != nil {
				return err
			}
			return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]any{
				"class_id":    classID,
				"student_ids": ids,
			})
		},
	}
	cmd.Flags().IntVar(&maxStudents, "max", 25, "class capacity")
	cmd.Flags().IntVar(&students, "students", 30, "number of students to create")
	return cmd
}
