package cli

import (
	"github.com/spf13/cobra"

	"github.com/ovaphlow/pitchfork/service-ems-go/pkg/database"
)

func newMigrateCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := rt.db()
			if err != nil {
				return err
			}
			defer db.Close()
			if err := database.Migrate(cmd.Context(), db.DB); err != nil {
				return err
			}
			rt.sugar.Info("migrations applied")
			return nil
		},
	}
}
