// Package cli holds the cobra commands of the ems binary.
package cli

import (
	"fmt"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-ems-go/pkg/database"
	"github.com/ovaphlow/pitchfork/service-ems-go/pkg/utilities"
)

// runtime is shared by every subcommand once PersistentPreRunE has run.
type runtime struct {
	logger *zap.Logger
	sugar  *zap.SugaredLogger
	// connect is swapped in tests.
	connect func() (*sqlx.DB, error)
}

func (rt *runtime) db() (*sqlx.DB, error) {
	db, err := rt.connect()
	if err != nil {
		return nil, errors.Wrap(err, "db connect")
	}
	return db, nil
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	return newRootCmd(&runtime{
		connect: func() (*sqlx.DB, error) { return database.Connect(database.ConfigFromEnv()) },
	})
}

func newRootCmd(rt *runtime) *cobra.Command {
	root := &cobra.Command{
		Use:           "ems",
		Short:         "Enterprise management system API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			lg, err := utilities.Init(utilities.ConfigFromEnv())
			if err != nil {
				return errors.Wrap(err, "init logger")
			}
			rt.logger = lg
			rt.sugar = lg.Sugar()
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if rt.logger != nil {
				_ = rt.logger.Sync()
			}
		},
	}
	root.AddCommand(newServeCmd(rt), newMigrateCmd(rt), newUserCmd(rt))
	return root
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ems: %v\n", err)
		os.Exit(1)
	}
}
