package main

import (
	"github.com/spf13/cobra"

	"github.com/copyleftdev/varopt/internal/logging"
)

// cli carries state shared by the subcommands.
type cli struct {
	logLevel  string
	logFormat string
	logger    *logging.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	rootCmd := &cobra.Command{
		Use:   "varopt",
		Short: "Bound-constrained minimization with L-BFGS-B",
		Long: `varopt minimizes smooth test functions with the limited-memory BFGS
bound-constrained method and prints the minimizer, the objective value and
the number of function evaluations.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := logging.ParseLevel(c.logLevel)
			if err != nil {
				return err
			}
			format := logging.TextFormat
			if c.logFormat == "json" {
				format = logging.JSONFormat
			}
			c.logger = logging.New(level, cmd.ErrOrStderr()).WithFormat(format)
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&c.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&c.logFormat, "log-format", "text", "Log format (text, json)")

	rootCmd.AddCommand(newRunCmd(c), newObjectivesCmd(), newVersionCmd())
	return rootCmd
}
