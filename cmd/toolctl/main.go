// Command toolctl exercises tool adapters and machine definitions from the shell.
package main

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/garyjia/statecore/pkg/utils"
)

type rootOptions struct {
	logLevel      string
	serviceConfig string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "toolctl",
		Short:         "Run tool adapters and inspect state machines",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "Log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&opts.serviceConfig, "service-config", os.Getenv("STATECORE_CONFIG"),
		"Service config file (database, tool defaults)")

	root.AddCommand(
		newRunCmd(opts),
		newMachinesCmd(),
		newAuditCmd(opts),
		newServeEchoCmd(),
	)
	return root
}

// logger writes console logs to stderr so stdout stays machine readable
func (o *rootOptions) logger() *zap.Logger {
	logger, err := utils.NewNamedLogger(utils.LoggerConfig{
		Level:      o.logLevel,
		OutputPath: "stderr",
		Format:     "console",
	}, "toolctl")
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		// Error already printed by cobra
		os.Exit(1)
	}
}
