package main

import (
	"github.com/spf13/cobra"
)

var (
	flagConfig   string
	flagLogLevel string
	flagTickHz   int
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "emberd",
		Short:        "emberd runs the Ember kernel on a host process",
		Long:         "emberd boots the Ember thread scheduler with a host tick source\nand opens an interactive console over it.",
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flagConfig, "config", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level (trace, debug, info, notice, warning, err, crit, alert, emerg)")

	root.AddCommand(
		newRunCmd(),
		newVersionCmd(),
	)

	return root
}
