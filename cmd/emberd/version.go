package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"ember/internal/buildinfo"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print build information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "emberd", buildinfo.Full())
		},
	}
}
