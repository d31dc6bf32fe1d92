// Package commands implements the radioctlctl cobra command tree: a thin
// client that frames RadioCommand, UpdateMandatedOutcomes, and
// UpdateEnvironment requests over the remote-control socket (RF control
// plane specification Section 6.1) and prints the decoded Response.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// addr is the remote-control socket address, shared by every subcommand.
var addr string

// RootCmd is radioctlctl's entry point.
var RootCmd = &cobra.Command{
	Use:   "radioctlctl",
	Short: "control a radioctl control plane daemon over its remote-control socket",
}

func init() {
	RootCmd.PersistentFlags().StringVar(&addr, "addr", "127.0.0.1:8888", "radioctl remote-control socket address")
}

// Execute runs the command tree, exiting nonzero on error.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
