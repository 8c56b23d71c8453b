// Package commands contains the admin tooling commands.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRoot constructs the admin command with every subcommand attached.
func NewRoot(build string) *cobra.Command {
	root := cobra.Command{
		Use:          "admin",
		Short:        "Administrative tasks for the operation ledger",
		Version:      build,
		SilenceUsage: true,
	}

	root.AddCommand(
		keygenCmd(),
		hashCmd(),
		signCmd(),
		sendCmd(),
	)

	return &root
}
