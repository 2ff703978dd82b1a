package main

import (
	"github.com/spf13/cobra"

	"github.com/hanpama/hurdles/internal/config"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "hurdles",
		Short: "Resolve declarative JSON queries against registered handlers",
		Long: `hurdles resolves nested JSON query definitions. Keys such as "user()"
or "posts[]" name operations; their values describe the shape of the
output. Handlers come from the built-in demo set (--demo) or a YAML
fixtures file (--fixtures).`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	config.DefineFlags(root.PersistentFlags())

	root.AddCommand(
		newServeCmd(),
		newRunCmd(),
		newKeysCmd(),
		newVersionCmd(),
	)
	return root
}
