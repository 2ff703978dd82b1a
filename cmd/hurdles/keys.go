package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hanpama/hurdles/internal/planner"
)

func newKeysCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keys [file]",
		Short: "Print the tasks a query flattens into",
		Long: `Reads a JSON query definition like run does and prints one line per task
in execution order: path, operation, parameters and requested shape.
Nothing is resolved.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := readQuery(cmd, args)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PATH\tOPERATION\tPARAMS\tSHAPE")
			for _, t := range planner.Flatten(def) {
				op := "-"
				if t.Operation {
					op = string(t.Kind) + " " + t.Name
					if t.Collection {
						op += "[]"
					}
				}
				params, err := json.Marshal(t.Params)
				if err != nil {
					return fmt.Errorf("task %s: %w", t.ID(), err)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", t.ID(), op, params, t.Shape)
			}
			return tw.Flush()
		},
	}
}
