package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	var compact bool
	cmd := &cobra.Command{
		Use:   "run [file]",
		Short: "Resolve one query and print the result as JSON",
		Long: `Reads a JSON query definition from file, or from stdin when file is
omitted or "-", resolves it and prints the result.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			def, err := readQuery(cmd, args)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if cfg.Server.Timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, cfg.Server.Timeout)
				defer cancel()
			}
			c, err := build(ctx, cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer c.Close(context.Background())

			out, err := c.engine.Run(ctx, def)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			if !compact {
				enc.SetIndent("", "  ")
			}
			if err := enc.Encode(out); err != nil {
				return fmt.Errorf("encode result: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&compact, "compact", false, "Print the result on one line")
	return cmd
}
