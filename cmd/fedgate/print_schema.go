package main

import (
	"fmt"
	"os"

	"github.com/hanpama/fedgate/internal/schema"
	"github.com/spf13/cobra"
)

func newPrintSchemaCommand(a *app) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "print-schema",
		Short: "Print the client-facing schema as SDL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			bp, err := a.blueprint(cmd.Context())
			if err != nil {
				return err
			}
			sdl := schema.Render(bp.Model)
			if out == "" {
				_, err := fmt.Fprint(cmd.OutOrStdout(), sdl)
				return err
			}
			return os.WriteFile(out, []byte(sdl), 0o644)
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the schema to a file instead of stdout")
	return cmd
}
