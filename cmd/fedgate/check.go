package main

import (
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/hanpama/fedgate/internal/blueprint"
	"github.com/spf13/cobra"
)

func newCheckCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the service schemas and report every violation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			bp, err := a.blueprint(cmd.Context())
			var verr blueprint.ValidationError
			if errors.As(err, &verr) {
				red := color.New(color.FgRed)
				for _, v := range verr {
					red.Fprint(out, "✗ ")
					fmt.Fprintln(out, v.String())
				}
				return fmt.Errorf("%d violation(s) found", len(verr))
			}
			if err != nil {
				return err
			}
			color.New(color.FgGreen).Fprintf(out, "✓ %d service(s), schema is valid\n", len(bp.ServiceNames()))
			return nil
		},
	}
}
