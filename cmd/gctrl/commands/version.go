package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	appversion "github.com/cncbridge/gctrl/internal/version"
)

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print gctrl version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), appversion.Full("gctrl"))
			return nil
		},
	}
}
