package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/telekom/oidc-cli/pkg/oidcctl/output"
	"github.com/telekom/oidc-cli/pkg/version"
)

func NewVersionCommand() *cobra.Command {
	var outputFormat string

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show oidc version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := version.GetBuildInfo()

			// Get runtime if available (for custom writer), but don't fail if missing
			rt, _ := getRuntime(cmd)
			writer := cmd.OutOrStdout()
			if rt != nil {
				writer = rt.Writer()
			}

			switch outputFormat {
			case "":
				_, err := fmt.Fprintln(writer, info.String())
				return err
			case string(output.FormatJSON), string(output.FormatYAML):
				return output.WriteObject(writer, output.Format(outputFormat), info)
			default:
				return fmt.Errorf("unknown output format: %s (expected json or yaml)", outputFormat)
			}
		},
	}

	cmd.Flags().StringVarP(&outputFormat, "output", "o", "", "Output format: json, yaml")

	return cmd
}
