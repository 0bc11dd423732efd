package cmd

import (
	"github.com/spf13/cobra"

	"github.com/telekom/oidc-cli/pkg/oidcctl/output"
)

func NewListCommand() *cobra.Command {
	var outputFormat string
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List the configured clients",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			format, err := output.ParseFormat(outputFormat, output.FormatTable)
			if err != nil {
				return err
			}
			clients := output.Summarize(rt.cfg)
			if format == output.FormatTable {
				output.WriteClientTable(rt.Writer(), clients, rt.Clock().Now())
				return nil
			}
			return output.WriteObject(rt.Writer(), format, clients)
		},
	}
	cmd.Flags().StringVarP(&outputFormat, "output", "o", "table", "Output format: table, json, yaml")
	return cmd
}
