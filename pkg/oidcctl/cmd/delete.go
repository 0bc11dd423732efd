package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func NewDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:               "delete NAME",
		Aliases:           []string{"rm"},
		Short:             "Delete a client and its cached tokens",
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completeClientNames,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			name := args[0]
			if !rt.cfg.DeleteClient(name) {
				rt.Logger().Infow("Client not found, nothing to delete", "client", name)
				return nil
			}
			if err := rt.SaveConfig(); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(rt.ErrWriter(), "Client '%s' deleted\n", name)
			return nil
		},
	}
}
