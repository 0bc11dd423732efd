package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/telekom/oidc-cli/pkg/oidcctl/auth"
	"github.com/telekom/oidc-cli/pkg/oidcctl/config"
)

func NewTokenCommand() *cobra.Command {
	var (
		name    string
		access  bool
		id      bool
		refresh bool
		bearer  bool
		fresh   bool
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print a valid token of a client, refreshing it when needed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			if name == "" {
				name = os.Getenv("OIDC_NAME")
			}
			if name == "" {
				return errors.New("a client name is required, use --name")
			}
			client, err := rt.cfg.FindClient(name)
			if err != nil {
				return err
			}
			manager, err := rt.TokenManager()
			if err != nil {
				return err
			}

			var result auth.TokenResult
			if fresh {
				result, err = manager.FetchToken(cmd.Context(), client)
			} else {
				result, err = manager.GetToken(cmd.Context(), client)
			}
			if err != nil {
				return err
			}

			state := result.ClientState()
			switch result.(type) {
			case auth.Refreshed:
				client.State = &state
				if err := rt.SaveConfig(); err != nil {
					return err
				}
				rt.Logger().Infow("Token refreshed", "client", name)
			case auth.Existing:
				rt.Logger().Debugw("Using cached token", "client", name)
			}

			token, err := selectToken(state, id, refresh)
			if err != nil {
				return err
			}
			if bearer {
				token = "Bearer " + token
			}
			_, err = fmt.Fprintln(rt.Writer(), token)
			return err
		},
	}
	cmd.Flags().StringVarP(&name, "name", "n", "", "Name of the client (env OIDC_NAME)")
	cmd.Flags().BoolVarP(&access, "access", "a", false, "Print the access token (default)")
	cmd.Flags().BoolVarP(&id, "id", "i", false, "Print the ID token")
	cmd.Flags().BoolVarP(&refresh, "refresh", "r", false, "Print the refresh token")
	cmd.Flags().BoolVarP(&bearer, "bearer", "b", false, "Prefix the token with \"Bearer \" for use as an Authorization header")
	cmd.Flags().BoolVar(&fresh, "fresh", false, "Fetch a new token even if the cached one is still valid")
	cmd.MarkFlagsMutuallyExclusive("access", "id", "refresh")
	_ = cmd.RegisterFlagCompletionFunc("name", completeClientNames)
	return cmd
}

func selectToken(state config.ClientState, id, refresh bool) (string, error) {
	switch {
	case id:
		if state.IDToken == "" {
			return "", errors.New("ID token not available")
		}
		return state.IDToken, nil
	case refresh:
		if state.RefreshToken == "" {
			return "", errors.New("refresh token not available")
		}
		return state.RefreshToken, nil
	default:
		return state.AccessToken, nil
	}
}
