package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/telekom/oidc-cli/pkg/oidcctl/auth"
	"github.com/telekom/oidc-cli/pkg/oidcctl/callback"
	"github.com/telekom/oidc-cli/pkg/oidcctl/config"
)

// createOptions holds the flags shared by both create subcommands.
type createOptions struct {
	issuer   string
	clientID string
	scope    string
	force    bool
}

func (o *createOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.issuer, "issuer", "", "URL of the issuer")
	cmd.Flags().StringVarP(&o.clientID, "client-id", "i", "", "The client ID")
	cmd.Flags().StringVar(&o.scope, "scope", "", "Space separated scopes to request")
	cmd.Flags().BoolVarP(&o.force, "force", "f", false, "Overwrite an existing client with the same name")
	_ = cmd.MarkFlagRequired("issuer")
	_ = cmd.MarkFlagRequired("client-id")
}

func NewCreateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new client",
	}
	cmd.AddCommand(
		newCreateConfidentialCommand(),
		newCreatePublicCommand(),
	)
	return cmd
}

func newCreateConfidentialCommand() *cobra.Command {
	var (
		opts        createOptions
		secret      string
		secretEnv   string
		secretFile  string
		skipInitial bool
	)
	cmd := &cobra.Command{
		Use:   "confidential NAME",
		Short: "Create a confidential client using the client credentials grant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			name := args[0]
			clientSecret, err := auth.ResolveClientSecret(secret, secretEnv, secretFile)
			if err != nil {
				return err
			}
			client := &config.Client{
				IssuerURL: opts.issuer,
				Type:      config.Confidential(opts.clientID, clientSecret),
				Scope:     opts.scope,
			}
			if err := rt.cfg.AddClient(name, client, opts.force); err != nil {
				return err
			}
			rt.Logger().Debugw("Creating client", "name", name, "type", "confidential")

			if !skipInitial {
				manager, err := rt.TokenManager()
				if err != nil {
					return err
				}
				result, err := manager.FetchToken(cmd.Context(), client)
				if err != nil {
					return fmt.Errorf("failed retrieving first token: %w", err)
				}
				state := result.ClientState()
				logFirstToken(rt, state)
				client.State = &state
			}

			if err := rt.SaveConfig(); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(rt.ErrWriter(), "Client '%s' created\n", name)
			return nil
		},
	}
	opts.bind(cmd)
	cmd.Flags().StringVarP(&secret, "secret", "s", "", "The client secret")
	cmd.Flags().StringVar(&secretEnv, "secret-env", "", "Read the client secret from this environment variable")
	cmd.Flags().StringVar(&secretFile, "secret-file", "", "Read the client secret from this file")
	cmd.Flags().BoolVar(&skipInitial, "skip-initial", false, "Skip fetching the initial token")
	cmd.MarkFlagsMutuallyExclusive("secret", "secret-env", "secret-file")
	return cmd
}

func newCreatePublicCommand() *cobra.Command {
	var (
		opts    createOptions
		port    int
		bind    = callback.BindPrefer6
		open    bool
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "public NAME",
		Short: "Create a public client by logging in through the browser",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			name := args[0]
			if port < 0 || port > 65535 {
				return fmt.Errorf("invalid port %d", port)
			}
			client := &config.Client{
				IssuerURL: opts.issuer,
				Type:      config.Public(opts.clientID),
				Scope:     opts.scope,
			}
			if err := rt.cfg.AddClient(name, client, opts.force); err != nil {
				return err
			}
			rt.Logger().Debugw("Creating client", "name", name, "type", "public")

			manager, err := rt.TokenManager()
			if err != nil {
				return err
			}
			state, err := manager.Login(cmd.Context(), auth.LoginConfig{
				Issuer:      opts.issuer,
				ClientID:    opts.clientID,
				Scope:       opts.scope,
				Bind:        bind,
				Port:        port,
				OpenBrowser: open,
				Timeout:     timeout,
				Out:         rt.ErrWriter(),
			})
			if err != nil {
				return err
			}
			logFirstToken(rt, state)
			client.State = &state

			if err := rt.SaveConfig(); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(rt.ErrWriter(), "Client '%s' created\n", name)
			return nil
		},
	}
	opts.bind(cmd)
	cmd.Flags().IntVarP(&port, "port", "p", 0, "Port of the local callback server, 0 picks a free one")
	cmd.Flags().Var(&bind, "bind", "Address family of the callback server: prefer6, prefer4, only6, only4")
	cmd.Flags().BoolVarP(&open, "open", "o", false, "Open the login URL in the browser")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Give up waiting for the login after this duration, 0 waits forever")
	_ = cmd.RegisterFlagCompletionFunc("bind", func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		modes := make([]string, 0, len(callback.BindModes))
		for _, m := range callback.BindModes {
			modes = append(modes, m.String())
		}
		return modes, cobra.ShellCompDirectiveNoFileComp
	})
	return cmd
}

func logFirstToken(rt *runtimeState, state config.ClientState) {
	expires := "never"
	if state.Expires != nil {
		expires = state.Expires.UTC().Format(time.RFC3339)
	}
	rt.Logger().Infow("Received first token",
		"idToken", state.IDToken != "",
		"refreshToken", state.RefreshToken != "",
		"expires", expires,
	)
}
