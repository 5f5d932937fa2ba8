package app

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dlddu/passport/internal/crypto"
	"github.com/dlddu/passport/internal/logging"
	"github.com/dlddu/passport/internal/service"
)

func newClientCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Manage registered clients",
	}
	cmd.AddCommand(newClientCreateCmd(v))
	return cmd
}

func newClientCreateCmd(v *viper.Viper) *cobra.Command {
	var params service.CreateClientParams

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a client in the database",
		Long: `Register a client in the database.

Confidential clients receive a generated secret. It is printed once and only
its bcrypt hash is stored.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, v)
			if err != nil {
				return err
			}
			if !cfg.UsesPostgres() {
				return errors.New("client create needs database.url; the in-memory store does not outlive this command")
			}

			logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			st, err := openStores(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer st.Close()

			clients := service.NewClientService(st.clients, crypto.BcryptHasher{},
				service.WithLogger(logger),
				service.WithStorageTimeout(cfg.OAuth.StorageTimeout),
			)
			client, secret, err := clients.CreateClient(ctx, params)
			if err != nil {
				return fmt.Errorf("create client: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "client_id:     %s\n", client.ClientID)
			if secret != "" {
				fmt.Fprintf(out, "client_secret: %s\n", secret)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&params.ClientID, "id", "", "Client identifier")
	cmd.Flags().StringVar(&params.ClientName, "name", "", "Display name")
	cmd.Flags().StringSliceVar(&params.RedirectURIs, "redirect-uri", nil, "Registered redirect URI (repeatable)")
	cmd.Flags().StringSliceVar(&params.Scopes, "scope", nil, "Allowed scope (repeatable)")
	cmd.Flags().BoolVar(&params.Confidential, "confidential", false, "Generate a client secret")
	cmd.Flags().BoolVar(&params.Trusted, "trusted", false, "Skip the consent step for this client")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("redirect-uri")

	return cmd
}
