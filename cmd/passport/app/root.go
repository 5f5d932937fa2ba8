// Package app provides the passport command-line application.
package app

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dlddu/passport/internal/config"
)

// version is injected at build time with -ldflags "-X .../app.version=..."
var version = "dev"

// NewRootCmd creates the passport root command with all subcommands attached.
// Every call returns an independent command tree with its own viper instance.
func NewRootCmd() *cobra.Command {
	v := viper.New()

	root := &cobra.Command{
		Use:   "passport",
		Short: "Passport SSO OAuth 2.0 authorization server",
		Long: `Passport issues authorization codes, JWT access tokens and refresh tokens
for registered client applications, and serves the profile of the signed-in
user through /userinfo.

Configuration is read from an optional YAML file, PASSPORT_* environment
variables and command-line flags, in increasing precedence.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringP("config", "c", "", "Path to the configuration file")

	root.AddCommand(newServeCmd(v))
	root.AddCommand(newClientCmd(v))
	root.AddCommand(newKeysCmd())
	root.AddCommand(newVersionCmd())

	return root
}

// loadConfig resolves the configuration for cmd and validates it
func loadConfig(cmd *cobra.Command, v *viper.Viper) (*config.Config, error) {
	configFile, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load(v, configFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// bindFlag binds a command flag to a configuration key
func bindFlag(v *viper.Viper, cmd *cobra.Command, key, flag string) {
	if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
		panic(fmt.Sprintf("bind flag %s: %v", flag, err))
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "passport %s\n", version)
		},
	}
}
