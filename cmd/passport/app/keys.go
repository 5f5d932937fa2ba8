package app

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dlddu/passport/internal/jwt"
)

func newKeysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage the RS256 signing key",
	}
	cmd.AddCommand(newKeysGenerateCmd())
	return cmd
}

func newKeysGenerateCmd() *cobra.Command {
	var (
		privatePath string
		publicPath  string
		bits        int
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate an RSA key pair for signing access tokens",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, p := range []string{privatePath, publicPath} {
				if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
					return err
				}
			}

			key, err := jwt.GenerateKeyPair(bits)
			if err != nil {
				return err
			}
			if err := jwt.SaveKeyPair(key, privatePath, publicPath); err != nil {
				return err
			}

			kid, err := jwt.KeyID(&key.PublicKey)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s and %s (kid %s)\n", privatePath, publicPath, kid)
			return nil
		},
	}

	cmd.Flags().StringVar(&privatePath, "private-key", "keys/private.pem", "Private key output path")
	cmd.Flags().StringVar(&publicPath, "public-key", "keys/public.pem", "Public key output path")
	cmd.Flags().IntVar(&bits, "bits", jwt.MinRSAKeyBits, "RSA key size in bits")

	return cmd
}
