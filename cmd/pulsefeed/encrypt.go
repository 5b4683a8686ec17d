package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/pulsefeed/internal/secrets"
)

const encryptionKeyEnv = "SECRET_ENCRYPTION_KEY"

// encryptCmd produces ciphertext for integration secrets.
var encryptCmd = &cobra.Command{
	Use:   "encrypt [value]",
	Short: "Encrypt an integration secret",
	Long: `Encrypt a value for the secrets section of a PulseFeed config file.

The key is read from --key, or from SECRET_ENCRYPTION_KEY when the flag is
not set. It is either 64 hex characters or a passphrase. Use --generate-key
to print a new random key.

Example:
  pulsefeed encrypt --generate-key
  pulsefeed encrypt -k "$SECRET_ENCRYPTION_KEY" my-pihole-token`,
	Args: cobra.MaximumNArgs(1),
	RunE: runEncrypt,
}

func init() {
	rootCmd.AddCommand(encryptCmd)

	encryptCmd.Flags().StringP("key", "k", "", "encryption key (defaults to $"+encryptionKeyEnv+")")
	encryptCmd.Flags().Bool("generate-key", false, "print a new random encryption key and exit")
}

func runEncrypt(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	if generate, _ := cmd.Flags().GetBool("generate-key"); generate {
		key, err := secrets.GenerateKey()
		if err != nil {
			return fmt.Errorf("failed to generate key: %w", err)
		}
		fmt.Fprintln(out, key)
		return nil
	}

	if len(args) == 0 || args[0] == "" {
		return errors.New("a value to encrypt is required")
	}

	key, _ := cmd.Flags().GetString("key")
	if key == "" {
		key = os.Getenv(encryptionKeyEnv)
	}
	if key == "" {
		return fmt.Errorf("no encryption key: set --key or %s", encryptionKeyEnv)
	}

	resolver, err := secrets.NewResolver(key)
	if err != nil {
		return fmt.Errorf("invalid encryption key: %w", err)
	}
	ciphertext, err := resolver.Encrypt(args[0])
	if err != nil {
		return fmt.Errorf("failed to encrypt: %w", err)
	}

	fmt.Fprintln(out, ciphertext)
	return nil
}
