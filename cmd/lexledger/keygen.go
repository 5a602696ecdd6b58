package main

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lexbox/ledger/vault"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a document encryption key",
	Long: `keygen prints a random 256-bit key in hex, suitable for
LEDGER_VAULT_KEY. With --salt it prints a random base64 salt for
LEDGER_VAULT_SALT instead.`,
	RunE: runKeygen,
}

func init() {
	keygenCmd.Flags().Bool("salt", false, "print a passphrase salt instead of a key")
}

func runKeygen(cmd *cobra.Command, _ []string) error {
	salt, err := cmd.Flags().GetBool("salt")
	if err != nil {
		return err
	}

	if salt {
		b := make([]byte, 16)
		if _, err := rand.Read(b); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), base64.StdEncoding.EncodeToString(b))
		return nil
	}

	key, err := vault.GenerateKey()
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(key))
	return nil
}
