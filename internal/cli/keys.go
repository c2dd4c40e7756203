// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-passkeys.
//
// go-passkeys is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jeremyhahn/go-passkeys/pkg/session"
	"github.com/spf13/cobra"
)

var (
	keyAlgorithm  string
	keyPassphrase string
	keyOut        string
	keyForce      bool
)

// keysCmd represents the keys command
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage session signing keys",
}

var keysGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a session signing key",
	Long: `Generate a PKCS#8 PEM private key for signing session tokens.
Point session.jwt.key_file at the result. With --passphrase the key
is encrypted and session.jwt.passphrase must be set to match.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		printer := NewPrinter(getConfig().OutputFormat, os.Stdout)
		if err := runKeysGenerate(keyAlgorithm, keyPassphrase, keyOut, keyForce, printer); err != nil {
			handleError(err)
		}
	},
}

func init() {
	keysGenerateCmd.Flags().StringVar(&keyAlgorithm, "alg", session.KeyAlgorithmEd25519,
		"key algorithm (ed25519, es256, es384, rs256)")
	keysGenerateCmd.Flags().StringVar(&keyPassphrase, "passphrase", "",
		"encrypt the key with this passphrase")
	keysGenerateCmd.Flags().StringVar(&keyOut, "out", "session-signing.pem",
		"output file")
	keysGenerateCmd.Flags().BoolVar(&keyForce, "force", false,
		"overwrite an existing output file")

	keysCmd.AddCommand(keysGenerateCmd)
}

func runKeysGenerate(algorithm, passphrase, out string, force bool, printer *Printer) error {
	if out == "" {
		return fmt.Errorf("output file is required")
	}
	algorithm = strings.ToLower(algorithm)

	key, err := session.GenerateKey(algorithm)
	if err != nil {
		return err
	}
	var pass []byte
	if passphrase != "" {
		pass = []byte(passphrase)
	}
	data, err := session.EncodePrivateKeyPEM(key, pass)
	if err != nil {
		return err
	}
	kid, err := session.KeyID(key.Public())
	if err != nil {
		return err
	}

	if dir := filepath.Dir(out); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("failed to create key directory: %w", err)
		}
	}
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !force {
		flags |= os.O_EXCL
	}
	// #nosec G304 - output path from the operator
	f, err := os.OpenFile(out, flags, 0600)
	if err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("%s already exists, use --force to overwrite", out)
		}
		return fmt.Errorf("failed to create key file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write key file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write key file: %w", err)
	}

	printVerbose("Wrote %d bytes to %s", len(data), out)
	return printer.PrintKeyGenerated(algorithm, kid, out)
}
