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
	"context"
	"log/slog"
	"os"

	"github.com/jeremyhahn/go-passkeys/pkg/client"
	"github.com/jeremyhahn/go-passkeys/pkg/logging"
	"github.com/spf13/cobra"
)

// clientOptions configures the development client commands.
type clientOptions struct {
	URL        string
	Origin     string
	RPID       string
	PathPrefix string
	TokenFile  string
	Insecure   bool
	Login      bool
}

var clientOpts clientOptions

// clientCmd represents the client command
var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Drive ceremonies against a running server",
	Long: `Run registration and login ceremonies against a passkeyd server using
an in-memory software authenticator. Intended for development and smoke
testing; credentials are discarded when the process exits.`,
}

var clientRegisterCmd = &cobra.Command{
	Use:   "register <email>",
	Short: "Register a passkey for email",
	Long: `Register a new software passkey for email. With --login an
authentication ceremony follows using the credential just created.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		printer := NewPrinter(getConfig().OutputFormat, os.Stdout)
		if err := runClientRegister(cmd.Context(), clientOpts, args[0], printer); err != nil {
			handleError(err)
		}
	},
}

func init() {
	flags := clientRegisterCmd.Flags()
	flags.StringVar(&clientOpts.URL, "url", "http://localhost:8888", "server base URL")
	flags.StringVar(&clientOpts.Origin, "origin", "http://localhost:8888",
		"origin reported by the authenticator")
	flags.StringVar(&clientOpts.RPID, "rp-id", "", "relying party id to request")
	flags.StringVar(&clientOpts.PathPrefix, "prefix", "", "ceremony path prefix, e.g. /.netlify/functions")
	flags.StringVar(&clientOpts.TokenFile, "token-file", "", "write the session token to this file")
	flags.BoolVar(&clientOpts.Insecure, "insecure", false, "skip TLS certificate verification")
	flags.BoolVar(&clientOpts.Login, "login", false, "log in after registering")

	clientCmd.AddCommand(clientRegisterCmd)
}

func clientLogger() *slog.Logger {
	level := "warn"
	if getConfig().Verbose {
		level = "debug"
	}
	logger, err := logging.New(logging.Config{Level: level})
	if err != nil {
		return slog.Default()
	}
	return logger
}

func newCeremonyClient(opts clientOptions, logger *slog.Logger) (*client.Client, error) {
	platform, err := client.NewVirtualPlatform(opts.Origin)
	if err != nil {
		return nil, err
	}

	var sink client.SessionSink = client.SinkFunc(func(ctx context.Context, token string) error {
		logger.DebugContext(ctx, "Session token received", "length", len(token))
		return nil
	})
	if opts.TokenFile != "" {
		sink = &client.FileSink{Path: opts.TokenFile}
	}

	return client.New(&client.Config{
		BaseURL:               opts.URL,
		PathPrefix:            opts.PathPrefix,
		RPID:                  opts.RPID,
		TLSInsecureSkipVerify: opts.Insecure,
		Logger:                logger,
	}, platform, sink)
}

func runClientRegister(ctx context.Context, opts clientOptions, email string, printer *Printer) error {
	c, err := newCeremonyClient(opts, clientLogger())
	if err != nil {
		return err
	}

	result, err := c.Register(ctx, email)
	if err != nil {
		return err
	}
	if err := printer.PrintCeremony("Registration", result.Email, opts.TokenFile); err != nil {
		return err
	}
	if !opts.Login {
		return nil
	}

	result, err = c.Login(ctx, result.Email)
	if err != nil {
		return err
	}
	return printer.PrintCeremony("Login", result.Email, opts.TokenFile)
}
