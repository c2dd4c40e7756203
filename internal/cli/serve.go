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
	"os"
	"os/signal"
	"syscall"

	"github.com/jeremyhahn/go-passkeys/internal/app"
	"github.com/spf13/cobra"
)

// serveCmd runs the passkey server
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the passkey server",
	Long: `Run the WebAuthn registration and login endpoints, the challenge
sweeper and, when enabled, the blog upload endpoint. SIGINT or SIGTERM
drains in-flight requests and exits.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runServe(cmd.Context()); err != nil {
			handleError(err)
		}
	},
}

func runServe(parent context.Context) error {
	cfg, err := getConfig().LoadServerConfig()
	if err != nil {
		return err
	}
	printVerbose("Loaded configuration (storage=%s, session=%s)", cfg.Storage.Backend, cfg.Session.Provider)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var version string
	if Version != "dev" {
		version = Version
	}

	a, err := app.New(ctx, cfg, app.Options{Version: version})
	if err != nil {
		return err
	}
	defer a.Close()

	return a.Run(ctx)
}
