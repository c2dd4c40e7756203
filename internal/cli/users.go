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
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/jeremyhahn/go-passkeys/internal/app"
	"github.com/jeremyhahn/go-passkeys/internal/config"
	"github.com/jeremyhahn/go-passkeys/pkg/validation"
	"github.com/jeremyhahn/go-passkeys/pkg/webauthn"
	"github.com/spf13/cobra"
)

// usersCmd represents the users command
var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Inspect registered users",
	Long:  `Read users and their passkeys from the configured credential store`,
}

var usersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered users",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := getConfig().LoadServerConfig()
		if err != nil {
			handleError(err)
			return
		}
		printer := NewPrinter(getConfig().OutputFormat, os.Stdout)
		if err := runUsersList(cmd.Context(), cfg.Storage, printer); err != nil {
			handleError(err)
		}
	},
}

var usersShowCmd = &cobra.Command{
	Use:   "show <email>",
	Short: "Show a user and their passkeys",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := getConfig().LoadServerConfig()
		if err != nil {
			handleError(err)
			return
		}
		printer := NewPrinter(getConfig().OutputFormat, os.Stdout)
		if err := runUsersShow(cmd.Context(), cfg.Storage, args[0], printer); err != nil {
			handleError(err)
		}
	},
}

func init() {
	usersCmd.AddCommand(usersListCmd)
	usersCmd.AddCommand(usersShowCmd)
}

// withUserStore opens the configured backend for the duration of fn.
func withUserStore(ctx context.Context, cfg config.StorageConfig, fn func(*webauthn.BackendUserStore) error) (err error) {
	backend, err := app.OpenStorage(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer func() {
		if cerr := backend.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	printVerbose("Opened %s storage", cfg.Backend)
	return fn(webauthn.NewUserStore(backend))
}

func runUsersList(ctx context.Context, cfg config.StorageConfig, printer *Printer) error {
	return withUserStore(ctx, cfg, func(users *webauthn.BackendUserStore) error {
		emails, err := users.List(ctx)
		if err != nil {
			return err
		}
		sort.Strings(emails)
		return printer.PrintUserList(emails)
	})
}

func runUsersShow(ctx context.Context, cfg config.StorageConfig, email string, printer *Printer) error {
	normalized, err := validation.NormalizeEmail(email)
	if err != nil {
		return err
	}
	return withUserStore(ctx, cfg, func(users *webauthn.BackendUserStore) error {
		user, err := users.Get(ctx, normalized)
		if errors.Is(err, webauthn.ErrUserNotFound) {
			return fmt.Errorf("user %s not found", normalized)
		}
		if err != nil {
			return err
		}
		return printer.PrintUser(user)
	})
}
