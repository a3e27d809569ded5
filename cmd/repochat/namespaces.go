// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/kraklabs/repochat/internal/bootstrap"
	uerrors "github.com/kraklabs/repochat/internal/errors"
	"github.com/kraklabs/repochat/internal/output"
	"github.com/kraklabs/repochat/internal/ui"
)

// runNamespaces executes the 'namespaces' CLI command, listing every indexed
// repository namespace in the vector store.
//
// Examples:
//
//	repochat namespaces
//	repochat --json namespaces
func runNamespaces(args []string, configPath string, globals GlobalFlags) {
	fs := flag.NewFlagSet("namespaces", flag.ExitOnError)

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: repochat namespaces

Lists the namespaces of all indexed repositories.

Options:
`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cfg, err := LoadConfig(configPath)
	if err != nil {
		uerrors.FatalError(uerrors.NewConfigError(
			"Cannot load repochat configuration",
			err.Error(),
			"Run 'repochat init' or fix .repochat/config.yaml",
			err,
		), globals.JSON)
	}

	logger := newLogger(globals)
	slog.SetDefault(logger)

	setProviderEnv(cfg)
	app, err := bootstrap.NewApp(appConfig(cfg), logger)
	if err != nil {
		uerrors.FatalError(uerrors.NewConfigError(
			"Cannot initialize repochat",
			err.Error(),
			"Check the provider settings in .repochat/config.yaml",
			err,
		), globals.JSON)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	names, err := app.Store.ListNamespaces(ctx)
	if err != nil {
		uerrors.FatalError(uerrors.NewStoreError(
			"Cannot list namespaces",
			err.Error(),
			"Check that Qdrant is running and qdrant.url is correct",
			err,
		), globals.JSON)
	}

	if globals.JSON {
		if names == nil {
			names = []string{}
		}
		_ = output.JSON(map[string]any{"namespaces": names})
		return
	}

	if len(names) == 0 {
		ui.Info("No repositories indexed yet. Run 'repochat ingest <repo-url>' first.")
		return
	}

	ui.Header("Indexed Repositories")
	for _, name := range names {
		fmt.Printf("  %s\n", name)
	}
}
