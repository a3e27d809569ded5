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
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/kraklabs/repochat/internal/bootstrap"
	uerrors "github.com/kraklabs/repochat/internal/errors"
	"github.com/kraklabs/repochat/internal/output"
	"github.com/kraklabs/repochat/internal/ui"
	"github.com/kraklabs/repochat/pkg/ingestion"
)

// runIngest executes the 'ingest' CLI command, indexing one repository.
//
// It clones the repository, chunks its files, embeds the chunks in batches,
// and inserts them into the vector store under the namespace derived from
// the URL. Re-running against an already indexed repository is a no-op.
//
// Examples:
//
//	repochat ingest https://github.com/user/repo.git
//	repochat --json ingest https://github.com/user/repo.git
func runIngest(args []string, configPath string, globals GlobalFlags) {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: repochat ingest <repo-url>

Indexes a git repository into the vector store. The namespace is derived
from the repository URL; submitting the same URL twice is a no-op.

Examples:
  repochat ingest https://github.com/user/repo.git
  repochat --json ingest https://github.com/user/repo.git

Options:
`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() != 1 {
		fs.Usage()
		os.Exit(1)
	}
	repoURL := fs.Arg(0)

	if err := ingestion.ValidateRepoURL(repoURL); err != nil {
		uerrors.FatalError(uerrors.NewInputError(
			"Invalid repository URL",
			err.Error(),
			"Use a URL like 'https://github.com/user/repo.git'",
		), globals.JSON)
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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("shutdown.signal", "signal", sig.String())
		cancel()
	}()

	progressCfg := NewProgressConfig(globals)
	bar := NewSpinner(progressCfg, "Indexing repository...")
	app.Pipeline.SetProgressFunc(func(done, total int) {
		if bar != nil {
			bar.Describe(fmt.Sprintf("Embedding batches (%d/%d)...", done, total))
			_ = bar.Add(1)
		}
	})

	result, err := app.Pipeline.Run(ctx, repoURL)
	if bar != nil {
		_ = bar.Finish()
	}
	if err != nil {
		uerrors.FatalError(ingestUserError(err), globals.JSON)
	}

	if globals.JSON {
		_ = output.JSON(map[string]any{
			"namespace": result.Namespace,
			"skipped":   result.Skipped,
			"files":     result.FilesLoaded,
			"chunks":    result.ChunksCreated,
			"documents": result.DocumentsInserted,
			"batches":   result.BatchesSent,
			"total_ms":  result.TotalDuration.Milliseconds(),
		})
		return
	}

	if result.Skipped {
		ui.Info(fmt.Sprintf("Repository already indexed as namespace '%s'", result.Namespace))
		return
	}

	printIngestResult(result)
}

// ingestUserError maps a pipeline failure to a structured CLI error based on
// the stage that produced it.
func ingestUserError(err error) *uerrors.UserError {
	var jobErr *ingestion.JobError
	if !errors.As(err, &jobErr) {
		return uerrors.NewInternalError(
			"Indexing failed",
			err.Error(),
			"This is a bug. Please report it at github.com/kraklabs/repochat/issues",
			err,
		)
	}

	switch jobErr.Stage {
	case ingestion.StageNamespace, ingestion.StageInsert:
		return uerrors.NewStoreError(
			"Vector store operation failed",
			jobErr.Err.Error(),
			"Check that Qdrant is running and qdrant.url is correct",
			err,
		)
	case ingestion.StageClone:
		return uerrors.NewNetworkError(
			"Cannot clone the repository",
			jobErr.Err.Error(),
			"Check the URL and that the repository is publicly reachable",
			err,
		)
	case ingestion.StageEmbed:
		return uerrors.NewNetworkError(
			"Embedding failed",
			jobErr.Err.Error(),
			"Check the embedding provider settings and that the service is up",
			err,
		)
	default:
		return uerrors.NewInternalError(
			"Indexing failed",
			jobErr.Err.Error(),
			"This is a bug. Please report it at github.com/kraklabs/repochat/issues",
			err,
		)
	}
}

// printIngestResult prints the indexing result summary to stdout.
func printIngestResult(result *ingestion.Result) {
	fmt.Println()
	fmt.Println("=== Indexing Complete ===")
	fmt.Printf("Namespace: %s\n", result.Namespace)
	fmt.Printf("Files Loaded: %d\n", result.FilesLoaded)
	fmt.Printf("Chunks Created: %d\n", result.ChunksCreated)
	fmt.Printf("Documents Inserted: %d\n", result.DocumentsInserted)
	fmt.Printf("Batches Sent: %d\n", result.BatchesSent)

	fmt.Println("\nTimings:")
	fmt.Printf("  Clone:  %s\n", result.CloneDuration)
	fmt.Printf("  Embed:  %s\n", result.EmbedDuration)
	fmt.Printf("  Insert: %s\n", result.InsertDuration)
	fmt.Printf("  Total:  %s\n", result.TotalDuration)
	fmt.Println()

	fmt.Printf("Ask a question with: repochat ask %s \"<question>\"\n", result.Namespace)
}
