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
	"strings"
	"syscall"

	"github.com/kraklabs/repochat/internal/bootstrap"
	uerrors "github.com/kraklabs/repochat/internal/errors"
	"github.com/kraklabs/repochat/internal/output"
	"github.com/kraklabs/repochat/internal/ui"
	"github.com/kraklabs/repochat/pkg/answer"
)

// runAsk executes the 'ask' CLI command, answering one question against an
// indexed repository. The answer streams to stdout as it is generated; the
// source paths backing it print to stderr first.
//
// Flags:
//   - --no-sources: Suppress the retrieved source list
//   - --limit: Number of chunks to retrieve (default from config)
//
// Examples:
//
//	repochat ask user-repo "How does the auth middleware work?"
//	repochat --json ask user-repo "Where is the entry point?"
func runAsk(args []string, configPath string, globals GlobalFlags) {
	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	noSources := fs.Bool("no-sources", false, "Suppress the retrieved source list")
	limit := fs.Int("limit", 0, "Number of chunks to retrieve (0 uses config)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: repochat ask [options] <namespace> <question>

Answers a question about an indexed repository. The generated answer
streams to stdout; the source files it draws on are listed on stderr.

Examples:
  repochat ask user-repo "How does the auth middleware work?"
  repochat ask --limit 5 user-repo "Where is the entry point?"

Options:
`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() < 2 {
		fs.Usage()
		os.Exit(1)
	}
	namespace := fs.Arg(0)
	question := strings.Join(fs.Args()[1:], " ")

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
	if *limit > 0 {
		app.Engine.SetSearchLimit(*limit)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	stream, err := app.Engine.Ask(ctx, namespace, question)
	if err != nil {
		uerrors.FatalError(askUserError(err, namespace), globals.JSON)
	}

	if globals.JSON {
		// JSON mode buffers the whole answer; streaming JSON fragments would
		// not be valid output.
		text, err := stream.Text()
		if err != nil {
			uerrors.FatalError(uerrors.NewNetworkError(
				"Generation failed mid-stream",
				err.Error(),
				"Check the LLM provider settings and try again",
				err,
			), globals.JSON)
		}
		_ = output.JSON(map[string]any{
			"namespace": namespace,
			"question":  question,
			"answer":    text,
			"sources":   stream.Sources,
		})
		return
	}

	if !*noSources && !globals.Quiet && len(stream.Sources) > 0 {
		fmt.Fprintln(os.Stderr, ui.Label("Sources:"))
		seen := map[string]bool{}
		for _, s := range stream.Sources {
			if seen[s.Source] {
				continue
			}
			seen[s.Source] = true
			fmt.Fprintf(os.Stderr, "  %s\n", s.Source)
		}
		fmt.Fprintln(os.Stderr)
	}

	for d := range stream.Deltas() {
		if d.Err != nil {
			fmt.Println()
			uerrors.FatalError(uerrors.NewNetworkError(
				"Generation failed mid-stream",
				d.Err.Error(),
				"Check the LLM provider settings and try again",
				d.Err,
			), globals.JSON)
		}
		fmt.Print(d.Content)
	}
	fmt.Println()
}

// askUserError maps an answer engine failure to a structured CLI error.
func askUserError(err error, namespace string) *uerrors.UserError {
	var notFound *answer.NamespaceNotFoundError
	if errors.As(err, &notFound) {
		return uerrors.NewNotFoundError(
			"Repository not indexed",
			fmt.Sprintf("No namespace named '%s' exists in the vector store", namespace),
			"Run 'repochat namespaces' to list indexed repositories, or 'repochat ingest <url>' first",
		)
	}
	return uerrors.NewNetworkError(
		"Cannot answer the question",
		err.Error(),
		"Check that the vector store and providers are reachable",
		err,
	)
}
