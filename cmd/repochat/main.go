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
// Package main implements the repochat CLI for indexing git repositories
// and asking questions about their contents.
//
// Usage:
//
//	repochat init                    Create .repochat/config.yaml configuration
//	repochat serve                   Run the HTTP API server
//	repochat ingest <repo-url>       Index a repository
//	repochat ask <namespace> <q>     Ask a question about an indexed repository
//	repochat namespaces [--json]     List indexed repositories
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// Version information (set via ldflags during build)
var (
	version = "dev"     // Version string
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// GlobalFlags carries the flags shared by every subcommand.
type GlobalFlags struct {
	// JSON switches machine-readable output on.
	JSON bool

	// Quiet suppresses progress bars and informational output.
	Quiet bool

	// NoColor disables colored terminal output.
	NoColor bool

	// Verbose raises the log level; 1 enables debug logging.
	Verbose int
}

// main is the entry point for the repochat CLI.
//
// It parses global flags and dispatches to command handlers.
//
// Global flags:
//   - --version: Display version information and exit
//   - --config: Path to .repochat/config.yaml configuration file
//   - --json: Machine-readable output
//   - -q: Suppress progress and informational output
//   - --no-color: Disable colored output
//
// Commands:
//   - init: Create .repochat/config.yaml configuration
//   - serve: Run the HTTP API server
//   - ingest: Index a repository
//   - ask: Ask a question about an indexed repository
//   - namespaces: List indexed repositories
func main() {
	// Local .env is optional; ignore a missing file.
	_ = godotenv.Load()

	var (
		showVersion = flag.Bool("version", false, "Show version and exit")
		configPath  = flag.String("config", "", "Path to .repochat/config.yaml (default: ./.repochat/config.yaml)")
		jsonOut     = flag.Bool("json", false, "Machine-readable JSON output")
		quiet       = flag.Bool("q", false, "Suppress progress and informational output")
		noColor     = flag.Bool("no-color", false, "Disable colored output")
		verbose     = flag.Int("v", 0, "Verbosity level (1 enables debug logging)")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `repochat - ask questions about any git repository

repochat clones a repository, splits its files into overlapping chunks,
embeds them into a vector store, and answers questions about the code
with retrieval-augmented generation. Answers stream token by token and
cite the files they were drawn from.

Usage:
  repochat <command> [options]

Commands:
  init          Create .repochat/config.yaml configuration
  serve         Run the HTTP API server
  ingest        Index a repository from its git URL
  ask           Ask a question about an indexed repository
  namespaces    List indexed repositories
  version       Show version information

Global Options:
  --config      Path to .repochat/config.yaml
  --json        Machine-readable JSON output
  --no-color    Disable colored output
  --version     Show version and exit
  -q            Suppress progress and informational output

Examples:
  repochat init                                Create configuration interactively
  repochat serve                               Serve the HTTP API on :8080
  repochat ingest https://github.com/user/repo.git
  repochat ask user-repo "How does the auth middleware work?"
  repochat namespaces --json                   List namespaces as JSON

Getting Started:
  1. Start Qdrant and Ollama locally (or configure remote endpoints)
  2. Initialize configuration:  repochat init
  3. Index a repository:        repochat ingest <repo-url>
  4. Ask away:                  repochat ask <namespace> "<question>"

Environment Variables:
  QDRANT_URL         Qdrant URL (default: http://localhost:6333)
  QDRANT_API_KEY     Qdrant API key (optional)
  OLLAMA_HOST        Ollama URL (default: http://localhost:11434)
  OPENAI_API_KEY     OpenAI API key (for openai providers)

For detailed command help: repochat <command> --help

`)
	}

	flag.Parse()

	if *showVersion {
		fmt.Printf("repochat version %s\n", version)
		fmt.Printf("commit: %s\n", commit)
		fmt.Printf("built: %s\n", date)
		os.Exit(0)
	}

	globals := GlobalFlags{
		JSON:    *jsonOut,
		Quiet:   *quiet || *jsonOut,
		NoColor: *noColor,
		Verbose: *verbose,
	}

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(1)
	}

	command := args[0]
	cmdArgs := args[1:]

	switch command {
	case "version":
		fmt.Printf("repochat version %s\n", version)
		fmt.Printf("commit: %s\n", commit)
		fmt.Printf("built: %s\n", date)
	case "init":
		runInit(cmdArgs)
	case "serve":
		runServe(cmdArgs, *configPath, globals)
	case "ingest":
		runIngest(cmdArgs, *configPath, globals)
	case "ask":
		runAsk(cmdArgs, *configPath, globals)
	case "namespaces":
		runNamespaces(cmdArgs, *configPath, globals)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		flag.Usage()
		os.Exit(1)
	}
}
