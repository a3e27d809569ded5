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
	"bufio"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// initFlags holds parsed flags for the init command.
type initFlags struct {
	force, nonInteractive          bool
	addr, qdrantURL                string
	embeddingProvider, llmProvider string
	llmURL, llmModel, llmAPIKey    string
}

// runInit executes the 'init' CLI command, creating a .repochat/config.yaml
// configuration file.
//
// It creates the configuration directory, generates a default configuration,
// and optionally prompts the user for customization in interactive mode.
//
// Flags:
//   - --force: Overwrite existing configuration (default: false)
//   - -y: Non-interactive mode, use all defaults (default: false)
//   - --addr: HTTP listen address for 'repochat serve'
//   - --qdrant-url: Qdrant endpoint
//   - --embedding-provider: Embedding provider (ollama, openai, mock)
//   - --llm-provider: Generation provider (ollama, openai, mock)
//   - --llm-url: LLM API URL
//   - --llm-model: LLM model name
//   - --llm-api-key: LLM API key (optional for local models)
//
// Examples:
//
//	repochat init                      Interactive setup
//	repochat init -y                   Use all defaults
//	repochat init --qdrant-url http://qdrant:6333 -y
func runInit(args []string) {
	flags := parseInitFlags(args)

	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot get current directory: %v\n", err)
		os.Exit(1)
	}

	configPath := ConfigPath(cwd)
	if _, err := os.Stat(configPath); err == nil && !flags.force {
		fmt.Fprintf(os.Stderr, "Error: %s already exists. Use --force to overwrite.\n", configPath)
		os.Exit(1)
	}

	cfg := createInitConfig(flags)
	reader := bufio.NewReader(os.Stdin)

	if !flags.nonInteractive {
		runInteractiveConfig(reader, cfg)
	}

	saveInitConfig(cwd, configPath, cfg)
	printNextSteps()
}

func parseInitFlags(args []string) initFlags {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	var f initFlags
	fs.BoolVar(&f.force, "force", false, "Overwrite existing configuration")
	fs.BoolVar(&f.nonInteractive, "y", false, "Non-interactive mode (use defaults)")
	fs.StringVar(&f.addr, "addr", "", "HTTP listen address for 'repochat serve'")
	fs.StringVar(&f.qdrantURL, "qdrant-url", "", "Qdrant endpoint (e.g., http://localhost:6333)")
	fs.StringVar(&f.embeddingProvider, "embedding-provider", "", "Embedding provider (ollama, openai, mock)")
	fs.StringVar(&f.llmProvider, "llm-provider", "", "Generation provider (ollama, openai, mock)")
	fs.StringVar(&f.llmURL, "llm-url", "", "LLM API URL (OpenAI-compatible, e.g., http://localhost:8001/v1)")
	fs.StringVar(&f.llmModel, "llm-model", "", "LLM model name")
	fs.StringVar(&f.llmAPIKey, "llm-api-key", "", "LLM API key (optional for local models)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: repochat init [options]

Creates .repochat/config.yaml configuration file.

Examples:
  repochat init                              # Interactive setup
  repochat init -y                           # Non-interactive with defaults
  repochat init --qdrant-url http://qdrant:6333 -y

Options:
`)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	return f
}

func createInitConfig(f initFlags) *Config {
	cfg := DefaultConfig()
	if f.addr != "" {
		cfg.Server.Addr = f.addr
	}
	if f.qdrantURL != "" {
		cfg.Qdrant.URL = f.qdrantURL
	}
	if f.embeddingProvider != "" {
		cfg.Embedding.Provider = f.embeddingProvider
	}
	if f.llmProvider != "" {
		cfg.LLM.Provider = f.llmProvider
	}
	if f.llmURL != "" {
		cfg.LLM.BaseURL = f.llmURL
	}
	if f.llmModel != "" {
		cfg.LLM.Model = f.llmModel
	}
	if f.llmAPIKey != "" {
		cfg.LLM.APIKey = f.llmAPIKey
	}
	return cfg
}

func runInteractiveConfig(reader *bufio.Reader, cfg *Config) {
	fmt.Println("repochat Configuration")
	fmt.Println("======================")
	fmt.Println()

	cfg.Server.Addr = prompt(reader, "HTTP listen address", cfg.Server.Addr)
	cfg.Qdrant.URL = prompt(reader, "Qdrant URL", cfg.Qdrant.URL)

	fmt.Println()
	fmt.Println("Embedding Providers: ollama, openai, mock")
	cfg.Embedding.Provider = prompt(reader, "Embedding provider", cfg.Embedding.Provider)
	if cfg.Embedding.Provider == "ollama" {
		cfg.Embedding.BaseURL = prompt(reader, "Ollama URL", cfg.Embedding.BaseURL)
		cfg.Embedding.Model = prompt(reader, "Embedding model", cfg.Embedding.Model)
	}

	fmt.Println()
	fmt.Println("Generation Providers: ollama, openai, mock")
	cfg.LLM.Provider = prompt(reader, "Generation provider", cfg.LLM.Provider)
	cfg.LLM.BaseURL = prompt(reader, "Generation API URL", cfg.LLM.BaseURL)
	cfg.LLM.Model = prompt(reader, "Generation model", cfg.LLM.Model)
	if cfg.LLM.Provider == "openai" {
		cfg.LLM.APIKey = prompt(reader, "API key (optional, can use OPENAI_API_KEY)", cfg.LLM.APIKey)
	}
	fmt.Println()
}

func saveInitConfig(cwd, configPath string, cfg *Config) {
	dir := ConfigDir(cwd)
	if err := os.MkdirAll(dir, 0750); err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot create .repochat directory: %v\n", err)
		os.Exit(1)
	}
	if err := SaveConfig(cfg, configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot save configuration: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Created %s\n", configPath)
	addToGitignore(cwd)
}

func printNextSteps() {
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  1. Review and edit .repochat/config.yaml if needed")
	fmt.Println("  2. Run 'repochat ingest <repo-url>' to index a repository")
	fmt.Println("  3. Run 'repochat ask <namespace> \"<question>\"' to ask about it")
	fmt.Println("  4. Or run 'repochat serve' to expose the HTTP API")
}

// prompt displays an interactive prompt and reads user input from stdin.
//
// If the user presses Enter without providing input, the defaultValue is returned.
// This is used during interactive configuration setup.
func prompt(reader *bufio.Reader, label, defaultValue string) string {
	if defaultValue != "" {
		fmt.Printf("%s [%s]: ", label, defaultValue)
	} else {
		fmt.Printf("%s: ", label)
	}

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultValue
	}
	return input
}

// addToGitignore adds .repochat/ to the project's .gitignore file if not
// already present. The config may carry API keys, so it should not be
// committed by accident. Missing or read-only .gitignore is not an error.
func addToGitignore(dir string) {
	gitignorePath := filepath.Join(dir, ".gitignore")

	content, err := os.ReadFile(gitignorePath) //nolint:gosec // G304: gitignorePath built from cwd
	if err != nil {
		return
	}

	lines := strings.Split(string(content), "\n")
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == ".repochat/" || line == ".repochat" || line == "/.repochat/" || line == "/.repochat" {
			return
		}
	}

	f, err := os.OpenFile(gitignorePath, os.O_APPEND|os.O_WRONLY, 0600) //nolint:gosec // G304: gitignorePath built from cwd
	if err != nil {
		return
	}
	defer func() { _ = f.Close() }()

	if len(content) > 0 && content[len(content)-1] != '\n' {
		_, _ = f.WriteString("\n")
	}

	_, _ = f.WriteString("\n# repochat configuration\n.repochat/\n")
	fmt.Println("Added .repochat/ to .gitignore")
}
