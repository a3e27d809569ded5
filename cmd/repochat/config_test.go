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
	"os"
	"path/filepath"
	"testing"
)

func clearConfigEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"QDRANT_URL", "QDRANT_API_KEY", "OPENAI_API_KEY", "REPOCHAT_ADDR"} {
		t.Setenv(key, "")
	}
}

func TestLoadConfig_MissingFileYieldsDefaults(t *testing.T) {
	clearConfigEnv(t)

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope", "config.yaml"))
	if err != nil {
		t.Fatalf("missing config file must not be an error: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("default addr = %q, want :8080", cfg.Server.Addr)
	}
	if cfg.Qdrant.URL != "http://localhost:6333" {
		t.Errorf("default qdrant url = %q", cfg.Qdrant.URL)
	}
	if cfg.Embedding.Provider != "ollama" {
		t.Errorf("default embedding provider = %q, want ollama", cfg.Embedding.Provider)
	}
}

func TestLoadConfig_ReadsFile(t *testing.T) {
	clearConfigEnv(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `server:
  addr: ":9090"
qdrant:
  url: http://qdrant.internal:6333
embedding:
  provider: mock
llm:
  provider: mock
indexing:
  chunk_size: 800
  chunk_overlap: 100
ask:
  search_limit: 5
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Addr != ":9090" {
		t.Errorf("addr = %q, want :9090", cfg.Server.Addr)
	}
	if cfg.Qdrant.URL != "http://qdrant.internal:6333" {
		t.Errorf("qdrant url = %q", cfg.Qdrant.URL)
	}
	if cfg.Embedding.Provider != "mock" {
		t.Errorf("embedding provider = %q", cfg.Embedding.Provider)
	}
	if cfg.Indexing.ChunkSize != 800 || cfg.Indexing.ChunkOverlap != 100 {
		t.Errorf("indexing = %+v", cfg.Indexing)
	}
	if cfg.Ask.SearchLimit != 5 {
		t.Errorf("search limit = %d, want 5", cfg.Ask.SearchLimit)
	}
	// Unset fields keep their defaults.
	if cfg.LLM.Model != "llama3" {
		t.Errorf("llm model = %q, want default llama3", cfg.LLM.Model)
	}
}

func TestLoadConfig_MalformedFile(t *testing.T) {
	clearConfigEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server: [not: valid"), 0600); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadConfig(path); err == nil {
		t.Error("malformed config must be an error, not silently defaulted")
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("QDRANT_URL", "http://qdrant.prod:6333")
	t.Setenv("QDRANT_API_KEY", "secret")
	t.Setenv("REPOCHAT_ADDR", ":7070")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "config.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Qdrant.URL != "http://qdrant.prod:6333" {
		t.Errorf("qdrant url = %q, env must win", cfg.Qdrant.URL)
	}
	if cfg.Qdrant.APIKey != "secret" {
		t.Errorf("qdrant api key = %q", cfg.Qdrant.APIKey)
	}
	if cfg.Server.Addr != ":7070" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
}

func TestLoadConfig_OpenAIKeyOnlyForOpenAIProviders(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `embedding:
  provider: openai
llm:
  provider: ollama
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Embedding.APIKey != "sk-test" {
		t.Errorf("embedding api key = %q, want env key for openai provider", cfg.Embedding.APIKey)
	}
	if cfg.LLM.APIKey != "" {
		t.Errorf("llm api key = %q, ollama provider must not pick up the key", cfg.LLM.APIKey)
	}
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	clearConfigEnv(t)

	cfg := DefaultConfig()
	cfg.Server.Addr = ":9999"
	cfg.Qdrant.APIKey = "round-trip"

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := SaveConfig(cfg, path); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("config mode = %v, want 0600 (may hold API keys)", info.Mode().Perm())
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Server.Addr != ":9999" {
		t.Errorf("round-tripped addr = %q", loaded.Server.Addr)
	}
	if loaded.Qdrant.APIKey != "round-trip" {
		t.Errorf("round-tripped api key = %q", loaded.Qdrant.APIKey)
	}
}

func TestConfigPath(t *testing.T) {
	if got := ConfigPath("/work/project"); got != filepath.Join("/work/project", ".repochat", "config.yaml") {
		t.Errorf("ConfigPath = %q", got)
	}
}

func TestAppConfig_Mapping(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Qdrant.URL = "http://q:6333"
	cfg.Indexing.ChunkSize = 1000
	cfg.Ask.SearchLimit = 7

	ac := appConfig(cfg)
	if ac.QdrantURL != "http://q:6333" {
		t.Errorf("QdrantURL = %q", ac.QdrantURL)
	}
	if ac.ChunkSize != 1000 {
		t.Errorf("ChunkSize = %d", ac.ChunkSize)
	}
	if ac.SearchLimit != 7 {
		t.Errorf("SearchLimit = %d", ac.SearchLimit)
	}
	if ac.EmbeddingProvider != "ollama" {
		t.Errorf("EmbeddingProvider = %q", ac.EmbeddingProvider)
	}
}
