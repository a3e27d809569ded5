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
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/kraklabs/repochat/internal/bootstrap"
)

// Config is the .repochat/config.yaml file layout.
type Config struct {
	Server struct {
		// Addr is the HTTP listen address for 'repochat serve'.
		Addr string `yaml:"addr"`
	} `yaml:"server"`

	Qdrant struct {
		URL    string `yaml:"url"`
		APIKey string `yaml:"api_key,omitempty"`
	} `yaml:"qdrant"`

	Embedding struct {
		// Provider is one of: ollama, openai, mock.
		Provider string `yaml:"provider"`
		BaseURL  string `yaml:"base_url,omitempty"`
		Model    string `yaml:"model,omitempty"`
		APIKey   string `yaml:"api_key,omitempty"`
	} `yaml:"embedding"`

	LLM struct {
		// Provider is one of: ollama, openai, mock.
		Provider string `yaml:"provider"`
		BaseURL  string `yaml:"base_url,omitempty"`
		Model    string `yaml:"model,omitempty"`
		APIKey   string `yaml:"api_key,omitempty"`
	} `yaml:"llm"`

	Indexing struct {
		ChunkSize    int   `yaml:"chunk_size,omitempty"`
		ChunkOverlap int   `yaml:"chunk_overlap,omitempty"`
		BatchSize    int   `yaml:"batch_size,omitempty"`
		MaxFileSize  int64 `yaml:"max_file_size,omitempty"`
	} `yaml:"indexing"`

	Ask struct {
		SearchLimit int `yaml:"search_limit,omitempty"`
	} `yaml:"ask"`
}

// DefaultConfig returns the starting configuration written by 'repochat init'.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.Server.Addr = ":8080"
	cfg.Qdrant.URL = "http://localhost:6333"
	cfg.Embedding.Provider = "ollama"
	cfg.Embedding.BaseURL = "http://localhost:11434"
	cfg.Embedding.Model = "nomic-embed-text"
	cfg.LLM.Provider = "ollama"
	cfg.LLM.BaseURL = "http://localhost:11434"
	cfg.LLM.Model = "llama3"
	return cfg
}

// ConfigDir returns the .repochat directory under dir.
func ConfigDir(dir string) string {
	return filepath.Join(dir, ".repochat")
}

// ConfigPath returns the config file path under dir.
func ConfigPath(dir string) string {
	return filepath.Join(ConfigDir(dir), "config.yaml")
}

// LoadConfig reads the configuration. An empty path means
// ./.repochat/config.yaml. A missing file yields the defaults, so the server
// runs out of the box against local Qdrant and Ollama; a malformed file is
// an error.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("get current directory: %w", err)
		}
		path = ConfigPath(cwd)
	}

	cfg := DefaultConfig()

	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from the operator
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// SaveConfig writes the configuration as YAML.
func SaveConfig(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides lets secrets and endpoints come from the environment so
// they stay out of the config file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("QDRANT_URL"); v != "" {
		cfg.Qdrant.URL = v
	}
	if v := os.Getenv("QDRANT_API_KEY"); v != "" {
		cfg.Qdrant.APIKey = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		if cfg.Embedding.Provider == "openai" && cfg.Embedding.APIKey == "" {
			cfg.Embedding.APIKey = v
		}
		if cfg.LLM.Provider == "openai" && cfg.LLM.APIKey == "" {
			cfg.LLM.APIKey = v
		}
	}
	if v := os.Getenv("REPOCHAT_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
}

// setProviderEnv exports the embedding settings as the environment variables
// the provider constructors read.
func setProviderEnv(cfg *Config) {
	switch cfg.Embedding.Provider {
	case "ollama":
		if cfg.Embedding.BaseURL != "" {
			os.Setenv("OLLAMA_BASE_URL", cfg.Embedding.BaseURL)
		}
		if cfg.Embedding.Model != "" {
			os.Setenv("OLLAMA_EMBED_MODEL", cfg.Embedding.Model)
		}
	case "openai":
		if cfg.Embedding.BaseURL != "" {
			os.Setenv("OPENAI_API_BASE", cfg.Embedding.BaseURL)
		}
		if cfg.Embedding.Model != "" {
			os.Setenv("OPENAI_EMBED_MODEL", cfg.Embedding.Model)
		}
		if cfg.Embedding.APIKey != "" {
			os.Setenv("OPENAI_API_KEY", cfg.Embedding.APIKey)
		}
	}
}

// appConfig converts file configuration into the wiring configuration.
func appConfig(cfg *Config) bootstrap.AppConfig {
	return bootstrap.AppConfig{
		QdrantURL:         cfg.Qdrant.URL,
		QdrantAPIKey:      cfg.Qdrant.APIKey,
		EmbeddingProvider: cfg.Embedding.Provider,
		LLMProvider:       cfg.LLM.Provider,
		LLMModel:          cfg.LLM.Model,
		LLMBaseURL:        cfg.LLM.BaseURL,
		LLMAPIKey:         cfg.LLM.APIKey,
		ChunkSize:         cfg.Indexing.ChunkSize,
		ChunkOverlap:      cfg.Indexing.ChunkOverlap,
		BatchSize:         cfg.Indexing.BatchSize,
		MaxFileSize:       cfg.Indexing.MaxFileSize,
		SearchLimit:       cfg.Ask.SearchLimit,
	}
}
