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

package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kraklabs/repochat/pkg/answer"
	"github.com/kraklabs/repochat/pkg/ingestion"
	"github.com/kraklabs/repochat/pkg/llm"
	"github.com/kraklabs/repochat/pkg/vectorstore"
)

// AppConfig holds the settings needed to wire the application's long-lived
// clients. Zero values fall back to the documented defaults.
type AppConfig struct {
	// QdrantURL is the vector store endpoint. The special value "mock"
	// selects an in-memory store for tests and demos.
	QdrantURL string

	// QdrantAPIKey authenticates against Qdrant. Empty for local servers.
	QdrantAPIKey string

	// EmbeddingProvider selects the embedding backend: "openai", "ollama",
	// or "mock".
	EmbeddingProvider string

	// LLMProvider selects the generation backend: "openai", "ollama", or
	// "mock".
	LLMProvider string

	// LLMModel overrides the generation model name.
	LLMModel string

	// LLMBaseURL overrides the generation endpoint.
	LLMBaseURL string

	// LLMAPIKey authenticates the generation provider.
	LLMAPIKey string

	// ChunkSize and ChunkOverlap tune the chunker; zero uses the defaults.
	ChunkSize    int
	ChunkOverlap int

	// BatchSize bounds concurrent embedding calls per batch.
	BatchSize int

	// MaxFileSize bounds the size of a single indexed file in bytes.
	MaxFileSize int64

	// SearchLimit is the number of chunks retrieved per question.
	SearchLimit int
}

// App bundles the wired long-lived clients. One App serves the whole process:
// the HTTP server and CLI commands all draw from it.
type App struct {
	Store    vectorstore.Store
	Embedder *ingestion.Embedder
	Provider llm.Provider
	Pipeline *ingestion.Pipeline
	Engine   *answer.Engine
	Logger   *slog.Logger
}

// NewApp wires the store, embedder, generation provider, ingestion pipeline,
// and answer engine from configuration. It does not touch the network; the
// first use of each client does.
func NewApp(cfg AppConfig, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var store vectorstore.Store
	switch cfg.QdrantURL {
	case "":
		store = vectorstore.NewQdrantStore("http://localhost:6333", cfg.QdrantAPIKey, logger)
	case "mock":
		store = vectorstore.NewMockStore()
	default:
		store = vectorstore.NewQdrantStore(cfg.QdrantURL, cfg.QdrantAPIKey, logger)
	}

	embedProvider, err := ingestion.CreateEmbeddingProvider(cfg.EmbeddingProvider, logger)
	if err != nil {
		return nil, fmt.Errorf("create embedding provider: %w", err)
	}
	embedder := ingestion.NewEmbedder(embedProvider, logger)

	llmProvider, err := llm.NewProvider(llm.ProviderConfig{
		Type:         cfg.LLMProvider,
		BaseURL:      cfg.LLMBaseURL,
		APIKey:       cfg.LLMAPIKey,
		DefaultModel: cfg.LLMModel,
	})
	if err != nil {
		return nil, fmt.Errorf("create llm provider: %w", err)
	}

	pipeCfg := ingestion.DefaultPipelineConfig()
	if cfg.ChunkSize > 0 {
		pipeCfg.ChunkSize = cfg.ChunkSize
	}
	if cfg.ChunkOverlap > 0 {
		pipeCfg.ChunkOverlap = cfg.ChunkOverlap
	}
	if cfg.BatchSize > 0 {
		pipeCfg.BatchSize = cfg.BatchSize
	}
	if cfg.MaxFileSize > 0 {
		pipeCfg.MaxFileSize = cfg.MaxFileSize
	}

	pipeline, err := ingestion.NewPipeline(store, embedder, pipeCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("create pipeline: %w", err)
	}

	engine := answer.NewEngine(store, embedder, llmProvider, logger)
	if cfg.SearchLimit > 0 {
		engine.SetSearchLimit(cfg.SearchLimit)
	}

	logger.Info("bootstrap.app.ready",
		"store", storeName(cfg.QdrantURL),
		"embedding_dimension", embedProvider.Dimension(),
		"llm_provider", llmProvider.Name(),
	)

	return &App{
		Store:    store,
		Embedder: embedder,
		Provider: llmProvider,
		Pipeline: pipeline,
		Engine:   engine,
		Logger:   logger,
	}, nil
}

// CheckStore verifies the vector store is reachable by listing namespaces.
// Intended for startup health checks; failures are reported, not fatal.
func (a *App) CheckStore(ctx context.Context) error {
	if _, err := a.Store.ListNamespaces(ctx); err != nil {
		return fmt.Errorf("vector store unreachable: %w", err)
	}
	return nil
}

func storeName(qdrantURL string) string {
	if qdrantURL == "mock" {
		return "mock"
	}
	return "qdrant"
}
