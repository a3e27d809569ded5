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

// Package ingestion provides the repository indexing pipeline for repochat.
//
// The ingestion package is responsible for cloning git repositories, walking
// their trees for readable text files, splitting file contents into
// overlapping chunks, generating embeddings, and inserting the results into
// a per-repository vector store namespace.
//
// # Pipeline Overview
//
// The ingestion pipeline processes a repository in five stages:
//
//  1. Namespace: Derive the namespace from the URL and check for prior runs
//  2. Materialize: Shallow-clone into a transient directory and walk it
//  3. Chunking: Split each file into fixed-size overlapping windows
//  4. Embedding: Generate vector embeddings in concurrent fixed-size batches
//  5. Insert: Write embedded documents into the namespace
//
// Repeated submissions of the same repository are idempotent: a namespace
// that already exists means the repository was indexed (or a run is in
// flight) and the job is skipped.
//
// # Quick Start
//
// Create and run a pipeline:
//
//	provider, err := ingestion.CreateEmbeddingProvider("openai", logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	embedder := ingestion.NewEmbedder(provider, logger)
//
//	pipeline, err := ingestion.NewPipeline(store, embedder, ingestion.DefaultPipelineConfig(), logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	result, err := pipeline.Run(ctx, "https://github.com/user/repo.git")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	fmt.Printf("Indexed %d files into %d documents\n",
//	    result.FilesLoaded, result.DocumentsInserted)
//
// # Key Components
//
// Pipeline orchestrates one job end to end; a single Pipeline serves many
// jobs and concurrent jobs share no mutable state beyond the store's
// disjoint namespaces.
//
// RepoLoader validates the git URL, shallow-clones it, and collects readable
// source files, skipping dependency directories, lockfiles, binaries, and
// oversized files:
//
//	loader := ingestion.NewRepoLoader(logger)
//	files, cleanup, err := loader.Materialize(ctx, repoURL)
//	defer cleanup()
//
// ChunkText and ChunkFiles split content into rune-based windows of
// DefaultChunkSize characters with DefaultChunkOverlap characters shared
// between consecutive chunks.
//
// Embedder wraps an EmbeddingProvider with retry and backoff for transient
// failures. Providers: OpenAI, Ollama, and Mock for testing.
//
// NamespaceID derives the deterministic storage namespace from a repository
// URL; the same URL always maps to the same namespace.
//
// # Metrics
//
// Job counts, pipeline volume, and per-stage durations are exported as
// Prometheus metrics, and each job returns a Result with its own timings.
package ingestion
