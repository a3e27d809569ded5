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

package ingestion

import (
	"context"
	"fmt"
	"time"

	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/kraklabs/repochat/pkg/vectorstore"
)

// DefaultBatchSize is the number of chunks embedded concurrently per batch.
// Batches run strictly sequentially, so this also bounds peak outstanding
// requests to the embedding provider.
const DefaultBatchSize = 20

// Job stages, used to label fatal errors.
const (
	StageNamespace = "namespace"
	StageClone     = "clone"
	StageChunk     = "chunk"
	StageEmbed     = "embed"
	StageInsert    = "insert"
)

// JobError is a fatal ingestion error tagged with the stage that produced it.
type JobError struct {
	Stage string
	Err   error
}

func (e *JobError) Error() string { return e.Stage + ": " + e.Err.Error() }
func (e *JobError) Unwrap() error { return e.Err }

func jobErr(stage string, err error) *JobError {
	return &JobError{Stage: stage, Err: err}
}

// PipelineConfig holds tunables for the ingestion pipeline.
type PipelineConfig struct {
	// ChunkSize is the chunk window in characters.
	ChunkSize int

	// ChunkOverlap is the number of characters shared between consecutive chunks.
	ChunkOverlap int

	// BatchSize is the number of chunks embedded concurrently per batch.
	BatchSize int

	// MaxFileSize bounds the size of a single indexed file in bytes.
	MaxFileSize int64
}

// DefaultPipelineConfig returns the standard pipeline tunables.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		ChunkSize:    DefaultChunkSize,
		ChunkOverlap: DefaultChunkOverlap,
		BatchSize:    DefaultBatchSize,
		MaxFileSize:  DefaultMaxFileSize,
	}
}

// Result summarizes a completed ingestion job.
type Result struct {
	// Namespace is the storage namespace derived from the repository URL.
	Namespace string

	// Skipped is true when the namespace already existed and no work was done.
	Skipped bool

	// FilesLoaded is the number of readable files collected from the clone.
	FilesLoaded int

	// ChunksCreated is the number of chunks produced across all files.
	ChunksCreated int

	// DocumentsInserted is the number of embedded documents written to the store.
	DocumentsInserted int

	// BatchesSent is the number of embed+insert batches processed.
	BatchesSent int

	// Timings per stage.
	CloneDuration  time.Duration
	EmbedDuration  time.Duration
	InsertDuration time.Duration
	TotalDuration  time.Duration
}

// Pipeline drives a repository from URL to populated vector namespace:
// materialize, chunk, embed in fixed-size batches, insert.
//
// The store and embedder are injected long-lived clients; one Pipeline can
// serve many jobs, and concurrent jobs for different repositories share no
// mutable state beyond the store's disjoint namespaces.
type Pipeline struct {
	store    vectorstore.Store
	embedder *Embedder
	loader   *RepoLoader
	cfg      PipelineConfig
	logger   *slog.Logger

	// onBatch, when set, is called after each batch completes, for CLI
	// progress display.
	onBatch func(done, total int)
}

// NewPipeline creates an ingestion pipeline.
func NewPipeline(store vectorstore.Store, embedder *Embedder, cfg PipelineConfig, logger *slog.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	// Validate chunk parameters up front so a misconfiguration surfaces at
	// construction, not in the middle of a detached job.
	if _, err := ChunkText("", "", cfg.ChunkSize, cfg.ChunkOverlap); err != nil {
		return nil, fmt.Errorf("pipeline config: %w", err)
	}

	loader := NewRepoLoader(logger)
	loader.SetMaxFileSize(cfg.MaxFileSize)

	return &Pipeline{
		store:    store,
		embedder: embedder,
		loader:   loader,
		cfg:      cfg,
		logger:   logger,
	}, nil
}

// SetProgressFunc registers a callback invoked after each completed batch.
func (p *Pipeline) SetProgressFunc(fn func(done, total int)) {
	p.onBatch = fn
}

// NamespaceReady reports whether the repository is already ingested. The
// submission boundary calls this synchronously before detaching a job, which
// is what makes repeated submissions idempotent.
func (p *Pipeline) NamespaceReady(ctx context.Context, repoURL string) (string, bool, error) {
	namespace := NamespaceID(repoURL)
	exists, err := p.store.NamespaceExists(ctx, namespace)
	if err != nil {
		return namespace, false, jobErr(StageNamespace, err)
	}
	return namespace, exists, nil
}

// Run executes one ingestion job end to end and returns its summary.
//
// The transient clone directory is removed on every exit path. A fatal error
// terminates the job without rolling back the namespace: a failed job may
// leave a partially populated namespace behind, and recovery is a fresh run
// after the operator deletes it.
func (p *Pipeline) Run(ctx context.Context, repoURL string) (*Result, error) {
	startTotal := time.Now()
	result := &Result{Namespace: NamespaceID(repoURL)}

	p.logger.Info("ingest.start", "namespace", result.Namespace)
	recordJobAccepted()

	// Step 1: idempotency check at the namespace-existence level.
	exists, err := p.store.NamespaceExists(ctx, result.Namespace)
	if err != nil {
		recordJobFailed()
		return nil, jobErr(StageNamespace, err)
	}
	if exists {
		p.logger.Info("ingest.skip.exists", "namespace", result.Namespace)
		recordJobSkipped()
		result.Skipped = true
		return result, nil
	}

	// Step 2: create the namespace sized to the embedder's output.
	if err := p.store.CreateNamespace(ctx, result.Namespace, p.embedder.Dimension()); err != nil {
		recordJobFailed()
		return nil, jobErr(StageNamespace, err)
	}

	// Step 3: materialize the repository into a transient clone.
	p.logger.Info("ingest.step.materialize", "namespace", result.Namespace)
	startClone := time.Now()
	files, cleanup, err := p.loader.Materialize(ctx, repoURL)
	defer cleanup()
	if err != nil {
		recordJobFailed()
		return nil, jobErr(StageClone, err)
	}
	result.CloneDuration = time.Since(startClone)
	result.FilesLoaded = len(files)
	recordFilesLoaded(len(files))
	observeCloneSeconds(result.CloneDuration.Seconds())

	// Step 4: chunk every readable file.
	p.logger.Info("ingest.step.chunk", "namespace", result.Namespace, "files", len(files))
	chunks, err := ChunkFiles(files, p.cfg.ChunkSize, p.cfg.ChunkOverlap)
	if err != nil {
		recordJobFailed()
		return nil, jobErr(StageChunk, err)
	}
	result.ChunksCreated = len(chunks)
	recordChunksCreated(len(chunks))

	if len(chunks) == 0 {
		// Nothing to index. The namespace stays created but empty, which is
		// an accepted terminal state, not a failure.
		p.logger.Info("ingest.empty", "namespace", result.Namespace, "files", len(files))
		result.TotalDuration = time.Since(startTotal)
		recordJobSucceeded()
		observeTotalSeconds(result.TotalDuration.Seconds())
		return result, nil
	}

	// Step 5: embed and insert in fixed-size batches. Batches run strictly
	// sequentially; within a batch one embedding call per chunk runs
	// concurrently. Any failure in a batch is fatal for the whole job and no
	// document from that batch is inserted.
	totalBatches := (len(chunks) + p.cfg.BatchSize - 1) / p.cfg.BatchSize
	p.logger.Info("ingest.step.embed",
		"namespace", result.Namespace,
		"chunks", len(chunks),
		"batches", totalBatches,
		"batch_size", p.cfg.BatchSize,
	)

	for start := 0; start < len(chunks); start += p.cfg.BatchSize {
		end := start + p.cfg.BatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		startEmbed := time.Now()
		docs, err := p.embedBatch(ctx, batch)
		result.EmbedDuration += time.Since(startEmbed)
		if err != nil {
			recordJobFailed()
			recordEmbedError()
			return nil, jobErr(StageEmbed, err)
		}
		recordEmbedComputed(len(docs))
		observeEmbedSeconds(time.Since(startEmbed).Seconds())

		startInsert := time.Now()
		if err := p.store.Insert(ctx, result.Namespace, docs); err != nil {
			recordJobFailed()
			return nil, jobErr(StageInsert, err)
		}
		result.InsertDuration += time.Since(startInsert)
		observeInsertSeconds(time.Since(startInsert).Seconds())

		result.DocumentsInserted += len(docs)
		result.BatchesSent++
		recordBatchSent()
		recordDocsInserted(len(docs))

		if p.onBatch != nil {
			p.onBatch(result.BatchesSent, totalBatches)
		}
	}

	result.TotalDuration = time.Since(startTotal)
	recordJobSucceeded()
	observeTotalSeconds(result.TotalDuration.Seconds())

	p.logger.Info("ingest.complete",
		"namespace", result.Namespace,
		"files", result.FilesLoaded,
		"chunks", result.ChunksCreated,
		"documents", result.DocumentsInserted,
		"batches", result.BatchesSent,
		"total_ms", result.TotalDuration.Milliseconds(),
	)

	return result, nil
}

// embedBatch embeds every chunk of one batch concurrently. All-or-nothing:
// the first failure cancels the remaining calls and fails the batch.
func (p *Pipeline) embedBatch(ctx context.Context, batch []Chunk) ([]vectorstore.Document, error) {
	docs := make([]vectorstore.Document, len(batch))

	g, gctx := errgroup.WithContext(ctx)
	for i, chunk := range batch {
		g.Go(func() error {
			vector, err := p.embedder.Embed(gctx, chunk.Content)
			if err != nil {
				return fmt.Errorf("embed chunk %s#%d: %w", chunk.Path, chunk.Ordinal, err)
			}
			docs[i] = vectorstore.Document{
				Source:  chunk.Path,
				Ordinal: chunk.Ordinal,
				Text:    chunk.Content,
				Vector:  vector,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return docs, nil
}
