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
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kraklabs/repochat/pkg/vectorstore"
)

func testPipeline(t *testing.T, store vectorstore.Store) *Pipeline {
	t.Helper()
	embedder := NewEmbedder(NewMockEmbeddingProvider(8, nil), nil)
	p, err := NewPipeline(store, embedder, DefaultPipelineConfig(), nil)
	if err != nil {
		t.Fatalf("NewPipeline failed: %v", err)
	}
	return p
}

// localGitRepo builds a one-commit git repository and returns its file:// URL.
// Skips the test when git is unavailable.
func localGitRepo(t *testing.T, files map[string]string) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}

	src := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(src, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0600); err != nil {
			t.Fatal(err)
		}
	}

	run := func(args ...string) {
		t.Helper()
		if out, err := gitCommand(src, args...); err != nil {
			t.Skipf("git setup failed: %v (%s)", err, out)
		}
	}
	run("init")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "test")
	run("add", ".")
	run("commit", "-m", "initial")

	return "file://" + src
}

func TestNewPipeline_InvalidChunkConfig(t *testing.T) {
	store := vectorstore.NewMockStore()
	embedder := NewEmbedder(NewMockEmbeddingProvider(8, nil), nil)

	cfg := DefaultPipelineConfig()
	cfg.ChunkOverlap = cfg.ChunkSize // overlap must be strictly smaller

	if _, err := NewPipeline(store, embedder, cfg, nil); err == nil {
		t.Error("expected error for overlap >= chunk size")
	}
}

func TestNamespaceReady(t *testing.T) {
	store := vectorstore.NewMockStore()
	p := testPipeline(t, store)

	url := "https://github.com/user/repo.git"
	namespace, exists, err := p.NamespaceReady(context.Background(), url)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if namespace != "user-repo" {
		t.Errorf("namespace = %q, want user-repo", namespace)
	}
	if exists {
		t.Error("namespace should not exist yet")
	}

	if err := store.CreateNamespace(context.Background(), "user-repo", 8); err != nil {
		t.Fatal(err)
	}
	_, exists, err = p.NamespaceReady(context.Background(), url)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !exists {
		t.Error("namespace should exist after creation")
	}
}

func TestRun_SkipsExistingNamespace(t *testing.T) {
	store := vectorstore.NewMockStore()
	p := testPipeline(t, store)

	url := "https://github.com/user/indexed.git"
	if err := store.CreateNamespace(context.Background(), NamespaceID(url), 8); err != nil {
		t.Fatal(err)
	}

	// The URL points nowhere; an existing namespace must short-circuit before
	// any clone attempt.
	result, err := p.Run(context.Background(), url)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Skipped {
		t.Error("expected Skipped = true")
	}
	if result.DocumentsInserted != 0 {
		t.Errorf("DocumentsInserted = %d, want 0", result.DocumentsInserted)
	}
}

func TestRun_EndToEnd(t *testing.T) {
	url := localGitRepo(t, map[string]string{
		"main.go":   "package main\n\nfunc main() {}\n",
		"README.md": "# demo\n\nA demo repository.\n",
	})

	store := vectorstore.NewMockStore()
	p := testPipeline(t, store)

	var progressCalls int
	p.SetProgressFunc(func(done, total int) { progressCalls++ })

	result, err := p.Run(context.Background(), url)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if result.Skipped {
		t.Error("fresh repository must not be skipped")
	}
	if result.FilesLoaded != 2 {
		t.Errorf("FilesLoaded = %d, want 2", result.FilesLoaded)
	}
	if result.ChunksCreated == 0 {
		t.Error("expected chunks to be created")
	}
	if result.DocumentsInserted != result.ChunksCreated {
		t.Errorf("DocumentsInserted = %d, want %d", result.DocumentsInserted, result.ChunksCreated)
	}
	if result.BatchesSent < 1 {
		t.Errorf("BatchesSent = %d, want >= 1", result.BatchesSent)
	}
	if progressCalls != result.BatchesSent {
		t.Errorf("progress callback invoked %d times, want %d", progressCalls, result.BatchesSent)
	}

	docs := store.Documents(result.Namespace)
	if len(docs) != result.DocumentsInserted {
		t.Errorf("store holds %d documents, want %d", len(docs), result.DocumentsInserted)
	}
	for _, d := range docs {
		if d.Source == "" || d.Text == "" {
			t.Errorf("document missing source or text: %+v", d)
		}
		if len(d.Vector) != 8 {
			t.Errorf("document vector length = %d, want 8", len(d.Vector))
		}
	}

	// Second run over the same URL is a no-op.
	again, err := p.Run(context.Background(), url)
	if err != nil {
		t.Fatalf("second Run failed: %v", err)
	}
	if !again.Skipped {
		t.Error("second run should be skipped")
	}
}

func TestRun_EmptyRepositorySucceeds(t *testing.T) {
	// Only an unsupported file: the walk yields nothing chunkable, but the
	// job still succeeds and leaves an empty namespace behind.
	url := localGitRepo(t, map[string]string{
		"logo.png": "\x89PNG fake image bytes",
	})

	store := vectorstore.NewMockStore()
	p := testPipeline(t, store)

	result, err := p.Run(context.Background(), url)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.ChunksCreated != 0 {
		t.Errorf("ChunksCreated = %d, want 0", result.ChunksCreated)
	}
	if result.DocumentsInserted != 0 {
		t.Errorf("DocumentsInserted = %d, want 0", result.DocumentsInserted)
	}

	exists, err := store.NamespaceExists(context.Background(), result.Namespace)
	if err != nil {
		t.Fatal(err)
	}
	if !exists {
		t.Error("empty namespace should still be created")
	}
}

func TestRun_CloneFailureTagged(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}

	store := vectorstore.NewMockStore()
	p := testPipeline(t, store)

	_, err := p.Run(context.Background(), "file:///nonexistent/repo/path")
	if err == nil {
		t.Fatal("expected clone failure")
	}
	var jerr *JobError
	if !errors.As(err, &jerr) {
		t.Fatalf("expected JobError, got %T", err)
	}
	if jerr.Stage != StageClone {
		t.Errorf("stage = %q, want %q", jerr.Stage, StageClone)
	}
}

func TestRun_EmbedFailureTagged(t *testing.T) {
	url := localGitRepo(t, map[string]string{
		"main.go": "package main",
	})

	store := vectorstore.NewMockStore()
	provider := NewMockEmbeddingProvider(8, nil)
	provider.EmbedFunc = func(ctx context.Context, text string) ([]float32, error) {
		return nil, errors.New("provider unavailable")
	}
	embedder := NewEmbedder(provider, nil)
	p, err := NewPipeline(store, embedder, DefaultPipelineConfig(), nil)
	if err != nil {
		t.Fatal(err)
	}

	_, err = p.Run(context.Background(), url)
	if err == nil {
		t.Fatal("expected embed failure")
	}
	var jerr *JobError
	if !errors.As(err, &jerr) {
		t.Fatalf("expected JobError, got %T", err)
	}
	if jerr.Stage != StageEmbed {
		t.Errorf("stage = %q, want %q", jerr.Stage, StageEmbed)
	}

	// Nothing from the failed batch may have been inserted.
	if docs := store.Documents(NamespaceID(url)); len(docs) != 0 {
		t.Errorf("store holds %d documents after embed failure, want 0", len(docs))
	}
}

func TestRun_InsertFailureTagged(t *testing.T) {
	url := localGitRepo(t, map[string]string{
		"main.go": "package main",
	})

	store := vectorstore.NewMockStore()
	store.InsertFunc = func(ctx context.Context, namespace string, docs []vectorstore.Document) error {
		return errors.New("write timeout")
	}
	p := testPipeline(t, store)

	_, err := p.Run(context.Background(), url)
	if err == nil {
		t.Fatal("expected insert failure")
	}
	var jerr *JobError
	if !errors.As(err, &jerr) {
		t.Fatalf("expected JobError, got %T", err)
	}
	if jerr.Stage != StageInsert {
		t.Errorf("stage = %q, want %q", jerr.Stage, StageInsert)
	}
}

func TestEmbedBatch_AllOrNothing(t *testing.T) {
	store := vectorstore.NewMockStore()
	provider := NewMockEmbeddingProvider(8, nil)
	provider.EmbedFunc = func(ctx context.Context, text string) ([]float32, error) {
		if strings.Contains(text, "poison") {
			return nil, errors.New("provider unavailable")
		}
		return []float32{1, 0, 0, 0, 0, 0, 0, 0}, nil
	}
	embedder := NewEmbedder(provider, nil)
	p, err := NewPipeline(store, embedder, DefaultPipelineConfig(), nil)
	if err != nil {
		t.Fatal(err)
	}

	batch := []Chunk{
		{Path: "a.go", Ordinal: 0, Content: "fine"},
		{Path: "b.go", Ordinal: 0, Content: "poison pill"},
		{Path: "c.go", Ordinal: 0, Content: "also fine"},
	}

	docs, err := p.embedBatch(context.Background(), batch)
	if err == nil {
		t.Fatal("expected batch failure")
	}
	if docs != nil {
		t.Errorf("expected nil docs on batch failure, got %d", len(docs))
	}
}

func TestEmbedBatch_PreservesOrder(t *testing.T) {
	store := vectorstore.NewMockStore()
	embedder := NewEmbedder(NewMockEmbeddingProvider(8, nil), nil)
	p, err := NewPipeline(store, embedder, DefaultPipelineConfig(), nil)
	if err != nil {
		t.Fatal(err)
	}

	batch := make([]Chunk, 25)
	for i := range batch {
		batch[i] = Chunk{Path: "f.go", Ordinal: i, Content: fmt.Sprintf("chunk %d", i)}
	}

	docs, err := p.embedBatch(context.Background(), batch)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(docs) != len(batch) {
		t.Fatalf("got %d documents, want %d", len(docs), len(batch))
	}
	for i, d := range docs {
		if d.Ordinal != i {
			t.Errorf("doc %d ordinal = %d; concurrent embedding must keep batch order", i, d.Ordinal)
		}
	}
}
