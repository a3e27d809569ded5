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

package answer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"log/slog"

	"github.com/kraklabs/repochat/pkg/ingestion"
	"github.com/kraklabs/repochat/pkg/llm"
	"github.com/kraklabs/repochat/pkg/vectorstore"
)

// DefaultSearchLimit is the number of nearest chunks retrieved per question.
const DefaultSearchLimit = 10

// RefusalSentence is the exact sentence the generator emits when the
// retrieved context does not contain the answer. Callers can compare against
// it to distinguish a refusal from a substantive answer.
const RefusalSentence = "I don't have enough information in the indexed repository to answer that."

// systemInstruction constrains the generator to the retrieved context. The
// refusal sentence is embedded verbatim so the model can echo it exactly.
const systemInstruction = `You are an assistant that answers questions about a source code repository.
Answer using ONLY the context below. Each context block starts with "Source:" followed by the file path it was taken from; mention those paths when they support your answer.
If the context does not contain the information needed to answer, reply with exactly this sentence and nothing else:
` + RefusalSentence + `

Context:
%s`

// Source is one retrieved chunk backing an answer, delivered to the caller
// before the first generated fragment.
type Source struct {
	Source string `json:"source"`
	Text   string `json:"text"`
}

// NamespaceNotFoundError reports a question against a repository that was
// never ingested.
type NamespaceNotFoundError struct {
	Namespace string
}

func (e *NamespaceNotFoundError) Error() string {
	return fmt.Sprintf("namespace %s not found", e.Namespace)
}

// Stream is one in-flight answer. Sources is fully populated before the
// first delta is readable; the delta channel is finite and not restartable.
type Stream struct {
	// Sources are the retrieved chunks in ranked order.
	Sources []Source

	deltas <-chan llm.StreamDelta
}

// Deltas returns the generated text fragments in order. The channel closes
// after the final delta (Done=true) or an error delta.
func (s *Stream) Deltas() <-chan llm.StreamDelta {
	return s.deltas
}

// Text drains the stream and returns the full generated answer. Intended for
// callers that do not need incremental delivery.
func (s *Stream) Text() (string, error) {
	var b strings.Builder
	for d := range s.deltas {
		if d.Err != nil {
			return b.String(), d.Err
		}
		b.WriteString(d.Content)
	}
	return b.String(), nil
}

// Engine answers questions about ingested repositories: embed the question,
// retrieve the nearest chunks from the namespace, and stream a grounded
// generation.
type Engine struct {
	store    vectorstore.Store
	embedder *ingestion.Embedder
	provider llm.Provider
	limit    int
	logger   *slog.Logger
}

// NewEngine creates an answer engine over the given store, embedder, and
// generation provider.
func NewEngine(store vectorstore.Store, embedder *ingestion.Embedder, provider llm.Provider, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:    store,
		embedder: embedder,
		provider: provider,
		limit:    DefaultSearchLimit,
		logger:   logger,
	}
}

// SetSearchLimit overrides the number of chunks retrieved per question.
func (e *Engine) SetSearchLimit(n int) {
	if n > 0 {
		e.limit = n
	}
}

// Ask answers a question against one namespace.
//
// It fails fast with NamespaceNotFoundError before any embedding or
// generation call when the namespace does not exist. On success the returned
// Stream carries the retrieved sources immediately; generated fragments
// arrive on its delta channel as the provider produces them.
func (e *Engine) Ask(ctx context.Context, namespace, question string) (*Stream, error) {
	if strings.TrimSpace(question) == "" {
		return nil, fmt.Errorf("question must not be empty")
	}

	exists, err := e.store.NamespaceExists(ctx, namespace)
	if err != nil {
		return nil, fmt.Errorf("check namespace %s: %w", namespace, err)
	}
	if !exists {
		return nil, &NamespaceNotFoundError{Namespace: namespace}
	}

	recordQuestion()
	startRetrieval := time.Now()

	vector, err := e.embedder.Embed(ctx, question)
	if err != nil {
		recordRetrievalError()
		return nil, fmt.Errorf("embed question: %w", err)
	}

	scored, err := e.store.Search(ctx, namespace, vector, e.limit)
	if err != nil {
		recordRetrievalError()
		return nil, fmt.Errorf("search %s: %w", namespace, err)
	}
	observeRetrievalSeconds(time.Since(startRetrieval).Seconds())

	sources := make([]Source, len(scored))
	for i, s := range scored {
		sources[i] = Source{Source: s.Source, Text: s.Text}
	}

	e.logger.Info("ask.retrieved",
		"namespace", namespace,
		"sources", len(sources),
		"retrieval_ms", time.Since(startRetrieval).Milliseconds(),
	)

	prompt := fmt.Sprintf(systemInstruction, buildContext(scored))
	deltas, err := e.provider.ChatStream(ctx, llm.ChatRequest{
		Messages: llm.BuildChatMessages(prompt, question),
	})
	if err != nil {
		recordGenerationError()
		return nil, fmt.Errorf("start generation: %w", err)
	}

	return &Stream{Sources: sources, deltas: deltas}, nil
}

// buildContext assembles the retrieved chunks into the prompt context, in
// ranked order, each block prefixed with the path it came from.
func buildContext(scored []vectorstore.Scored) string {
	if len(scored) == 0 {
		return "(no relevant content found)"
	}
	blocks := make([]string, len(scored))
	for i, s := range scored {
		blocks[i] = fmt.Sprintf("Source: %s\n%s", s.Source, s.Text)
	}
	return strings.Join(blocks, "\n\n---\n\n")
}
