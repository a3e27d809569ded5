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

// Package vectorstore persists embedded documents in per-namespace vector
// collections and serves nearest-neighbor queries over them.
//
// A namespace is an isolated collection corresponding to exactly one ingested
// repository. Namespace existence is the canonical "already indexed" signal;
// no separate status record is kept.
package vectorstore

import "context"

// Document is the persisted unit: one embedded chunk of a source file.
// Documents are created during ingestion and never mutated.
type Document struct {
	// Source is the chunk's file path relative to the repository root.
	Source string

	// Ordinal is the chunk's position within its source file. Together with
	// Source it identifies the document within a namespace.
	Ordinal int

	// Text is the chunk content.
	Text string

	// Vector is the embedding, fixed-length per namespace.
	Vector []float32
}

// Scored is a retrieval result: a stored document's payload plus its
// similarity score, higher is closer.
type Scored struct {
	Source string
	Text   string
	Score  float32
}

// Store is the vector database boundary. All operations are remote calls;
// the store does not retry internally. Retry policy belongs to the caller.
type Store interface {
	// CreateNamespace creates an empty collection for vectors of the given
	// dimensionality. The similarity metric is fixed at creation.
	CreateNamespace(ctx context.Context, namespace string, dimension int) error

	// NamespaceExists reports whether the collection exists.
	NamespaceExists(ctx context.Context, namespace string) (bool, error)

	// ListNamespaces returns every known namespace.
	ListNamespaces(ctx context.Context) ([]string, error)

	// Insert upserts documents into the namespace.
	Insert(ctx context.Context, namespace string, docs []Document) error

	// Search returns the documents nearest to the query vector, ranked by
	// similarity, at most limit results.
	Search(ctx context.Context, namespace string, vector []float32, limit int) ([]Scored, error)
}
