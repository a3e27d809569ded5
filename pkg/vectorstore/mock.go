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

package vectorstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MockStore is an in-memory Store for tests. It ranks search results by dot
// product, which equals cosine similarity for unit vectors. Individual
// operations can be overridden via the func fields.
type MockStore struct {
	mu         sync.Mutex
	namespaces map[string][]Document
	dimensions map[string]int

	CreateFunc func(ctx context.Context, namespace string, dimension int) error
	InsertFunc func(ctx context.Context, namespace string, docs []Document) error
	SearchFunc func(ctx context.Context, namespace string, vector []float32, limit int) ([]Scored, error)
}

// NewMockStore creates an empty in-memory store.
func NewMockStore() *MockStore {
	return &MockStore{
		namespaces: make(map[string][]Document),
		dimensions: make(map[string]int),
	}
}

// CreateNamespace registers an empty namespace.
func (m *MockStore) CreateNamespace(ctx context.Context, namespace string, dimension int) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, namespace, dimension)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.namespaces[namespace]; ok {
		return fmt.Errorf("namespace %s already exists", namespace)
	}
	m.namespaces[namespace] = nil
	m.dimensions[namespace] = dimension
	return nil
}

// NamespaceExists reports whether the namespace was created.
func (m *MockStore) NamespaceExists(ctx context.Context, namespace string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.namespaces[namespace]
	return ok, nil
}

// ListNamespaces returns all namespace names, sorted for determinism.
func (m *MockStore) ListNamespaces(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.namespaces))
	for name := range m.namespaces {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Insert appends documents to the namespace.
func (m *MockStore) Insert(ctx context.Context, namespace string, docs []Document) error {
	if m.InsertFunc != nil {
		return m.InsertFunc(ctx, namespace, docs)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.namespaces[namespace]; !ok {
		return fmt.Errorf("namespace %s does not exist", namespace)
	}
	m.namespaces[namespace] = append(m.namespaces[namespace], docs...)
	return nil
}

// Search ranks stored documents by dot product against the query vector.
func (m *MockStore) Search(ctx context.Context, namespace string, vector []float32, limit int) ([]Scored, error) {
	if m.SearchFunc != nil {
		return m.SearchFunc(ctx, namespace, vector, limit)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	docs, ok := m.namespaces[namespace]
	if !ok {
		return nil, fmt.Errorf("namespace %s does not exist", namespace)
	}

	scored := make([]Scored, 0, len(docs))
	for _, d := range docs {
		scored = append(scored, Scored{
			Source: d.Source,
			Text:   d.Text,
			Score:  dot(vector, d.Vector),
		})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

// Documents returns a copy of the namespace's stored documents.
func (m *MockStore) Documents(namespace string) []Document {
	m.mu.Lock()
	defer m.mu.Unlock()
	docs := m.namespaces[namespace]
	out := make([]Document, len(docs))
	copy(out, docs)
	return out
}

func dot(a, b []float32) float32 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float32
	for i := 0; i < n; i++ {
		sum += a[i] * b[i]
	}
	return sum
}
