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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"net/http"
	"strings"
	"time"

	"log/slog"
)

// QdrantStore talks to a Qdrant server over its REST API. One namespace maps
// to one Qdrant collection using cosine similarity.
type QdrantStore struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewQdrantStore creates a Qdrant-backed store. apiKey may be empty for
// unauthenticated local servers.
func NewQdrantStore(baseURL, apiKey string, logger *slog.Logger) *QdrantStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &QdrantStore{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// qdrantVectorsConfig is the collection-creation vector spec.
type qdrantVectorsConfig struct {
	Size     int    `json:"size"`
	Distance string `json:"distance"`
}

// qdrantCreateCollectionRequest is the body for PUT /collections/{name}.
type qdrantCreateCollectionRequest struct {
	Vectors qdrantVectorsConfig `json:"vectors"`
}

// qdrantPoint is one upserted vector with its payload.
type qdrantPoint struct {
	ID      uint64         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

// qdrantUpsertRequest is the body for PUT /collections/{name}/points.
type qdrantUpsertRequest struct {
	Points []qdrantPoint `json:"points"`
}

// qdrantSearchRequest is the body for POST /collections/{name}/points/search.
type qdrantSearchRequest struct {
	Vector      []float32 `json:"vector"`
	Limit       int       `json:"limit"`
	WithPayload bool      `json:"with_payload"`
}

// qdrantSearchResponse is the search result envelope.
type qdrantSearchResponse struct {
	Result []struct {
		ID      json.Number    `json:"id"`
		Score   float32        `json:"score"`
		Payload map[string]any `json:"payload"`
	} `json:"result"`
}

// qdrantCollectionsResponse is the collection-listing envelope.
type qdrantCollectionsResponse struct {
	Result struct {
		Collections []struct {
			Name string `json:"name"`
		} `json:"collections"`
	} `json:"result"`
}

// qdrantErrorResponse carries the server's error description.
type qdrantErrorResponse struct {
	Status struct {
		Error string `json:"error"`
	} `json:"status"`
}

// CreateNamespace creates a cosine-similarity collection sized for the
// embedder's output dimensionality.
func (q *QdrantStore) CreateNamespace(ctx context.Context, namespace string, dimension int) error {
	body := qdrantCreateCollectionRequest{
		Vectors: qdrantVectorsConfig{Size: dimension, Distance: "Cosine"},
	}

	q.logger.Info("store.namespace.create", "namespace", namespace, "dimension", dimension)

	_, err := q.do(ctx, http.MethodPut, "/collections/"+namespace, body)
	if err != nil {
		return fmt.Errorf("create namespace %s: %w", namespace, err)
	}
	return nil
}

// NamespaceExists reports whether the collection exists. Qdrant answers 404
// for unknown collections.
func (q *QdrantStore) NamespaceExists(ctx context.Context, namespace string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, q.baseURL+"/collections/"+namespace, nil)
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}
	q.setHeaders(req)

	resp, err := q.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("http request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("qdrant error (status %d) checking namespace %s", resp.StatusCode, namespace)
	}
}

// ListNamespaces returns the names of all collections.
func (q *QdrantStore) ListNamespaces(ctx context.Context) ([]string, error) {
	body, err := q.do(ctx, http.MethodGet, "/collections", nil)
	if err != nil {
		return nil, fmt.Errorf("list namespaces: %w", err)
	}

	var result qdrantCollectionsResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	names := make([]string, len(result.Result.Collections))
	for i, c := range result.Result.Collections {
		names[i] = c.Name
	}
	return names, nil
}

// Insert upserts documents as points, waiting for the write to be applied so
// a subsequent search sees them.
func (q *QdrantStore) Insert(ctx context.Context, namespace string, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	points := make([]qdrantPoint, len(docs))
	for i, d := range docs {
		points[i] = qdrantPoint{
			ID:     pointID(d.Source, d.Ordinal),
			Vector: d.Vector,
			Payload: map[string]any{
				"source":  d.Source,
				"ordinal": d.Ordinal,
				"text":    d.Text,
			},
		}
	}

	_, err := q.do(ctx, http.MethodPut, "/collections/"+namespace+"/points?wait=true", qdrantUpsertRequest{Points: points})
	if err != nil {
		return fmt.Errorf("insert %d documents into %s: %w", len(docs), namespace, err)
	}
	return nil
}

// Search returns the limit nearest documents with payloads.
func (q *QdrantStore) Search(ctx context.Context, namespace string, vector []float32, limit int) ([]Scored, error) {
	body, err := q.do(ctx, http.MethodPost, "/collections/"+namespace+"/points/search", qdrantSearchRequest{
		Vector:      vector,
		Limit:       limit,
		WithPayload: true,
	})
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", namespace, err)
	}

	var result qdrantSearchResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	scored := make([]Scored, 0, len(result.Result))
	for _, r := range result.Result {
		s := Scored{Score: r.Score}
		if v, ok := r.Payload["source"].(string); ok {
			s.Source = v
		}
		if v, ok := r.Payload["text"].(string); ok {
			s.Text = v
		}
		scored = append(scored, s)
	}
	return scored, nil
}

// do issues a JSON request and returns the raw response body, converting
// non-2xx statuses into errors carrying the server's description.
func (q *QdrantStore) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		jsonBody, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, q.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	q.setHeaders(req)

	resp, err := q.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp qdrantErrorResponse
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Status.Error != "" {
			return nil, fmt.Errorf("qdrant error (status %d): %s", resp.StatusCode, errResp.Status.Error)
		}
		return nil, fmt.Errorf("qdrant error (status %d): %s", resp.StatusCode, string(body))
	}

	return body, nil
}

func (q *QdrantStore) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}
}

// pointID derives a stable point id from the document's identity, so
// re-ingesting the same repository upserts instead of duplicating.
func pointID(source string, ordinal int) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(source))
	_, _ = h.Write([]byte{'|'})
	_, _ = fmt.Fprintf(h, "%d", ordinal)
	return h.Sum64()
}
