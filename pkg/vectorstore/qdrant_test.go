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
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestQdrantStore_CreateNamespace(t *testing.T) {
	var gotMethod, gotPath string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotBody)
		fmt.Fprint(w, `{"result": true, "status": "ok"}`)
	}))
	defer srv.Close()

	store := NewQdrantStore(srv.URL, "", nil)
	if err := store.CreateNamespace(context.Background(), "user-repo", 768); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotMethod != http.MethodPut || gotPath != "/collections/user-repo" {
		t.Errorf("request = %s %s, want PUT /collections/user-repo", gotMethod, gotPath)
	}
	vectors, ok := gotBody["vectors"].(map[string]any)
	if !ok {
		t.Fatalf("missing vectors config in body: %v", gotBody)
	}
	if vectors["size"] != float64(768) {
		t.Errorf("vectors.size = %v, want 768", vectors["size"])
	}
	if vectors["distance"] != "Cosine" {
		t.Errorf("vectors.distance = %v, want Cosine", vectors["distance"])
	}
}

func TestQdrantStore_NamespaceExists(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/collections/present":
			fmt.Fprint(w, `{"result": {}, "status": "ok"}`)
		case "/collections/absent":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	store := NewQdrantStore(srv.URL, "", nil)

	exists, err := store.NamespaceExists(context.Background(), "present")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !exists {
		t.Error("expected present namespace to exist")
	}

	exists, err = store.NamespaceExists(context.Background(), "absent")
	if err != nil {
		t.Fatalf("404 is not an error: %v", err)
	}
	if exists {
		t.Error("expected absent namespace to not exist")
	}

	if _, err := store.NamespaceExists(context.Background(), "broken"); err == nil {
		t.Error("expected error for server failure")
	}
}

func TestQdrantStore_ListNamespaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/collections" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"result": {"collections": [{"name": "user-repo"}, {"name": "org-tool"}]}, "status": "ok"}`)
	}))
	defer srv.Close()

	store := NewQdrantStore(srv.URL, "", nil)
	names, err := store.ListNamespaces(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(names) != 2 || names[0] != "user-repo" || names[1] != "org-tool" {
		t.Errorf("names = %v, want [user-repo org-tool]", names)
	}
}

func TestQdrantStore_Insert(t *testing.T) {
	var gotPath, gotQuery string
	var gotBody qdrantUpsertRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotBody)
		fmt.Fprint(w, `{"result": {}, "status": "ok"}`)
	}))
	defer srv.Close()

	store := NewQdrantStore(srv.URL, "", nil)
	docs := []Document{
		{Source: "main.go", Ordinal: 0, Text: "package main", Vector: []float32{1, 0}},
		{Source: "main.go", Ordinal: 1, Text: "func main() {}", Vector: []float32{0, 1}},
	}
	if err := store.Insert(context.Background(), "user-repo", docs); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotPath != "/collections/user-repo/points" {
		t.Errorf("path = %s, want /collections/user-repo/points", gotPath)
	}
	if gotQuery != "wait=true" {
		t.Errorf("query = %q, want wait=true", gotQuery)
	}
	if len(gotBody.Points) != 2 {
		t.Fatalf("got %d points, want 2", len(gotBody.Points))
	}
	p := gotBody.Points[0]
	if p.Payload["source"] != "main.go" {
		t.Errorf("payload source = %v", p.Payload["source"])
	}
	if p.Payload["text"] != "package main" {
		t.Errorf("payload text = %v", p.Payload["text"])
	}
	if p.ID != pointID("main.go", 0) {
		t.Errorf("point id = %d, want stable id %d", p.ID, pointID("main.go", 0))
	}
	if gotBody.Points[0].ID == gotBody.Points[1].ID {
		t.Error("distinct ordinals must yield distinct point ids")
	}
}

func TestQdrantStore_InsertEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for empty insert")
	}))
	defer srv.Close()

	store := NewQdrantStore(srv.URL, "", nil)
	if err := store.Insert(context.Background(), "user-repo", nil); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestQdrantStore_Search(t *testing.T) {
	var gotBody qdrantSearchRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/collections/user-repo/points/search" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotBody)
		fmt.Fprint(w, `{"result": [
			{"id": 1, "score": 0.92, "payload": {"source": "main.go", "ordinal": 0, "text": "package main"}},
			{"id": 2, "score": 0.81, "payload": {"source": "util.go", "ordinal": 3, "text": "func helper()"}}
		], "status": "ok"}`)
	}))
	defer srv.Close()

	store := NewQdrantStore(srv.URL, "", nil)
	scored, err := store.Search(context.Background(), "user-repo", []float32{1, 0}, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotBody.Limit != 10 {
		t.Errorf("request limit = %d, want 10", gotBody.Limit)
	}
	if !gotBody.WithPayload {
		t.Error("search must request payloads")
	}

	if len(scored) != 2 {
		t.Fatalf("got %d results, want 2", len(scored))
	}
	if scored[0].Source != "main.go" || scored[0].Text != "package main" {
		t.Errorf("result 0 = %+v", scored[0])
	}
	if scored[0].Score != 0.92 {
		t.Errorf("result 0 score = %f, want 0.92", scored[0].Score)
	}
}

func TestQdrantStore_APIKeyHeader(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("api-key")
		fmt.Fprint(w, `{"result": {"collections": []}, "status": "ok"}`)
	}))
	defer srv.Close()

	store := NewQdrantStore(srv.URL, "secret", nil)
	if _, err := store.ListNamespaces(context.Background()); err != nil {
		t.Fatal(err)
	}
	if gotKey != "secret" {
		t.Errorf("api-key header = %q, want secret", gotKey)
	}
}

func TestQdrantStore_ErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"status": {"error": "collection already exists"}}`)
	}))
	defer srv.Close()

	store := NewQdrantStore(srv.URL, "", nil)
	err := store.CreateNamespace(context.Background(), "user-repo", 768)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "collection already exists") {
		t.Errorf("error should carry the server's description, got %q", err.Error())
	}
	if !strings.Contains(err.Error(), "status 400") {
		t.Errorf("error should carry the HTTP status, got %q", err.Error())
	}
}

func TestPointID_Stable(t *testing.T) {
	if pointID("main.go", 0) != pointID("main.go", 0) {
		t.Error("pointID must be deterministic")
	}
	if pointID("main.go", 0) == pointID("main.go", 1) {
		t.Error("pointID must vary with ordinal")
	}
	if pointID("a.go", 0) == pointID("b.go", 0) {
		t.Error("pointID must vary with source")
	}
}
