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

// Package server exposes repochat's HTTP API: repository submission,
// namespace listing, and streaming question answering.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"log/slog"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kraklabs/repochat/pkg/answer"
	"github.com/kraklabs/repochat/pkg/ingestion"
	"github.com/kraklabs/repochat/pkg/vectorstore"
)

// SourceDocumentsHeader carries the retrieved chunks backing a streamed
// answer, as a JSON array, committed before the first body byte.
const SourceDocumentsHeader = "X-Source-Documents"

// Server handles the repochat HTTP API. It is safe for concurrent use; all
// mutable state lives in the injected clients.
type Server struct {
	store    vectorstore.Store
	pipeline *ingestion.Pipeline
	engine   *answer.Engine
	logger   *slog.Logger
}

// New creates a Server over the given clients.
func New(store vectorstore.Store, pipeline *ingestion.Pipeline, engine *answer.Engine, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		store:    store,
		pipeline: pipeline,
		engine:   engine,
		logger:   logger,
	}
}

// Handler returns the routed HTTP handler, including /metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/repos", s.handleSubmitRepo)
	mux.HandleFunc("GET /api/repos", s.handleListRepos)
	mux.HandleFunc("POST /api/ask", s.handleAsk)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

type submitRepoRequest struct {
	RepoURL string `json:"repoUrl"`
}

type submitRepoResponse struct {
	Status    string `json:"status"`
	Namespace string `json:"namespace"`
}

type listReposResponse struct {
	Namespaces []string `json:"namespaces"`
}

type askRequest struct {
	Namespace string `json:"namespace"`
	Question  string `json:"question"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// handleSubmitRepo accepts a repository for ingestion. Validation and the
// idempotency check run synchronously; the ingestion job itself is detached
// so the response returns immediately.
//
// Responses:
//   - 400 for a missing or invalid repository URL
//   - 200 {"status":"exists"} when the namespace is already populated
//   - 202 {"status":"accepted"} when a job was started
func (s *Server) handleSubmitRepo(w http.ResponseWriter, r *http.Request) {
	var req submitRepoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}
	if req.RepoURL == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "repoUrl is required"})
		return
	}
	if err := ingestion.ValidateRepoURL(req.RepoURL); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	namespace, exists, err := s.pipeline.NamespaceReady(r.Context(), req.RepoURL)
	if err != nil {
		s.logger.Error("api.repos.submit.error", "err", err)
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: "vector store unavailable"})
		return
	}
	if exists {
		writeJSON(w, http.StatusOK, submitRepoResponse{Status: "exists", Namespace: namespace})
		return
	}

	s.logger.Info("api.repos.accepted", "namespace", namespace)
	writeJSON(w, http.StatusAccepted, submitRepoResponse{Status: "accepted", Namespace: namespace})

	// The job outlives the request, so it gets a fresh context. A client
	// disconnect must not cancel a half-finished ingestion.
	go func() {
		if _, err := s.pipeline.Run(context.Background(), req.RepoURL); err != nil {
			s.logger.Error("api.repos.job.failed", "namespace", namespace, "err", err)
		}
	}()
}

// handleListRepos returns all namespace names in the store.
func (s *Server) handleListRepos(w http.ResponseWriter, r *http.Request) {
	names, err := s.store.ListNamespaces(r.Context())
	if err != nil {
		s.logger.Error("api.repos.list.error", "err", err)
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: "vector store unavailable"})
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, listReposResponse{Namespaces: names})
}

// handleAsk answers a question against one namespace, streaming the
// generated text as plain text. The retrieved chunks backing the answer are
// attached as the X-Source-Documents response header, committed before the
// first fragment.
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}
	if req.Namespace == "" || req.Question == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "namespace and question are required"})
		return
	}

	stream, err := s.engine.Ask(r.Context(), req.Namespace, req.Question)
	if err != nil {
		var notFound *answer.NamespaceNotFoundError
		if errors.As(err, &notFound) {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
			return
		}
		s.logger.Error("api.ask.error", "namespace", req.Namespace, "err", err)
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: "failed to answer question"})
		return
	}

	sourcesJSON, err := json.Marshal(stream.Sources)
	if err != nil {
		s.logger.Error("api.ask.sources.marshal", "err", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set(SourceDocumentsHeader, string(sourcesJSON))
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	if flusher != nil {
		flusher.Flush()
	}

	for d := range stream.Deltas() {
		if d.Err != nil {
			// The status line is already committed; all we can do is log
			// and truncate the body.
			s.logger.Error("api.ask.stream.error", "namespace", req.Namespace, "err", d.Err)
			return
		}
		if d.Content == "" {
			continue
		}
		if _, err := w.Write([]byte(d.Content)); err != nil {
			// Client went away.
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

// handleHealthz reports process liveness.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
