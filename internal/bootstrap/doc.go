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

// Package bootstrap wires repochat's long-lived clients from configuration.
//
// This internal package builds the vector store client, embedding provider,
// generation provider, ingestion pipeline, and answer engine once at process
// start. The HTTP server and the CLI commands both consume the resulting
// App rather than constructing clients themselves.
//
// # Wiring Workflow
//
// A typical startup:
//
//	app, err := bootstrap.NewApp(bootstrap.AppConfig{
//	    QdrantURL:         "http://localhost:6333",
//	    EmbeddingProvider: "ollama",
//	    LLMProvider:       "ollama",
//	}, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	if err := app.CheckStore(ctx); err != nil {
//	    logger.Warn("bootstrap.store.unreachable", "err", err)
//	}
//
// # Construction Semantics
//
// NewApp validates configuration and constructs clients but performs no
// network calls; a misconfigured endpoint surfaces on first use, or earlier
// via CheckStore. The special QdrantURL value "mock" selects an in-memory
// store for tests and demos.
package bootstrap
