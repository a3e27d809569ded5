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
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// metricsIngestion holds Prometheus metrics for the ingestion subsystem.
type metricsIngestion struct {
	once sync.Once

	// Jobs
	jobsAccepted  prometheus.Counter
	jobsSucceeded prometheus.Counter
	jobsFailed    prometheus.Counter
	jobsSkipped   prometheus.Counter

	// Pipeline volume
	filesLoaded   prometheus.Counter
	chunksCreated prometheus.Counter
	embedComputed prometheus.Counter
	embedErrors   prometheus.Counter
	embedRetries  prometheus.Counter
	batchesSent   prometheus.Counter
	docsInserted  prometheus.Counter

	// Durations
	cloneDuration  prometheus.Histogram
	embedDuration  prometheus.Histogram
	insertDuration prometheus.Histogram
	totalDuration  prometheus.Histogram
}

var ingMetrics metricsIngestion

func (m *metricsIngestion) init() {
	m.once.Do(func() {
		m.jobsAccepted = prometheus.NewCounter(prometheus.CounterOpts{Name: "repochat_ing_jobs_accepted_total", Help: "Ingestion jobs accepted"})
		m.jobsSucceeded = prometheus.NewCounter(prometheus.CounterOpts{Name: "repochat_ing_jobs_succeeded_total", Help: "Ingestion jobs completed successfully"})
		m.jobsFailed = prometheus.NewCounter(prometheus.CounterOpts{Name: "repochat_ing_jobs_failed_total", Help: "Ingestion jobs terminated by a fatal error"})
		m.jobsSkipped = prometheus.NewCounter(prometheus.CounterOpts{Name: "repochat_ing_jobs_skipped_total", Help: "Jobs skipped because the namespace already existed"})

		m.filesLoaded = prometheus.NewCounter(prometheus.CounterOpts{Name: "repochat_ing_files_loaded_total", Help: "Readable files collected from clones"})
		m.chunksCreated = prometheus.NewCounter(prometheus.CounterOpts{Name: "repochat_ing_chunks_created_total", Help: "Chunks produced by the chunker"})
		m.embedComputed = prometheus.NewCounter(prometheus.CounterOpts{Name: "repochat_ing_embeddings_computed_total", Help: "Embeddings computed"})
		m.embedErrors = prometheus.NewCounter(prometheus.CounterOpts{Name: "repochat_ing_embeddings_errors_total", Help: "Embedding provider errors"})
		m.embedRetries = prometheus.NewCounter(prometheus.CounterOpts{Name: "repochat_ing_embeddings_retries_total", Help: "Embedding call retries"})

		m.batchesSent = prometheus.NewCounter(prometheus.CounterOpts{Name: "repochat_ing_batches_sent_total", Help: "Chunk batches embedded and inserted"})
		m.docsInserted = prometheus.NewCounter(prometheus.CounterOpts{Name: "repochat_ing_documents_inserted_total", Help: "Documents inserted into the vector store"})

		buckets := []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}
		m.cloneDuration = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "repochat_ing_clone_seconds", Help: "Clone and walk duration", Buckets: buckets})
		m.embedDuration = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "repochat_ing_embed_seconds", Help: "Embedding duration", Buckets: buckets})
		m.insertDuration = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "repochat_ing_insert_seconds", Help: "Vector store insert duration", Buckets: buckets})
		m.totalDuration = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "repochat_ing_total_seconds", Help: "Total job duration", Buckets: buckets})

		prometheus.MustRegister(
			m.jobsAccepted, m.jobsSucceeded, m.jobsFailed, m.jobsSkipped,
			m.filesLoaded, m.chunksCreated,
			m.embedComputed, m.embedErrors, m.embedRetries,
			m.batchesSent, m.docsInserted,
			m.cloneDuration, m.embedDuration, m.insertDuration, m.totalDuration,
		)
	})
}

// record helpers - used by the pipeline and embedder for metrics tracking
func recordEmbedRetry() { ingMetrics.init(); ingMetrics.embedRetries.Inc() }

func recordJobAccepted()  { ingMetrics.init(); ingMetrics.jobsAccepted.Inc() }
func recordJobSucceeded() { ingMetrics.init(); ingMetrics.jobsSucceeded.Inc() }
func recordJobFailed()    { ingMetrics.init(); ingMetrics.jobsFailed.Inc() }
func recordJobSkipped()   { ingMetrics.init(); ingMetrics.jobsSkipped.Inc() }

func recordFilesLoaded(n int)   { ingMetrics.init(); ingMetrics.filesLoaded.Add(float64(n)) }
func recordChunksCreated(n int) { ingMetrics.init(); ingMetrics.chunksCreated.Add(float64(n)) }
func recordEmbedComputed(n int) { ingMetrics.init(); ingMetrics.embedComputed.Add(float64(n)) }
func recordEmbedError()         { ingMetrics.init(); ingMetrics.embedErrors.Inc() }
func recordBatchSent()          { ingMetrics.init(); ingMetrics.batchesSent.Inc() }
func recordDocsInserted(n int)  { ingMetrics.init(); ingMetrics.docsInserted.Add(float64(n)) }

func observeCloneSeconds(s float64)  { ingMetrics.init(); ingMetrics.cloneDuration.Observe(s) }
func observeEmbedSeconds(s float64)  { ingMetrics.init(); ingMetrics.embedDuration.Observe(s) }
func observeInsertSeconds(s float64) { ingMetrics.init(); ingMetrics.insertDuration.Observe(s) }
func observeTotalSeconds(s float64)  { ingMetrics.init(); ingMetrics.totalDuration.Observe(s) }
