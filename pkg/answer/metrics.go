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
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// metricsAnswer holds Prometheus metrics for the answer subsystem.
type metricsAnswer struct {
	once sync.Once

	questions        prometheus.Counter
	retrievalErrors  prometheus.Counter
	generationErrors prometheus.Counter

	retrievalDuration prometheus.Histogram
}

var ansMetrics metricsAnswer

func (m *metricsAnswer) init() {
	m.once.Do(func() {
		m.questions = prometheus.NewCounter(prometheus.CounterOpts{Name: "repochat_ask_questions_total", Help: "Questions accepted for answering"})
		m.retrievalErrors = prometheus.NewCounter(prometheus.CounterOpts{Name: "repochat_ask_retrieval_errors_total", Help: "Failures embedding the question or searching the store"})
		m.generationErrors = prometheus.NewCounter(prometheus.CounterOpts{Name: "repochat_ask_generation_errors_total", Help: "Failures starting the generation stream"})

		m.retrievalDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "repochat_ask_retrieval_seconds",
			Help:    "Question embedding plus nearest-neighbor search duration",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		})

		prometheus.MustRegister(
			m.questions, m.retrievalErrors, m.generationErrors,
			m.retrievalDuration,
		)
	})
}

// record helpers - used by the engine for metrics tracking
func recordQuestion()        { ansMetrics.init(); ansMetrics.questions.Inc() }
func recordRetrievalError()  { ansMetrics.init(); ansMetrics.retrievalErrors.Inc() }
func recordGenerationError() { ansMetrics.init(); ansMetrics.generationErrors.Inc() }

func observeRetrievalSeconds(s float64) { ansMetrics.init(); ansMetrics.retrievalDuration.Observe(s) }
