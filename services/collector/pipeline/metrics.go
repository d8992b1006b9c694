// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.
package pipeline

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricsOnce sync.Once

	targetsClassified *prometheus.CounterVec
	acquisitions      *prometheus.CounterVec
	recordsScreened   *prometheus.CounterVec
	recordsMerged     *prometheus.CounterVec
)

func initMetrics() {
	metricsOnce.Do(func() {
		targetsClassified = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "collector",
			Name:      "targets_classified_total",
			Help:      "Targets classified, by effective bucket.",
		}, []string{"bucket"})

		acquisitions = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "collector",
			Name:      "acquisitions_total",
			Help:      "Acquisition outcomes, by status.",
		}, []string{"status"})

		recordsScreened = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "collector",
			Name:      "records_screened_total",
			Help:      "Screening outcomes, by result (pass or pitch reason).",
		}, []string{"result"})

		recordsMerged = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "collector",
			Name:      "records_merged_total",
			Help:      "Records admitted to the merged corpus, by pool.",
		}, []string{"pool"})
	})
}
