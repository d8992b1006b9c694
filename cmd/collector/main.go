// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"log/slog"
	"net/http"
	"os"

	"github.com/FoilMiser/Dataset-Collector-sub001/services/collector/config"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var cfg *config.Config

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if policyFile != "" {
			loaded.PolicyFile = policyFile
		}
		cfg = loaded

		if metricsAddr != "" {
			go serveMetrics(metricsAddr)
		}
		return nil
	}
}

// serveMetrics exposes the Prometheus registry for scraping. Failures are
// logged, not fatal: metrics are an observation surface, never a
// prerequisite for collection.
func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("metrics listener stopped", slog.String("error", err.Error()))
	}
}
