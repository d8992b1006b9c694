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
	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	configPath  string
	policyFile  string
	metricsAddr string

	signoffReviewer string

	rootCmd = &cobra.Command{
		Use:   "collector",
		Short: "A cli to build auditable, license-compliant text corpora",
		Long: `Collector classifies candidate data sources against license
				evidence, acquires and screens their payloads, deduplicates the
				results into per-pool shards, and writes an append-only audit
				trail for every decision along the way.`,
		SilenceUsage: true,
	}

	classifyCmd = &cobra.Command{
		Use:   "classify",
		Short: "Fetch license evidence and classify every enabled target",
		RunE:  runClassify, // Defined in cmd_stages.go
	}

	acquireCmd = &cobra.Command{
		Use:   "acquire",
		Short: "Download payloads for targets cleared to proceed",
		RunE:  runAcquire, // Defined in cmd_stages.go
	}

	screenCmd = &cobra.Command{
		Use:   "screen",
		Short: "Canonicalize acquired payloads into per-pool shards",
		RunE:  runScreen, // Defined in cmd_stages.go
	}

	mergeCmd = &cobra.Command{
		Use:   "merge",
		Short: "Deduplicate screened records into the combined corpus",
		RunE:  runMerge, // Defined in cmd_stages.go
	}

	catalogCmd = &cobra.Command{
		Use:   "catalog",
		Short: "Summarize shards, ledgers, and reject reasons for the run",
		RunE:  runCatalog, // Defined in cmd_stages.go
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Execute the full pipeline: classify, acquire, screen, merge, catalog",
		RunE:  runAll, // Defined in cmd_stages.go
	}

	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show the stored classification state of every target",
		RunE:  runStatus, // Defined in cmd_stages.go
	}

	// --- Signoff ---
	signoffCmd = &cobra.Command{
		Use:   "signoff",
		Short: "Record human review decisions bound to evidence hashes",
	}
	signoffApproveCmd = &cobra.Command{
		Use:   "approve [target-id]",
		Short: "Approve a target, binding the decision to its current evidence",
		Args:  cobra.ExactArgs(1),
		RunE:  runSignoffApprove, // Defined in cmd_signoff.go
	}
	signoffRejectCmd = &cobra.Command{
		Use:   "reject [target-id]",
		Short: "Reject a target, binding the decision to its current evidence",
		Args:  cobra.ExactArgs(1),
		RunE:  runSignoffReject, // Defined in cmd_signoff.go
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "collector.yaml",
		"path to the run configuration file")
	rootCmd.PersistentFlags().StringVar(&policyFile, "policy-file", "",
		"override the embedded classification policy")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "",
		"address to expose Prometheus metrics on (empty disables)")

	signoffCmd.PersistentFlags().StringVar(&signoffReviewer, "reviewer", "",
		"name of the human reviewer recording the decision")

	signoffCmd.AddCommand(signoffApproveCmd, signoffRejectCmd)
	rootCmd.AddCommand(
		classifyCmd,
		acquireCmd,
		screenCmd,
		mergeCmd,
		catalogCmd,
		runCmd,
		statusCmd,
		signoffCmd,
	)
}
