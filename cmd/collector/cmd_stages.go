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
	"encoding/json"
	"fmt"
	"os"

	"github.com/FoilMiser/Dataset-Collector-sub001/services/collector/pipeline"
	"github.com/spf13/cobra"
)

func newRunner() (*pipeline.Runner, error) {
	return pipeline.New(cfg)
}

// printJSON writes v to stdout as indented JSON, the machine-readable
// output contract for every stage command.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runClassify(cmd *cobra.Command, args []string) error {
	r, err := newRunner()
	if err != nil {
		return err
	}
	results, err := r.Classify(cmd.Context())
	if err != nil {
		return err
	}
	return printJSON(results)
}

func runAcquire(cmd *cobra.Command, args []string) error {
	r, err := newRunner()
	if err != nil {
		return err
	}
	outcomes, err := r.Acquire(cmd.Context())
	if err != nil {
		return err
	}

	type acquisition struct {
		TargetID string `json:"target_id"`
		SHA256   string `json:"sha256,omitempty"`
		Size     int64  `json:"size,omitempty"`
		Error    string `json:"error,omitempty"`
	}
	out := make([]acquisition, 0, len(outcomes))
	failed := 0
	for _, o := range outcomes {
		a := acquisition{TargetID: o.TargetID}
		if o.Err != nil {
			a.Error = o.Err.Error()
			failed++
		} else {
			a.SHA256 = o.Payload.SHA256
			a.Size = o.Payload.Size
		}
		out = append(out, a)
	}
	if err := printJSON(out); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d acquisitions failed", failed, len(outcomes))
	}
	return nil
}

func runScreen(cmd *cobra.Command, args []string) error {
	r, err := newRunner()
	if err != nil {
		return err
	}
	stats, err := r.Screen(cmd.Context())
	if err != nil {
		return err
	}
	return printJSON(stats)
}

func runMerge(cmd *cobra.Command, args []string) error {
	r, err := newRunner()
	if err != nil {
		return err
	}
	stats, err := r.Merge(cmd.Context())
	if err != nil {
		return err
	}
	return printJSON(stats)
}

func runCatalog(cmd *cobra.Command, args []string) error {
	r, err := newRunner()
	if err != nil {
		return err
	}
	summary, path, err := r.BuildCatalog(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stderr, "catalog written to", path)
	return printJSON(summary)
}

func runAll(cmd *cobra.Command, args []string) error {
	r, err := newRunner()
	if err != nil {
		return err
	}
	summary, err := r.Run(cmd.Context())
	if err != nil {
		return err
	}
	return printJSON(summary)
}

func runStatus(cmd *cobra.Command, args []string) error {
	r, err := newRunner()
	if err != nil {
		return err
	}

	type targetStatus struct {
		TargetID     string `json:"target_id"`
		Enabled      bool   `json:"enabled"`
		Bucket       string `json:"bucket,omitempty"`
		State        string `json:"state,omitempty"`
		ResolvedSPDX string `json:"resolved_spdx,omitempty"`
		Signoff      string `json:"signoff,omitempty"`
	}

	var out []targetStatus
	for _, target := range cfg.Targets {
		st := targetStatus{TargetID: target.ID, Enabled: target.Enabled}

		res, err := r.LoadClassification(target.ID)
		if err != nil {
			return err
		}
		if res != nil {
			st.Bucket = string(res.Bucket)
			st.State = string(res.State)
			st.ResolvedSPDX = res.ResolvedSPDX
		}

		signoff, err := r.Binder().Load(target.ID)
		if err != nil {
			return err
		}
		if signoff != nil {
			st.Signoff = signoff.Decision + " by " + signoff.Reviewer
		}
		out = append(out, st)
	}
	return printJSON(out)
}
