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
	"fmt"

	"github.com/FoilMiser/Dataset-Collector-sub001/services/collector/license"
	"github.com/spf13/cobra"
)

func runSignoffApprove(cmd *cobra.Command, args []string) error {
	return recordSignoff(args[0], "approve")
}

func runSignoffReject(cmd *cobra.Command, args []string) error {
	return recordSignoff(args[0], "reject")
}

// recordSignoff binds a review decision to the evidence hash currently on
// record. A target with no stored evidence cannot be signed off: the
// reviewer would be approving something nobody has seen.
func recordSignoff(targetID, decision string) error {
	if signoffReviewer == "" {
		return fmt.Errorf("--reviewer is required")
	}

	r, err := newRunner()
	if err != nil {
		return err
	}

	hash, ok := r.EvidenceStore().LastRawSHA256(targetID)
	if !ok {
		return fmt.Errorf("no evidence snapshot for %s; run classify first", targetID)
	}

	signoff := license.Signoff{Reviewer: signoffReviewer, Decision: decision}
	if err := r.Binder().Bind(targetID, signoff, hash); err != nil {
		return err
	}
	fmt.Printf("%s: %s by %s, bound to evidence %s\n", targetID, decision, signoffReviewer, hash[:12])
	return nil
}
