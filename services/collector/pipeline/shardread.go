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
	"bufio"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/FoilMiser/Dataset-Collector-sub001/services/collector/screen"
)

// readShardRecords decodes every JSONL line in a shard file, plain or
// gzipped, and hands each record to fn.
func readShardRecords(path string, fn func(*screen.CanonicalRecord) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open shard %s: %w", path, err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("open gzip shard %s: %w", path, err)
		}
		defer gz.Close()
		r = gz
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		record := &screen.CanonicalRecord{}
		if err := json.Unmarshal(scanner.Bytes(), record); err != nil {
			return fmt.Errorf("decode %s:%d: %w", path, line, err)
		}
		if err := fn(record); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan shard %s: %w", path, err)
	}
	return nil
}
