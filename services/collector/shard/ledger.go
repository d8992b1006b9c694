// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.
package shard

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Ledger is one append-only JSONL audit log. Every Append is flushed and
// fsync'd before it returns: a line either fully exists or was never
// written. A Ledger that cannot be written is fatal to the run; callers
// must not swallow Append errors.
//
// Thread Safety: safe for concurrent use.
type Ledger struct {
	mu   sync.Mutex
	path string
	file *os.File
	buf  *bufio.Writer
}

// OpenLedger opens (or creates) the named ledger under dir in append
// mode. name is the stage, e.g. "classification"; the file becomes
// dir/classification.jsonl.
func OpenLedger(dir, name string) (*Ledger, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}
	path := filepath.Join(dir, name+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open ledger %s: %w", path, err)
	}
	return &Ledger{path: path, file: f, buf: bufio.NewWriter(f)}, nil
}

// Append writes one event as a single durable line.
func (l *Ledger) Append(event any) error {
	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal ledger event: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.buf.Write(line); err != nil {
		return fmt.Errorf("write ledger %s: %w", l.path, err)
	}
	if err := l.buf.Flush(); err != nil {
		return fmt.Errorf("flush ledger %s: %w", l.path, err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("sync ledger %s: %w", l.path, err)
	}
	return nil
}

// Path returns the ledger file path.
func (l *Ledger) Path() string { return l.path }

// Close flushes and closes the underlying file.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.buf.Flush(); err != nil {
		l.file.Close()
		return fmt.Errorf("flush ledger %s: %w", l.path, err)
	}
	return l.file.Close()
}
