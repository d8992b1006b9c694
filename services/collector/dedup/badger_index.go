// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.
package dedup

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"
)

// BadgerIndex is a persistent Index backed by BadgerDB, so dedup
// decisions survive interrupted runs: a record admitted before a crash
// still owns its hash on resume.
//
// Thread Safety: safe for concurrent use.
type BadgerIndex struct {
	db *badger.DB
}

// BadgerConfig configures the persistent index.
type BadgerConfig struct {
	// Path is the index directory. Ignored when InMemory is true.
	Path string

	// InMemory disables persistence; for tests.
	InMemory bool

	// Logger receives BadgerDB's internal logging. Nil disables it.
	Logger *slog.Logger
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// OpenBadgerIndex opens (or creates) the index.
func OpenBadgerIndex(cfg BadgerConfig) (*BadgerIndex, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for a persistent index")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(cfg.Path).WithSyncWrites(true)
	}
	opts = opts.WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open dedup index: %w", err)
	}
	return &BadgerIndex{db: db}, nil
}

// PutIfAbsent implements Index. The read-check-write runs in one
// serializable transaction; under contention the losing writer retries
// and observes the winner's claim.
func (b *BadgerIndex) PutIfAbsent(hash, owner string) (first bool, existing string, err error) {
	key := []byte("h:" + hash)
	for {
		err = b.db.Update(func(txn *badger.Txn) error {
			item, getErr := txn.Get(key)
			if getErr == nil {
				return item.Value(func(val []byte) error {
					first = false
					existing = string(val)
					return nil
				})
			}
			if !errors.Is(getErr, badger.ErrKeyNotFound) {
				return getErr
			}
			first = true
			existing = ""
			return txn.Set(key, []byte(owner))
		})
		if errors.Is(err, badger.ErrConflict) {
			continue
		}
		if err != nil {
			return false, "", fmt.Errorf("index put: %w", err)
		}
		return first, existing, nil
	}
}

// Close implements Index.
func (b *BadgerIndex) Close() error {
	return b.db.Close()
}
