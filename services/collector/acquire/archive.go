// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.
package acquire

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ExtractConfig bounds archive extraction.
type ExtractConfig struct {
	// MaxRatio is the maximum total-extracted-bytes to archive-bytes
	// ratio before extraction aborts.
	MaxRatio int64
}

// IsArchive reports whether path looks like an archive this package can
// extract.
func IsArchive(path string) bool {
	lower := strings.ToLower(path)
	return strings.HasSuffix(lower, ".tar.gz") ||
		strings.HasSuffix(lower, ".tgz") ||
		strings.HasSuffix(lower, ".zip")
}

// Extract unpacks an archive into destDir with hardening: entries whose
// cleaned path would escape destDir are rejected, link entries are
// rejected, and extraction aborts once the expansion ratio crosses
// cfg.MaxRatio. A rejected archive leaves destDir partially populated;
// callers treat any error as a failed target and quarantine it.
func Extract(archivePath, destDir string, cfg ExtractConfig) error {
	fi, err := os.Stat(archivePath)
	if err != nil {
		return fmt.Errorf("stat archive: %w", err)
	}
	if err := os.MkdirAll(destDir, 0o750); err != nil {
		return fmt.Errorf("create extraction root: %w", err)
	}

	budget := &ratioBudget{archiveSize: fi.Size(), maxRatio: cfg.MaxRatio}

	lower := strings.ToLower(archivePath)
	switch {
	case strings.HasSuffix(lower, ".zip"):
		return extractZip(archivePath, destDir, budget)
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return extractTarGz(archivePath, destDir, budget)
	default:
		return fmt.Errorf("unsupported archive format: %s", filepath.Base(archivePath))
	}
}

// ratioBudget tracks cumulative extracted bytes against the bomb ratio.
type ratioBudget struct {
	archiveSize int64
	maxRatio    int64
	written     int64
}

func (b *ratioBudget) remaining() int64 {
	if b.maxRatio <= 0 || b.archiveSize <= 0 {
		return 1 << 40
	}
	return b.archiveSize*b.maxRatio - b.written
}

func (b *ratioBudget) consume(n int64) { b.written += n }

// safePath joins an archive entry name onto destDir and verifies the
// result stays inside it.
func safePath(destDir, name string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("%w: absolute path %q", ErrPathTraversal, name)
	}
	dest := filepath.Join(destDir, cleaned)
	rel, err := filepath.Rel(destDir, dest)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrPathTraversal, name)
	}
	return dest, nil
}

func writeEntry(dest string, r io.Reader, mode os.FileMode, budget *ratioBudget) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return fmt.Errorf("create entry directory: %w", err)
	}
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode.Perm()&0o750)
	if err != nil {
		return fmt.Errorf("create entry: %w", err)
	}

	limit := budget.remaining()
	n, err := io.Copy(f, io.LimitReader(r, limit+1))
	closeErr := f.Close()
	budget.consume(n)
	if err != nil {
		return fmt.Errorf("write entry: %w", err)
	}
	if n > limit {
		return fmt.Errorf("%w: exceeded %dx expansion", ErrDecompressionBomb, budget.maxRatio)
	}
	return closeErr
}

func extractTarGz(archivePath, destDir string, budget *ratioBudget) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("open gzip stream: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read tar entry: %w", err)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			dest, err := safePath(destDir, hdr.Name)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(dest, 0o750); err != nil {
				return fmt.Errorf("create directory entry: %w", err)
			}
		case tar.TypeReg:
			dest, err := safePath(destDir, hdr.Name)
			if err != nil {
				return err
			}
			if err := writeEntry(dest, tr, hdr.FileInfo().Mode(), budget); err != nil {
				return err
			}
		case tar.TypeSymlink, tar.TypeLink:
			return fmt.Errorf("%w: %q", ErrSymlinkEntry, hdr.Name)
		default:
			// Devices, fifos, and the rest are silently skipped.
		}
	}
}

func extractZip(archivePath, destDir string, budget *ratioBudget) error {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("open zip: %w", err)
	}
	defer zr.Close()

	for _, entry := range zr.File {
		if entry.Mode()&os.ModeSymlink != 0 {
			return fmt.Errorf("%w: %q", ErrSymlinkEntry, entry.Name)
		}
		dest, err := safePath(destDir, entry.Name)
		if err != nil {
			return err
		}
		if entry.FileInfo().IsDir() {
			if err := os.MkdirAll(dest, 0o750); err != nil {
				return fmt.Errorf("create directory entry: %w", err)
			}
			continue
		}
		rc, err := entry.Open()
		if err != nil {
			return fmt.Errorf("open zip entry: %w", err)
		}
		err = writeEntry(dest, rc, entry.Mode(), budget)
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}
