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
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

const (
	// StrategyHTTP is the registry name of the hardened HTTP downloader.
	StrategyHTTP = "http"

	maxRedirects = 10
	partSuffix   = ".part"
)

// HTTPStrategy downloads payloads over HTTP(S) with resume support and
// address hardening. The address check runs at dial time on the resolved
// IP, so it covers every redirect hop and cannot be bypassed by DNS games.
//
// Thread Safety: safe for concurrent use.
type HTTPStrategy struct {
	client        *http.Client
	logger        *slog.Logger
	allowPrivate  bool
	clientTimeout time.Duration
}

// HTTPOption configures an HTTPStrategy.
type HTTPOption func(*HTTPStrategy)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) HTTPOption {
	return func(s *HTTPStrategy) { s.clientTimeout = d }
}

// WithPrivateAddresses permits loopback and private destinations. Test
// servers bind loopback; production never sets this.
func WithPrivateAddresses(allow bool) HTTPOption {
	return func(s *HTTPStrategy) { s.allowPrivate = allow }
}

// WithStrategyLogger sets the logger.
func WithStrategyLogger(logger *slog.Logger) HTTPOption {
	return func(s *HTTPStrategy) { s.logger = logger }
}

// NewHTTPStrategy creates the hardened HTTP downloader.
func NewHTTPStrategy(opts ...HTTPOption) *HTTPStrategy {
	s := &HTTPStrategy{
		logger:        slog.Default(),
		clientTimeout: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}

	dialer := &net.Dialer{
		Timeout: 30 * time.Second,
		Control: func(network, address string, _ syscall.RawConn) error {
			return s.checkAddress(address)
		},
	}
	s.client = &http.Client{
		Timeout: s.clientTimeout,
		Transport: &http.Transport{
			DialContext:       dialer.DialContext,
			ForceAttemptHTTP2: true,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
				return fmt.Errorf("%w: redirect to scheme %q", ErrBlockedAddress, req.URL.Scheme)
			}
			return nil
		},
	}
	return s
}

// Name implements Strategy.
func (s *HTTPStrategy) Name() string { return StrategyHTTP }

// checkAddress rejects dials to private, loopback, link-local, multicast,
// and unspecified addresses. address is the post-DNS ip:port being dialed.
func (s *HTTPStrategy) checkAddress(address string) error {
	if s.allowPrivate {
		return nil
	}
	addrPort, err := netip.ParseAddrPort(address)
	if err != nil {
		return fmt.Errorf("%w: unparseable dial address %q", ErrBlockedAddress, address)
	}
	addr := addrPort.Addr().Unmap()
	if addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() || addr.IsMulticast() || addr.IsUnspecified() {
		return fmt.Errorf("%w: %s", ErrBlockedAddress, addr)
	}
	return nil
}

// Acquire implements Strategy.
//
// A partial previous download resumes via a Range request against the
// .part file; servers that ignore Range restart the transfer from zero.
// The payload becomes visible under its final name only after the pinned
// sha256 and size checks pass.
func (s *HTTPStrategy) Acquire(ctx context.Context, req Request) (*RawPayload, error) {
	acq := req.Target.Acquisition

	parsed, err := url.Parse(acq.URL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("%w: scheme %q", ErrBlockedAddress, parsed.Scheme)
	}

	if err := os.MkdirAll(req.DestDir, 0o750); err != nil {
		return nil, fmt.Errorf("create destination directory: %w", err)
	}
	finalPath := filepath.Join(req.DestDir, payloadName(parsed))
	partPath := finalPath + partSuffix

	var offset int64
	if fi, statErr := os.Stat(partPath); statErr == nil {
		offset = fi.Size()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, acq.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if offset > 0 {
		httpReq.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", acq.URL, err)
	}
	defer resp.Body.Close()

	resumed := false
	switch resp.StatusCode {
	case http.StatusPartialContent:
		resumed = offset > 0
	case http.StatusOK:
		// Server ignored (or never saw) the Range; restart from zero.
		offset = 0
	default:
		return nil, fmt.Errorf("download %s: unexpected status %d", acq.URL, resp.StatusCode)
	}

	if err := s.writePart(partPath, offset, resp.Body); err != nil {
		return nil, err
	}

	sum, size, err := hashFile(partPath)
	if err != nil {
		return nil, err
	}
	if acq.ExpectedSize > 0 && size != acq.ExpectedSize {
		os.Remove(partPath)
		return nil, fmt.Errorf("%w: got %d bytes, pinned %d", ErrSizeMismatch, size, acq.ExpectedSize)
	}
	if acq.ExpectedSHA256 != "" && !strings.EqualFold(sum, acq.ExpectedSHA256) {
		os.Remove(partPath)
		return nil, fmt.Errorf("%w: got %s, pinned %s", ErrChecksumMismatch, sum, acq.ExpectedSHA256)
	}

	if err := os.Rename(partPath, finalPath); err != nil {
		return nil, fmt.Errorf("finalize payload: %w", err)
	}

	s.logger.Info("payload acquired",
		slog.String("target_id", req.Target.ID),
		slog.Int64("size", size),
		slog.Bool("resumed", resumed),
	)

	finalURL := acq.URL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	return &RawPayload{
		TargetID:  req.Target.ID,
		Path:      finalPath,
		SHA256:    sum,
		Size:      size,
		SourceURL: finalURL,
		FetchedAt: time.Now().UTC(),
		Resumed:   resumed,
	}, nil
}

func (s *HTTPStrategy) writePart(partPath string, offset int64, body io.Reader) error {
	flags := os.O_CREATE | os.O_WRONLY
	if offset > 0 {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(partPath, flags, 0o640)
	if err != nil {
		return fmt.Errorf("open partial file: %w", err)
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		return fmt.Errorf("write payload: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync payload: %w", err)
	}
	return f.Close()
}

func hashFile(path string) (sum string, size int64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("open for hashing: %w", err)
	}
	defer f.Close()
	h := sha256.New()
	size, err = io.Copy(h, f)
	if err != nil {
		return "", 0, fmt.Errorf("hash payload: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), size, nil
}

// payloadName derives the on-disk payload name from the URL path, falling
// back to a fixed name for bare hosts.
func payloadName(u *url.URL) string {
	base := path.Base(u.Path)
	if base == "" || base == "/" || base == "." {
		return "payload.bin"
	}
	return base
}
