// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package screen canonicalizes raw payload documents into normalized
// records. Anything the engine cannot positively clear is pitched with a
// reason code; unclear never passes.
package screen

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/FoilMiser/Dataset-Collector-sub001/services/collector/acquire"
	"github.com/FoilMiser/Dataset-Collector-sub001/services/collector/config"
	"github.com/FoilMiser/Dataset-Collector-sub001/services/collector/policy"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/net/html"
)

var tracer = otel.Tracer("collector.screen")

// maxSelectorAttempts bounds how many selector candidates are tried per
// document.
const maxSelectorAttempts = 8

// Input is one raw document presented for screening.
type Input struct {
	Target config.Target

	// Content is the raw document bytes (one JSON object, one HTML
	// page, or plain text).
	Content []byte

	// Origin is the payload-relative source of this document.
	Origin string

	Provenance Provenance
	License    License
}

// Canonicalizer screens documents per target configuration.
//
// Thread Safety: safe for concurrent use.
type Canonicalizer struct {
	policy *policy.Set
	checks *CheckRegistry
	logger *slog.Logger
}

// NewCanonicalizer creates a Canonicalizer. checks may be nil for the
// built-in registry.
func NewCanonicalizer(set *policy.Set, checks *CheckRegistry, logger *slog.Logger) *Canonicalizer {
	if checks == nil {
		checks = NewCheckRegistry()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Canonicalizer{policy: set, checks: checks, logger: logger}
}

// Canonicalize screens one document. The returned Outcome always has
// exactly one side set.
func (c *Canonicalizer) Canonicalize(in Input) Outcome {
	pitch := func(reason, detail string) Outcome {
		return Outcome{Pitched: &Pitch{Provenance: in.Provenance, Reason: reason, Detail: detail}}
	}

	text, ok := selectText(in.Content, in.Target.Screening.Selectors)
	if !ok {
		return pitch(PitchNoText, "no selector matched a non-empty text field")
	}

	norm := Normalize(text)
	if len(norm) < in.Target.Screening.MinLength {
		return pitch(PitchTooShort, fmt.Sprintf("%d bytes < minimum %d", len(norm), in.Target.Screening.MinLength))
	}
	if in.Target.Screening.MaxLength > 0 && len(norm) > in.Target.Screening.MaxLength {
		return pitch(PitchTooLong, fmt.Sprintf("%d bytes > maximum %d", len(norm), in.Target.Screening.MaxLength))
	}

	if hits := c.policy.ScanDenylist(norm); len(hits) > 0 {
		return pitch(PitchDenylistHit, hits[0].PhraseID)
	}

	record := &CanonicalRecord{
		RecordID:      uuid.NewString(),
		Text:          norm,
		Provenance:    in.Provenance,
		License:       in.License,
		ContentSHA256: contentSHA256(norm),
	}

	for _, check := range c.checks.All() {
		status, reason := check.Check(record)
		switch status {
		case CheckFail:
			return pitch(PitchCheckFailed, check.Name()+": "+reason)
		case CheckIndeterminate:
			return pitch(PitchCheckIndeterminate, check.Name()+": "+reason)
		}
	}

	return Outcome{Record: record}
}

// ScreenPayload screens every document in an acquired payload. Archives
// are screened from their extracted tree; .jsonl files yield one document
// per line. Per-document failures pitch; the returned error covers only
// filesystem access.
func (c *Canonicalizer) ScreenPayload(ctx context.Context, payload *acquire.RawPayload, target config.Target, lic License) ([]*CanonicalRecord, []*Pitch, error) {
	_, span := tracer.Start(ctx, "screen.payload")
	span.SetAttributes(attribute.String("target.id", target.ID))
	defer span.End()

	root := payload.Path
	extracted := filepath.Join(filepath.Dir(payload.Path), "extracted")
	if fi, err := os.Stat(extracted); err == nil && fi.IsDir() {
		root = extracted
	}

	var records []*CanonicalRecord
	var pitches []*Pitch
	screenDoc := func(content []byte, origin string) {
		out := c.Canonicalize(Input{
			Target:  target,
			Content: content,
			Origin:  origin,
			Provenance: Provenance{
				TargetID:    target.ID,
				SourceURL:   payload.SourceURL,
				RetrievedAt: payload.FetchedAt,
				Origin:      origin,
			},
			License: lic,
		})
		if out.Passed() {
			records = append(records, out.Record)
		} else {
			pitches = append(pitches, out.Pitched)
		}
	}

	walk := func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		rel, relErr := filepath.Rel(filepath.Dir(root), path)
		if relErr != nil {
			rel = d.Name()
		}
		if strings.HasSuffix(strings.ToLower(d.Name()), ".jsonl") {
			return c.screenJSONL(path, rel, screenDoc)
		}
		content, readErr := os.ReadFile(path)
		if readErr != nil {
			return fmt.Errorf("read document %s: %w", path, readErr)
		}
		screenDoc(content, rel)
		return nil
	}

	fi, err := os.Stat(root)
	if err != nil {
		return nil, nil, fmt.Errorf("stat payload: %w", err)
	}
	if fi.IsDir() {
		if err := filepath.WalkDir(root, walk); err != nil {
			return nil, nil, err
		}
	} else {
		if err := walk(root, fs.FileInfoToDirEntry(fi), nil); err != nil {
			return nil, nil, err
		}
	}

	span.SetAttributes(
		attribute.Int("records", len(records)),
		attribute.Int("pitches", len(pitches)),
	)
	c.logger.Info("payload screened",
		slog.String("target_id", target.ID),
		slog.Int("records", len(records)),
		slog.Int("pitches", len(pitches)),
	)
	return records, pitches, nil
}

func (c *Canonicalizer) screenJSONL(path, rel string, screenDoc func([]byte, string)) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open document %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		doc := bytes.TrimSpace(scanner.Bytes())
		if len(doc) == 0 {
			continue
		}
		screenDoc(append([]byte(nil), doc...), fmt.Sprintf("%s:%d", rel, line))
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan %s: %w", path, err)
	}
	return nil
}

// selectText pulls the document text via the ordered selector list.
// JSON objects treat selectors as field names; HTML treats them as
// element names; plain text ignores them.
func selectText(content []byte, selectors []string) (string, bool) {
	if len(selectors) > maxSelectorAttempts {
		selectors = selectors[:maxSelectorAttempts]
	}
	trimmed := bytes.TrimSpace(content)
	if len(trimmed) == 0 {
		return "", false
	}

	if trimmed[0] == '{' {
		return selectJSONField(trimmed, selectors)
	}
	if looksLikeHTML(trimmed) {
		return selectHTMLElement(trimmed, selectors)
	}
	return string(trimmed), true
}

func selectJSONField(doc []byte, selectors []string) (string, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(doc, &obj); err != nil {
		return "", false
	}
	for _, field := range selectors {
		raw, ok := obj[field]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			continue
		}
		if strings.TrimSpace(s) != "" {
			return s, true
		}
	}
	return "", false
}

func looksLikeHTML(content []byte) bool {
	head := bytes.ToLower(content[:min(len(content), 256)])
	return bytes.Contains(head, []byte("<html")) ||
		bytes.Contains(head, []byte("<!doctype html"))
}

func selectHTMLElement(content []byte, selectors []string) (string, bool) {
	doc, err := html.Parse(bytes.NewReader(content))
	if err != nil {
		return "", false
	}
	for _, element := range selectors {
		if node := findElement(doc, element); node != nil {
			text := strings.TrimSpace(nodeText(node))
			if text != "" {
				return text, true
			}
		}
	}
	// No selector matched; fall back to the whole body.
	if body := findElement(doc, "body"); body != nil {
		text := strings.TrimSpace(nodeText(body))
		return text, text != ""
	}
	return "", false
}

func findElement(n *html.Node, name string) *html.Node {
	if n.Type == html.ElementNode && n.Data == name {
		return n
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if found := findElement(child, name); found != nil {
			return found
		}
	}
	return nil
}

func nodeText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.ElementNode && (node.Data == "script" || node.Data == "style") {
			return
		}
		if node.Type == html.TextNode {
			sb.WriteString(node.Data)
			sb.WriteString(" ")
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(n)
	return sb.String()
}

// Normalize folds a document into its canonical text form: CRLF to LF,
// horizontal whitespace runs collapsed, blank-line runs collapsed to one,
// leading and trailing blanks trimmed. Case is preserved.
func Normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	var out []string
	pendingBlank := false
	for _, line := range strings.Split(text, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			pendingBlank = true
			continue
		}
		if pendingBlank && len(out) > 0 {
			out = append(out, "")
		}
		pendingBlank = false
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

func contentSHA256(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
