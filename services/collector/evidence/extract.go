// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.
package evidence

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
)

// extractText converts raw evidence bytes to normalized scan text based on
// the content type. HTML is stripped to visible text, PDF text is read from
// the first maxPDFPages pages, everything else is treated as plain text.
func extractText(raw []byte, contentType string, maxPDFPages int) (string, error) {
	switch {
	case strings.Contains(contentType, "text/html"), looksLikeHTML(raw):
		text, err := htmlText(raw)
		if err != nil {
			return "", err
		}
		return normalizeText(text), nil
	case strings.Contains(contentType, "application/pdf"), bytes.HasPrefix(raw, []byte("%PDF-")):
		text, err := pdfText(raw, maxPDFPages)
		if err != nil {
			return "", err
		}
		return normalizeText(text), nil
	default:
		return normalizeText(string(raw)), nil
	}
}

func looksLikeHTML(raw []byte) bool {
	head := bytes.ToLower(bytes.TrimSpace(raw))
	return bytes.HasPrefix(head, []byte("<!doctype html")) || bytes.HasPrefix(head, []byte("<html"))
}

// htmlText walks the parse tree and collects text nodes, skipping script
// and style subtrees.
func htmlText(raw []byte) (string, error) {
	doc, err := html.Parse(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}

	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return sb.String(), nil
}

// pdfText extracts plain text from the first maxPages pages.
func pdfText(raw []byte, maxPages int) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	pages := reader.NumPage()
	if maxPages > 0 && pages > maxPages {
		pages = maxPages
	}

	var sb strings.Builder
	for i := 1; i <= pages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// A single unreadable page does not invalidate the rest.
			continue
		}
		sb.WriteString(text)
		sb.WriteByte('\n')
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("pdf yielded no text in first %d pages", pages)
	}
	return sb.String(), nil
}

// normalizeText folds the text for stable hashing and phrase scanning:
// CRLF to LF, all whitespace runs collapsed to single spaces, trimmed.
// Case is preserved; phrase matching is case-insensitive at the regex level.
func normalizeText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
