// Package extract splits documents into chunks and extracts raw catalog
// items from them.
package extract

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Chunk is a bounded slice of document text handled by one completion call.
type Chunk struct {
	Index       int    `json:"index"`
	ID          string `json:"id"`
	Text        string `json:"text"`
	Section     string `json:"section,omitempty"`
	Fingerprint string `json:"fingerprint"`
}

// Split cuts text into pieces of at most maxChars bytes, preferring
// paragraph, then line, then word boundaries in the last third of each
// window. Consecutive pieces share up to overlap bytes.
func Split(text string, maxChars, overlap int) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if maxChars <= 0 {
		maxChars = 8000
	}
	if overlap < 0 || overlap >= maxChars/2 {
		overlap = 0
	}
	if len(text) <= maxChars {
		return []string{text}
	}

	var pieces []string
	pos := 0
	for pos < len(text) {
		end := pos + maxChars
		if end >= len(text) {
			end = len(text)
		} else {
			end = boundary(text, pos, end)
		}

		if piece := text[pos:end]; strings.TrimSpace(piece) != "" {
			pieces = append(pieces, piece)
		}
		if end >= len(text) {
			break
		}

		next := end - overlap
		if next <= pos {
			next = end
		}
		pos = runeStart(text, next)
	}
	return pieces
}

// boundary picks the split point for the window text[pos:end].
func boundary(text string, pos, end int) int {
	window := text[pos:end]
	searchStart := len(window) * 2 / 3
	for _, sep := range []string{"\n\n", "\n", " "} {
		if idx := strings.LastIndex(window[searchStart:], sep); idx >= 0 {
			return pos + searchStart + idx + len(sep)
		}
	}
	return runeStart(text, end)
}

// runeStart moves i back to the start of a UTF-8 sequence.
func runeStart(s string, i int) int {
	for i > 0 && i < len(s) && !utf8.RuneStart(s[i]) {
		i--
	}
	return i
}

// section is a titled span of text chunked on its own.
type section struct {
	title string
	text  string
}

// buildChunks splits every section and numbers the chunks in document order.
func buildChunks(sections []section, maxChars, overlap int) []Chunk {
	var out []Chunk
	for _, sec := range sections {
		for _, piece := range Split(sec.text, maxChars, overlap) {
			out = append(out, Chunk{
				Index:       len(out),
				ID:          fmt.Sprintf("chunk-%04d", len(out)),
				Text:        piece,
				Section:     sec.title,
				Fingerprint: Fingerprint(piece),
			})
		}
	}
	return out
}
