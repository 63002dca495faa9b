// Package completion provides the single structured-completion capability
// used by structure refinement, chunk extraction and batch normalization.
package completion

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/catalog-ingest/internal/model"
	"github.com/sells-group/catalog-ingest/internal/resilience"
)

// Request is one prompt-and-schema completion.
type Request struct {
	// Phase attributes usage and cost, e.g. "extract" or "normalize".
	Phase  string
	System string
	Prompt string
	// Schema is a JSON example or schema the output must follow.
	Schema    string
	MaxTokens int
	// HighQuality selects the provider's stronger model.
	HighQuality bool
	// Validate checks the shape of well-formed output. A failure is
	// treated like malformed JSON and gets the same repair.
	Validate func(json.RawMessage) error
}

// Response is a parsed completion.
type Response struct {
	Raw   json.RawMessage
	Model string
	Usage model.TokenUsage
}

// Completer is a provider backend. Implementations return a non-nil Response
// alongside an InvalidOutputError so usage is still attributed.
type Completer interface {
	Complete(ctx context.Context, req Request) (*Response, error)
	Provider() string
}

// systemPrompt joins the phase instructions with the output contract.
func systemPrompt(req Request) string {
	var b strings.Builder
	b.WriteString(req.System)
	if req.Schema != "" {
		b.WriteString("\n\nRespond with JSON only, matching this shape:\n")
		b.WriteString(req.Schema)
	}
	return b.String()
}

// ParseJSON pulls the JSON value out of model text. Code fences and prose
// around the value are tolerated; anything else is an InvalidOutputError.
func ParseJSON(text string) (json.RawMessage, error) {
	candidate := extractJSON(text)
	if candidate == "" {
		return nil, resilience.NewInvalidOutputError(eris.New("no JSON value in output"), text)
	}
	if !json.Valid([]byte(candidate)) {
		return nil, resilience.NewInvalidOutputError(eris.New("malformed JSON"), text)
	}
	return json.RawMessage(candidate), nil
}

func stripFences(text string) string {
	s := strings.TrimSpace(text)
	if i := strings.Index(s, "```"); i >= 0 {
		rest := s[i+3:]
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			rest = rest[nl+1:]
		}
		if end := strings.Index(rest, "```"); end >= 0 {
			rest = rest[:end]
		}
		s = strings.TrimSpace(rest)
	}
	return s
}

func extractJSON(text string) string {
	s := stripFences(text)
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return ""
	}
	open := s[start]
	closeCh := byte('}')
	if open == '[' {
		closeCh = ']'
	}
	end := strings.LastIndexByte(s, closeCh)
	if end < start {
		return s[start:]
	}
	return s[start : end+1]
}

// RepairJSON makes a best-effort local fix of truncated or sloppy JSON:
// trailing commas are dropped and unclosed strings, arrays and objects are
// closed. It reports false when the result still does not parse.
func RepairJSON(raw string) (json.RawMessage, bool) {
	if s := extractJSON(raw); s != "" && json.Valid([]byte(s)) {
		return json.RawMessage(s), true
	}
	s := stripFences(raw)
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return nil, false
	}
	s = s[start:]

	var out strings.Builder
	var stack []byte
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			out.WriteByte(c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
			trimTrailingComma(&out)
		}
		out.WriteByte(c)
	}
	if inString {
		out.WriteByte('"')
	}
	for i := len(stack) - 1; i >= 0; i-- {
		trimTrailingComma(&out)
		out.WriteByte(stack[i])
	}

	fixed := out.String()
	if !json.Valid([]byte(fixed)) {
		return nil, false
	}
	return json.RawMessage(fixed), true
}

func trimTrailingComma(b *strings.Builder) {
	s := strings.TrimRight(b.String(), " \t\r\n")
	if strings.HasSuffix(s, ",") {
		s = s[:len(s)-1]
		b.Reset()
		b.WriteString(s)
	}
}
