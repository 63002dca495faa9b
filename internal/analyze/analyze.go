// Package analyze classifies uploaded documents and chooses an extraction
// strategy for them.
package analyze

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/catalog-ingest/internal/completion"
	"github.com/sells-group/catalog-ingest/internal/cost"
	"github.com/sells-group/catalog-ingest/internal/model"
	"github.com/sells-group/catalog-ingest/internal/parse"
)

const (
	// TableRelevanceThreshold is the header relevance above which a table
	// drives table_first extraction.
	TableRelevanceThreshold = 0.5
	// LowConfidence is the structural confidence under which a warning is
	// raised and source clarity is penalized.
	LowConfidence = 0.6

	relevantSection    = 0.5
	minReportSections  = 4
	refineSampleChars  = 3000
	degradedWarningFmt = "%s could not be parsed (%v); extracting without structure"
)

// Result is the outcome of analyzing one file.
type Result struct {
	Structure *model.DocumentStructure
	Strategy  model.ExtractionStrategy
	Document  *parse.Document
}

// Empty reports whether there is no text to extract from.
func (r *Result) Empty() bool {
	return r == nil || r.Document == nil || strings.TrimSpace(r.Document.Text) == ""
}

// Analyzer is the Structure Analyzer.
type Analyzer struct {
	parser *parse.Parser
	caller *completion.Caller
}

// New creates an Analyzer. caller may be nil, which disables completion
// refinement of the heuristic result.
func New(parser *parse.Parser, caller *completion.Caller) *Analyzer {
	return &Analyzer{parser: parser, caller: caller}
}

// Analyze parses f and classifies it. A document that cannot be parsed
// yields a degraded hybrid result instead of an error; callers decide
// whether an empty result is fatal. Only context cancellation is returned
// as an error.
func (a *Analyzer) Analyze(ctx context.Context, tr *cost.Tracker, f model.IngestFile) (*Result, error) {
	doc, err := a.parser.Parse(ctx, f)
	if err != nil {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "analyze: parse cancelled")
		}
		zap.L().Warn("analyze: parse failed, degrading",
			zap.String("file", f.Name),
			zap.Error(err),
		)
		return degraded(f, err), nil
	}

	structure, strategy := Classify(doc)

	if a.caller != nil && !doc.Tabular() {
		a.refine(ctx, tr, doc, structure, &strategy)
	}

	if structure.Confidence < LowConfidence {
		structure.Warnings = append(structure.Warnings,
			fmt.Sprintf("%s: structure confidence %.2f is low; source clarity reduced", f.Name, structure.Confidence))
	}

	zap.L().Info("analyze: document classified",
		zap.String("file", f.Name),
		zap.String("type", string(structure.Type)),
		zap.String("strategy", string(strategy)),
		zap.Int("tables", len(structure.Tables)),
		zap.Int("sections", len(structure.Sections)),
		zap.Float64("confidence", structure.Confidence),
	)
	return &Result{Structure: structure, Strategy: strategy, Document: doc}, nil
}

func degraded(f model.IngestFile, cause error) *Result {
	structure := &model.DocumentStructure{
		Type:     model.DocumentTypeUnknown,
		Degraded: true,
		Warnings: []string{fmt.Sprintf(degradedWarningFmt, f.Name, cause)},
	}
	doc, ok := parse.FallbackText(f)
	if ok {
		structure.Format = string(doc.Format)
	}
	return &Result{Structure: structure, Strategy: model.StrategyHybrid, Document: doc}
}

// signal is one structural observation and whether it was clear-cut.
type signal struct {
	name        string
	unambiguous bool
}

// Classify runs the heuristic analysis on a parsed document.
func Classify(doc *parse.Document) (*model.DocumentStructure, model.ExtractionStrategy) {
	s := &model.DocumentStructure{Format: string(doc.Format)}

	if doc.Tabular() {
		s.Tables = tablesFromDocument(doc)
	} else {
		s.Tables = detectTextTables(doc.Text)
		s.Sections = detectSections(doc.Text)
	}
	s.Visuals = detectVisuals(doc)
	s.Type = documentType(doc, s)

	strategy := chooseStrategy(s)

	signals := []signal{
		{"tables", tableSignalClear(s.Tables)},
		{"sections", len(s.Sections) <= 1 || len(s.Sections) >= minReportSections},
		{"visuals", len(s.Visuals) == 0 || visualsDominant(s)},
		{"format", doc.Format != parse.FormatText || len(s.Sections) >= minReportSections},
	}
	clearCut := 0
	for _, sig := range signals {
		if sig.unambiguous {
			clearCut++
		}
	}
	s.Confidence = float64(clearCut) / float64(len(signals))
	return s, strategy
}

func tableSignalClear(tables []model.Table) bool {
	if len(tables) == 0 {
		return true
	}
	best := bestTable(tables)
	return best >= 0.7 || best <= 0.2
}

func bestTable(tables []model.Table) float64 {
	var best float64
	for _, t := range tables {
		if t.Relevance > best {
			best = t.Relevance
		}
	}
	return best
}

func relevantSections(sections []model.Section) int {
	n := 0
	for _, sec := range sections {
		if sec.Relevance >= relevantSection {
			n++
		}
	}
	return n
}

func visualsDominant(s *model.DocumentStructure) bool {
	return len(s.Visuals) > 0 && len(s.Visuals) >= len(s.Sections)
}

func documentType(doc *parse.Document, s *model.DocumentStructure) model.DocumentType {
	switch {
	case doc.Tabular() && doc.Format == parse.FormatJSON:
		return model.DocumentTypeCatalog
	case doc.Tabular():
		return model.DocumentTypeSpreadsheet
	case doc.Format == parse.FormatPDF && slideRatio(doc.Pages) >= 0.6 && len(doc.Pages) >= 3:
		return model.DocumentTypePresentation
	case visualsDominant(s) && len(s.Visuals) >= 3:
		return model.DocumentTypePresentation
	case len(s.Sections) >= 3:
		return model.DocumentTypeReport
	case strings.TrimSpace(doc.Text) == "":
		return model.DocumentTypeUnknown
	default:
		return model.DocumentTypeFreeText
	}
}

func chooseStrategy(s *model.DocumentStructure) model.ExtractionStrategy {
	switch {
	case bestTable(s.Tables) > TableRelevanceThreshold:
		return model.StrategyTableFirst
	case s.Type == model.DocumentTypeReport && relevantSections(s.Sections) >= minReportSections:
		return model.StrategySectionBySection
	case s.Type == model.DocumentTypePresentation && visualsDominant(s):
		return model.StrategyVisualGuided
	default:
		return model.StrategyHybrid
	}
}

const refineSystemPrompt = `You classify business documents that may list software products, services and vendors. Pick the document type and the extraction strategy that will find catalog records most reliably.`

const refineSchema = `{"document_type": "spreadsheet|report|presentation|catalog|free_text", "strategy": "table_first|section_by_section|visual_guided|hybrid", "confidence": 0.0}`

type refinement struct {
	DocumentType string  `json:"document_type"`
	Strategy     string  `json:"strategy"`
	Confidence   float64 `json:"confidence"`
}

var (
	validTypes = map[model.DocumentType]bool{
		model.DocumentTypeSpreadsheet: true, model.DocumentTypeReport: true,
		model.DocumentTypePresentation: true, model.DocumentTypeCatalog: true,
		model.DocumentTypeFreeText: true,
	}
	validStrategies = map[model.ExtractionStrategy]bool{
		model.StrategyTableFirst: true, model.StrategySectionBySection: true,
		model.StrategyVisualGuided: true, model.StrategyHybrid: true,
	}
)

// refine asks the completion backend to confirm or correct the heuristic
// classification. Any failure keeps the heuristic result.
func (a *Analyzer) refine(ctx context.Context, tr *cost.Tracker, doc *parse.Document, s *model.DocumentStructure, strategy *model.ExtractionStrategy) {
	sample := truncateUTF8(doc.Text, refineSampleChars)
	prompt := fmt.Sprintf(
		"File: %s (%s)\nHeuristic guess: type=%s strategy=%s tables=%d sections=%d visuals=%d\n\nDocument sample:\n%s",
		doc.Name, doc.Format, s.Type, *strategy, len(s.Tables), len(s.Sections), len(s.Visuals), sample,
	)

	var out refinement
	err := a.caller.Decode(ctx, tr, completion.Request{
		Phase:     "analyze",
		System:    refineSystemPrompt,
		Prompt:    prompt,
		Schema:    refineSchema,
		MaxTokens: 256,
	}, &out)
	if err != nil {
		zap.L().Warn("analyze: refinement failed, keeping heuristics",
			zap.String("file", doc.Name),
			zap.Error(err),
		)
		return
	}

	dt := model.DocumentType(out.DocumentType)
	st := model.ExtractionStrategy(out.Strategy)
	if !validTypes[dt] || !validStrategies[st] {
		zap.L().Debug("analyze: refinement returned unknown labels",
			zap.String("type", out.DocumentType),
			zap.String("strategy", out.Strategy),
		)
		return
	}
	s.Type = dt
	*strategy = st
	if out.Confidence > s.Confidence && out.Confidence <= 1 {
		s.Confidence = out.Confidence
	}
}

// truncateUTF8 cuts s to at most n bytes without splitting a character.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
