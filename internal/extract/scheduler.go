package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/sells-group/catalog-ingest/internal/analyze"
	"github.com/sells-group/catalog-ingest/internal/cache"
	"github.com/sells-group/catalog-ingest/internal/completion"
	"github.com/sells-group/catalog-ingest/internal/cost"
	"github.com/sells-group/catalog-ingest/internal/model"
	"github.com/sells-group/catalog-ingest/internal/parse"
	"github.com/sells-group/catalog-ingest/internal/resilience"
)

// Config tunes the Scheduler.
type Config struct {
	MaxChars    int
	Overlap     int
	Concurrency int
}

// Result is the ordered extraction output for one document.
type Result struct {
	Items         []model.RawExtractedItem `json:"items"`
	ChunksTotal   int                      `json:"chunks_total"`
	ChunksPartial int                      `json:"chunks_partial"`
	// ChunksSkipped were never issued because the document was cancelled.
	ChunksSkipped int `json:"chunks_skipped"`
	Skipped       int `json:"skipped"`
	Calls         int `json:"calls"`
	// Shared counts chunks answered by an identical chunk's in-flight call.
	Shared    int                `json:"shared"`
	CacheHits map[cache.Tier]int `json:"cache_hits"`
	Warnings  []string           `json:"warnings,omitempty"`
}

// Scheduler extracts raw items chunk by chunk with a bounded worker pool.
type Scheduler struct {
	caller *completion.Caller
	cache  *cache.MultiTier
	cfg    Config
	flight singleflight.Group
}

// NewScheduler creates a Scheduler. A nil cache gets an in-process one.
func NewScheduler(caller *completion.Caller, c *cache.MultiTier, cfg Config) *Scheduler {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = 8000
	}
	if c == nil {
		c = cache.New(nil, 0, 0)
	}
	return &Scheduler{caller: caller, cache: c, cfg: cfg}
}

// work is one chunk, either resolved up front from table rows or pending a
// completion call.
type work struct {
	chunk         Chunk
	hint          string
	deterministic bool
	items         []model.RawExtractedItem
	skipped       int
}

type outcome struct {
	items     []model.RawExtractedItem
	tier      cache.Tier
	called    bool
	shared    bool
	skipped   int
	err       error
	cancelled bool
}

// Run extracts items from an analyzed document. Results come back in
// document order whatever order the workers finish in. When ctx is
// cancelled no new chunks are issued; calls already in flight finish and
// are cached, and the partial result is returned with the context error.
func (s *Scheduler) Run(ctx context.Context, tr *cost.Tracker, tenantID string, an *analyze.Result) (*Result, error) {
	res := &Result{CacheHits: make(map[cache.Tier]int)}
	if an.Empty() {
		return res, nil
	}
	doc := an.Document
	log := zap.L().With(zap.String("tenant", tenantID), zap.String("file", doc.Name))

	units := s.plan(an)
	res.ChunksTotal = len(units)

	outcomes := make([]outcome, len(units))
	callCtx := context.WithoutCancel(ctx)

	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	for i, u := range units {
		if u.deterministic {
			outcomes[i] = outcome{items: u.items, skipped: u.skipped}
			continue
		}
		if ctx.Err() != nil {
			outcomes[i] = outcome{cancelled: true}
			continue
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				outcomes[i] = outcome{cancelled: true}
				return nil
			}
			outcomes[i] = s.extractChunk(callCtx, tr, tenantID, u)
			return nil
		})
	}
	_ = g.Wait()

	order := 0
	for i, o := range outcomes {
		switch {
		case o.cancelled:
			res.ChunksSkipped++
			continue
		case o.err != nil:
			res.ChunksPartial++
			log.Warn("extract: chunk skipped", zap.String("chunk", units[i].chunk.ID), zap.Error(o.err))
			continue
		}
		if o.tier != cache.TierNone {
			res.CacheHits[o.tier]++
		}
		if o.called {
			res.Calls++
		}
		if o.shared {
			res.Shared++
		}
		res.Skipped += o.skipped
		for _, it := range o.items {
			it.Order = order
			order++
			res.Items = append(res.Items, it)
		}
	}

	if res.ChunksPartial > 0 {
		res.Warnings = append(res.Warnings, fmt.Sprintf("%s: %d of %d chunks skipped after repeated failures", doc.Name, res.ChunksPartial, res.ChunksTotal))
	}
	if res.ChunksSkipped > 0 {
		res.Warnings = append(res.Warnings, fmt.Sprintf("%s: %d chunks not processed: ingestion cancelled", doc.Name, res.ChunksSkipped))
	}
	if res.Skipped > 0 {
		res.Warnings = append(res.Warnings, fmt.Sprintf("%s: %d records without a name skipped", doc.Name, res.Skipped))
	}

	log.Info("extract: document extracted",
		zap.String("strategy", string(an.Strategy)),
		zap.Int("chunks", res.ChunksTotal),
		zap.Int("partial", res.ChunksPartial),
		zap.Int("items", len(res.Items)),
		zap.Int("calls", res.Calls),
		zap.Int("shared", res.Shared),
		zap.Int("l1_hits", res.CacheHits[cache.TierL1]),
		zap.Int("l2_hits", res.CacheHits[cache.TierL2]),
	)

	if err := ctx.Err(); err != nil {
		return res, eris.Wrap(err, "extract: cancelled")
	}
	return res, nil
}

// plan lays out the document's chunks in order. Relevant spreadsheet tables
// under table_first are converted row by row; everything else goes to the
// completion backend.
func (s *Scheduler) plan(an *analyze.Result) []work {
	doc := an.Document
	var units []work
	var pending []section

	flushText := func() {
		for _, c := range buildChunks(pending, s.cfg.MaxChars, s.cfg.Overlap) {
			units = append(units, work{chunk: c, hint: hintFor(an.Strategy, c.Section)})
		}
		pending = nil
	}

	if doc.Tabular() && an.Strategy == model.StrategyTableFirst {
		src := model.SourceSpreadsheetRow
		if doc.Format == parse.FormatJSON {
			src = model.SourceTableRow
		}
		for ti, tbl := range doc.Tables {
			if !relevantTable(an.Structure, ti) {
				pending = append(pending, section{title: tbl.Name, text: renderTable(tbl)})
				continue
			}
			flushText()
			for _, part := range packRows(tbl, s.cfg.MaxChars) {
				items, skipped := rowItems(part, "", src)
				units = append(units, work{
					chunk:         Chunk{Section: tbl.Name, Text: renderTable(part)},
					deterministic: true,
					items:         items,
					skipped:       skipped,
				})
			}
		}
		flushText()
	} else {
		pending = textSections(an)
		flushText()
	}

	for i := range units {
		units[i].chunk.Index = i
		units[i].chunk.ID = fmt.Sprintf("chunk-%04d", i)
		if units[i].chunk.Fingerprint == "" {
			units[i].chunk.Fingerprint = Fingerprint(units[i].chunk.Text)
		}
		for j := range units[i].items {
			units[i].items[j].SourceChunkID = units[i].chunk.ID
		}
	}
	return units
}

func relevantTable(st *model.DocumentStructure, i int) bool {
	if st == nil || i >= len(st.Tables) {
		return false
	}
	return st.Tables[i].Relevance > analyze.TableRelevanceThreshold
}

// packRows splits a table into parts whose rendered size stays under
// maxChars. Rows are never split.
func packRows(tbl parse.Table, maxChars int) []parse.Table {
	var parts []parse.Table
	headerLen := len(strings.Join(tbl.Header, " | "))
	cur := parse.Table{Name: tbl.Name, Header: tbl.Header}
	size := headerLen
	for _, r := range tbl.Rows {
		n := len(strings.Join(r, " | ")) + 1
		if len(cur.Rows) > 0 && size+n > maxChars {
			parts = append(parts, cur)
			cur = parse.Table{Name: tbl.Name, Header: tbl.Header}
			size = headerLen
		}
		cur.Rows = append(cur.Rows, r)
		size += n
	}
	if len(cur.Rows) > 0 {
		parts = append(parts, cur)
	}
	return parts
}

func renderTable(t parse.Table) string {
	var b strings.Builder
	b.WriteString(strings.Join(t.Header, " | "))
	for _, r := range t.Rows {
		b.WriteString("\n")
		b.WriteString(strings.Join(r, " | "))
	}
	return b.String()
}

// textSections picks the spans chunked independently for the strategy.
func textSections(an *analyze.Result) []section {
	doc := an.Document
	switch {
	case an.Strategy == model.StrategySectionBySection && an.Structure != nil && len(an.Structure.Sections) > 0:
		out := make([]section, 0, len(an.Structure.Sections))
		for _, sec := range an.Structure.Sections {
			if sec.Start < 0 || sec.End > len(doc.Text) || sec.Start >= sec.End {
				continue
			}
			out = append(out, section{title: sec.Title, text: doc.Text[sec.Start:sec.End]})
		}
		return out
	case an.Strategy == model.StrategyVisualGuided && len(doc.Pages) > 0:
		out := make([]section, 0, len(doc.Pages))
		for i, p := range doc.Pages {
			out = append(out, section{title: fmt.Sprintf("page %d", i+1), text: p})
		}
		return out
	default:
		return []section{{text: doc.Text}}
	}
}

func hintFor(strategy model.ExtractionStrategy, title string) string {
	switch strategy {
	case model.StrategyTableFirst:
		return "The text contains tables. Treat each relevant table row as one record."
	case model.StrategySectionBySection:
		if title != "" {
			return fmt.Sprintf("This text is the report section %q.", title)
		}
		return "This text is one section of a report."
	case model.StrategyVisualGuided:
		return "This text is one slide or page. Short bullet lines often name a product or service."
	default:
		return ""
	}
}

const extractSystemPrompt = `You extract catalog records (software products, IT services, vendors and tools an organization uses) from document text. Return one record per distinct product or service. Copy names exactly as written. Leave a field empty when the text does not state it; never guess.`

const extractSchema = `{"items": [{"name": "", "description": "", "vendor": "", "category": "", "type": "product|service", "budget": "", "owner": "", "status": "", "priority": ""}]}`

// completed is a chunk's payload and how it was obtained.
type completed struct {
	raw    []byte
	tier   cache.Tier
	called bool
}

func (s *Scheduler) extractChunk(ctx context.Context, tr *cost.Tracker, tenantID string, u work) outcome {
	ch := u.chunk
	if val, tier, ok := s.cache.Get(ctx, tenantID, ch.Fingerprint); ok {
		items, skipped, err := parseItems(val, ch.ID)
		if err == nil {
			zap.L().Debug("extract: chunk cache hit", zap.String("chunk", ch.ID), zap.String("tier", string(tier)))
			return outcome{items: items, tier: tier, skipped: skipped}
		}
		zap.L().Warn("extract: cached value unreadable", zap.String("chunk", ch.ID), zap.Error(err))
	}

	// Identical chunks that miss together wait on one call.
	leader := false
	v, err, _ := s.flight.Do(cache.Key(tenantID, ch.Fingerprint), func() (any, error) {
		leader = true
		return s.complete(ctx, tr, tenantID, u)
	})
	if err != nil {
		return outcome{called: leader, err: &resilience.PartialExtractionError{ChunkID: ch.ID, Err: err}}
	}
	c := v.(completed)

	items, skipped, err := parseItems(c.raw, ch.ID)
	if err != nil {
		return outcome{called: leader && c.called, err: &resilience.PartialExtractionError{ChunkID: ch.ID, Err: err}}
	}
	if !leader {
		zap.L().Debug("extract: chunk shared an in-flight call", zap.String("chunk", ch.ID))
		return outcome{items: items, shared: true, skipped: skipped}
	}
	return outcome{items: items, tier: c.tier, called: c.called, skipped: skipped}
}

// complete runs the completion for a chunk that missed the cache. The cache
// is checked again first since an identical chunk may have just finished.
func (s *Scheduler) complete(ctx context.Context, tr *cost.Tracker, tenantID string, u work) (completed, error) {
	ch := u.chunk
	if val, tier, ok := s.cache.Get(ctx, tenantID, ch.Fingerprint); ok {
		if _, _, err := parseItems(val, ch.ID); err == nil {
			return completed{raw: val, tier: tier}, nil
		}
	}

	prompt := ch.Text
	if u.hint != "" {
		prompt = u.hint + "\n\n" + ch.Text
	}
	raw, err := s.caller.Call(ctx, tr, completion.Request{
		Phase:  "extract",
		System: extractSystemPrompt,
		Prompt: prompt,
		Schema: extractSchema,
		Validate: func(raw json.RawMessage) error {
			_, _, err := parseItems(raw, ch.ID)
			return err
		},
	})
	if err != nil {
		return completed{called: true}, err
	}
	if err := s.cache.Set(ctx, tenantID, ch.Fingerprint, raw); err != nil {
		zap.L().Warn("extract: cache write failed", zap.String("chunk", ch.ID), zap.Error(err))
	}
	return completed{raw: raw, called: true}, nil
}

// parseItems decodes a completion payload. Both {"items": [...]} and a
// bare array are accepted.
func parseItems(raw []byte, chunkID string) ([]model.RawExtractedItem, int, error) {
	var records []map[string]any
	var wrapped struct {
		Items []map[string]any `json:"items"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Items != nil {
		records = wrapped.Items
	} else if err := json.Unmarshal(raw, &records); err != nil {
		return nil, 0, resilience.NewInvalidOutputError(eris.New("extract: payload is not a list of items"), string(raw))
	}

	items := make([]model.RawExtractedItem, 0, len(records))
	skipped := 0
	for _, rec := range records {
		item := model.RawExtractedItem{
			RawFields:     make(map[string]model.FieldValue),
			SourceChunkID: chunkID,
			SourceType:    model.SourceTextBlock,
		}
		for k, v := range rec {
			switch key := CanonicalField(k); key {
			case "name":
				item.Name = strings.TrimSpace(fmt.Sprint(nonNil(v)))
			case "description":
				item.Description = strings.TrimSpace(fmt.Sprint(nonNil(v)))
			default:
				if fv := model.FromAny(v); !fv.IsEmpty() {
					item.RawFields[key] = fv
				}
			}
		}
		if item.Name == "" {
			skipped++
			continue
		}
		items = append(items, item)
	}
	return items, skipped, nil
}

func nonNil(v any) any {
	if v == nil {
		return ""
	}
	return v
}
