// Package normalize turns deduplicated raw items into scored catalog records.
package normalize

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/catalog-ingest/internal/completion"
	"github.com/sells-group/catalog-ingest/internal/cost"
	"github.com/sells-group/catalog-ingest/internal/model"
	"github.com/sells-group/catalog-ingest/internal/profile"
	"github.com/sells-group/catalog-ingest/internal/retrieval"
)

// Defaults for batching.
const (
	DefaultBatchSize   = 10
	DefaultConcurrency = 8
)

// PatternApplier applies learned patterns to an item. It never fails: a
// lookup error means no pattern fired.
type PatternApplier interface {
	Apply(ctx context.Context, tenantID string, item model.NormalizedItem) (model.NormalizedItem, []model.LearnedPattern)
}

// Config tunes the Normalizer.
type Config struct {
	BatchSize     int
	Concurrency   int
	CatalogID     string
	UseCompletion bool
}

// Meta is the document context shared by every item in a call.
type Meta struct {
	RunID        string
	SourceFile   string
	SourceFormat string
	Strategy     model.ExtractionStrategy
	Structure    *model.DocumentStructure
}

// Result is the normalized output. Items keep their input order.
type Result struct {
	Items           []model.NormalizedItem `json:"items"`
	Batches         int                    `json:"batches"`
	BatchesDegraded int                    `json:"batches_degraded"`
	PatternsApplied int                    `json:"patterns_applied"`
	Warnings        []string               `json:"warnings,omitempty"`
}

// Normalizer is the batch normalizer and confidence scorer.
type Normalizer struct {
	caller    *completion.Caller
	retriever retrieval.Retriever
	profiles  profile.Provider
	patterns  PatternApplier
	cfg       Config
	now       func() time.Time
}

// New creates a Normalizer. caller, profiles and patterns may be nil.
func New(caller *completion.Caller, r retrieval.Retriever, profiles profile.Provider, patterns PatternApplier, cfg Config) *Normalizer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Concurrency <= 0 || cfg.Concurrency > DefaultConcurrency {
		cfg.Concurrency = DefaultConcurrency
	}
	if r == nil {
		r = retrieval.NewCatalogRetriever(0, retrieval.DefaultCatalog())
	}
	return &Normalizer{
		caller:    caller,
		retriever: r,
		profiles:  profiles,
		patterns:  patterns,
		cfg:       cfg,
		now:       time.Now,
	}
}

// hint is the model's suggestion for one item of a batch.
type hint struct {
	Index    int    `json:"index"`
	Type     string `json:"type"`
	Category string `json:"category"`
}

type batchOut struct {
	items    []model.NormalizedItem
	fired    int
	degraded bool
}

// Normalize processes items in batches with a bounded pool. A failed
// completion for a batch degrades that batch to heuristics; no item is
// dropped. Cancellation stops model calls for batches not yet started,
// which are still normalized heuristically.
func (n *Normalizer) Normalize(ctx context.Context, tr *cost.Tracker, tenantID string, items []model.RawExtractedItem, meta Meta) (*Result, error) {
	res := &Result{}
	if len(items) == 0 {
		return res, nil
	}

	var prof *model.StrategicProfile
	if n.profiles != nil {
		p, err := n.profiles.Get(ctx, tenantID)
		if err != nil {
			zap.L().Warn("normalize: strategic profile unavailable", zap.String("tenant", tenantID), zap.Error(err))
			res.Warnings = append(res.Warnings, "strategic profile unavailable; enrichment skipped")
		} else {
			prof = p
		}
	}

	var batches [][]model.RawExtractedItem
	for start := 0; start < len(items); start += n.cfg.BatchSize {
		end := min(start+n.cfg.BatchSize, len(items))
		batches = append(batches, items[start:end])
	}
	res.Batches = len(batches)

	outs := make([]batchOut, len(batches))
	workCtx := context.WithoutCancel(ctx)
	skipped := 0

	var g errgroup.Group
	g.SetLimit(n.cfg.Concurrency)
	for i, b := range batches {
		useModel := ctx.Err() == nil
		if !useModel {
			skipped++
		}
		g.Go(func() error {
			outs[i] = n.normalizeBatch(workCtx, tr, tenantID, i, b, meta, prof, useModel && ctx.Err() == nil)
			return nil
		})
	}
	_ = g.Wait()

	for i, o := range outs {
		res.Items = append(res.Items, o.items...)
		res.PatternsApplied += o.fired
		if o.degraded {
			res.BatchesDegraded++
			res.Warnings = append(res.Warnings, fmt.Sprintf("batch %d: model hints unavailable, heuristics used", i+1))
		}
	}
	if skipped > 0 {
		res.Warnings = append(res.Warnings, fmt.Sprintf("%d batches normalized without model hints: ingestion cancelled", skipped))
	}

	zap.L().Info("normalize: items normalized",
		zap.String("tenant", tenantID),
		zap.String("file", meta.SourceFile),
		zap.Int("items", len(res.Items)),
		zap.Int("batches", res.Batches),
		zap.Int("degraded", res.BatchesDegraded),
		zap.Int("patterns_applied", res.PatternsApplied),
	)
	return res, nil
}

func (n *Normalizer) normalizeBatch(ctx context.Context, tr *cost.Tracker, tenantID string, idx int, batch []model.RawExtractedItem, meta Meta, prof *model.StrategicProfile, useModel bool) batchOut {
	var out batchOut
	hints := map[int]hint{}
	if useModel && n.cfg.UseCompletion && n.caller != nil {
		h, err := n.fetchHints(ctx, tr, batch, prof)
		if err != nil {
			zap.L().Warn("normalize: batch hints failed", zap.Int("batch", idx), zap.Error(err))
			out.degraded = true
		} else {
			hints = h
		}
	}

	for i, raw := range batch {
		item, fired := n.normalizeItem(ctx, tenantID, raw, meta, prof, hints[i])
		out.items = append(out.items, item)
		out.fired += fired
	}
	return out
}

const hintSystemPrompt = `You classify catalog records. For each numbered record decide whether it is a product (software, platform, tool) or a service (support, consulting, maintenance, managed work) and name its category in two or three words.`

const hintSchema = `{"items": [{"index": 0, "type": "product|service", "category": ""}]}`

func (n *Normalizer) fetchHints(ctx context.Context, tr *cost.Tracker, batch []model.RawExtractedItem, prof *model.StrategicProfile) (map[int]hint, error) {
	var b strings.Builder
	if prof != nil && prof.Industry != "" {
		fmt.Fprintf(&b, "Organization industry: %s\n\n", prof.Industry)
	}
	for i, it := range batch {
		fmt.Fprintf(&b, "%d. %s", i, it.Name)
		if it.Description != "" {
			fmt.Fprintf(&b, " | %s", truncate(it.Description, 300))
		}
		if v, ok := it.Field("vendor"); ok && !v.IsEmpty() {
			fmt.Fprintf(&b, " | vendor: %s", v.Text())
		}
		b.WriteString("\n")
	}

	var resp struct {
		Items []hint `json:"items"`
	}
	if err := n.caller.Decode(ctx, tr, completion.Request{
		Phase:  "normalize",
		System: hintSystemPrompt,
		Prompt: b.String(),
		Schema: hintSchema,
	}, &resp); err != nil {
		return nil, err
	}

	out := make(map[int]hint, len(resp.Items))
	for _, h := range resp.Items {
		if h.Index >= 0 && h.Index < len(batch) {
			out[h.Index] = h
		}
	}
	return out, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// newID is replaced in tests.
var newID = uuid.NewString
