// Package pipeline orchestrates document ingestion: analyze, extract, dedup,
// normalize and enqueue, one tracked run per file.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/catalog-ingest/internal/analyze"
	"github.com/sells-group/catalog-ingest/internal/cost"
	"github.com/sells-group/catalog-ingest/internal/dedup"
	"github.com/sells-group/catalog-ingest/internal/extract"
	"github.com/sells-group/catalog-ingest/internal/model"
	"github.com/sells-group/catalog-ingest/internal/normalize"
	"github.com/sells-group/catalog-ingest/internal/store"
)

// Analyzer is the structure analysis stage.
type Analyzer interface {
	Analyze(ctx context.Context, tr *cost.Tracker, f model.IngestFile) (*analyze.Result, error)
}

// Extractor is the chunk extraction stage.
type Extractor interface {
	Run(ctx context.Context, tr *cost.Tracker, tenantID string, an *analyze.Result) (*extract.Result, error)
}

// Deduper is the near-duplicate merge stage.
type Deduper interface {
	Dedupe(items []model.RawExtractedItem) *dedup.Result
}

// Normalizer is the normalize-and-score stage.
type Normalizer interface {
	Normalize(ctx context.Context, tr *cost.Tracker, tenantID string, items []model.RawExtractedItem, meta normalize.Meta) (*normalize.Result, error)
}

// Enqueuer routes normalized items into review.
type Enqueuer interface {
	Enqueue(ctx context.Context, tenantID, runID string, items []model.NormalizedItem) ([]model.ReviewQueueEntry, error)
}

// Stages are the pipeline's components.
type Stages struct {
	Analyzer   Analyzer
	Extractor  Extractor
	Deduper    Deduper
	Normalizer Normalizer
	Queue      Enqueuer
}

// Config tunes the Pipeline.
type Config struct {
	FileConcurrency int
}

// Pipeline runs ingestion for a tenant's files.
type Pipeline struct {
	runs   store.RunStore
	stages Stages
	cfg    Config
}

// New creates a Pipeline.
func New(runs store.RunStore, stages Stages, cfg Config) *Pipeline {
	if cfg.FileConcurrency <= 0 {
		cfg.FileConcurrency = 2
	}
	return &Pipeline{runs: runs, stages: stages, cfg: cfg}
}

type fileOutcome struct {
	runID  string
	result *model.RunResult
	err    error
}

// Ingest processes files concurrently and aggregates their runs in input
// order. A file that fails is recorded as a failed run and a warning; only
// cancellation is returned as an error, together with what completed.
func (p *Pipeline) Ingest(ctx context.Context, tenantID string, files []model.IngestFile) (*model.IngestResult, error) {
	if tenantID == "" {
		return nil, eris.New("pipeline: tenant id is required")
	}
	if len(files) == 0 {
		return nil, eris.New("pipeline: no files to ingest")
	}

	outcomes := make([]fileOutcome, len(files))
	var g errgroup.Group
	g.SetLimit(p.cfg.FileConcurrency)
	for i, f := range files {
		g.Go(func() error {
			runID, rr, err := p.ingestFile(ctx, tenantID, f)
			outcomes[i] = fileOutcome{runID: runID, result: rr, err: err}
			return nil
		})
	}
	_ = g.Wait()

	res := &model.IngestResult{
		TenantID:      tenantID,
		TierBreakdown: make(map[model.ReviewTier]int),
		Warnings:      []string{},
	}
	for i, o := range outcomes {
		if o.runID != "" {
			res.Merge(o.runID, o.result)
		}
		if o.err != nil && ctx.Err() == nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s: %v", files[i].Name, o.err))
		}
	}

	zap.L().Info("pipeline: ingest complete",
		zap.String("tenant_id", tenantID),
		zap.Int("files", len(files)),
		zap.Int("queued", res.QueuedCount),
		zap.Int("duplicates_removed", res.DuplicatesRemoved),
		zap.Float64("cost_usd", res.CostUSD),
	)

	if err := ctx.Err(); err != nil {
		return res, eris.Wrap(err, "pipeline: ingest cancelled")
	}
	return res, nil
}

// ingestFile runs every phase for one file. Run bookkeeping and the enqueue
// write outlive cancellation of ctx.
func (p *Pipeline) ingestFile(ctx context.Context, tenantID string, f model.IngestFile) (string, *model.RunResult, error) {
	log := zap.L().With(zap.String("tenant_id", tenantID), zap.String("file", f.Name))
	persistCtx := context.WithoutCancel(ctx)

	run, err := p.runs.CreateRun(persistCtx, tenantID, f.Name)
	if err != nil {
		return "", nil, eris.Wrap(err, "pipeline: create run")
	}
	log = log.With(zap.String("run_id", run.ID))
	log.Info("pipeline: starting ingestion")

	setStatus := func(status model.RunStatus) {
		if statusErr := p.runs.UpdateRunStatus(persistCtx, run.ID, status); statusErr != nil {
			log.Warn("pipeline: failed to update status", zap.Error(statusErr))
		}
	}
	fail := func(err error) (string, *model.RunResult, error) {
		if failErr := p.runs.FailRun(persistCtx, run.ID, err.Error()); failErr != nil {
			log.Warn("pipeline: failed to record failure", zap.Error(failErr))
		}
		return run.ID, nil, err
	}

	tr := cost.NewTracker()
	var phases []model.PhaseResult
	trackPhase := func(name string, fn func() (*model.PhaseResult, error)) error {
		phase, phaseErr := p.runs.CreatePhase(persistCtx, run.ID, name)
		if phaseErr != nil {
			log.Warn("pipeline: failed to create phase", zap.String("phase", name), zap.Error(phaseErr))
		}

		start := time.Now()
		phaseResult, fnErr := fn()
		duration := time.Since(start).Milliseconds()

		if phaseResult == nil {
			phaseResult = &model.PhaseResult{Name: name}
		}
		phaseResult.Name = name
		phaseResult.Duration = duration
		phaseResult.TokenUsage = tr.Phase(phaseUsageKey(name))

		if fnErr != nil {
			phaseResult.Status = model.PhaseStatusFailed
			phaseResult.Error = fnErr.Error()
			log.Error("pipeline: phase failed",
				zap.String("phase", name),
				zap.Int64("duration_ms", duration),
				zap.Error(fnErr),
			)
		} else {
			phaseResult.Status = model.PhaseStatusComplete
			log.Info("pipeline: phase complete",
				zap.String("phase", name),
				zap.Int64("duration_ms", duration),
			)
		}

		if phase != nil {
			if completeErr := p.runs.CompletePhase(persistCtx, phase.ID, phaseResult); completeErr != nil {
				log.Warn("pipeline: failed to complete phase", zap.String("phase", name), zap.Error(completeErr))
			}
		}
		phases = append(phases, *phaseResult)
		return fnErr
	}

	rr := &model.RunResult{TierBreakdown: make(map[model.ReviewTier]int)}

	// ===== Phase 1: Structure analysis =====
	setStatus(model.RunStatusAnalyzing)
	var an *analyze.Result
	err = trackPhase("1_analyze", func() (*model.PhaseResult, error) {
		res, analyzeErr := p.stages.Analyzer.Analyze(ctx, tr, f)
		if analyzeErr != nil {
			return nil, analyzeErr
		}
		if res.Empty() {
			return nil, eris.New("pipeline: document has no extractable text")
		}
		an = res
		return &model.PhaseResult{
			Metadata: map[string]any{
				"type":       string(res.Structure.Type),
				"format":     res.Structure.Format,
				"strategy":   string(res.Strategy),
				"confidence": res.Structure.Confidence,
				"degraded":   res.Structure.Degraded,
			},
		}, nil
	})
	if err != nil {
		return fail(err)
	}
	rr.Strategy = an.Strategy
	rr.Warnings = append(rr.Warnings, an.Structure.Warnings...)

	// ===== Phase 2: Chunk extraction =====
	// A cancelled extraction still yields the chunks that finished; they
	// continue through the remaining phases.
	setStatus(model.RunStatusExtracting)
	var ex *extract.Result
	var cancelled error
	err = trackPhase("2_extract", func() (*model.PhaseResult, error) {
		res, extractErr := p.stages.Extractor.Run(ctx, tr, tenantID, an)
		if res == nil {
			return nil, extractErr
		}
		ex = res
		cancelled = extractErr
		return &model.PhaseResult{
			Metadata: map[string]any{
				"chunks":         res.ChunksTotal,
				"chunks_partial": res.ChunksPartial,
				"chunks_skipped": res.ChunksSkipped,
				"items":          len(res.Items),
				"calls":          res.Calls,
			},
		}, extractErr
	})
	if ex == nil {
		return fail(err)
	}
	rr.ChunksTotal = ex.ChunksTotal
	rr.ChunksPartial = ex.ChunksPartial
	rr.ChunksSkipped = ex.ChunksSkipped
	rr.RawItems = len(ex.Items)
	rr.SkippedCount = ex.Skipped + ex.ChunksPartial + ex.ChunksSkipped
	rr.Warnings = append(rr.Warnings, ex.Warnings...)

	// ===== Phase 3: Deduplication =====
	setStatus(model.RunStatusDeduping)
	items := ex.Items
	_ = trackPhase("3_dedup", func() (*model.PhaseResult, error) {
		res := p.stages.Deduper.Dedupe(ex.Items)
		items = res.Items
		rr.DuplicatesRemoved = res.DuplicatesRemoved
		return &model.PhaseResult{
			Metadata: map[string]any{
				"groups":             len(res.Groups),
				"duplicates_removed": res.DuplicatesRemoved,
			},
		}, nil
	})

	// ===== Phase 4: Normalization and scoring =====
	setStatus(model.RunStatusNormalizing)
	var normalized []model.NormalizedItem
	err = trackPhase("4_normalize", func() (*model.PhaseResult, error) {
		res, normErr := p.stages.Normalizer.Normalize(ctx, tr, tenantID, items, normalize.Meta{
			RunID:        run.ID,
			SourceFile:   f.Name,
			SourceFormat: an.Structure.Format,
			Strategy:     an.Strategy,
			Structure:    an.Structure,
		})
		if normErr != nil {
			return nil, normErr
		}
		normalized = res.Items
		rr.Warnings = append(rr.Warnings, res.Warnings...)
		return &model.PhaseResult{
			Metadata: map[string]any{
				"items":            len(res.Items),
				"batches":          res.Batches,
				"batches_degraded": res.BatchesDegraded,
				"patterns_applied": res.PatternsApplied,
			},
		}, nil
	})
	if err != nil {
		return fail(err)
	}

	// ===== Phase 5: Review queue =====
	setStatus(model.RunStatusQueuing)
	err = trackPhase("5_enqueue", func() (*model.PhaseResult, error) {
		entries, enqErr := p.stages.Queue.Enqueue(persistCtx, tenantID, run.ID, normalized)
		if enqErr != nil {
			return nil, enqErr
		}
		for _, e := range entries {
			rr.TierBreakdown[e.Tier]++
		}
		rr.QueuedCount = len(entries)
		return &model.PhaseResult{
			Metadata: map[string]any{"queued": len(entries)},
		}, nil
	})
	if err != nil {
		return fail(err)
	}

	rr.Usage = tr.Total()
	rr.CostUSD = rr.Usage.Cost
	if updateErr := p.runs.UpdateRunResult(persistCtx, run.ID, rr); updateErr != nil {
		log.Warn("pipeline: failed to save run result", zap.Error(updateErr))
	}
	// A cancelled run keeps its partial result but is not complete.
	if cancelled != nil {
		if failErr := p.runs.FailRun(persistCtx, run.ID, cancelled.Error()); failErr != nil {
			log.Warn("pipeline: failed to record cancellation", zap.Error(failErr))
		}
	}

	log.Info("pipeline: ingestion complete",
		zap.Int("phases", len(phases)),
		zap.Int("raw_items", rr.RawItems),
		zap.Int("queued", rr.QueuedCount),
		zap.Int("duplicates_removed", rr.DuplicatesRemoved),
		zap.Float64("cost_usd", rr.CostUSD),
	)
	return run.ID, rr, cancelled
}

// phaseUsageKey maps a run phase onto the completion phase it bills to.
func phaseUsageKey(name string) string {
	switch name {
	case "1_analyze":
		return "analyze"
	case "2_extract":
		return "extract"
	case "4_normalize":
		return "normalize"
	}
	return name
}
