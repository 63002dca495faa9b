// Package learning turns reviewer corrections into learned patterns and
// applies them to newly normalized items.
package learning

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/catalog-ingest/internal/config"
	"github.com/sells-group/catalog-ingest/internal/model"
	"github.com/sells-group/catalog-ingest/internal/store"
)

// Defaults for Config members left at zero.
const (
	DefaultMinSupport        = 3
	DefaultConfidenceFloor   = 0.4
	DefaultInitialConfidence = 0.7
	DefaultConfidenceBoost   = 0.1
	DefaultDecay             = 0.9

	// RejectionField is the pseudo-field rejection audits are recorded under.
	RejectionField = "rejection"
	// rejectionPenalty lowers category confidence on items that keep being
	// rejected under the same context.
	rejectionPenalty = -0.15
)

// Store is the persistence the engine needs.
type Store interface {
	store.CorrectionStore
	store.PatternStore
}

// Config tunes the engine.
type Config struct {
	MinSupport        int
	ConfidenceFloor   float64
	InitialConfidence float64
	ConfidenceBoost   float64
	Decay             float64
	// CacheTTL bounds how stale a tenant's cached pattern list may get.
	CacheTTL time.Duration
}

// ConfigFrom maps the application config onto engine settings.
func ConfigFrom(c config.LearningConfig) Config {
	return Config{
		MinSupport:        c.MinSupport,
		ConfidenceFloor:   c.ConfidenceFloor,
		InitialConfidence: c.InitialConfidence,
		ConfidenceBoost:   c.ConfidenceBoost,
	}
}

// Meta identifies where a correction came from.
type Meta struct {
	EntryID  string
	Reviewer string
}

// Outcome is the review decision reported back through Feedback.
type Outcome int

const (
	OutcomeApproved Outcome = iota
	OutcomeRejected
	OutcomeEdited
)

// Engine records corrections, maintains learned patterns and applies them.
// Pattern lists are cached per tenant and invalidated on every write.
type Engine struct {
	store    Store
	cfg      Config
	patterns *gocache.Cache
	now      func() time.Time
}

// New creates an Engine.
func New(st Store, cfg Config) *Engine {
	if cfg.MinSupport <= 0 {
		cfg.MinSupport = DefaultMinSupport
	}
	if cfg.ConfidenceFloor <= 0 {
		cfg.ConfidenceFloor = DefaultConfidenceFloor
	}
	if cfg.InitialConfidence <= 0 {
		cfg.InitialConfidence = DefaultInitialConfidence
	}
	if cfg.ConfidenceBoost <= 0 {
		cfg.ConfidenceBoost = DefaultConfidenceBoost
	}
	if cfg.Decay <= 0 || cfg.Decay > 1 {
		cfg.Decay = DefaultDecay
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	return &Engine{
		store:    st,
		cfg:      cfg,
		patterns: gocache.New(cfg.CacheTTL, 2*cfg.CacheTTL),
		now:      time.Now,
	}
}

func cacheKey(tenantID string) string { return "patterns:" + tenantID }

func (e *Engine) invalidate(tenantID string) { e.patterns.Delete(cacheKey(tenantID)) }

// RecordCorrection persists one correction per changed correctable field and
// creates or updates the pattern for each field's context signature.
func (e *Engine) RecordCorrection(ctx context.Context, tenantID string, original, corrected model.NormalizedItem, cc model.CorrectionContext, meta Meta) ([]model.Correction, error) {
	if tenantID == "" {
		return nil, eris.New("learning: tenant id is required")
	}
	sig := cc.Signature()
	var out []model.Correction
	for _, field := range model.CorrectableFields {
		before := strings.TrimSpace(original.FieldString(field))
		after := strings.TrimSpace(corrected.FieldString(field))
		if before == after {
			continue
		}
		c := model.Correction{
			ID:             uuid.NewString(),
			TenantID:       tenantID,
			EntryID:        meta.EntryID,
			ItemID:         original.ID,
			Field:          field,
			OriginalValue:  before,
			CorrectedValue: after,
			Context:        cc,
			Signature:      sig,
			Reviewer:       meta.Reviewer,
			CreatedAt:      e.now(),
		}
		if err := e.store.InsertCorrection(ctx, c); err != nil {
			return out, eris.Wrapf(err, "learning: record %s correction", field)
		}
		out = append(out, c)
		if err := e.learn(ctx, c); err != nil {
			return out, err
		}
	}
	if len(out) > 0 {
		e.invalidate(tenantID)
	}
	return out, nil
}

// learn counts corrections consistent with c and creates, reinforces,
// decays or re-targets the pattern for its field and signature.
func (e *Engine) learn(ctx context.Context, c model.Correction) error {
	history, err := e.store.ListCorrections(ctx, c.TenantID, c.Field, c.Signature)
	if err != nil {
		return eris.Wrap(err, "learning: list corrections")
	}
	support := 0
	for _, h := range history {
		if strings.EqualFold(h.CorrectedValue, c.CorrectedValue) {
			support++
		}
	}

	existing, err := e.store.GetPattern(ctx, c.TenantID, c.Field, c.Signature)
	if err != nil {
		return eris.Wrap(err, "learning: get pattern")
	}

	if existing == nil {
		if support < e.cfg.MinSupport {
			return nil
		}
		return e.create(ctx, c, model.Adjustment{
			Kind:  model.AdjustFieldOverride,
			Field: c.Field,
			Value: c.CorrectedValue,
		}, support, "")
	}

	if strings.EqualFold(existing.Adjustment.Value, c.CorrectedValue) {
		return e.reinforce(ctx, existing, true)
	}

	if err := e.reinforce(ctx, existing, false); err != nil {
		return err
	}
	current, err := e.store.GetPatternByID(ctx, existing.ID)
	if err != nil {
		return eris.Wrap(err, "learning: reload pattern")
	}
	if current.Active(e.cfg.ConfidenceFloor) || support < e.cfg.MinSupport {
		return nil
	}
	return e.create(ctx, c, model.Adjustment{
		Kind:  model.AdjustFieldOverride,
		Field: c.Field,
		Value: c.CorrectedValue,
	}, support, current.ID)
}

// create upserts a fresh pattern. A non-empty id re-targets an existing row.
func (e *Engine) create(ctx context.Context, c model.Correction, adj model.Adjustment, support int, id string) error {
	now := e.now()
	p := model.LearnedPattern{
		ID:           id,
		TenantID:     c.TenantID,
		Field:        c.Field,
		Signature:    c.Signature,
		Conditions:   model.ConditionsFor(c.Context),
		Adjustment:   adj,
		Confidence:   e.cfg.InitialConfidence,
		SupportCount: support,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if len(p.Conditions) == 0 {
		zap.L().Debug("learning: correction context empty, no pattern created",
			zap.String("tenant_id", c.TenantID),
			zap.String("field", c.Field),
		)
		return nil
	}
	if err := e.store.UpsertPattern(ctx, p); err != nil {
		return eris.Wrap(err, "learning: upsert pattern")
	}
	e.invalidate(c.TenantID)

	msg := "learning: pattern created"
	if id != "" {
		msg = "learning: pattern re-targeted"
	}
	zap.L().Info(msg,
		zap.String("tenant_id", p.TenantID),
		zap.String("pattern_id", p.ID),
		zap.String("field", p.Field),
		zap.String("signature", p.Signature),
		zap.String("kind", string(adj.Kind)),
		zap.String("value", adj.Value),
		zap.Int("support", p.SupportCount),
	)
	return nil
}

// RecordRejection stores the rejection notes as an audit correction. Items
// rejected repeatedly under one context produce a pattern that lowers their
// category confidence.
func (e *Engine) RecordRejection(ctx context.Context, tenantID string, item model.NormalizedItem, notes string, meta Meta) error {
	cc := model.ContextFor(item)
	c := model.Correction{
		ID:             uuid.NewString(),
		TenantID:       tenantID,
		EntryID:        meta.EntryID,
		ItemID:         item.ID,
		Field:          RejectionField,
		OriginalValue:  item.Name,
		CorrectedValue: strings.TrimSpace(notes),
		Context:        cc,
		Signature:      cc.Signature(),
		Reviewer:       meta.Reviewer,
		CreatedAt:      e.now(),
	}
	if err := e.store.InsertCorrection(ctx, c); err != nil {
		return eris.Wrap(err, "learning: record rejection")
	}

	existing, err := e.store.GetPattern(ctx, tenantID, RejectionField, c.Signature)
	if err != nil {
		return eris.Wrap(err, "learning: get pattern")
	}
	if existing != nil {
		return nil
	}
	history, err := e.store.ListCorrections(ctx, tenantID, RejectionField, c.Signature)
	if err != nil {
		return eris.Wrap(err, "learning: list corrections")
	}
	if len(history) < e.cfg.MinSupport {
		return nil
	}
	return e.create(ctx, c, model.Adjustment{
		Kind:            model.AdjustConfidenceDelta,
		Field:           "category",
		ConfidenceDelta: rejectionPenalty,
	}, len(history), "")
}

// Apply returns the item with every active matching pattern applied, highest
// confidence first. Conditions are evaluated against the incoming item and
// each field is overridden at most once. Lookup errors mean no pattern fired.
func (e *Engine) Apply(ctx context.Context, tenantID string, item model.NormalizedItem) (model.NormalizedItem, []model.LearnedPattern) {
	patterns, err := e.tenantPatterns(ctx, tenantID)
	if err != nil {
		zap.L().Warn("learning: pattern lookup failed, none applied",
			zap.String("tenant_id", tenantID),
			zap.Error(err),
		)
		return item, nil
	}

	out := item.Clone()
	overridden := make(map[string]bool)
	var fired []model.LearnedPattern
	for _, p := range patterns {
		if !p.Active(e.cfg.ConfidenceFloor) || !p.Matches(item) {
			continue
		}
		switch p.Adjustment.Kind {
		case model.AdjustFieldOverride:
			if overridden[p.Adjustment.Field] {
				continue
			}
			if !out.SetField(p.Adjustment.Field, p.Adjustment.Value) {
				continue
			}
			overridden[p.Adjustment.Field] = true
		case model.AdjustConfidenceDelta:
		default:
			continue
		}
		fired = append(fired, p)
		out.Metadata.AppliedPatternIDs = append(out.Metadata.AppliedPatternIDs, p.ID)
	}
	return out, fired
}

// tenantPatterns returns the tenant's patterns ordered by confidence desc.
func (e *Engine) tenantPatterns(ctx context.Context, tenantID string) ([]model.LearnedPattern, error) {
	key := cacheKey(tenantID)
	if v, ok := e.patterns.Get(key); ok {
		return v.([]model.LearnedPattern), nil
	}
	patterns, err := e.store.ListPatterns(ctx, tenantID)
	if err != nil {
		return nil, eris.Wrap(err, "learning: list patterns")
	}
	sort.SliceStable(patterns, func(i, j int) bool { return patterns[i].Confidence > patterns[j].Confidence })
	e.patterns.Set(key, patterns, gocache.DefaultExpiration)
	return patterns, nil
}

// Reinforce updates the listed patterns after a review decision. Patterns
// owned by another tenant are reported as not found.
func (e *Engine) Reinforce(ctx context.Context, tenantID string, patternIDs []string, wasCorrect bool) error {
	var firstErr error
	for _, id := range patternIDs {
		p, err := e.owned(ctx, tenantID, id)
		if err == nil {
			err = e.reinforce(ctx, p, wasCorrect)
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	e.invalidate(tenantID)
	return firstErr
}

// Feedback reinforces the patterns that fired on a reviewed item. An
// override is correct when the final item kept its value; a confidence
// penalty is correct when the item needed rejection or edits.
func (e *Engine) Feedback(ctx context.Context, tenantID string, outcome Outcome, final model.NormalizedItem) error {
	ids := final.Metadata.AppliedPatternIDs
	if len(ids) == 0 {
		return nil
	}
	var firstErr error
	for _, id := range ids {
		p, err := e.owned(ctx, tenantID, id)
		if err == nil {
			err = e.reinforce(ctx, p, judge(p, outcome, final))
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	e.invalidate(tenantID)
	return firstErr
}

func judge(p *model.LearnedPattern, outcome Outcome, final model.NormalizedItem) bool {
	if p.Adjustment.Kind == model.AdjustConfidenceDelta {
		return outcome != OutcomeApproved
	}
	switch outcome {
	case OutcomeApproved:
		return true
	case OutcomeRejected:
		return false
	default:
		return strings.EqualFold(strings.TrimSpace(final.FieldString(p.Adjustment.Field)), p.Adjustment.Value)
	}
}

func (e *Engine) owned(ctx context.Context, tenantID, id string) (*model.LearnedPattern, error) {
	p, err := e.store.GetPatternByID(ctx, id)
	if err != nil {
		return nil, eris.Wrapf(err, "learning: get pattern %s", id)
	}
	if p.TenantID != tenantID {
		return nil, eris.Wrapf(store.ErrNotFound, "learning: get pattern %s", id)
	}
	return p, nil
}

func (e *Engine) reinforce(ctx context.Context, p *model.LearnedPattern, wasCorrect bool) error {
	boost, delta := 0.0, 0
	if wasCorrect {
		boost, delta = e.cfg.ConfidenceBoost, 1
	}
	if err := e.store.ReinforcePattern(ctx, p.ID, e.cfg.Decay, boost, delta); err != nil {
		return eris.Wrap(err, "learning: reinforce pattern")
	}
	e.invalidate(p.TenantID)

	next := min(1, max(0, p.Confidence*e.cfg.Decay+boost))
	if p.Active(e.cfg.ConfidenceFloor) && next < e.cfg.ConfidenceFloor {
		zap.L().Info("learning: pattern fell below confidence floor",
			zap.String("tenant_id", p.TenantID),
			zap.String("pattern_id", p.ID),
			zap.Float64("confidence", next),
		)
	}
	return nil
}

// ListPatterns returns the tenant's patterns. Inactive patterns are
// included only on request.
func (e *Engine) ListPatterns(ctx context.Context, tenantID string, includeInactive bool) ([]model.LearnedPattern, error) {
	patterns, err := e.store.ListPatterns(ctx, tenantID)
	if err != nil {
		return nil, eris.Wrap(err, "learning: list patterns")
	}
	if includeInactive {
		return patterns, nil
	}
	out := patterns[:0]
	for _, p := range patterns {
		if p.Active(e.cfg.ConfidenceFloor) {
			out = append(out, p)
		}
	}
	return out, nil
}
