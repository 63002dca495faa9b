package normalize

import (
	"context"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/catalog-ingest/internal/model"
	"github.com/sells-group/catalog-ingest/internal/retrieval"
	"github.com/sells-group/catalog-ingest/internal/scorer"
)

// expectedFields is the schema an item is measured against for schema fit.
var expectedFields = []string{"name", "description", "vendor", "budget", "owner", "status", "priority", "category"}

// normalizeItem runs the per-item steps: type, vocabularies, category,
// reference inference, alignment and value, then learned patterns. It
// returns the number of patterns that fired.
func (n *Normalizer) normalizeItem(ctx context.Context, tenantID string, raw model.RawExtractedItem, meta Meta, prof *model.StrategicProfile, h hint) (model.NormalizedItem, int) {
	item := model.NormalizedItem{
		ID:          newID(),
		TenantID:    tenantID,
		Version:     1,
		Name:        strings.TrimSpace(raw.Name),
		Description: strings.TrimSpace(raw.Description),
		Metadata: model.ExtractionMetadata{
			RunID:            meta.RunID,
			SourceFile:       meta.SourceFile,
			SourceFormat:     meta.SourceFormat,
			SourceChunkID:    raw.SourceChunkID,
			SourceType:       raw.SourceType,
			Strategy:         meta.Strategy,
			DuplicatesMerged: raw.DuplicateCount,
			ExtractedAt:      n.now().UTC(),
		},
	}
	bd := scorer.NewBreakdown()
	clarity := 0.5
	if meta.Structure != nil {
		clarity = meta.Structure.SourceClarity()
		if meta.Structure.LowConfidence() || meta.Structure.Degraded {
			bd.Reason("document structure unclear")
		}
	}
	bd.SourceClarity(clarity)

	if v, ok := raw.Field("vendor"); ok && !v.IsEmpty() {
		item.Vendor = strings.TrimSpace(v.Text())
	}
	if v, ok := raw.Field("budget"); ok && !v.IsEmpty() {
		conf, reason := scorer.BudgetConfidence(v)
		if num, isNum := v.AsNumber(); isNum {
			item.Budget = &num
		}
		bd.Field("budget", conf, reason)
	}
	if v, ok := raw.Field("owner"); ok && !v.IsEmpty() {
		owner := strings.TrimSpace(v.Text())
		item.Owner = &owner
		conf, reason := scorer.OwnerConfidence(owner)
		bd.Field("owner", conf, reason)
	}
	if item.Description != "" {
		conf, reason := scorer.DescriptionConfidence(item.Description)
		bd.Field("description", conf, reason)
	}

	// (b) status and priority
	sv, sPresent := raw.Field("status")
	sPresent = sPresent && !sv.IsEmpty()
	status, sMapped := normalizeStatus(sv, sPresent)
	item.Status = status
	if sPresent {
		conf, reason := scorer.VocabConfidence("status", sMapped)
		bd.Field("status", conf, reason)
	}
	pv, pPresent := raw.Field("priority")
	pPresent = pPresent && !pv.IsEmpty()
	priority, pMapped := normalizePriority(pv, pPresent)
	item.Priority = priority
	if pPresent {
		conf, reason := scorer.VocabConfidence("priority", pMapped)
		bd.Field("priority", conf, reason)
	}

	// (c) category
	cand, strength := n.resolveCategory(ctx, &item, raw, prof, h, bd)

	// (a) type, after category so the catalog's type can break a tie
	n.classifyType(&item, raw, cand, h, bd)

	// (d) reference examples
	ref := inferFromReference(&item, raw, prof, sMapped, pMapped, bd)

	// (e) alignment and business value
	item.StrategicAlignment = alignment(item, prof, bd)
	item.BusinessValue = businessValue(item, prof, cand)

	populated := 0
	for _, f := range expectedFields {
		if fieldPopulated(item, raw, f) {
			populated++
		}
	}
	fit := float64(populated) / float64(len(expectedFields))
	bd.SchemaFit(fit)
	if fit < 0.4 {
		bd.Reason("limited metadata")
	}

	// (f) learned patterns
	fired := 0
	var quality float64
	if n.patterns != nil {
		adjusted, patterns := n.patterns.Apply(ctx, tenantID, item)
		if len(patterns) > 0 {
			item = adjusted
			fired = len(patterns)
			var sum float64
			for _, p := range patterns {
				sum += p.Confidence
				applyPatternScore(bd, p)
				zap.L().Debug("normalize: learned pattern fired",
					zap.String("pattern", p.ID),
					zap.String("item", item.Name),
				)
			}
			quality = sum / float64(len(patterns))
			bd.PatternMatch(quality, "")
		}
	}
	if fired == 0 {
		switch {
		case ref != "":
			bd.PatternMatch(scorer.PatternReference, "")
		case strength == retrieval.StrengthStrong:
			bd.PatternMatch(scorer.PatternStrong, "")
		case strength == retrieval.StrengthWeak:
			bd.PatternMatch(scorer.PatternWeak, "")
		default:
			bd.PatternMatch(scorer.PatternNone, "")
		}
	}

	item.Confidence = bd.Build()
	return item, fired
}

// resolveCategory places the item in the catalog. A weak or failed
// retrieval falls back to a category stated in the source, then to the
// tenant's industry default.
func (n *Normalizer) resolveCategory(ctx context.Context, item *model.NormalizedItem, raw model.RawExtractedItem, prof *model.StrategicProfile, h hint, bd *scorer.Breakdown) (*retrieval.Candidate, retrieval.Strength) {
	stated := ""
	if v, ok := raw.Field("category"); ok && !v.IsEmpty() {
		stated = strings.TrimSpace(v.Text())
	}
	query := strings.Join(nonEmpty(h.Category, stated, item.Name, item.Description, item.Vendor), " ")

	cands, err := n.retriever.Retrieve(ctx, query, n.cfg.CatalogID, 3)
	if err != nil {
		zap.L().Debug("normalize: retrieval failed", zap.String("item", item.Name), zap.Error(err))
		cands = nil
		bd.Reason("no retrieval context")
	}

	var top *retrieval.Candidate
	strength := retrieval.StrengthNone
	if len(cands) > 0 {
		top = &cands[0]
		strength = top.Strength
	}

	industry := ""
	if prof != nil {
		industry = industryDefault(prof.Industry)
	}

	switch {
	case strength == retrieval.StrengthStrong:
		item.Category = top.Category
		item.Metadata.CategorySource = "catalog"
		bd.Field("category", scorer.CategoryStrong, "category matched catalog: "+top.Category)
	case stated != "":
		item.Category = stated
		item.Metadata.CategorySource = "source"
		bd.Field("category", scorer.CategoryWeak, "category taken from source")
	case industry != "":
		item.Category = industry
		item.Metadata.CategorySource = "industry_default"
		bd.Field("category", scorer.CategoryDefault, "category defaulted for industry: "+prof.Industry)
	case top != nil:
		item.Category = top.Category
		item.Metadata.CategorySource = "catalog"
		bd.Field("category", scorer.CategoryWeak, "weak category match: "+top.Category)
	default:
		item.Category = "Uncategorized"
		item.Metadata.CategorySource = "none"
		bd.Field("category", scorer.CategoryUnresolved, "category unresolved")
	}
	return top, strength
}

func (n *Normalizer) classifyType(item *model.NormalizedItem, raw model.RawExtractedItem, cand *retrieval.Candidate, h hint, bd *scorer.Breakdown) {
	if v, ok := raw.Field("type"); ok {
		if t, ok := parseType(v.Text()); ok {
			item.Type = t
			bd.Type(scorer.TypeStrong, "type stated in source")
			return
		}
	}

	product, service := typeSignal(strings.Join([]string{item.Name, item.Description, item.Category}, " "))
	diff := product - service
	switch {
	case diff >= 2:
		item.Type = model.ItemTypeProduct
		bd.Type(scorer.TypeStrong, "strong type signal")
	case diff <= -2:
		item.Type = model.ItemTypeService
		bd.Type(scorer.TypeStrong, "strong type signal")
	case diff == 1:
		item.Type = model.ItemTypeProduct
		bd.Type(scorer.TypeModerate, "type inferred from keywords")
	case diff == -1:
		item.Type = model.ItemTypeService
		bd.Type(scorer.TypeModerate, "type inferred from keywords")
	default:
		if t, ok := parseType(h.Type); ok {
			item.Type = t
			bd.Type(scorer.TypeModerate, "type suggested by model")
			return
		}
		if cand != nil && cand.Type != "" {
			item.Type = cand.Type
			bd.Type(scorer.TypeCatalog, "type inferred from category")
			return
		}
		item.Type = model.ItemTypeProduct
		bd.Type(scorer.TypeDefault, "weak type signal")
	}
}

// inferFromReference fills gaps from the closest reference example and
// returns its name, or "" when none matched.
func inferFromReference(item *model.NormalizedItem, raw model.RawExtractedItem, prof *model.StrategicProfile, statusMapped, priorityMapped bool, bd *scorer.Breakdown) string {
	if prof == nil || len(prof.ReferenceExamples) == 0 {
		return ""
	}
	text := strings.ToLower(raw.Text())
	var ref *model.ReferenceExample
	for i := range prof.ReferenceExamples {
		ex := &prof.ReferenceExamples[i]
		if strings.EqualFold(strings.TrimSpace(ex.Name), item.Name) {
			ref = ex
			break
		}
		if ref == nil && len(scorer.MatchKeywords(ex.Keywords, text)) > 0 {
			ref = ex
		}
	}
	if ref == nil {
		return ""
	}

	source := "reference example: " + ref.Name
	if item.Owner == nil && ref.Owner != "" {
		owner := ref.Owner
		item.Owner = &owner
		item.Metadata.InferredFields = append(item.Metadata.InferredFields, "owner")
		bd.Field("owner", scorer.InferredField, "owner inferred from "+source)
	}
	if !statusMapped && ref.Status != "" {
		if s, ok := normalizeStatus(model.StringValue(ref.Status), true); ok {
			item.Status = s
			item.Metadata.InferredFields = append(item.Metadata.InferredFields, "status")
			bd.Field("status", scorer.InferredField, "status inferred from "+source)
		}
	}
	if !priorityMapped && ref.Priority != "" {
		if p, ok := normalizePriority(model.StringValue(ref.Priority), true); ok {
			item.Priority = p
			item.Metadata.InferredFields = append(item.Metadata.InferredFields, "priority")
			bd.Field("priority", scorer.InferredField, "priority inferred from "+source)
		}
	}
	if item.Metadata.CategorySource != "catalog" && item.Metadata.CategorySource != "source" && ref.Category != "" {
		item.Category = ref.Category
		item.Metadata.CategorySource = "reference"
		item.Metadata.InferredFields = append(item.Metadata.InferredFields, "category")
		bd.Field("category", scorer.InferredField, "category inferred from "+source)
	}
	return ref.Name
}

// goalStopwords are skipped when goals are split into keywords.
var goalStopwords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "our": true, "improve": true,
	"reduce": true, "increase": true, "across": true, "more": true, "better": true,
}

// alignment scores how strongly the item matches the tenant's goals: three
// or more keyword hits score 9, two 7, one 5, none 3.
func alignment(item model.NormalizedItem, prof *model.StrategicProfile, bd *scorer.Breakdown) int {
	if prof == nil || len(prof.Goals) == 0 {
		return 3
	}
	text := strings.Join([]string{item.Name, item.Description, item.Category, item.Vendor}, " ")
	hits := make(map[string]bool)
	for _, goal := range prof.Goals {
		matched := scorer.MatchKeywords(goalKeywords(goal), text)
		for _, kw := range matched {
			hits[strings.ToLower(kw)] = true
		}
		if len(matched) > 0 {
			bd.Reason("aligned with goal: " + goal)
		}
	}
	switch n := len(hits); {
	case n >= 3:
		return 9
	case n == 2:
		return 7
	case n == 1:
		return 5
	default:
		return 3
	}
}

func goalKeywords(goal string) []string {
	var out []string
	for _, w := range strings.FieldsFunc(strings.ToLower(goal), func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9')
	}) {
		if len(w) > 3 && !goalStopwords[w] {
			out = append(out, w)
		}
	}
	return out
}

// businessValue adjusts alignment by budget magnitude and the category's
// priority weight, clamped to [1,10].
func businessValue(item model.NormalizedItem, prof *model.StrategicProfile, cand *retrieval.Candidate) int {
	v := float64(item.StrategicAlignment)
	if item.Budget != nil {
		switch b := *item.Budget; {
		case b >= 1_000_000:
			v += 2
		case b >= 100_000:
			v++
		case b < 10_000:
			v--
		}
	}
	weight := 1.0
	if cand != nil && cand.Category == item.Category && cand.PriorityWeight > 0 {
		weight = cand.PriorityWeight
	}
	if prof != nil {
		for cat, w := range prof.Priorities {
			if strings.EqualFold(cat, item.Category) && w > 0 {
				weight = w
			}
		}
	}
	return clampInt(int(math.Round(v*weight)), 1, 10)
}

func applyPatternScore(bd *scorer.Breakdown, p model.LearnedPattern) {
	adj := p.Adjustment
	switch adj.Kind {
	case model.AdjustFieldOverride:
		bd.Field(adj.Field, p.Confidence, fmt.Sprintf("learned pattern %s set %s to %s", p.ID, adj.Field, adj.Value))
	case model.AdjustConfidenceDelta:
		bd.AdjustField(adj.Field, adj.ConfidenceDelta, fmt.Sprintf("learned pattern %s adjusted %s confidence", p.ID, adj.Field))
	}
}

func fieldPopulated(item model.NormalizedItem, raw model.RawExtractedItem, field string) bool {
	switch field {
	case "name":
		return item.Name != ""
	case "description":
		return item.Description != ""
	case "vendor":
		return item.Vendor != ""
	case "budget":
		v, ok := raw.Field("budget")
		return ok && !v.IsEmpty()
	case "owner":
		return item.Owner != nil
	case "category":
		return item.Metadata.CategorySource != "none"
	default:
		v, ok := raw.Field(field)
		return ok && !v.IsEmpty()
	}
}

func nonEmpty(ss ...string) []string {
	var out []string
	for _, s := range ss {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
