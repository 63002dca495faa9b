package normalize

import (
	"strings"

	"github.com/sells-group/catalog-ingest/internal/model"
)

var productTerms = []string{
	"software", "platform", "application", "app", "tool", "license", "licence",
	"saas", "system", "suite", "cloud", "subscription", "crm", "erp", "database", "portal",
}

var serviceTerms = []string{
	"service", "services", "support", "consulting", "maintenance", "managed",
	"training", "contract", "agency", "outsourced", "implementation", "advisory", "retainer",
}

// typeSignal counts product and service terms in text.
func typeSignal(text string) (product, service int) {
	words := make(map[string]bool)
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9')
	}) {
		words[w] = true
	}
	for _, t := range productTerms {
		if words[t] {
			product++
		}
	}
	for _, t := range serviceTerms {
		if words[t] {
			service++
		}
	}
	return product, service
}

// parseType maps a stated type onto an ItemType.
func parseType(s string) (model.ItemType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "product", "products", "software", "application", "app", "tool", "platform", "saas":
		return model.ItemTypeProduct, true
	case "service", "services", "support", "consulting", "managed service":
		return model.ItemTypeService, true
	}
	return "", false
}

// Canonical status and priority values.
const (
	StatusActive  = "active"
	StatusPlanned = "planned"
	StatusRetired = "retired"

	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

var statusVocab = map[string]string{
	"active": StatusActive, "in use": StatusActive, "live": StatusActive, "production": StatusActive,
	"current": StatusActive, "deployed": StatusActive, "yes": StatusActive, "true": StatusActive,
	"planned": StatusPlanned, "evaluating": StatusPlanned, "evaluation": StatusPlanned, "pilot": StatusPlanned,
	"trial": StatusPlanned, "proposed": StatusPlanned, "pending": StatusPlanned, "poc": StatusPlanned,
	"retired": StatusRetired, "deprecated": StatusRetired, "sunset": StatusRetired, "decommissioned": StatusRetired,
	"inactive": StatusRetired, "cancelled": StatusRetired, "canceled": StatusRetired, "no": StatusRetired, "false": StatusRetired,
}

var priorityVocab = map[string]string{
	"critical": PriorityHigh, "high": PriorityHigh, "urgent": PriorityHigh, "p0": PriorityHigh, "p1": PriorityHigh, "must have": PriorityHigh,
	"medium": PriorityMedium, "normal": PriorityMedium, "moderate": PriorityMedium, "p2": PriorityMedium, "should have": PriorityMedium,
	"low": PriorityLow, "minor": PriorityLow, "p3": PriorityLow, "p4": PriorityLow, "nice to have": PriorityLow,
}

// normalizeStatus maps a source status. ok is false when the value was
// absent or unrecognized and the default was used.
func normalizeStatus(v model.FieldValue, present bool) (string, bool) {
	if !present {
		return StatusActive, false
	}
	if b, isBool := v.AsBool(); isBool {
		if b {
			return StatusActive, true
		}
		return StatusRetired, true
	}
	if s, ok := statusVocab[vocabKey(v.Text())]; ok {
		return s, true
	}
	return StatusActive, false
}

// normalizePriority maps a source priority. Numeric priorities run 1 (high)
// to 5 (low).
func normalizePriority(v model.FieldValue, present bool) (string, bool) {
	if !present {
		return PriorityMedium, false
	}
	if n, isNum := v.AsNumber(); isNum {
		switch {
		case n >= 1 && n <= 2:
			return PriorityHigh, true
		case n > 2 && n <= 3:
			return PriorityMedium, true
		case n > 3 && n <= 5:
			return PriorityLow, true
		}
		return PriorityMedium, false
	}
	if p, ok := priorityVocab[vocabKey(v.Text())]; ok {
		return p, true
	}
	return PriorityMedium, false
}

func vocabKey(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.NewReplacer("_", " ", "-", " ").Replace(s))), " ")
}

// industryDefaults is the category used when retrieval cannot place an item.
var industryDefaults = map[string]string{
	"healthcare":         "Clinical Systems",
	"finance":            "Finance",
	"financial services": "Finance",
	"banking":            "Finance",
	"insurance":          "Finance",
	"retail":             "Commerce",
	"ecommerce":          "Commerce",
	"manufacturing":      "ERP",
	"logistics":          "ERP",
	"technology":         "Cloud Infrastructure",
	"software":           "Cloud Infrastructure",
	"education":          "Training",
	"government":         "Managed Services",
	"nonprofit":          "Collaboration",
}

// generalCategory is the industry default when the industry is unknown.
const generalCategory = "General IT"

func industryDefault(industry string) string {
	if industry = vocabKey(industry); industry == "" {
		return ""
	}
	if c, ok := industryDefaults[industry]; ok {
		return c
	}
	return generalCategory
}
