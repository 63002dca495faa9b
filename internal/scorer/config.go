// Package scorer computes hierarchical confidence for normalized items.
package scorer

import (
	"fmt"
	"math"
	"strings"

	"github.com/rotisserie/eris"
)

// Weights are the fixed coefficients of the overall confidence formula.
type Weights struct {
	Type          float64 `json:"type"`
	Fields        float64 `json:"fields"`
	SourceClarity float64 `json:"source_clarity"`
	PatternMatch  float64 `json:"pattern_match"`
}

// DefaultWeights returns the production weights. They sum to 1.
func DefaultWeights() Weights {
	return Weights{
		Type:          0.35,
		Fields:        0.40,
		SourceClarity: 0.15,
		PatternMatch:  0.10,
	}
}

// Sum returns the sum of all weights.
func (w Weights) Sum() float64 {
	return w.Type + w.Fields + w.SourceClarity + w.PatternMatch
}

// ValidateWeights checks that a Weights value is internally consistent.
func ValidateWeights(w Weights) error {
	var errs []string

	weights := map[string]float64{
		"type":           w.Type,
		"fields":         w.Fields,
		"source_clarity": w.SourceClarity,
		"pattern_match":  w.PatternMatch,
	}
	for _, name := range []string{"type", "fields", "source_clarity", "pattern_match"} {
		if weights[name] < 0 {
			errs = append(errs, fmt.Sprintf("%s weight must be >= 0", name))
		}
	}

	// Weights must sum to 1 (allow tolerance for floating-point).
	if sum := w.Sum(); math.Abs(sum-1) > 1e-6 {
		errs = append(errs, fmt.Sprintf("weights should sum to 1, got %.4f", sum))
	}

	if len(errs) > 0 {
		return eris.Errorf("scorer: weights validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Type confidence levels.
const (
	TypeStrong   = 0.9
	TypeModerate = 0.75
	TypeCatalog  = 0.65
	TypeDefault  = 0.5
)

// Field confidence levels.
const (
	BudgetNumeric      = 0.9
	BudgetUnparsed     = 0.4
	OwnerNamed         = 0.85
	OwnerWeak          = 0.4
	CategoryStrong     = 0.85
	CategoryWeak       = 0.6
	CategoryDefault    = 0.5
	CategoryUnresolved = 0.3
	VocabNormalized    = 0.8
	VocabDefaulted     = 0.5
	DescriptionRich    = 0.8
	DescriptionShort   = 0.5
	InferredField      = 0.6
)

// Pattern match quality levels when no learned pattern fired.
const (
	PatternReference = 0.8
	PatternStrong    = 0.7
	PatternWeak      = 0.5
	PatternNone      = 0.4
)
