// Package retrieval resolves item text to catalog categories.
package retrieval

import (
	"context"
	_ "embed"
	"math"
	"os"
	"sort"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/catalog-ingest/internal/extract"
	"github.com/sells-group/catalog-ingest/internal/model"
)

//go:embed catalog.yaml
var defaultCatalogYAML []byte

// DefaultStrongMatch is the score at which a match counts as strong.
const DefaultStrongMatch = 0.5

// Strength buckets a retrieval score.
type Strength string

const (
	StrengthNone   Strength = "none"
	StrengthWeak   Strength = "weak"
	StrengthStrong Strength = "strong"
)

// Candidate is one ranked category.
type Candidate struct {
	Category       string         `json:"category"`
	Type           model.ItemType `json:"type,omitempty"`
	Score          float64        `json:"score"`
	Strength       Strength       `json:"strength"`
	PriorityWeight float64        `json:"priority_weight"`
}

// Retriever ranks catalog categories for a query.
type Retriever interface {
	Retrieve(ctx context.Context, query, catalogID string, topK int) ([]Candidate, error)
}

// Category is one catalog entry.
type Category struct {
	Name           string         `yaml:"name"`
	Type           model.ItemType `yaml:"type"`
	PriorityWeight float64        `yaml:"priority_weight"`
	Aliases        []string       `yaml:"aliases"`
	Keywords       []string       `yaml:"keywords"`

	terms map[string]bool
}

// Catalog is a fixed category list.
type Catalog struct {
	ID         string     `yaml:"id"`
	Categories []Category `yaml:"categories"`

	vocab map[string]bool
}

// ParseCatalog decodes a YAML catalog.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, eris.Wrap(err, "retrieval: parse catalog")
	}
	if c.ID == "" {
		return nil, eris.New("retrieval: catalog has no id")
	}
	if len(c.Categories) == 0 {
		return nil, eris.Errorf("retrieval: catalog %s has no categories", c.ID)
	}
	c.index()
	return &c, nil
}

// LoadCatalog reads a YAML catalog from disk.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "retrieval: read catalog %s", path)
	}
	return ParseCatalog(data)
}

// DefaultCatalog returns the built-in software and services catalog.
func DefaultCatalog() *Catalog {
	c, err := ParseCatalog(defaultCatalogYAML)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Catalog) index() {
	c.vocab = make(map[string]bool)
	for i := range c.Categories {
		cat := &c.Categories[i]
		if cat.PriorityWeight <= 0 {
			cat.PriorityWeight = 1
		}
		cat.terms = make(map[string]bool)
		for _, s := range append(append([]string{cat.Name}, cat.Aliases...), cat.Keywords...) {
			for _, t := range Tokenize(s) {
				cat.terms[t] = true
				c.vocab[t] = true
			}
		}
	}
}

// Category looks up a category by case-insensitive name.
func (c *Catalog) Category(name string) (Category, bool) {
	for _, cat := range c.Categories {
		if strings.EqualFold(cat.Name, name) {
			return cat, true
		}
	}
	return Category{}, false
}

// CatalogRetriever ranks categories by token overlap with the query.
type CatalogRetriever struct {
	catalogs    map[string]*Catalog
	defaultID   string
	strongMatch float64
}

// NewCatalogRetriever creates a retriever over one or more catalogs. The
// first catalog answers queries with an empty catalog id.
func NewCatalogRetriever(strongMatch float64, catalogs ...*Catalog) *CatalogRetriever {
	if strongMatch <= 0 || strongMatch > 1 {
		strongMatch = DefaultStrongMatch
	}
	r := &CatalogRetriever{catalogs: make(map[string]*Catalog), strongMatch: strongMatch}
	for _, c := range catalogs {
		if r.defaultID == "" {
			r.defaultID = c.ID
		}
		r.catalogs[c.ID] = c
	}
	return r
}

// Catalog returns a loaded catalog by id.
func (r *CatalogRetriever) Catalog(id string) (*Catalog, bool) {
	if id == "" {
		id = r.defaultID
	}
	c, ok := r.catalogs[id]
	return c, ok
}

// Retrieve implements Retriever. The score is the cosine between the query's
// catalog-vocabulary terms and the category's terms, with the category side
// capped at the query size.
func (r *CatalogRetriever) Retrieve(ctx context.Context, query, catalogID string, topK int) ([]Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "retrieval: retrieve")
	}
	c, ok := r.Catalog(catalogID)
	if !ok {
		return nil, eris.Errorf("retrieval: unknown catalog %q", catalogID)
	}
	if topK <= 0 {
		topK = 3
	}

	q := make(map[string]bool)
	for _, t := range Tokenize(query) {
		if c.vocab[t] {
			q[t] = true
		}
	}
	if len(q) == 0 {
		return nil, nil
	}

	var out []Candidate
	for _, cat := range c.Categories {
		overlap := 0
		for t := range q {
			if cat.terms[t] {
				overlap++
			}
		}
		if overlap == 0 {
			continue
		}
		denom := math.Sqrt(float64(len(q)) * float64(min(len(cat.terms), len(q))))
		score := math.Min(1, float64(overlap)/denom)
		out = append(out, Candidate{
			Category:       cat.Name,
			Type:           cat.Type,
			Score:          score,
			Strength:       r.strength(score),
			PriorityWeight: cat.PriorityWeight,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Category < out[j].Category
	})
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func (r *CatalogRetriever) strength(score float64) Strength {
	switch {
	case score >= r.strongMatch:
		return StrengthStrong
	case score > 0:
		return StrengthWeak
	default:
		return StrengthNone
	}
}

var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "the": true, "of": true, "for": true, "to": true,
	"in": true, "on": true, "by": true, "with": true, "our": true, "we": true, "is": true,
	"are": true, "used": true, "use": true, "from": true, "as": true, "or": true,
}

// Tokenize lowercases, strips accents and splits text into terms. Simple
// plurals are folded onto their singular.
func Tokenize(s string) []string {
	words := strings.FieldsFunc(extract.Normalize(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := words[:0]
	for _, w := range words {
		if stopwords[w] {
			continue
		}
		if len(w) > 3 && strings.HasSuffix(w, "s") && !strings.HasSuffix(w, "ss") {
			w = strings.TrimSuffix(w, "s")
		}
		out = append(out, w)
	}
	return out
}
