// Package dedup merges near-duplicate raw items using MinHash signatures
// bucketed by locality-sensitive hashing.
package dedup

import (
	"sort"

	"go.uber.org/zap"

	"github.com/sells-group/catalog-ingest/internal/config"
	"github.com/sells-group/catalog-ingest/internal/extract"
	"github.com/sells-group/catalog-ingest/internal/model"
)

// Defaults for the deduplicator.
const (
	DefaultThreshold = 0.85
	DefaultNumHashes = 128
	DefaultBands     = 32
)

// Group describes one merge: the kept item and the items folded into it.
type Group struct {
	Kept       string   `json:"kept"`
	Merged     []string `json:"merged"`
	Similarity float64  `json:"similarity"`
}

// Result is the deduplicated item list in document order.
type Result struct {
	Items             []model.RawExtractedItem `json:"items"`
	DuplicatesRemoved int                      `json:"duplicates_removed"`
	Groups            []Group                  `json:"groups,omitempty"`
}

// Deduplicator finds items whose shingle similarity reaches Threshold.
type Deduplicator struct {
	threshold float64
	bands     int
	rows      int
	seeds     []uint64
}

// New creates a Deduplicator. NumHashes is rounded down to a multiple of
// Bands.
func New(cfg config.DedupConfig) *Deduplicator {
	if cfg.Threshold <= 0 || cfg.Threshold > 1 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.NumHashes <= 0 {
		cfg.NumHashes = DefaultNumHashes
	}
	if cfg.Bands <= 0 || cfg.Bands > cfg.NumHashes {
		cfg.Bands = DefaultBands
		if cfg.Bands > cfg.NumHashes {
			cfg.Bands = cfg.NumHashes
		}
	}
	rows := cfg.NumHashes / cfg.Bands
	return &Deduplicator{
		threshold: cfg.Threshold,
		bands:     cfg.Bands,
		rows:      rows,
		seeds:     seeds(rows * cfg.Bands),
	}
}

type entry struct {
	item  model.RawExtractedItem
	set   map[uint64]struct{}
	sig   []uint64
	empty bool
}

// Dedupe merges near-duplicates. The winner of each group is the item with
// the most populated fields, earliest in document order on ties; it absorbs
// the duplicate counts and chunk ids of the others. Running Dedupe on its
// own output merges nothing.
func (d *Deduplicator) Dedupe(items []model.RawExtractedItem) *Result {
	res := &Result{}
	if len(items) == 0 {
		return res
	}

	entries := make([]entry, len(items))
	for i, it := range items {
		text := extract.Normalize(it.Text())
		e := entry{item: it, empty: text == ""}
		if !e.empty {
			e.set = shingles(text)
			e.sig = signature(e.set, d.seeds)
		}
		entries[i] = e
	}

	uf := newUnionFind(len(entries))
	best := make(map[int]float64)
	seen := make(map[[2]int]bool)
	for b := 0; b < d.bands; b++ {
		buckets := make(map[uint64][]int)
		for i, e := range entries {
			if e.empty {
				continue
			}
			k := bandKey(b, e.sig[b*d.rows:(b+1)*d.rows])
			buckets[k] = append(buckets[k], i)
		}
		for _, members := range buckets {
			for x := 0; x < len(members); x++ {
				for y := x + 1; y < len(members); y++ {
					pair := [2]int{members[x], members[y]}
					if seen[pair] {
						continue
					}
					seen[pair] = true
					sim := jaccard(entries[pair[0]].set, entries[pair[1]].set)
					if sim < d.threshold {
						continue
					}
					uf.union(pair[0], pair[1])
					for _, i := range pair {
						if sim > best[i] {
							best[i] = sim
						}
					}
				}
			}
		}
	}

	components := make(map[int][]int)
	for i := range entries {
		r := uf.find(i)
		components[r] = append(components[r], i)
	}

	for _, members := range components {
		winner := members[0]
		for _, i := range members[1:] {
			if better(entries[i].item, entries[winner].item) {
				winner = i
			}
		}
		kept := entries[winner].item
		if len(members) > 1 {
			g := Group{Kept: kept.Name}
			for _, i := range members {
				if i == winner {
					continue
				}
				lost := entries[i].item
				kept.DuplicateCount += 1 + lost.DuplicateCount
				kept.MergedChunkIDs = appendUnique(kept.MergedChunkIDs, lost.SourceChunkID)
				for _, id := range lost.MergedChunkIDs {
					kept.MergedChunkIDs = appendUnique(kept.MergedChunkIDs, id)
				}
				g.Merged = append(g.Merged, lost.Name)
				if best[i] > g.Similarity {
					g.Similarity = best[i]
				}
				res.DuplicatesRemoved++
			}
			res.Groups = append(res.Groups, g)
		}
		res.Items = append(res.Items, kept)
	}

	sort.SliceStable(res.Items, func(i, j int) bool { return res.Items[i].Order < res.Items[j].Order })
	sort.Slice(res.Groups, func(i, j int) bool { return res.Groups[i].Kept < res.Groups[j].Kept })

	if res.DuplicatesRemoved > 0 {
		zap.L().Info("dedup: merged near-duplicates",
			zap.Int("input", len(items)),
			zap.Int("output", len(res.Items)),
			zap.Int("removed", res.DuplicatesRemoved),
		)
	}
	return res
}

// Similarity is the MinHash estimate for two items, mainly for diagnostics.
func (d *Deduplicator) Similarity(a, b model.RawExtractedItem) float64 {
	sa := signature(shingles(extract.Normalize(a.Text())), d.seeds)
	sb := signature(shingles(extract.Normalize(b.Text())), d.seeds)
	return estimate(sa, sb)
}

func better(a, b model.RawExtractedItem) bool {
	pa, pb := a.PopulatedFields(), b.PopulatedFields()
	if pa != pb {
		return pa > pb
	}
	return a.Order < b.Order
}

func appendUnique(list []string, s string) []string {
	if s == "" {
		return list
	}
	for _, x := range list {
		if x == s {
			return list
		}
	}
	return append(list, s)
}

type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	p := make([]int, n)
	for i := range p {
		p[i] = i
	}
	return &unionFind{parent: p}
}

func (u *unionFind) find(i int) int {
	for u.parent[i] != i {
		u.parent[i] = u.parent[u.parent[i]]
		i = u.parent[i]
	}
	return i
}

// union keeps the smaller index as root so component ids are stable.
func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	if rb < ra {
		ra, rb = rb, ra
	}
	u.parent[rb] = ra
}
