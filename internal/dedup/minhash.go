package dedup

import (
	"encoding/binary"
	"hash/fnv"
)

// shingleSize is the character n-gram width fed to MinHash.
const shingleSize = 3

// shingles returns the distinct character n-grams of normalized text,
// hashed to 64 bits. Text shorter than one shingle yields a single element.
func shingles(text string) map[uint64]struct{} {
	runes := []rune(text)
	out := make(map[uint64]struct{})
	if len(runes) == 0 {
		return out
	}
	if len(runes) < shingleSize {
		out[hashString(string(runes))] = struct{}{}
		return out
	}
	for i := 0; i+shingleSize <= len(runes); i++ {
		out[hashString(string(runes[i:i+shingleSize]))] = struct{}{}
	}
	return out
}

func hashString(s string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(s)) //nolint:errcheck
	return h.Sum64()
}

// mix is the splitmix64 finalizer.
func mix(x uint64) uint64 {
	x ^= x >> 30
	x *= 0xbf58476d1ce4e5b9
	x ^= x >> 27
	x *= 0x94d049bb133111eb
	x ^= x >> 31
	return x
}

// seeds derives n fixed per-permutation seeds so signatures are stable
// across runs and processes.
func seeds(n int) []uint64 {
	out := make([]uint64, n)
	s := uint64(0x9e3779b97f4a7c15)
	for i := range out {
		s += 0x9e3779b97f4a7c15
		out[i] = mix(s)
	}
	return out
}

// signature is the MinHash of a shingle set under each seeded permutation.
func signature(set map[uint64]struct{}, seeds []uint64) []uint64 {
	sig := make([]uint64, len(seeds))
	for i := range sig {
		sig[i] = ^uint64(0)
	}
	for sh := range set {
		for i, seed := range seeds {
			if v := mix(sh ^ seed); v < sig[i] {
				sig[i] = v
			}
		}
	}
	return sig
}

// bandKey hashes one band of a signature. The band index is part of the key
// so equal rows in different bands never collide.
func bandKey(band int, rows []uint64) uint64 {
	h := fnv.New64a()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(band))
	h.Write(buf[:]) //nolint:errcheck
	for _, r := range rows {
		binary.LittleEndian.PutUint64(buf[:], r)
		h.Write(buf[:]) //nolint:errcheck
	}
	return h.Sum64()
}

// jaccard is the exact similarity of two shingle sets.
func jaccard(a, b map[uint64]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) > len(b) {
		a, b = b, a
	}
	inter := 0
	for k := range a {
		if _, ok := b[k]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// estimate is the MinHash estimate of Jaccard similarity.
func estimate(a, b []uint64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	eq := 0
	for i := range a {
		if a[i] == b[i] {
			eq++
		}
	}
	return float64(eq) / float64(len(a))
}
