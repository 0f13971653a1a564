package brick

import (
	"github.com/chewxy/math32"
)

// FNV-1a constants, with the golden-ratio combiner used to fold the
// quantized samples into the running hash.
const (
	fnvOffset64 uint64 = 14695981039346656037
	fnvPrime64  uint64 = 1099511628211
	hashMagic   uint64 = 0x9e3779b97f4a7c15
)

func hashCombine(h1, h2 uint64) uint64 {
	return h1 ^ (h2 + hashMagic + h1<<6 + h1>>2)
}

// fnv1a folds the 8 bytes of v into h.
func fnv1a(h, v uint64) uint64 {
	for i := 0; i < 8; i++ {
		h ^= v >> (8 * i) & 0xff
		h *= fnvPrime64
	}
	return h
}

// contentHash buckets bricks by their samples quantized to the
// compression tolerance. Bricks within tolerance of each other usually
// land in the same bucket; quantization boundaries can separate them,
// which the verification pass below compensates for with a full scan.
func contentHash(samples []float32, tol float32) uint64 {
	h := fnvOffset64
	if tol <= 0 {
		for _, s := range samples {
			h = hashCombine(h, fnv1a(fnvOffset64, uint64(math32.Float32bits(s))))
		}
		return h
	}
	inv := 1 / tol
	for _, s := range samples {
		q := int64(math32.Round(s * inv))
		h = hashCombine(h, fnv1a(fnvOffset64, uint64(q)))
	}
	return h
}

// bricksEqualWithin compares two sample sets element-wise.
func bricksEqualWithin(a, b []float32, tol float32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if math32.Abs(a[i]-b[i]) > tol {
			return false
		}
	}
	return true
}

// Compress deduplicates bricks whose samples agree within
// CompressTolerance everywhere, in ID order: the earliest brick of a
// group keeps the storage and later members point at it. Hash buckets
// provide the fast path; a miss falls back to scanning the canonical
// set so near-tolerance pairs straddling a quantization boundary still
// merge. Running Compress on an already compressed map is a no-op.
func (m *Map) Compress() {
	if !m.built {
		return
	}
	tol := m.settings.CompressTolerance
	buckets := make(map[uint64][]int32)
	var canonicals []int32
	for i := range m.bricks {
		b := &m.bricks[i]
		if b.CompressionID != 0 {
			continue
		}
		h := contentHash(b.Samples, tol)
		matched := false
		for _, cid := range buckets[h] {
			if bricksEqualWithin(b.Samples, m.bricks[cid-1].Samples, tol) {
				b.CompressionID = cid
				b.Samples = nil
				matched = true
				break
			}
		}
		if !matched {
			for _, cid := range canonicals {
				if bricksEqualWithin(b.Samples, m.bricks[cid-1].Samples, tol) {
					b.CompressionID = cid
					b.Samples = nil
					matched = true
					break
				}
			}
		}
		if !matched {
			buckets[h] = append(buckets[h], b.ID)
			canonicals = append(canonicals, b.ID)
		}
	}
}
