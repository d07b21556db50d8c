package kb

import "math/rand"

// LSHOptions configures the random-hyperplane ANN index.
type LSHOptions struct {
	Tables int   `json:"tables"`
	Bits   int   `json:"bits"`
	Seed   int64 `json:"seed"`
}

// DefaultLSHOptions trades a little recall for sub-linear lookups on corpora of tens of thousands of records.
func DefaultLSHOptions() LSHOptions {
	return LSHOptions{Tables: 8, Bits: 12, Seed: 42}
}

func (o LSHOptions) withDefaults() LSHOptions {
	d := DefaultLSHOptions()
	if o.Tables <= 0 {
		o.Tables = d.Tables
	}
	if o.Bits <= 0 || o.Bits > 32 {
		o.Bits = d.Bits
	}
	if o.Seed == 0 {
		o.Seed = d.Seed
	}
	return o
}

// lshIndex buckets unit vectors by the sign pattern of their projections onto random hyperplanes.
// Read-only after construction.
type lshIndex struct {
	opts    LSHOptions
	dims    int
	planes  [][][]float32 // [table][bit][dim]
	buckets []map[uint32][]int
	size    int
}

// newLSHIndex indexes vectors by position; nil vectors are skipped.
func newLSHIndex(vectors [][]float32, dims int, opts LSHOptions) *lshIndex {
	opts = opts.withDefaults()
	rng := rand.New(rand.NewSource(opts.Seed))

	l := &lshIndex{
		opts:    opts,
		dims:    dims,
		planes:  make([][][]float32, opts.Tables),
		buckets: make([]map[uint32][]int, opts.Tables),
	}
	for t := 0; t < opts.Tables; t++ {
		l.planes[t] = make([][]float32, opts.Bits)
		for b := 0; b < opts.Bits; b++ {
			plane := make([]float32, dims)
			for d := range plane {
				plane[d] = float32(rng.NormFloat64())
			}
			l.planes[t][b] = plane
		}
		l.buckets[t] = map[uint32][]int{}
	}

	for pos, v := range vectors {
		if dims == 0 || len(v) != dims {
			continue
		}
		for t := range l.planes {
			key := l.hash(t, v)
			l.buckets[t][key] = append(l.buckets[t][key], pos)
		}
		l.size++
	}
	return l
}

func (l *lshIndex) hash(table int, v []float32) uint32 {
	var key uint32
	for b, plane := range l.planes[table] {
		var dot float32
		for d := range plane {
			dot += plane[d] * v[d]
		}
		if dot >= 0 {
			key |= 1 << uint(b)
		}
	}
	return key
}

func (l *lshIndex) empty() bool {
	return l == nil || l.size == 0
}

// candidates returns the distinct positions sharing a bucket with q in any table.
func (l *lshIndex) candidates(q []float32) []int {
	if l.empty() || len(q) != l.dims {
		return nil
	}
	seen := map[int]struct{}{}
	var out []int
	for t := range l.planes {
		for _, pos := range l.buckets[t][l.hash(t, q)] {
			if _, ok := seen[pos]; ok {
				continue
			}
			seen[pos] = struct{}{}
			out = append(out, pos)
		}
	}
	return out
}
