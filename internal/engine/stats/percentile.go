package stats

import (
	"math"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
)

// maxBuckets bounds the memory of a merged summary. Beyond it, neighbouring
// buckets are folded into the upper one so the maximum stays exact.
const maxBuckets = 2048

type bucket struct {
	value int
	count int
}

// summary is an immutable merged view, swapped atomically on Merge.
type summary struct {
	buckets     []bucket
	count       int
	totalCount  int
	periodPoint []int
}

// Percentile is a streaming quantile estimator.
//
// AddPoint appends to an active buffer. Merge folds the active buffer into
// the summary used by queries. Queries never see samples added after the
// last Merge. AddPoint and the query methods may run concurrently; Merge,
// Reset and other Merge calls must not.
type Percentile struct {
	mu     sync.Mutex
	active []int
	merged atomic.Pointer[summary]
}

func (p *Percentile) load() *summary {
	if s := p.merged.Load(); s != nil {
		return s
	}
	return &summary{}
}

// AddPoint records one sample.
func (p *Percentile) AddPoint(value int) {
	p.mu.Lock()
	p.active = append(p.active, value)
	p.mu.Unlock()
}

// Merge publishes every sample added since the previous Merge.
func (p *Percentile) Merge() {
	p.mu.Lock()
	active := p.active
	p.active = nil
	p.mu.Unlock()

	prev := p.load()
	if len(active) == 0 && p.merged.Load() != nil {
		return
	}
	slices.Sort(active)

	next := &summary{
		buckets:     mergeBuckets(prev.buckets, active),
		count:       prev.count + len(active),
		totalCount:  prev.totalCount + len(active),
		periodPoint: append(slices.Clip(prev.periodPoint), active...),
	}
	p.merged.Store(next)
}

func mergeBuckets(buckets []bucket, sorted []int) []bucket {
	out := make([]bucket, 0, len(buckets)+len(sorted))
	i, j := 0, 0
	push := func(v, c int) {
		if n := len(out); n > 0 && out[n-1].value == v {
			out[n-1].count += c
			return
		}
		out = append(out, bucket{value: v, count: c})
	}
	for i < len(buckets) || j < len(sorted) {
		if j >= len(sorted) || (i < len(buckets) && buckets[i].value <= sorted[j]) {
			push(buckets[i].value, buckets[i].count)
			i++
		} else {
			push(sorted[j], 1)
			j++
		}
	}
	for len(out) > maxBuckets {
		out = compact(out)
	}
	return out
}

// compact halves the number of buckets, keeping the upper value of each pair.
func compact(buckets []bucket) []bucket {
	out := make([]bucket, 0, (len(buckets)+1)/2)
	for i := 0; i < len(buckets); i += 2 {
		if i+1 == len(buckets) {
			out = append(out, buckets[i])
			break
		}
		out = append(out, bucket{value: buckets[i+1].value, count: buckets[i].count + buckets[i+1].count})
	}
	return out
}

// GetPercentile returns the nearest-rank percentile p (0..1) of merged samples.
// It returns 0 when nothing was merged.
func (p *Percentile) GetPercentile(pct float64) int {
	s := p.load()
	if s.totalCount == 0 || len(s.buckets) == 0 {
		return 0
	}
	n := 0
	for _, b := range s.buckets {
		n += b.count
	}
	rank := int(math.Ceil(pct * float64(n)))
	rank = min(max(rank, 1), n)
	seen := 0
	for _, b := range s.buckets {
		seen += b.count
		if seen >= rank {
			return b.value
		}
	}
	return s.buckets[len(s.buckets)-1].value
}

// GetPercentileStr renders the percentile as milliseconds.
func (p *Percentile) GetPercentileStr(pct float64) string {
	return strconv.Itoa(p.GetPercentile(pct)) + "ms"
}

// GetCount returns the number of samples merged during the current period.
func (p *Percentile) GetCount() int {
	return p.load().count
}

// GetTotalCount returns the number of samples merged since the last total reset.
func (p *Percentile) GetTotalCount() int {
	return p.load().totalCount
}

// Points returns the samples merged during the current period.
func (p *Percentile) Points() []int {
	return slices.Clone(p.load().periodPoint)
}

// Reset drops unmerged samples and the current period. With resetTotal the
// merged distribution and lifetime count are dropped as well.
func (p *Percentile) Reset(resetTotal bool) {
	p.mu.Lock()
	p.active = nil
	p.mu.Unlock()

	if resetTotal {
		p.merged.Store(&summary{})
		return
	}
	prev := p.load()
	p.merged.Store(&summary{buckets: prev.buckets, totalCount: prev.totalCount})
}
