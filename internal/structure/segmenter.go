package structure

import (
	"container/heap"
	"fmt"

	"github.com/dygy/piano-grep/internal/analysis"
	apperrors "github.com/dygy/piano-grep/internal/errors"
)

// DefaultSegments is the fixed number of sections a track is split into
const DefaultSegments = 8

// Segment is a time window in seconds
type Segment struct {
	Start float64 `json:"start_time"`
	End   float64 `json:"end_time"`
}

// Duration returns the segment length in seconds
func (s Segment) Duration() float64 {
	return s.End - s.Start
}

// Segmenter partitions a track into K contiguous sections by agglomerative
// clustering of adjacent frames
type Segmenter struct {
	K int
}

// NewSegmenter creates a segmenter producing k sections (DefaultSegments when k <= 0)
func NewSegmenter(k int) *Segmenter {
	if k <= 0 {
		k = DefaultSegments
	}
	return &Segmenter{K: k}
}

// Segment returns contiguous segments covering the first to the last frame
// time. Tracks with fewer frames than K+1 get at most frames-1 segments.
func (s *Segmenter) Segment(fs *analysis.FeatureSet) ([]Segment, error) {
	n := fs.Frames()
	if n == 0 {
		return nil, apperrors.NewStageError("segment", fmt.Errorf("%w: feature set has no frames", apperrors.ErrSegmentation))
	}

	bounds := s.Boundaries(fs.Matrix)
	segments := make([]Segment, 0, len(bounds))
	for i := 0; i+1 < len(bounds); i++ {
		segments = append(segments, Segment{
			Start: fs.Clock.Time(bounds[i]),
			End:   fs.Clock.Time(bounds[i+1]),
		})
	}
	return segments, nil
}

// Boundaries returns strictly increasing frame indexes starting at 0 and
// ending at the last frame. Each consecutive pair delimits one segment.
func (s *Segmenter) Boundaries(matrix [][]float64) []int {
	n := len(matrix)
	if n < 2 {
		return []int{0}
	}

	k := min(s.K, n-1)
	bounds := append(clusterStarts(matrix, k), n-1)
	if len(bounds) >= 2 && bounds[len(bounds)-2] == bounds[len(bounds)-1] {
		bounds = bounds[:len(bounds)-1]
	}
	return bounds
}

// cluster is a run of adjacent frames in a doubly linked list
type cluster struct {
	start, count int
	sum          []float64
	prev, next   *cluster
	version      int
	alive        bool
}

func (c *cluster) mean(dim int) float64 {
	return c.sum[dim] / float64(c.count)
}

// wardCost is the increase in within-cluster variance from merging a and b
func wardCost(a, b *cluster) float64 {
	var d float64
	for i := range a.sum {
		diff := a.mean(i) - b.mean(i)
		d += diff * diff
	}
	na, nb := float64(a.count), float64(b.count)
	return na * nb / (na + nb) * d
}

// merge candidate between a cluster and its right neighbour
type candidate struct {
	left, right       *cluster
	leftVer, rightVer int
	cost              float64
	order             int
}

type candidateHeap []candidate

func (h candidateHeap) Len() int { return len(h) }
func (h candidateHeap) Less(i, j int) bool {
	if h[i].cost != h[j].cost {
		return h[i].cost < h[j].cost
	}
	return h[i].order < h[j].order
}
func (h candidateHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *candidateHeap) Push(x any)   { *h = append(*h, x.(candidate)) }
func (h *candidateHeap) Pop() any {
	old := *h
	c := old[len(old)-1]
	*h = old[:len(old)-1]
	return c
}

// clusterStarts merges the cheapest adjacent pair until k clusters remain
// and returns each cluster's first frame. Stale heap entries are skipped by
// comparing versions.
func clusterStarts(matrix [][]float64, k int) []int {
	n := len(matrix)
	var head, prev *cluster
	for i, row := range matrix {
		c := &cluster{start: i, count: 1, sum: append([]float64(nil), row...), alive: true}
		if prev == nil {
			head = c
		} else {
			prev.next = c
			c.prev = prev
		}
		prev = c
	}

	h := &candidateHeap{}
	order := 0
	push := func(a, b *cluster) {
		heap.Push(h, candidate{left: a, right: b, leftVer: a.version, rightVer: b.version, cost: wardCost(a, b), order: order})
		order++
	}
	for c := head; c.next != nil; c = c.next {
		push(c, c.next)
	}

	for remaining := n; remaining > k && h.Len() > 0; {
		cand := heap.Pop(h).(candidate)
		a, b := cand.left, cand.right
		if !a.alive || !b.alive || a.version != cand.leftVer || b.version != cand.rightVer {
			continue
		}

		a.count += b.count
		for i := range a.sum {
			a.sum[i] += b.sum[i]
		}
		a.version++
		a.next = b.next
		if b.next != nil {
			b.next.prev = a
		}
		b.alive = false
		remaining--

		if a.prev != nil {
			push(a.prev, a)
		}
		if a.next != nil {
			push(a, a.next)
		}
	}

	var starts []int
	for c := head; c != nil; c = c.next {
		starts = append(starts, c.start)
	}
	return starts
}
