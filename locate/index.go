package locate

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/kdtree"
)

// sample is a vector tagged with its row in the data it was indexed from.
// Queries use index -1.
type sample struct {
	vec   []float64
	index int
}

func (s sample) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(sample)
	return s.vec[d] - q.vec[d]
}

func (s sample) Dims() int { return len(s.vec) }

// Distance returns the squared Euclidean distance, as kdtree keepers expect.
func (s sample) Distance(c kdtree.Comparable) float64 {
	q := c.(sample)
	var sum float64
	for i, v := range s.vec {
		d := v - q.vec[i]
		sum += d * d
	}
	return sum
}

type samples []sample

func (s samples) Index(i int) kdtree.Comparable         { return s[i] }
func (s samples) Len() int                              { return len(s) }
func (s samples) Pivot(d kdtree.Dim) int                { return samplePlane{Dim: d, samples: s}.Pivot() }
func (s samples) Slice(start, end int) kdtree.Interface { return s[start:end] }

// samplePlane sorts samples along one dimension for median partitioning
type samplePlane struct {
	kdtree.Dim
	samples
}

func (p samplePlane) Less(i, j int) bool {
	return p.samples[i].vec[p.Dim] < p.samples[j].vec[p.Dim]
}
func (p samplePlane) Pivot() int { return kdtree.Partition(p, kdtree.MedianOfMedians(p)) }
func (p samplePlane) Slice(start, end int) kdtree.SortSlicer {
	p.samples = p.samples[start:end]
	return p
}
func (p samplePlane) Swap(i, j int) {
	p.samples[i], p.samples[j] = p.samples[j], p.samples[i]
}

// neighbour is a query hit: the indexed row and its Euclidean distance
type neighbour struct {
	index int
	dist  float64
}

// neighbourIndex answers k-nearest and fixed-radius queries over a set of
// equal-length vectors. It is read-only once built.
type neighbourIndex struct {
	tree *kdtree.Tree
	n    int
	dims int
}

func newNeighbourIndex(vectors [][]float64) *neighbourIndex {
	pts := make(samples, len(vectors))
	for i, v := range vectors {
		pts[i] = sample{vec: v, index: i}
	}
	dims := 0
	if len(vectors) > 0 {
		dims = len(vectors[0])
	}
	return &neighbourIndex{
		tree: kdtree.New(pts, false),
		n:    len(vectors),
		dims: dims,
	}
}

// nearest returns up to k neighbours of q ordered by increasing distance
func (ix *neighbourIndex) nearest(q []float64, k int) []neighbour {
	if k > ix.n {
		k = ix.n
	}
	if k <= 0 {
		return nil
	}
	keeper := kdtree.NewNKeeper(k)
	ix.tree.NearestSet(keeper, sample{vec: q, index: -1})
	return collectNeighbours(keeper.Heap)
}

// within returns every neighbour of q at distance <= radius
func (ix *neighbourIndex) within(q []float64, radius float64) []neighbour {
	if ix.n == 0 {
		return nil
	}
	keeper := kdtree.NewDistKeeper(radius * radius)
	ix.tree.NearestSet(keeper, sample{vec: q, index: -1})
	return collectNeighbours(keeper.Heap)
}

// collectNeighbours drops the keeper sentinel and sorts hits by distance,
// then by index so equal distances resolve the same way every time.
func collectNeighbours(h kdtree.Heap) []neighbour {
	out := make([]neighbour, 0, len(h))
	for _, cd := range h {
		if cd.Comparable == nil {
			continue
		}
		out = append(out, neighbour{
			index: cd.Comparable.(sample).index,
			dist:  math.Sqrt(cd.Dist),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].dist != out[j].dist {
			return out[i].dist < out[j].dist
		}
		return out[i].index < out[j].index
	})
	return out
}

// majorityLabel votes over neighbours sorted by distance. A tie goes to
// the label whose closest member ranks first.
func majorityLabel(nbs []neighbour, labels []string) string {
	counts := make(map[string]int)
	firstRank := make(map[string]int)
	for rank, nb := range nbs {
		l := labels[nb.index]
		if _, seen := firstRank[l]; !seen {
			firstRank[l] = rank
		}
		counts[l]++
	}

	best := ""
	bestCount := -1
	bestRank := math.MaxInt
	for l, c := range counts {
		r := firstRank[l]
		if c > bestCount || (c == bestCount && r < bestRank) {
			best, bestCount, bestRank = l, c, r
		}
	}
	return best
}
