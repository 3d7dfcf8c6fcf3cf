package locate

import (
	"errors"
	"fmt"
	"log"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/mds"
)

// isomap embeds points by running classical MDS on geodesic distances
// measured along their k-nearest-neighbour graph.
type isomap struct {
	// neighbors is used by transform, where the query is not itself a sample.
	neighbors  int
	components int

	index     *neighbourIndex
	geodesic  *mat.SymDense
	embedding *mat.Dense // n x components
	// eigen holds the variance of each embedding column; zero for padded columns.
	eigen []float64
	// meanSq is the column mean of the squared geodesic distance matrix.
	meanSq []float64
}

// minEigenvalue discards MDS axes that carry no real variance
const minEigenvalue = 1e-9

func fitIsomap(data [][]float64, neighbors, components int) (*isomap, error) {
	n := len(data)
	if n < 2 {
		return nil, fmt.Errorf("isomap needs at least 2 samples, got %d", n)
	}
	k := min(neighbors, n-1)
	index := newNeighbourIndex(data)

	g := simple.NewWeightedUndirectedGraph(0, math.Inf(1))
	for i := 0; i < n; i++ {
		g.AddNode(simple.Node(i))
	}
	for i, v := range data {
		// k+1 because the query point usually finds itself first
		for _, nb := range index.nearest(v, k+1) {
			if nb.index == i {
				continue
			}
			g.SetWeightedEdge(g.NewWeightedEdge(simple.Node(i), simple.Node(nb.index), nb.dist))
		}
	}

	if joined := joinComponents(g, data); joined > 1 {
		log.Printf("Warning: neighbourhood graph had %d components, joined through their closest samples; consider more neighbors", joined)
	}

	paths := path.DijkstraAllPaths(g)
	geodesic := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			w := paths.Weight(int64(i), int64(j))
			if math.IsInf(w, 1) {
				return nil, fmt.Errorf("neighbourhood graph is disconnected (samples %d and %d)", i, j)
			}
			geodesic.SetSym(i, j, w)
		}
	}

	var coords mat.Dense
	mds.TorgersonScaling(&coords, make([]float64, n), geodesic)
	if coords.IsEmpty() {
		return nil, errors.New("multidimensional scaling failed")
	}
	_, available := coords.Dims()

	embedding := mat.NewDense(n, components, nil)
	eigen := make([]float64, components)
	col := make([]float64, n)
	for c := 0; c < components && c < available; c++ {
		mat.Col(col, c, &coords)
		var norm float64
		for _, v := range col {
			norm += v * v
		}
		if norm < minEigenvalue {
			break
		}
		embedding.SetCol(c, col)
		eigen[c] = norm
	}

	meanSq := make([]float64, n)
	for j := 0; j < n; j++ {
		var sum float64
		for i := 0; i < n; i++ {
			d := geodesic.At(i, j)
			sum += d * d
		}
		meanSq[j] = sum / float64(n)
	}

	return &isomap{
		neighbors:  min(neighbors, n),
		components: components,
		index:      index,
		geodesic:   geodesic,
		embedding:  embedding,
		eigen:      eigen,
		meanSq:     meanSq,
	}, nil
}

// joinComponents links every pair of connected components by an edge
// between their closest samples and returns the number of components found.
// Ties keep the lowest sample indices.
func joinComponents(g *simple.WeightedUndirectedGraph, data [][]float64) int {
	comps := topo.ConnectedComponents(g)
	if len(comps) < 2 {
		return len(comps)
	}

	ids := make([][]int, len(comps))
	for c, nodes := range comps {
		for _, nd := range nodes {
			ids[c] = append(ids[c], int(nd.ID()))
		}
		sort.Ints(ids[c])
	}
	sort.Slice(ids, func(a, b int) bool { return ids[a][0] < ids[b][0] })

	for a := 0; a < len(ids); a++ {
		for b := a + 1; b < len(ids); b++ {
			bi, bj, best := -1, -1, math.Inf(1)
			for _, i := range ids[a] {
				for _, j := range ids[b] {
					if d := floats.Distance(data[i], data[j], 2); d < best {
						bi, bj, best = i, j, d
					}
				}
			}
			g.SetWeightedEdge(g.NewWeightedEdge(simple.Node(bi), simple.Node(bj), best))
		}
	}
	return len(comps)
}

// coordinates returns the embedding of training sample i
func (im *isomap) coordinates(i int) []float64 {
	return mat.Row(nil, i, im.embedding)
}

// transform places a new point using the landmark MDS triangulation:
// geodesic distances to all training samples are approximated through the
// point's nearest neighbours and mapped through the pseudo-inverse of the
// training embedding.
func (im *isomap) transform(x []float64) []float64 {
	n, _ := im.embedding.Dims()
	nbs := im.index.nearest(x, im.neighbors)

	delta := make([]float64, n)
	for j := 0; j < n; j++ {
		best := math.Inf(1)
		for _, nb := range nbs {
			if d := nb.dist + im.geodesic.At(nb.index, j); d < best {
				best = d
			}
		}
		delta[j] = best*best - im.meanSq[j]
	}

	out := make([]float64, im.components)
	for c := 0; c < im.components; c++ {
		if im.eigen[c] == 0 {
			continue
		}
		var sum float64
		for j := 0; j < n; j++ {
			sum += im.embedding.At(j, c) * delta[j]
		}
		out[c] = -0.5 * sum / im.eigen[c]
	}
	return out
}
