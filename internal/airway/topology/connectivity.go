package topology

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/chestlab-data/airway.report/internal/airway"
)

// Evaluator decides pairwise particle connectivity from geometry alone.
// It holds only immutable thresholds and is safe for concurrent use.
type Evaluator struct {
	params airway.ConnectivityParams
}

// NewEvaluator returns an evaluator with the given thresholds.
func NewEvaluator(params airway.ConnectivityParams) Evaluator {
	return Evaluator{params: params}
}

// Connected reports whether a and b belong to the same branch and, when
// they do, the inter-particle distance used as the edge weight.
//
// The tests run cheapest-first: relative scale difference, Euclidean
// distance, then alignment of the connecting vector with each particle's
// minor axis. A zero scale on either particle rejects the pair outright
// rather than dividing by zero.
func (e Evaluator) Connected(a, b airway.Particle) (weight float64, ok bool) {
	maxScale := math.Max(a.Scale, b.Scale)
	if maxScale <= 0 {
		return 0, false
	}
	if math.Abs(a.Scale-b.Scale)/maxScale > e.params.ScaleRatioThreshold {
		return 0, false
	}

	v := r3.Sub(a.Pos, b.Pos)
	dist := r3.Norm(v)
	if dist > e.params.DistanceThreshold {
		return 0, false
	}

	if AngleBetweenDeg(v, a.MinorAxis) > e.params.AngleThresholdDeg ||
		AngleBetweenDeg(v, b.MinorAxis) > e.params.AngleThresholdDeg {
		return 0, false
	}

	return dist, true
}

// AngleBetweenDeg returns the unsigned angle in degrees between v and an
// undirected axis, folded into [0,90]: the axis and its negation are the
// same physical orientation, so angles past 90° reflect back. Either
// vector having zero length yields 0, so coincident particles still pass
// the alignment test.
func AngleBetweenDeg(v, axis r3.Vec) float64 {
	nv := r3.Norm(v)
	na := r3.Norm(axis)
	if nv == 0 || na == 0 {
		return 0
	}
	cos := math.Abs(r3.Dot(v, axis)) / (nv * na)
	if cos > 1 {
		cos = 1 // clamp rounding noise before Acos
	}
	return math.Acos(cos) * 180 / math.Pi
}

// CandidateEdge is an accepted undirected connection between two
// particles, identified by their indices into the input set. Weight is
// the inter-particle distance.
type CandidateEdge struct {
	A, B   int
	Weight float64
}

// gridIndex buckets particle indices into cubic cells so candidate edge
// generation only examines pairs within one distance threshold of each
// other instead of all n² pairs.
type gridIndex struct {
	cellSize float64
	cells    map[gridCell][]int
}

type gridCell struct {
	X, Y, Z int64
}

func newGridIndex(particles []airway.Particle, cellSize float64) *gridIndex {
	gi := &gridIndex{
		cellSize: cellSize,
		cells:    make(map[gridCell][]int, len(particles)/4+1),
	}
	for i, p := range particles {
		c := gi.cellOf(p.Pos)
		gi.cells[c] = append(gi.cells[c], i)
	}
	return gi
}

func (gi *gridIndex) cellOf(p r3.Vec) gridCell {
	return gridCell{
		X: int64(math.Floor(p.X / gi.cellSize)),
		Y: int64(math.Floor(p.Y / gi.cellSize)),
		Z: int64(math.Floor(p.Z / gi.cellSize)),
	}
}

// neighbors visits every particle index in the 3×3×3 cell neighborhood
// of p, including p's own cell.
func (gi *gridIndex) neighbors(p r3.Vec, visit func(idx int)) {
	base := gi.cellOf(p)
	for dx := int64(-1); dx <= 1; dx++ {
		for dy := int64(-1); dy <= 1; dy++ {
			for dz := int64(-1); dz <= 1; dz++ {
				c := gridCell{base.X + dx, base.Y + dy, base.Z + dz}
				for _, idx := range gi.cells[c] {
					visit(idx)
				}
			}
		}
	}
}

// CandidateEdges evaluates connectivity over all spatially plausible
// pairs and returns the accepted edges sorted by (weight, A, B) so that
// downstream tree construction is deterministic.
func CandidateEdges(particles []airway.Particle, eval Evaluator) []CandidateEdge {
	if len(particles) == 0 {
		return nil
	}

	gi := newGridIndex(particles, eval.params.DistanceThreshold)

	var edges []CandidateEdge
	for i := range particles {
		gi.neighbors(particles[i].Pos, func(j int) {
			if j <= i {
				return // each unordered pair once
			}
			if w, ok := eval.Connected(particles[i], particles[j]); ok {
				edges = append(edges, CandidateEdge{A: i, B: j, Weight: w})
			}
		})
	}

	// Weight first, endpoint indices as tie-breakers, so equal-weight
	// edges always enter tree construction in the same order.
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Weight != edges[j].Weight {
			return edges[i].Weight < edges[j].Weight
		}
		if edges[i].A != edges[j].A {
			return edges[i].A < edges[j].A
		}
		return edges[i].B < edges[j].B
	})
	return edges
}
