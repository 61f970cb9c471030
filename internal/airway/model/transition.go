package model

import (
	"fmt"
	"math"

	"github.com/chestlab-data/airway.report/internal/airway"
)

// MinTransitionSamples is the training-sample count a per-pair Gaussian
// transition statistic must exceed to be installed. At or below this the
// fit is too unreliable and the pair falls back to the default.
const MinTransitionSamples = 10

// DefaultTransitionProbability is the uninformative fallback for state
// pairs with no installed model.
const DefaultTransitionProbability = 1.0 / airway.NumStates

// EdgeFeatures are the observed geometric quantities along one directed
// tree edge, consumed by the Gaussian transition model.
type EdgeFeatures struct {
	// ScaleDiff is parent scale minus child scale; airways narrow with
	// depth, so it is usually positive.
	ScaleDiff float64

	// AngleDeg is the folded angle between the parent and child minor
	// axes, in [0,90].
	AngleDeg float64
}

// EdgeFeaturesBetween measures the features of a parent→child edge.
func EdgeFeaturesBetween(parent, child airway.Particle) EdgeFeatures {
	return EdgeFeatures{
		ScaleDiff: parent.Scale - child.Scale,
		AngleDeg:  foldedAngleDeg(parent.MinorAxis, child.MinorAxis),
	}
}

// TransitionModel scores a parent→child state change along a tree edge.
// Implementations are safe for concurrent use after construction.
type TransitionModel interface {
	Transition(from, to airway.Generation, edge EdgeFeatures) float64
}

// TableTransition looks transitions up in a fixed state×state matrix and
// ignores the observed edge geometry.
type TableTransition struct {
	probs [airway.NumStates][airway.NumStates]float64
}

// NewTableTransition builds a lookup model from a row-major matrix with
// rows = from-state, columns = to-state. Eleven rows/columns (the
// generation states only, as the statistics generator writes them) are
// accepted alongside the full twelve; the missing undefined row and
// column are filled with the default probability.
func NewTableTransition(matrix [][]float64) (*TableTransition, error) {
	n := len(matrix)
	if n != airway.NumStates && n != airway.NumStates-1 {
		return nil, fmt.Errorf("transition matrix has %d rows, want %d or %d", n, airway.NumStates-1, airway.NumStates)
	}

	t := &TableTransition{}
	for i := range t.probs {
		for j := range t.probs[i] {
			t.probs[i][j] = DefaultTransitionProbability
		}
	}
	for i, row := range matrix {
		if len(row) != n {
			return nil, fmt.Errorf("transition matrix row %d has %d columns, want %d", i, len(row), n)
		}
		for j, p := range row {
			if p < 0 || math.IsNaN(p) {
				return nil, fmt.Errorf("transition matrix entry [%d][%d] = %v is not a probability", i, j, p)
			}
			t.probs[i][j] = p
		}
	}
	return t, nil
}

// Transition returns the table entry for the pair.
func (t *TableTransition) Transition(from, to airway.Generation, _ EdgeFeatures) float64 {
	return math.Max(t.probs[from][to], LikelihoodFloor)
}

// TransitionStats holds the learned Gaussian parameters of one ordered
// state pair, measured at branch points in the training atlases.
type TransitionStats struct {
	ScaleDiffMean float64
	ScaleDiffStd  float64
	AngleMean     float64
	AngleStd      float64
	Samples       int
}

// StatePair is an ordered (from, to) key into the transition statistics.
type StatePair struct {
	From, To airway.Generation
}

// GaussianTransition scores a transition by how well the observed edge
// geometry fits the learned per-pair normals. Pairs without enough
// training support are never installed and score the default.
type GaussianTransition struct {
	pairs       map[StatePair]TransitionStats
	defaultProb float64
}

// NewGaussianTransition installs every statistic with more than
// MinTransitionSamples training rows; the rest are dropped so queries
// fall through to defaultProb. A non-positive defaultProb selects
// DefaultTransitionProbability.
func NewGaussianTransition(stats map[StatePair]TransitionStats, defaultProb float64) *GaussianTransition {
	if defaultProb <= 0 {
		defaultProb = DefaultTransitionProbability
	}
	installed := make(map[StatePair]TransitionStats, len(stats))
	for pair, st := range stats {
		if st.Samples <= MinTransitionSamples {
			continue
		}
		installed[pair] = st
	}
	return &GaussianTransition{pairs: installed, defaultProb: defaultProb}
}

// Installed reports whether the ordered pair has a fitted model, which
// is what distinguishes a learned score from the fallback.
func (g *GaussianTransition) Installed(from, to airway.Generation) bool {
	_, ok := g.pairs[StatePair{From: from, To: to}]
	return ok
}

// Transition evaluates the pair's normals at the observed edge features.
func (g *GaussianTransition) Transition(from, to airway.Generation, edge EdgeFeatures) float64 {
	st, ok := g.pairs[StatePair{From: from, To: to}]
	if !ok {
		return g.defaultProb
	}
	likelihood := normProb(edge.ScaleDiff, st.ScaleDiffMean, st.ScaleDiffStd) *
		normProb(edge.AngleDeg, st.AngleMean, st.AngleStd)
	return math.Max(likelihood, LikelihoodFloor)
}

// UniformTransition scores every transition identically; with it, the
// labeling outcome is driven entirely by the emission model.
type UniformTransition struct{}

func (UniformTransition) Transition(airway.Generation, airway.Generation, EdgeFeatures) float64 {
	return DefaultTransitionProbability
}
