// Package label assigns generation states to airway particles by running
// a tree-structured Viterbi pass over each rooted tree, scoring states
// with an emission model and state changes with a transition model.
package label

import (
	"math"
	"runtime"
	"sync"

	"github.com/chestlab-data/airway.report/internal/airway"
	"github.com/chestlab-data/airway.report/internal/airway/model"
	"github.com/chestlab-data/airway.report/internal/airway/topology"
	"github.com/chestlab-data/airway.report/internal/monitoring"
)

// Result is the outcome of labeling one particle set.
type Result struct {
	// Labels holds one state per particle, indexed like the input set.
	Labels []airway.Generation

	// Unsupported lists particles that had no usable emission support
	// for any state and were labeled undefined. Reported, not fatal.
	Unsupported []int
}

// Engine labels rooted trees independently. The models must be fully
// constructed before labeling begins; the engine never mutates them.
type Engine struct {
	emission   model.EmissionModel
	transition model.TransitionModel
	prior      [airway.NumStates]float64

	// workers bounds per-tree parallelism. Trees share no mutable
	// state, so the only discipline needed is one writer per particle.
	workers int
}

// Option adjusts engine construction.
type Option func(*Engine)

// WithWorkers caps the number of trees labeled concurrently.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithPrior replaces the uniform root prior. The slice is indexed by
// state; entries are normalized relative weights.
func WithPrior(prior []float64) Option {
	return func(e *Engine) {
		for s := 0; s < airway.NumStates && s < len(prior); s++ {
			e.prior[s] = prior[s]
		}
	}
}

// TracheaRootPrior forces tree roots toward generation 0, for particle
// sets known to contain the trachea.
func TracheaRootPrior() []float64 {
	prior := make([]float64, airway.NumStates)
	for i := range prior {
		prior[i] = model.LikelihoodFloor
	}
	prior[airway.Gen0] = 1
	return prior
}

// NewEngine builds a labeling engine around the given models.
func NewEngine(em model.EmissionModel, tr model.TransitionModel, opts ...Option) *Engine {
	e := &Engine{
		emission:   em,
		transition: tr,
		workers:    runtime.GOMAXPROCS(0),
	}
	for i := range e.prior {
		e.prior[i] = 1.0 / airway.NumStates
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// LabelForest labels every tree and collects the per-particle states.
// Trees are processed by a bounded worker pool; each particle belongs to
// exactly one tree, so label writes never collide. A failure to support
// one tree's particles never disturbs the others.
func (e *Engine) LabelForest(particles []airway.Particle, trees []topology.Tree) Result {
	res := Result{Labels: make([]airway.Generation, len(particles))}
	for i := range res.Labels {
		res.Labels[i] = airway.GenUndefined
	}

	type treeOutcome struct {
		labels      map[int]airway.Generation
		unsupported []int
	}
	outcomes := make([]treeOutcome, len(trees))

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < e.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ti := range jobs {
				labels, unsupported := e.labelTree(particles, &trees[ti])
				outcomes[ti] = treeOutcome{labels: labels, unsupported: unsupported}
			}
		}()
	}
	for ti := range trees {
		jobs <- ti
	}
	close(jobs)
	wg.Wait()

	for _, out := range outcomes {
		for idx, g := range out.labels {
			res.Labels[idx] = g
		}
		res.Unsupported = append(res.Unsupported, out.unsupported...)
	}
	for _, idx := range res.Unsupported {
		monitoring.Logf("label: particle %d has no emission support for any state; labeling undefined", idx)
	}
	return res
}

// logFloor guards log-space scores against exact zeros: a state with no
// support stays representable and comparable rather than collapsing
// every downstream path to -Inf.
var logFloor = math.Log(model.LikelihoodFloor)

func logProb(p float64) float64 {
	if p < model.LikelihoodFloor {
		return logFloor
	}
	return math.Log(p)
}

// labelTree runs the generalized Viterbi recursion over one tree.
//
// Scores are joint log-probabilities of the best root-to-node state
// assignment ending in each state, filled in a single root-to-leaves
// pass (tree.Nodes is breadth-first, so a parent's scores always exist
// before its children's). Backtracking happens per leaf; ancestors
// shared between leaves keep the state claimed by the first (most
// breadth-first) leaf. State ties always resolve toward the smaller
// generation.
//
// Monotonic non-decreasing generations are not enforced here; the
// transition models carry that preference.
func (e *Engine) labelTree(particles []airway.Particle, tree *topology.Tree) (map[int]airway.Generation, []int) {
	n := tree.Size()
	scores := make(map[int]*[airway.NumStates]float64, n)
	backptr := make(map[int]*[airway.NumStates]airway.Generation, n)
	unsupported := make(map[int]bool)

	for _, node := range tree.Nodes {
		var nodeScores [airway.NumStates]float64
		var nodeBack [airway.NumStates]airway.Generation

		emit, anySupport := e.emissions(particles[node])
		if !anySupport {
			unsupported[node] = true
		}

		parent, hasParent := tree.Parent[node]
		if !hasParent {
			for s := range nodeScores {
				nodeScores[s] = logProb(e.prior[s]) + emit[s]
			}
		} else {
			edge := model.EdgeFeaturesBetween(particles[parent], particles[node])
			parentScores := scores[parent]
			for s := 0; s < airway.NumStates; s++ {
				best := math.Inf(-1)
				var from airway.Generation
				for sp := 0; sp < airway.NumStates; sp++ {
					t := logProb(e.transition.Transition(airway.Generation(sp), airway.Generation(s), edge))
					cand := parentScores[sp] + t
					if cand > best { // strict: ties keep the smaller parent state
						best = cand
						from = airway.Generation(sp)
					}
				}
				nodeScores[s] = best + emit[s]
				nodeBack[s] = from
			}
		}

		scores[node] = &nodeScores
		backptr[node] = &nodeBack
	}

	labels := make(map[int]airway.Generation, n)
	for _, leaf := range tree.Leaves() {
		state := bestState(scores[leaf])
		for node := leaf; ; {
			if _, done := labels[node]; !done {
				if unsupported[node] {
					labels[node] = airway.GenUndefined
				} else {
					labels[node] = state
				}
			}
			parent, ok := tree.Parent[node]
			if !ok {
				break
			}
			state = backptr[node][state]
			node = parent
		}
	}

	var unsupportedList []int
	for _, node := range tree.Nodes {
		if unsupported[node] {
			unsupportedList = append(unsupportedList, node)
		}
	}
	return labels, unsupportedList
}

// emissions evaluates the particle under every state, in log space. The
// second return is false when every state sits at the floor, i.e. no
// model has any support for this particle (MissingModelForState).
func (e *Engine) emissions(p airway.Particle) ([airway.NumStates]float64, bool) {
	var out [airway.NumStates]float64
	anySupport := false
	for s := 0; s < airway.NumStates; s++ {
		prob := e.emission.Emission(p, airway.Generation(s))
		out[s] = logProb(prob)
		if prob > model.LikelihoodFloor {
			anySupport = true
		}
	}
	return out, anySupport
}

// bestState returns the highest-scoring state, preferring the smaller
// (shallower) generation on ties.
func bestState(scores *[airway.NumStates]float64) airway.Generation {
	best := airway.Gen0
	for s := 1; s < airway.NumStates; s++ {
		if scores[s] > scores[best] {
			best = airway.Generation(s)
		}
	}
	return best
}
