// Package model provides the emission and transition probability models
// consulted during generation labeling. Models are constructed once from
// validated parameter tables or atlases and are immutable afterwards, so
// they may be shared freely across labeling workers.
package model

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/chestlab-data/airway.report/internal/airway"
)

// LikelihoodFloor is the smallest likelihood any model reports. States
// with no training support return the floor instead of an exact zero so
// a single unsupported state cannot make every path equally impossible.
const LikelihoodFloor = 1e-12

// EmissionModel scores how well a particle's geometry matches a
// candidate generation state. Implementations are safe for concurrent
// use after construction.
type EmissionModel interface {
	Emission(p airway.Particle, state airway.Generation) float64
}

// EmissionStats holds the per-state Gaussian parameters loaded from an
// emission statistics table: scale difference, distance, and minor-axis
// angle of a particle relative to reference particles of that state.
type EmissionStats struct {
	ScaleDiffMean float64
	ScaleDiffStd  float64
	DistanceMean  float64
	DistanceStd   float64
	AngleMean     float64
	AngleStd      float64
	Samples       int
}

// Atlas is a reference particle set whose particles carry ground-truth
// generation labels, registered into the query set's coordinate frame.
type Atlas struct {
	Name      string
	Particles []airway.Particle
}

// byState pools atlas particles across atlases, keyed by their label.
// Particles labeled undefined carry no training signal and are dropped.
func byState(atlases []Atlas) map[airway.Generation][]airway.Particle {
	pool := make(map[airway.Generation][]airway.Particle)
	for _, atlas := range atlases {
		for _, p := range atlas.Particles {
			if p.Generation == airway.GenUndefined {
				continue
			}
			pool[p.Generation] = append(pool[p.Generation], p)
		}
	}
	return pool
}

// particleFeatures measures a query particle against one reference
// particle: signed scale difference, Euclidean distance, and the folded
// angle between the two minor axes.
func particleFeatures(p, ref airway.Particle) (scaleDiff, distance, angleDeg float64) {
	scaleDiff = p.Scale - ref.Scale
	distance = r3.Norm(r3.Sub(p.Pos, ref.Pos))
	angleDeg = foldedAngleDeg(p.MinorAxis, ref.MinorAxis)
	return scaleDiff, distance, angleDeg
}

// foldedAngleDeg is the unsigned angle between two sign-ambiguous axes,
// folded into [0,90]. Zero-length axes yield 0.
func foldedAngleDeg(a, b r3.Vec) float64 {
	na, nb := r3.Norm(a), r3.Norm(b)
	if na == 0 || nb == 0 {
		return 0
	}
	cos := math.Abs(r3.Dot(a, b)) / (na * nb)
	if cos > 1 {
		cos = 1
	}
	return math.Acos(cos) * 180 / math.Pi
}

// normProb evaluates a Normal(mu, sigma) density at x. A non-positive
// or NaN sigma (single-sample fits) means the feature carries no usable
// spread; the factor drops out rather than producing NaN or Inf.
func normProb(x, mu, sigma float64) float64 {
	if sigma <= 0 || math.IsNaN(sigma) {
		return 1
	}
	return distuv.Normal{Mu: mu, Sigma: sigma}.Prob(x)
}

// GaussianEmission scores particles with independent per-state normals
// over the (scale difference, distance, angle) features measured against
// the nearest atlas particle of the candidate state within the region of
// interest.
type GaussianEmission struct {
	stats     map[airway.Generation]EmissionStats
	pool      map[airway.Generation][]airway.Particle
	roiRadius float64
}

// NewGaussianEmission builds a parametric emission model. roiRadius
// bounds the search for the per-state reference particle; math.Inf(1)
// admits the whole atlas.
func NewGaussianEmission(stats map[airway.Generation]EmissionStats, atlases []Atlas, roiRadius float64) *GaussianEmission {
	return &GaussianEmission{
		stats:     stats,
		pool:      byState(atlases),
		roiRadius: roiRadius,
	}
}

// Emission returns the product of the three feature densities for the
// nearest state-labeled atlas particle, or the floor when the state has
// no statistics or no atlas support in range.
func (e *GaussianEmission) Emission(p airway.Particle, state airway.Generation) float64 {
	st, ok := e.stats[state]
	if !ok || st.Samples == 0 {
		return LikelihoodFloor
	}
	ref, ok := e.nearest(p, state)
	if !ok {
		return LikelihoodFloor
	}
	scaleDiff, distance, angleDeg := particleFeatures(p, ref)

	likelihood := normProb(scaleDiff, st.ScaleDiffMean, st.ScaleDiffStd) *
		normProb(distance, st.DistanceMean, st.DistanceStd) *
		normProb(angleDeg, st.AngleMean, st.AngleStd)
	return math.Max(likelihood, LikelihoodFloor)
}

func (e *GaussianEmission) nearest(p airway.Particle, state airway.Generation) (airway.Particle, bool) {
	best := math.Inf(1)
	var ref airway.Particle
	found := false
	for _, q := range e.pool[state] {
		d := r3.Norm(r3.Sub(p.Pos, q.Pos))
		if d > e.roiRadius || d >= best {
			continue
		}
		best = d
		ref = q
		found = true
	}
	return ref, found
}

// KDEBandwidth sets the kernel spread per feature for the nonparametric
// emission model.
type KDEBandwidth struct {
	Scale    float64
	Distance float64
	Angle    float64
}

// DefaultKDEBandwidth matches the spreads observed in the training
// atlases shipped with the statistics generator.
func DefaultKDEBandwidth() KDEBandwidth {
	return KDEBandwidth{Scale: 0.5, Distance: 2.0, Angle: 20.0}
}

// KDEEmission estimates likelihoods nonparametrically: a normalized sum
// of Gaussian kernels centered at every atlas particle carrying the
// candidate state, restricted to atlas particles within the region of
// interest of the query position.
type KDEEmission struct {
	pool      map[airway.Generation][]airway.Particle
	roiRadius float64
	bandwidth KDEBandwidth
}

// NewKDEEmission builds the nonparametric model from one or more labeled
// atlases. An infinite roiRadius lets every atlas particle contribute.
func NewKDEEmission(atlases []Atlas, roiRadius float64, bandwidth KDEBandwidth) *KDEEmission {
	return &KDEEmission{
		pool:      byState(atlases),
		roiRadius: roiRadius,
		bandwidth: bandwidth,
	}
}

// Emission averages the product kernel over all in-range atlas particles
// of the state. A state with no contributors in range returns the floor
// rather than failing.
func (e *KDEEmission) Emission(p airway.Particle, state airway.Generation) float64 {
	var sum float64
	var contributors int
	for _, q := range e.pool[state] {
		scaleDiff, distance, angleDeg := particleFeatures(p, q)
		if distance > e.roiRadius {
			continue
		}
		contributors++
		sum += normProb(scaleDiff, 0, e.bandwidth.Scale) *
			normProb(distance, 0, e.bandwidth.Distance) *
			normProb(angleDeg, 0, e.bandwidth.Angle)
	}
	if contributors == 0 {
		return LikelihoodFloor
	}
	return math.Max(sum/float64(contributors), LikelihoodFloor)
}

// SupportedStates lists the states with at least one atlas particle,
// letting callers detect states that would only ever see the floor.
func (e *KDEEmission) SupportedStates() []airway.Generation {
	var states []airway.Generation
	for _, s := range airway.States() {
		if len(e.pool[s]) > 0 {
			states = append(states, s)
		}
	}
	return states
}

// UniformEmission treats every state as equally likely. Used when no
// statistics or atlases are supplied, leaving labeling to the
// transition model alone.
type UniformEmission struct{}

func (UniformEmission) Emission(airway.Particle, airway.Generation) float64 {
	return 1.0 / airway.NumStates
}
