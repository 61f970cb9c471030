package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/chestlab-data/airway.report/internal/airway"
)

func TestEdgeFeaturesBetween(t *testing.T) {
	t.Parallel()

	parent := airway.Particle{Scale: 3.0, MinorAxis: r3.Vec{Z: 1}}
	child := airway.Particle{Scale: 2.5, MinorAxis: r3.Vec{X: 1, Z: 1}}

	edge := EdgeFeaturesBetween(parent, child)
	assert.InDelta(t, 0.5, edge.ScaleDiff, 1e-12)
	assert.InDelta(t, 45, edge.AngleDeg, 1e-9)
}

func TestTableTransitionFullMatrix(t *testing.T) {
	t.Parallel()

	matrix := make([][]float64, airway.NumStates)
	for i := range matrix {
		matrix[i] = make([]float64, airway.NumStates)
		matrix[i][i] = 1
	}
	table, err := NewTableTransition(matrix)
	require.NoError(t, err)

	assert.Equal(t, 1.0, table.Transition(airway.Gen5, airway.Gen5, EdgeFeatures{}))
	// Zero entries floor instead of annihilating whole paths.
	assert.Equal(t, LikelihoodFloor, table.Transition(airway.Gen5, airway.Gen6, EdgeFeatures{}))
}

func TestTableTransitionRejectsShapes(t *testing.T) {
	t.Parallel()

	_, err := NewTableTransition([][]float64{{1}})
	assert.Error(t, err)

	ragged := make([][]float64, airway.NumStates-1)
	for i := range ragged {
		ragged[i] = make([]float64, airway.NumStates-1)
	}
	ragged[3] = ragged[3][:5]
	_, err = NewTableTransition(ragged)
	assert.Error(t, err)

	negative := make([][]float64, airway.NumStates-1)
	for i := range negative {
		negative[i] = make([]float64, airway.NumStates-1)
	}
	negative[0][0] = -0.5
	_, err = NewTableTransition(negative)
	assert.Error(t, err)
}

func TestGaussianTransitionSampleGate(t *testing.T) {
	t.Parallel()

	stats := map[StatePair]TransitionStats{
		{From: airway.Gen0, To: airway.Gen1}: {ScaleDiffMean: 0.5, ScaleDiffStd: 0.2, AngleMean: 20, AngleStd: 10, Samples: 50},
		{From: airway.Gen1, To: airway.Gen2}: {ScaleDiffMean: 0.5, ScaleDiffStd: 0.2, AngleMean: 20, AngleStd: 10, Samples: MinTransitionSamples},
	}
	tr := NewGaussianTransition(stats, 0)

	assert.True(t, tr.Installed(airway.Gen0, airway.Gen1))
	assert.False(t, tr.Installed(airway.Gen1, airway.Gen2), "exactly the gate count is too few")

	// Uninstalled pairs score the uninformative default regardless of
	// how well the edge matches.
	edge := EdgeFeatures{ScaleDiff: 0.5, AngleDeg: 20}
	assert.Equal(t, DefaultTransitionProbability, tr.Transition(airway.Gen1, airway.Gen2, edge))

	// Installed pairs prefer edges matching the learned statistics.
	onMean := tr.Transition(airway.Gen0, airway.Gen1, edge)
	offMean := tr.Transition(airway.Gen0, airway.Gen1, EdgeFeatures{ScaleDiff: 2.0, AngleDeg: 80})
	assert.Greater(t, onMean, offMean)
}

func TestGaussianTransitionCustomDefault(t *testing.T) {
	t.Parallel()

	tr := NewGaussianTransition(nil, 0.25)
	assert.Equal(t, 0.25, tr.Transition(airway.Gen3, airway.Gen4, EdgeFeatures{}))
}
