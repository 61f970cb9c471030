package statsio

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chestlab-data/airway.report/internal/airway"
	"github.com/chestlab-data/airway.report/internal/airway/model"
	"github.com/chestlab-data/airway.report/internal/monitoring"
)

func muteLogger(t *testing.T) *int {
	t.Helper()
	original := monitoring.Logf
	t.Cleanup(func() { monitoring.Logf = original })
	var warnings int
	monitoring.SetLogger(func(string, ...interface{}) { warnings++ })
	return &warnings
}

func TestReadEmissionStats(t *testing.T) {
	warnings := muteLogger(t)

	body := `Type,ScaleDiffMean,ScaleDiffSTD,DistanceMean,DistanceSTD,AngleMean,AngleSTD,NumSamples
AirwayGeneration0,0.1,0.5,1.2,0.8,5.0,10.0,240
AirwayGeneration1,0.2,0.4,1.1,0.7,8.0,12.0,180
LeftUpperLobe,0.0,0.0,0.0,0.0,0.0,0.0,50
AirwayGeneration2,not-a-number,0.4,1.1,0.7,8.0,12.0,90
AirwayGeneration3,0.3
`
	stats, err := ReadEmissionStats(strings.NewReader(body))
	require.NoError(t, err)

	require.Len(t, stats, 2, "bad rows are skipped, good rows kept")
	assert.Equal(t, 240, stats[airway.Gen0].Samples)
	assert.Equal(t, 0.4, stats[airway.Gen1].ScaleDiffStd)
	assert.Equal(t, 3, *warnings, "one warning per skipped row")
}

func TestReadTransitionStatsSampleGate(t *testing.T) {
	muteLogger(t)

	body := `From,To,ScaleDiffMean,ScaleDiffSTD,AngleMean,AngleSTD,NumSamples
AirwayGeneration0,AirwayGeneration1,0.5,0.2,15.0,8.0,120
AirwayGeneration1,AirwayGeneration2,0.4,0.2,18.0,9.0,10
AirwayGeneration2,AirwayGeneration3,0.3,0.1,20.0,9.0,11
`
	stats, err := ReadTransitionStats(strings.NewReader(body))
	require.NoError(t, err)

	// Exactly 10 samples is at the gate and must not be installed;
	// 11 is above it.
	assert.Contains(t, stats, model.StatePair{From: airway.Gen0, To: airway.Gen1})
	assert.NotContains(t, stats, model.StatePair{From: airway.Gen1, To: airway.Gen2})
	assert.Contains(t, stats, model.StatePair{From: airway.Gen2, To: airway.Gen3})

	tr := model.NewGaussianTransition(stats, 0)
	assert.True(t, tr.Installed(airway.Gen0, airway.Gen1))
	assert.False(t, tr.Installed(airway.Gen1, airway.Gen2))
	assert.Equal(t, model.DefaultTransitionProbability,
		tr.Transition(airway.Gen1, airway.Gen2, model.EdgeFeatures{}))
}

func TestReadTransitionMatrixElevenRows(t *testing.T) {
	t.Parallel()

	var sb strings.Builder
	for i := 0; i < 11; i++ {
		cells := make([]string, 11)
		for j := range cells {
			cells[j] = "0.01"
			if i == j {
				cells[j] = "0.9"
			}
		}
		sb.WriteString(strings.Join(cells, ","))
		sb.WriteByte('\n')
	}

	table, err := ReadTransitionMatrix(strings.NewReader(sb.String()))
	require.NoError(t, err)

	assert.InDelta(t, 0.9, table.Transition(airway.Gen2, airway.Gen2, model.EdgeFeatures{}), 1e-12)
	assert.InDelta(t, 0.01, table.Transition(airway.Gen2, airway.Gen3, model.EdgeFeatures{}), 1e-12)
	// The file omits the undefined row/column; lookups fall back to the
	// default probability.
	assert.InDelta(t, model.DefaultTransitionProbability,
		table.Transition(airway.Gen0, airway.GenUndefined, model.EdgeFeatures{}), 1e-12)
}

func TestReadTransitionMatrixRejectsBadShape(t *testing.T) {
	t.Parallel()

	_, err := ReadTransitionMatrix(strings.NewReader("0.5,0.5\n0.5,0.5\n"))
	assert.Error(t, err)
}

func TestReadTransitionMatrixRejectsBadNumber(t *testing.T) {
	t.Parallel()

	var sb strings.Builder
	for i := 0; i < 11; i++ {
		row := strings.TrimRight(strings.Repeat("0.09,", 11), ",")
		if i == 4 {
			row = strings.Replace(row, "0.09", "oops", 1)
		}
		sb.WriteString(row + "\n")
	}
	_, err := ReadTransitionMatrix(strings.NewReader(sb.String()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "row 5")
}
