package report

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chestlab-data/airway.report/internal/airway"
)

func TestCompareLengthMismatch(t *testing.T) {
	t.Parallel()

	_, err := Compare([]airway.Generation{airway.Gen0}, nil)
	assert.Error(t, err)
}

func TestDiceScores(t *testing.T) {
	t.Parallel()

	truth := []airway.Generation{
		airway.Gen0, airway.Gen0, airway.Gen1, airway.Gen1, airway.Gen2,
	}
	inferred := []airway.Generation{
		airway.Gen0, airway.Gen1, airway.Gen1, airway.Gen1, airway.Gen3,
	}
	c, err := Compare(truth, inferred)
	require.NoError(t, err)

	// Gen0: truth support 2, inferred support 1, agreement 1.
	score, ok := c.Dice(airway.Gen0)
	require.True(t, ok)
	assert.InDelta(t, 2.0/3.0, score, 1e-12)

	// Gen1: truth support 2, inferred support 3, agreement 2.
	score, ok = c.Dice(airway.Gen1)
	require.True(t, ok)
	assert.InDelta(t, 0.8, score, 1e-12)

	// Gen2 appears only in truth: defined, scores zero.
	score, ok = c.Dice(airway.Gen2)
	require.True(t, ok)
	assert.Zero(t, score)

	// Gen5 appears nowhere: undefined.
	_, ok = c.Dice(airway.Gen5)
	assert.False(t, ok)
}

func TestPerfectAgreement(t *testing.T) {
	t.Parallel()

	labels := []airway.Generation{airway.Gen0, airway.Gen1, airway.Gen2, airway.GenUndefined}
	c, err := Compare(labels, labels)
	require.NoError(t, err)

	for _, s := range labels {
		score, ok := c.Dice(s)
		require.True(t, ok)
		assert.Equal(t, 1.0, score, "state %s", s)
	}
}

func TestWriteText(t *testing.T) {
	t.Parallel()

	truth := []airway.Generation{airway.Gen0, airway.Gen1}
	inferred := []airway.Generation{airway.Gen0, airway.Gen2}
	c, err := Compare(truth, inferred)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, c.WriteText(&buf))
	out := buf.String()

	assert.Contains(t, out, "Dice for AirwayGeneration0:\t1.0000")
	assert.Contains(t, out, "Confusion Matrix")
	assert.Contains(t, out, "G10")
	assert.Contains(t, out, "Undef")
}

func TestWriteHeatmapHTML(t *testing.T) {
	t.Parallel()

	c, err := Compare(
		[]airway.Generation{airway.Gen0, airway.Gen1},
		[]airway.Generation{airway.Gen0, airway.Gen1},
	)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, c.WriteHeatmapHTML(&buf))
	html := buf.String()
	assert.True(t, strings.Contains(html, "heatmap"), "rendered page embeds a heatmap series")
	assert.Contains(t, html, "Generation labeling confusion matrix")
}
