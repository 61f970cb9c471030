package particleio

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/chestlab-data/airway.report/internal/airway"
	"github.com/chestlab-data/airway.report/internal/monitoring"
)

const sampleVTK = `# vtk DataFile Version 3.0
airway particles
ASCII
DATASET POLYDATA
POINTS 3 float
0 0 0
1 0 0
2 0 0.5
VERTICES 3 6
1 0
1 1
1 2
FIELD FieldData 4
scale 1 3 float
3.0 2.5 2.0
hevec2 3 3 float
1 0 0
1 0 0
0.9 0 0.1
heval0 1 3 float
0.1 0.2 0.3
ChestType 1 3 float
38 38 39
`

func TestReadSample(t *testing.T) {
	t.Parallel()

	particles, err := Read(strings.NewReader(sampleVTK))
	require.NoError(t, err)
	require.Len(t, particles, 3)

	assert.Equal(t, r3.Vec{X: 2, Z: 0.5}, particles[2].Pos)
	assert.Equal(t, 2.5, particles[1].Scale)
	assert.Equal(t, r3.Vec{X: 0.9, Z: 0.1}, particles[2].MinorAxis)
	assert.Equal(t, airway.Gen0, particles[0].Generation)
	assert.Equal(t, airway.Gen1, particles[2].Generation)
}

func TestReadMissingChestType(t *testing.T) {
	t.Parallel()

	// Strip the ChestType array: labels default to undefined.
	body := strings.Replace(sampleVTK, "FIELD FieldData 4", "FIELD FieldData 3", 1)
	idx := strings.Index(body, "ChestType")
	require.Positive(t, idx)
	body = body[:idx]

	particles, err := Read(strings.NewReader(body))
	require.NoError(t, err)
	for _, p := range particles {
		assert.Equal(t, airway.GenUndefined, p.Generation)
	}
}

func TestReadForeignChestTypeWarnsAndContinues(t *testing.T) {
	original := monitoring.Logf
	defer func() { monitoring.Logf = original }()
	var warnings int
	monitoring.SetLogger(func(string, ...interface{}) { warnings++ })

	body := strings.Replace(sampleVTK, "38 38 39", "38 77 39", 1)
	particles, err := Read(strings.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, airway.GenUndefined, particles[1].Generation)
	assert.Equal(t, 1, warnings)
}

func TestReadRejectsMismatchedArrays(t *testing.T) {
	t.Parallel()

	body := strings.Replace(sampleVTK, "scale 1 3 float\n3.0 2.5 2.0", "scale 1 2 float\n3.0 2.5", 1)
	_, err := Read(strings.NewReader(body))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scale")
}

func TestReadRejectsNonVTK(t *testing.T) {
	t.Parallel()

	_, err := Read(strings.NewReader("x,y,z\n1,2,3\n4,5,6\n7,8,9\n"))
	assert.Error(t, err)
}

func TestWriteReadRoundTrip(t *testing.T) {
	t.Parallel()

	in := []airway.Particle{
		{Pos: r3.Vec{X: 1.5, Y: -2, Z: 30}, Scale: 3.25, MinorAxis: r3.Vec{Z: 1}, Generation: airway.Gen0},
		{Pos: r3.Vec{X: 1.5, Y: -2, Z: 28}, Scale: 2.75, MinorAxis: r3.Vec{X: 0.25, Z: 1}, Generation: airway.Gen4},
		{Pos: r3.Vec{}, Scale: 1, MinorAxis: r3.Vec{X: 1}, Generation: airway.GenUndefined},
	}

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, in))

	out, err := Read(&buf)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}
