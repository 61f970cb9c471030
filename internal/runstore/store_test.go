package runstore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chestlab-data/airway.report/internal/airway"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndGetRun(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)

	in := Run{
		InputPath:        "case01_particles.vtk",
		Params:           airway.DefaultConnectivityParams(),
		ParticleCount:    1200,
		TreeCount:        3,
		UnsupportedCount: 7,
		GenerationCounts: map[airway.Generation]int{
			airway.Gen0:         80,
			airway.Gen1:         150,
			airway.GenUndefined: 7,
		},
		DiceScores: map[airway.Generation]float64{
			airway.Gen0: 0.95,
			airway.Gen1: 0.87,
		},
	}

	id, err := s.RecordRun(in)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	out, err := s.GetRun(id)
	require.NoError(t, err)

	assert.Equal(t, in.InputPath, out.InputPath)
	assert.Equal(t, in.Params.DistanceThreshold, out.Params.DistanceThreshold)
	assert.Equal(t, in.ParticleCount, out.ParticleCount)
	assert.Equal(t, in.TreeCount, out.TreeCount)
	assert.Equal(t, in.UnsupportedCount, out.UnsupportedCount)
	assert.Equal(t, in.GenerationCounts, out.GenerationCounts)
	assert.Equal(t, in.DiceScores, out.DiceScores)
	assert.WithinDuration(t, time.Now(), out.CreatedAt, time.Minute)
}

func TestRunWithoutDice(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	id, err := s.RecordRun(Run{
		InputPath:        "unlabeled.vtk",
		Params:           airway.DefaultConnectivityParams(),
		ParticleCount:    10,
		TreeCount:        1,
		GenerationCounts: map[airway.Generation]int{airway.Gen0: 10},
	})
	require.NoError(t, err)

	out, err := s.GetRun(id)
	require.NoError(t, err)
	assert.Nil(t, out.DiceScores, "no dice rows when input carried no labels")
}

func TestListRunsMostRecentFirst(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		_, err := s.RecordRun(Run{
			ID:        string(rune('a' + i)),
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
			InputPath: "p.vtk",
			Params:    airway.DefaultConnectivityParams(),
		})
		require.NoError(t, err)
	}

	ids, err := s.ListRuns()
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b", "a"}, ids)
}

func TestGetRunMissing(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	_, err := s.GetRun("no-such-run")
	assert.Error(t, err)
}

func TestOpenIsIdempotent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "runs.db")
	s1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	// Reopening applies no further migrations and keeps the data.
	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	_, err = s2.ListRuns()
	assert.NoError(t, err)
}
