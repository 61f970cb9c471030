// Package train derives labeling statistics from generation-labeled
// particle sets: per-state emission feature distributions, per-pair
// transition feature distributions measured along tree edges, and a
// normalized transition count matrix. Its CSV output feeds statsio.
package train

import (
	"encoding/csv"
	"io"
	"strconv"

	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat"

	"github.com/chestlab-data/airway.report/internal/airway"
	"github.com/chestlab-data/airway.report/internal/airway/model"
	"github.com/chestlab-data/airway.report/internal/airway/topology"
)

// sample is one observed (scaleDiff, distance, angle) feature triple.
type sample struct {
	scaleDiff float64
	distance  float64
	angleDeg  float64
}

// Stats accumulates feature samples over one or more labeled trees.
type Stats struct {
	emission    map[airway.Generation][]sample
	transition  map[model.StatePair][]sample
	transitions map[model.StatePair]int
}

// NewStats returns an empty accumulator.
func NewStats() *Stats {
	return &Stats{
		emission:    make(map[airway.Generation][]sample),
		transition:  make(map[model.StatePair][]sample),
		transitions: make(map[model.StatePair]int),
	}
}

// Collect walks every tree edge and records features under the edge's
// (parent, child) label pair. Edges between equal labels additionally
// feed that state's emission distribution: they describe what
// within-branch continuation looks like at that depth. Edges touching
// an undefined label carry no training signal and are skipped.
func (s *Stats) Collect(particles []airway.Particle, trees []topology.Tree) {
	for _, tree := range trees {
		for _, child := range tree.Nodes {
			parent, ok := tree.Parent[child]
			if !ok {
				continue // root
			}
			from := particles[parent].Generation
			to := particles[child].Generation
			if from == airway.GenUndefined || to == airway.GenUndefined {
				continue
			}

			p, c := particles[parent], particles[child]
			sm := sample{
				scaleDiff: p.Scale - c.Scale,
				distance:  distance(p, c),
				angleDeg:  topology.AngleBetweenDeg(p.MinorAxis, c.MinorAxis),
			}
			pair := model.StatePair{From: from, To: to}
			s.transition[pair] = append(s.transition[pair], sm)
			s.transitions[pair]++
			if from == to {
				s.emission[to] = append(s.emission[to], sm)
			}
		}
	}
}

func distance(a, b airway.Particle) float64 {
	return r3.Norm(r3.Sub(a.Pos, b.Pos))
}

// EmissionTable reduces the collected emission samples to per-state
// Gaussian parameters.
func (s *Stats) EmissionTable() map[airway.Generation]model.EmissionStats {
	out := make(map[airway.Generation]model.EmissionStats, len(s.emission))
	for state, samples := range s.emission {
		scaleDiffs, distances, angles := split(samples)
		out[state] = model.EmissionStats{
			ScaleDiffMean: stat.Mean(scaleDiffs, nil),
			ScaleDiffStd:  stat.StdDev(scaleDiffs, nil),
			DistanceMean:  stat.Mean(distances, nil),
			DistanceStd:   stat.StdDev(distances, nil),
			AngleMean:     stat.Mean(angles, nil),
			AngleStd:      stat.StdDev(angles, nil),
			Samples:       len(samples),
		}
	}
	return out
}

// TransitionTable reduces the collected transition samples to per-pair
// Gaussian parameters. Pairs below the installation gate are still
// reported with their sample count; statsio and the model enforce the
// gate on the way back in.
func (s *Stats) TransitionTable() map[model.StatePair]model.TransitionStats {
	out := make(map[model.StatePair]model.TransitionStats, len(s.transition))
	for pair, samples := range s.transition {
		scaleDiffs, _, angles := split(samples)
		out[pair] = model.TransitionStats{
			ScaleDiffMean: stat.Mean(scaleDiffs, nil),
			ScaleDiffStd:  stat.StdDev(scaleDiffs, nil),
			AngleMean:     stat.Mean(angles, nil),
			AngleStd:      stat.StdDev(angles, nil),
			Samples:       len(samples),
		}
	}
	return out
}

// TransitionMatrix normalizes the edge label counts into row-stochastic
// transition probabilities over the eleven generation states. Rows with
// no observations stay uniform.
func (s *Stats) TransitionMatrix() [][]float64 {
	const n = airway.NumStates - 1 // generation states only
	matrix := make([][]float64, n)
	for i := range matrix {
		matrix[i] = make([]float64, n)

		total := 0
		for j := 0; j < n; j++ {
			total += s.transitions[model.StatePair{From: airway.Generation(i), To: airway.Generation(j)}]
		}
		for j := 0; j < n; j++ {
			if total == 0 {
				matrix[i][j] = 1.0 / n
				continue
			}
			count := s.transitions[model.StatePair{From: airway.Generation(i), To: airway.Generation(j)}]
			matrix[i][j] = float64(count) / float64(total)
		}
	}
	return matrix
}

func split(samples []sample) (scaleDiffs, distances, angles []float64) {
	scaleDiffs = make([]float64, len(samples))
	distances = make([]float64, len(samples))
	angles = make([]float64, len(samples))
	for i, sm := range samples {
		scaleDiffs[i] = sm.scaleDiff
		distances[i] = sm.distance
		angles[i] = sm.angleDeg
	}
	return scaleDiffs, distances, angles
}

// WriteEmissionCSV emits the emission table in the format statsio
// reads, states in enumeration order.
func WriteEmissionCSV(w io.Writer, table map[airway.Generation]model.EmissionStats) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{
		"Type", "ScaleDiffMean", "ScaleDiffSTD", "DistanceMean", "DistanceSTD", "AngleMean", "AngleSTD", "NumSamples",
	}); err != nil {
		return err
	}
	for _, state := range airway.States() {
		st, ok := table[state]
		if !ok {
			continue
		}
		if err := cw.Write([]string{
			state.String(),
			formatFloat(st.ScaleDiffMean), formatFloat(st.ScaleDiffStd),
			formatFloat(st.DistanceMean), formatFloat(st.DistanceStd),
			formatFloat(st.AngleMean), formatFloat(st.AngleStd),
			strconv.Itoa(st.Samples),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteTransitionCSV emits the transition statistics table in the
// format statsio reads, pairs in enumeration order.
func WriteTransitionCSV(w io.Writer, table map[model.StatePair]model.TransitionStats) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{
		"From", "To", "ScaleDiffMean", "ScaleDiffSTD", "AngleMean", "AngleSTD", "NumSamples",
	}); err != nil {
		return err
	}
	for _, from := range airway.States() {
		for _, to := range airway.States() {
			st, ok := table[model.StatePair{From: from, To: to}]
			if !ok {
				continue
			}
			if err := cw.Write([]string{
				from.String(), to.String(),
				formatFloat(st.ScaleDiffMean), formatFloat(st.ScaleDiffStd),
				formatFloat(st.AngleMean), formatFloat(st.AngleStd),
				strconv.Itoa(st.Samples),
			}); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteTransitionMatrixCSV emits the normalized transition matrix as
// headerless rows.
func WriteTransitionMatrixCSV(w io.Writer, matrix [][]float64) error {
	cw := csv.NewWriter(w)
	for _, row := range matrix {
		cells := make([]string, len(row))
		for j, v := range row {
			cells[j] = formatFloat(v)
		}
		if err := cw.Write(cells); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
