// Package statsio loads the trained probability parameters consumed by
// the labeling models: per-state emission statistics, per-state-pair
// transition statistics, and fixed transition probability matrices, all
// from delimited text files produced by the statistics generator.
//
// Malformed rows (unknown state names, wrong arity, unparseable
// numbers) are skipped with a warning rather than failing the load; the
// models themselves decide whether the surviving table is usable.
package statsio

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/chestlab-data/airway.report/internal/airway"
	"github.com/chestlab-data/airway.report/internal/airway/model"
	"github.com/chestlab-data/airway.report/internal/monitoring"
)

// LoadEmissionStats reads a per-state emission statistics CSV.
func LoadEmissionStats(path string) (map[airway.Generation]model.EmissionStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open emission stats: %w", err)
	}
	defer f.Close()
	stats, err := ReadEmissionStats(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return stats, nil
}

// ReadEmissionStats parses rows of
//
//	stateName,scaleDiffMean,scaleDiffSTD,distanceMean,distanceSTD,angleMean,angleSTD,numSamples
//
// after a header line. Rows naming unrecognized states are skipped with
// a warning.
func ReadEmissionStats(r io.Reader) (map[airway.Generation]model.EmissionStats, error) {
	rows, err := readRows(r)
	if err != nil {
		return nil, err
	}

	stats := make(map[airway.Generation]model.EmissionStats)
	for i, row := range rows {
		if i == 0 {
			continue // header
		}
		if len(row) != 8 {
			monitoring.Logf("statsio: emission stats row %d has %d fields, want 8; skipping", i+1, len(row))
			continue
		}
		state, ok := airway.ParseGenerationName(strings.TrimSpace(row[0]))
		if !ok {
			monitoring.Logf("statsio: emission stats row %d names unrecognized state %q; skipping", i+1, row[0])
			continue
		}
		values, err := parseFloats(row[1:])
		if err != nil {
			monitoring.Logf("statsio: emission stats row %d: %v; skipping", i+1, err)
			continue
		}
		stats[state] = model.EmissionStats{
			ScaleDiffMean: values[0],
			ScaleDiffStd:  values[1],
			DistanceMean:  values[2],
			DistanceStd:   values[3],
			AngleMean:     values[4],
			AngleStd:      values[5],
			Samples:       int(values[6]),
		}
	}
	return stats, nil
}

// LoadTransitionStats reads a per-pair transition statistics CSV.
func LoadTransitionStats(path string) (map[model.StatePair]model.TransitionStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open transition stats: %w", err)
	}
	defer f.Close()
	stats, err := ReadTransitionStats(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return stats, nil
}

// ReadTransitionStats parses rows of
//
//	fromState,toState,scaleDiffMean,scaleDiffSTD,angleMean,angleSTD,numSamples
//
// after a header line. Rows with numSamples at or below the minimum
// training support are dropped here, so they can never be installed as
// unreliable Gaussian fits downstream.
func ReadTransitionStats(r io.Reader) (map[model.StatePair]model.TransitionStats, error) {
	rows, err := readRows(r)
	if err != nil {
		return nil, err
	}

	stats := make(map[model.StatePair]model.TransitionStats)
	for i, row := range rows {
		if i == 0 {
			continue // header
		}
		if len(row) != 7 {
			monitoring.Logf("statsio: transition stats row %d has %d fields, want 7; skipping", i+1, len(row))
			continue
		}
		from, okFrom := airway.ParseGenerationName(strings.TrimSpace(row[0]))
		to, okTo := airway.ParseGenerationName(strings.TrimSpace(row[1]))
		if !okFrom || !okTo {
			monitoring.Logf("statsio: transition stats row %d names unrecognized state pair (%q,%q); skipping", i+1, row[0], row[1])
			continue
		}
		values, err := parseFloats(row[2:])
		if err != nil {
			monitoring.Logf("statsio: transition stats row %d: %v; skipping", i+1, err)
			continue
		}
		samples := int(values[4])
		if samples <= model.MinTransitionSamples {
			monitoring.Logf("statsio: transition stats %s→%s has only %d samples; not installing", from, to, samples)
			continue
		}
		stats[model.StatePair{From: from, To: to}] = model.TransitionStats{
			ScaleDiffMean: values[0],
			ScaleDiffStd:  values[1],
			AngleMean:     values[2],
			AngleStd:      values[3],
			Samples:       samples,
		}
	}
	return stats, nil
}

// LoadTransitionMatrix reads a fixed transition probability matrix.
func LoadTransitionMatrix(path string) (*model.TableTransition, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open transition matrix: %w", err)
	}
	defer f.Close()
	table, err := ReadTransitionMatrix(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return table, nil
}

// ReadTransitionMatrix parses a headerless numeric matrix, rows =
// from-state, columns = to-state. Shape and value validation happens in
// model.NewTableTransition; a malformed number here is fatal, since a
// matrix with a hole cannot be partially applied.
func ReadTransitionMatrix(r io.Reader) (*model.TableTransition, error) {
	rows, err := readRows(r)
	if err != nil {
		return nil, err
	}

	matrix := make([][]float64, 0, len(rows))
	for i, row := range rows {
		values, err := parseFloats(row)
		if err != nil {
			return nil, fmt.Errorf("transition matrix row %d: %w", i+1, err)
		}
		matrix = append(matrix, values)
	}
	return model.NewTableTransition(matrix)
}

func readRows(r io.Reader) ([][]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1 // arity is checked per row with a warning
	cr.TrimLeadingSpace = true
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	return rows, nil
}

func parseFloats(fields []string) ([]float64, error) {
	out := make([]float64, len(fields))
	for i, field := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			return nil, fmt.Errorf("field %d %q is not numeric", i+1, field)
		}
		out[i] = v
	}
	return out, nil
}
