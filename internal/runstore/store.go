// Package runstore persists labeling runs to SQLite so successive runs
// over the same scan can be compared: the thresholds used, per-state
// particle counts, and optional Dice scores against ground truth.
package runstore

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/chestlab-data/airway.report/internal/airway"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps the run database.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the run database at path and migrates it to
// the current schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open run database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrateUp() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load embedded migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("prepare migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("prepare migrations: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// Run describes one completed labeling run.
type Run struct {
	ID        string
	CreatedAt time.Time

	InputPath string
	Params    airway.ConnectivityParams

	ParticleCount    int
	TreeCount        int
	UnsupportedCount int

	// GenerationCounts holds the number of particles per final state.
	GenerationCounts map[airway.Generation]int

	// DiceScores holds per-state Dice against ground truth; nil when
	// the input carried no labels.
	DiceScores map[airway.Generation]float64
}

// RecordRun inserts a run and its per-state rows in one transaction and
// returns the generated run ID.
func (s *Store) RecordRun(run Run) (string, error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.Begin()
	if err != nil {
		return "", fmt.Errorf("begin run transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO runs (
			id, created_at, input_path,
			scale_ratio_threshold, distance_threshold, angle_threshold_deg,
			particle_count, tree_count, unsupported_count
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.CreatedAt.Format(time.RFC3339Nano), run.InputPath,
		run.Params.ScaleRatioThreshold, run.Params.DistanceThreshold, run.Params.AngleThresholdDeg,
		run.ParticleCount, run.TreeCount, run.UnsupportedCount,
	)
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}

	for _, state := range airway.States() {
		count, ok := run.GenerationCounts[state]
		if !ok {
			continue
		}
		if _, err := tx.Exec(
			`INSERT INTO run_generation_counts (run_id, generation, count) VALUES (?, ?, ?)`,
			run.ID, state.String(), count,
		); err != nil {
			return "", fmt.Errorf("insert generation count for %s: %w", state, err)
		}
	}

	for _, state := range airway.States() {
		score, ok := run.DiceScores[state]
		if !ok {
			continue
		}
		if _, err := tx.Exec(
			`INSERT INTO run_dice (run_id, generation, dice) VALUES (?, ?, ?)`,
			run.ID, state.String(), score,
		); err != nil {
			return "", fmt.Errorf("insert dice for %s: %w", state, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit run: %w", err)
	}
	return run.ID, nil
}

// GetRun loads one run with its per-state rows.
func (s *Store) GetRun(id string) (*Run, error) {
	run := &Run{ID: id}
	var createdAt string
	err := s.db.QueryRow(`
		SELECT created_at, input_path,
		       scale_ratio_threshold, distance_threshold, angle_threshold_deg,
		       particle_count, tree_count, unsupported_count
		FROM runs WHERE id = ?`, id).Scan(
		&createdAt, &run.InputPath,
		&run.Params.ScaleRatioThreshold, &run.Params.DistanceThreshold, &run.Params.AngleThresholdDeg,
		&run.ParticleCount, &run.TreeCount, &run.UnsupportedCount,
	)
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", id, err)
	}
	if run.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parse run timestamp %q: %w", createdAt, err)
	}

	run.GenerationCounts = make(map[airway.Generation]int)
	rows, err := s.db.Query(`SELECT generation, count FROM run_generation_counts WHERE run_id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("load generation counts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		var count int
		if err := rows.Scan(&name, &count); err != nil {
			return nil, fmt.Errorf("scan generation count: %w", err)
		}
		state, ok := airway.ParseGenerationName(name)
		if !ok {
			return nil, fmt.Errorf("run %s has unrecognized generation %q", id, name)
		}
		run.GenerationCounts[state] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	diceRows, err := s.db.Query(`SELECT generation, dice FROM run_dice WHERE run_id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("load dice scores: %w", err)
	}
	defer diceRows.Close()
	for diceRows.Next() {
		var name string
		var score float64
		if err := diceRows.Scan(&name, &score); err != nil {
			return nil, fmt.Errorf("scan dice score: %w", err)
		}
		state, ok := airway.ParseGenerationName(name)
		if !ok {
			return nil, fmt.Errorf("run %s has unrecognized generation %q", id, name)
		}
		if run.DiceScores == nil {
			run.DiceScores = make(map[airway.Generation]float64)
		}
		run.DiceScores[state] = score
	}
	return run, diceRows.Err()
}

// ListRuns returns run IDs most recent first.
func (s *Store) ListRuns() ([]string, error) {
	rows, err := s.db.Query(`SELECT id FROM runs ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
