// Command labelgen assigns airway generation labels to a particle cloud.
//
// It reads VTK polydata particles, links them into rooted trees using
// scale, distance and orientation constraints, and runs a tree Viterbi
// pass with the configured emission and transition models. The labeled
// cloud is written back out as VTK; optional flags add a Dice report
// against input labels and persist a run summary to sqlite.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/chestlab-data/airway.report/internal/airway"
	"github.com/chestlab-data/airway.report/internal/airway/label"
	"github.com/chestlab-data/airway.report/internal/airway/model"
	"github.com/chestlab-data/airway.report/internal/airway/topology"
	"github.com/chestlab-data/airway.report/internal/config"
	"github.com/chestlab-data/airway.report/internal/particleio"
	"github.com/chestlab-data/airway.report/internal/report"
	"github.com/chestlab-data/airway.report/internal/runstore"
	"github.com/chestlab-data/airway.report/internal/statsio"
	"github.com/chestlab-data/airway.report/internal/version"
)

// stringList collects a repeatable string flag.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func main() {
	var atlasPaths stringList

	inPath := flag.String("in", "", "input particles (VTK polydata)")
	outPath := flag.String("out", "", "output labeled particles (VTK polydata)")
	configPath := flag.String("config", "", "tuning config JSON")
	flag.Var(&atlasPaths, "atlas", "labeled atlas particles (VTK, repeatable)")
	emissionStatsPath := flag.String("emission-stats", "", "per-state emission statistics CSV (selects the Gaussian emission model)")
	transitionStatsPath := flag.String("transition-stats", "", "per-pair transition statistics CSV (selects the Gaussian transition model)")
	transitionMatrixPath := flag.String("transition-matrix", "", "fixed transition probability matrix CSV")
	distance := flag.Float64("distance", 0, "inter-particle distance threshold (0 = config/default)")
	scaleRatio := flag.Float64("scale-ratio", 0, "relative scale difference threshold (0 = config/default)")
	angle := flag.Float64("angle", 0, "minor-axis angle threshold in degrees (0 = config/default)")
	kdeROI := flag.Float64("kde-roi", 0, "atlas region-of-interest radius for KDE (0 = config/unlimited)")
	tracheaPrior := flag.Bool("trachea-prior", false, "pin every root to generation 0")
	workers := flag.Int("workers", 0, "trees labeled concurrently (0 = GOMAXPROCS)")
	dice := flag.Bool("dice", false, "compare inferred labels against input labels and print Dice scores")
	reportHTMLPath := flag.String("report-html", "", "write the label confusion heatmap to this HTML file")
	dbPath := flag.String("db", "", "record the run summary in this sqlite database")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	if *inPath == "" || *outPath == "" {
		log.Fatalf("both -in and -out must be provided")
	}

	cfg := config.EmptyTuningConfig()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadTuningConfig(*configPath)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
	}

	params := cfg.ConnectivityParams()
	if *distance > 0 {
		params.DistanceThreshold = *distance
	}
	if *scaleRatio > 0 {
		params.ScaleRatioThreshold = *scaleRatio
	}
	if *angle > 0 {
		params.AngleThresholdDeg = *angle
	}

	particles, err := particleio.ReadFile(*inPath)
	if err != nil {
		log.Fatalf("read particles: %v", err)
	}
	if len(particles) == 0 {
		log.Fatalf("no particles in %s", *inPath)
	}

	atlases := make([]model.Atlas, 0, len(atlasPaths))
	for _, path := range atlasPaths {
		ap, err := particleio.ReadFile(path)
		if err != nil {
			log.Fatalf("read atlas %s: %v", path, err)
		}
		name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		atlases = append(atlases, model.Atlas{Name: name, Particles: ap})
	}

	roi := cfg.GetKDEROIRadius()
	if *kdeROI > 0 {
		roi = *kdeROI
	}

	var emission model.EmissionModel
	switch {
	case *emissionStatsPath != "":
		stats, err := statsio.LoadEmissionStats(*emissionStatsPath)
		if err != nil {
			log.Fatalf("load emission stats: %v", err)
		}
		emission = model.NewGaussianEmission(stats, atlases, roi)
	case len(atlases) > 0:
		emission = model.NewKDEEmission(atlases, roi, cfg.GetKDEBandwidth())
	default:
		emission = model.UniformEmission{}
	}

	var transition model.TransitionModel
	switch {
	case *transitionStatsPath != "":
		stats, err := statsio.LoadTransitionStats(*transitionStatsPath)
		if err != nil {
			log.Fatalf("load transition stats: %v", err)
		}
		transition = model.NewGaussianTransition(stats, cfg.GetDefaultTransitionProb())
	case *transitionMatrixPath != "":
		table, err := statsio.LoadTransitionMatrix(*transitionMatrixPath)
		if err != nil {
			log.Fatalf("load transition matrix: %v", err)
		}
		transition = table
	default:
		transition = model.UniformTransition{}
	}

	trees := topology.NewBuilder(params).BuildTrees(particles)
	log.Printf("linked %d particles into %d trees", len(particles), len(trees))

	opts := []label.Option{}
	if n := effectiveWorkers(*workers, cfg.GetWorkers()); n > 0 {
		opts = append(opts, label.WithWorkers(n))
	}
	if *tracheaPrior || cfg.GetForceTracheaRootPrior() {
		opts = append(opts, label.WithPrior(label.TracheaRootPrior()))
	}
	engine := label.NewEngine(emission, transition, opts...)

	truth := make([]airway.Generation, len(particles))
	for i, p := range particles {
		truth[i] = p.Generation
	}

	result := engine.LabelForest(particles, trees)
	for i := range particles {
		particles[i].Generation = result.Labels[i]
	}
	if err := particleio.WriteFile(*outPath, particles); err != nil {
		log.Fatalf("write labeled particles: %v", err)
	}
	log.Printf("wrote %s (%d unsupported particles)", *outPath, len(result.Unsupported))

	var comparison *report.Comparison
	if *dice || *reportHTMLPath != "" || (*dbPath != "" && hasLabels(truth)) {
		comparison, err = report.Compare(truth, result.Labels)
		if err != nil {
			log.Fatalf("compare labels: %v", err)
		}
	}
	if *dice {
		if err := comparison.WriteText(os.Stdout); err != nil {
			log.Fatalf("write report: %v", err)
		}
	}
	if *reportHTMLPath != "" {
		if err := comparison.WriteHeatmapFile(*reportHTMLPath); err != nil {
			log.Fatalf("write heatmap: %v", err)
		}
	}

	if *dbPath != "" {
		run := runstore.Run{
			InputPath:        *inPath,
			Params:           params,
			ParticleCount:    len(particles),
			TreeCount:        len(trees),
			UnsupportedCount: len(result.Unsupported),
			GenerationCounts: countLabels(result.Labels),
		}
		if comparison != nil && hasLabels(truth) {
			run.DiceScores = diceScores(comparison)
		}
		store, err := runstore.Open(*dbPath)
		if err != nil {
			log.Fatalf("open run store: %v", err)
		}
		defer store.Close()
		id, err := store.RecordRun(run)
		if err != nil {
			log.Fatalf("record run: %v", err)
		}
		fmt.Printf("run recorded as %s\n", id)
	}
}

// effectiveWorkers prefers the flag over the config; zero means let the
// engine decide.
func effectiveWorkers(flagValue, configValue int) int {
	if flagValue > 0 {
		return flagValue
	}
	return configValue
}

func countLabels(labels []airway.Generation) map[airway.Generation]int {
	counts := make(map[airway.Generation]int)
	for _, g := range labels {
		counts[g]++
	}
	return counts
}

// hasLabels reports whether the input carried any ground truth worth
// scoring against.
func hasLabels(truth []airway.Generation) bool {
	for _, g := range truth {
		if g != airway.GenUndefined {
			return true
		}
	}
	return false
}

func diceScores(c *report.Comparison) map[airway.Generation]float64 {
	scores := make(map[airway.Generation]float64)
	for _, state := range airway.States() {
		if score, ok := c.Dice(state); ok {
			scores[state] = score
		}
	}
	return scores
}
