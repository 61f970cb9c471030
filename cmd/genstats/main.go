// Command genstats fits the generation labeling statistics from labeled
// atlas particle clouds.
//
// Each atlas is linked into trees with the same connectivity rules the
// labeler uses, then every parent→child edge contributes one training
// sample. The output is three CSV files: per-state emission statistics,
// per-pair transition statistics, and a row-stochastic transition matrix
// counted over the observed edges.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/chestlab-data/airway.report/internal/airway/topology"
	"github.com/chestlab-data/airway.report/internal/airway/train"
	"github.com/chestlab-data/airway.report/internal/config"
	"github.com/chestlab-data/airway.report/internal/particleio"
	"github.com/chestlab-data/airway.report/internal/version"
)

func main() {
	configPath := flag.String("config", "", "tuning config JSON")
	emissionOut := flag.String("emission-out", "", "emission statistics CSV output path")
	transitionOut := flag.String("transition-out", "", "transition statistics CSV output path")
	matrixOut := flag.String("matrix-out", "", "transition matrix CSV output path")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	if flag.NArg() == 0 {
		log.Fatalf("usage: genstats [flags] atlas.vtk [atlas.vtk ...]")
	}
	if *emissionOut == "" && *transitionOut == "" && *matrixOut == "" {
		log.Fatalf("at least one of -emission-out, -transition-out, -matrix-out must be provided")
	}

	cfg := config.EmptyTuningConfig()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadTuningConfig(*configPath)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
	}

	builder := topology.NewBuilder(cfg.ConnectivityParams())
	stats := train.NewStats()
	for _, path := range flag.Args() {
		particles, err := particleio.ReadFile(path)
		if err != nil {
			log.Fatalf("read atlas %s: %v", path, err)
		}
		trees := builder.BuildTrees(particles)
		stats.Collect(particles, trees)
		log.Printf("collected %s: %d particles, %d trees", path, len(particles), len(trees))
	}

	if *emissionOut != "" {
		writeCSV(*emissionOut, func(f *os.File) error {
			return train.WriteEmissionCSV(f, stats.EmissionTable())
		})
	}
	if *transitionOut != "" {
		writeCSV(*transitionOut, func(f *os.File) error {
			return train.WriteTransitionCSV(f, stats.TransitionTable())
		})
	}
	if *matrixOut != "" {
		writeCSV(*matrixOut, func(f *os.File) error {
			return train.WriteTransitionMatrixCSV(f, stats.TransitionMatrix())
		})
	}
}

func writeCSV(path string, write func(*os.File) error) {
	f, err := os.Create(path)
	if err != nil {
		log.Fatalf("create %s: %v", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		log.Fatalf("write %s: %v", path, err)
	}
	if err := f.Close(); err != nil {
		log.Fatalf("close %s: %v", path, err)
	}
	log.Printf("wrote %s", path)
}
