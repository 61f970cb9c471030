// Package airway defines the core data model shared by the topology,
// model, and label packages: particles sampled along airway centerlines
// and the discrete generation states assigned to them.
package airway

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"
)

// Generation is the discrete branching depth of an airway particle,
// counted from the trachea (generation 0). GenUndefined marks particles
// for which no generation could be established.
type Generation uint8

const (
	Gen0 Generation = iota
	Gen1
	Gen2
	Gen3
	Gen4
	Gen5
	Gen6
	Gen7
	Gen8
	Gen9
	Gen10
	GenUndefined
)

// NumStates is the size of the full state space, GenUndefined included.
const NumStates = 12

// chestTypeBase is the ChestType code of generation 0 in the CIP
// conventions; generations 0..10 map to codes 38..48.
const chestTypeBase = 38

// undefinedChestType is the ChestType code for an unlabeled particle.
const undefinedChestType = 0

// States returns all states in enumeration order, GenUndefined last.
func States() []Generation {
	s := make([]Generation, NumStates)
	for i := range s {
		s[i] = Generation(i)
	}
	return s
}

// Valid reports whether g is one of the twelve enumerated states.
func (g Generation) Valid() bool {
	return g <= GenUndefined
}

// ChestType returns the CIP ChestType code used to encode g in particle
// files (38..48 for generations, 0 for undefined).
func (g Generation) ChestType() uint8 {
	if g >= GenUndefined {
		return undefinedChestType
	}
	return chestTypeBase + uint8(g)
}

// GenerationFromChestType maps a ChestType code back to a generation
// state. Codes outside the airway-generation range map to GenUndefined
// with ok=false so callers can warn on genuinely foreign codes; the
// undefined code itself returns ok=true.
func GenerationFromChestType(code uint8) (Generation, bool) {
	switch {
	case code == undefinedChestType:
		return GenUndefined, true
	case code >= chestTypeBase && code <= chestTypeBase+10:
		return Generation(code - chestTypeBase), true
	default:
		return GenUndefined, false
	}
}

func (g Generation) String() string {
	if g >= GenUndefined {
		return "UndefinedType"
	}
	return fmt.Sprintf("AirwayGeneration%d", uint8(g))
}

// ParseGenerationName resolves a CIP state name ("AirwayGeneration3",
// "UndefinedType") to its Generation value.
func ParseGenerationName(name string) (Generation, bool) {
	if name == "UndefinedType" {
		return GenUndefined, true
	}
	var n int
	if _, err := fmt.Sscanf(name, "AirwayGeneration%d", &n); err != nil || n < 0 || n > 10 {
		return GenUndefined, false
	}
	return Generation(n), true
}

// Particle is one point sample of the airway tree. Pos and Scale come
// from the particle detector; MinorAxis is the hevec2 eigenvector of the
// local structure tensor and is sign-ambiguous (v and -v are the same
// axis). Generation is the only field the pipeline writes.
type Particle struct {
	Pos        r3.Vec
	Scale      float64
	MinorAxis  r3.Vec
	Generation Generation
}

// ConnectivityParams are the geometric thresholds for deciding whether
// two particles belong to the same branch. Values are fixed before any
// topology work begins and never mutated afterwards.
type ConnectivityParams struct {
	// ScaleRatioThreshold rejects pairs whose relative scale difference
	// |s1-s2|/max(s1,s2) exceeds it. 1.0 accepts everything with
	// positive scales.
	ScaleRatioThreshold float64

	// DistanceThreshold is the maximum Euclidean distance (mm) between
	// connected particles; usually the inter-particle spacing.
	DistanceThreshold float64

	// AngleThresholdDeg is the maximum angle (degrees, folded into
	// [0,90]) between the connecting vector and either particle's
	// minor axis.
	AngleThresholdDeg float64

	// RootDirection picks the root of each component: the particle with
	// the largest projection onto this direction. Defaults to +Z
	// (superior), where the trachea sits in an LPS-oriented scan.
	RootDirection r3.Vec
}

// DefaultConnectivityParams mirrors the thresholds the labeling tool
// ships with.
func DefaultConnectivityParams() ConnectivityParams {
	return ConnectivityParams{
		ScaleRatioThreshold: 1.0,
		DistanceThreshold:   2.0,
		AngleThresholdDeg:   70.0,
		RootDirection:       r3.Vec{Z: 1},
	}
}
