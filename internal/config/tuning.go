// Package config loads the optional JSON tuning file that overrides the
// built-in connectivity and model defaults. Fields are pointer-typed so
// a partial file only overrides what it names; flags override the file.
package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/chestlab-data/airway.report/internal/airway"
	"github.com/chestlab-data/airway.report/internal/airway/model"
)

// TuningConfig is the root of the tuning file schema.
type TuningConfig struct {
	// Connectivity thresholds
	ScaleRatioThreshold *float64   `json:"scale_ratio_threshold,omitempty"`
	DistanceThreshold   *float64   `json:"distance_threshold,omitempty"`
	AngleThresholdDeg   *float64   `json:"angle_threshold_deg,omitempty"`
	RootDirection       *[3]float64 `json:"root_direction,omitempty"`

	// Kernel density estimation
	KDEROIRadius         *float64 `json:"kde_roi_radius,omitempty"` // absent = infinite
	KDEBandwidthScale    *float64 `json:"kde_bandwidth_scale,omitempty"`
	KDEBandwidthDistance *float64 `json:"kde_bandwidth_distance,omitempty"`
	KDEBandwidthAngle    *float64 `json:"kde_bandwidth_angle,omitempty"`

	// Labeling
	Workers                *int     `json:"workers,omitempty"`
	DefaultTransitionProb  *float64 `json:"default_transition_probability,omitempty"`
	ForceTracheaRootPrior  *bool    `json:"force_trachea_root_prior,omitempty"`
}

// EmptyTuningConfig returns a config with every field unset; getters
// fall back to the package defaults.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig reads and validates a tuning file. Fields omitted
// from the JSON keep their defaults, so partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks every set field for a physically meaningful value.
func (c *TuningConfig) Validate() error {
	if c.ScaleRatioThreshold != nil && *c.ScaleRatioThreshold <= 0 {
		return fmt.Errorf("scale_ratio_threshold must be positive, got %f", *c.ScaleRatioThreshold)
	}
	if c.DistanceThreshold != nil && *c.DistanceThreshold <= 0 {
		return fmt.Errorf("distance_threshold must be positive, got %f", *c.DistanceThreshold)
	}
	if c.AngleThresholdDeg != nil && (*c.AngleThresholdDeg <= 0 || *c.AngleThresholdDeg > 90) {
		return fmt.Errorf("angle_threshold_deg must be in (0,90], got %f", *c.AngleThresholdDeg)
	}
	if c.RootDirection != nil {
		d := *c.RootDirection
		if d[0] == 0 && d[1] == 0 && d[2] == 0 {
			return fmt.Errorf("root_direction must not be the zero vector")
		}
	}
	if c.KDEROIRadius != nil && *c.KDEROIRadius <= 0 {
		return fmt.Errorf("kde_roi_radius must be positive, got %f", *c.KDEROIRadius)
	}
	for name, v := range map[string]*float64{
		"kde_bandwidth_scale":    c.KDEBandwidthScale,
		"kde_bandwidth_distance": c.KDEBandwidthDistance,
		"kde_bandwidth_angle":    c.KDEBandwidthAngle,
	} {
		if v != nil && *v <= 0 {
			return fmt.Errorf("%s must be positive, got %f", name, *v)
		}
	}
	if c.Workers != nil && *c.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", *c.Workers)
	}
	if c.DefaultTransitionProb != nil && (*c.DefaultTransitionProb <= 0 || *c.DefaultTransitionProb > 1) {
		return fmt.Errorf("default_transition_probability must be in (0,1], got %f", *c.DefaultTransitionProb)
	}
	return nil
}

// ConnectivityParams merges the set fields over the built-in defaults.
func (c *TuningConfig) ConnectivityParams() airway.ConnectivityParams {
	params := airway.DefaultConnectivityParams()
	if c.ScaleRatioThreshold != nil {
		params.ScaleRatioThreshold = *c.ScaleRatioThreshold
	}
	if c.DistanceThreshold != nil {
		params.DistanceThreshold = *c.DistanceThreshold
	}
	if c.AngleThresholdDeg != nil {
		params.AngleThresholdDeg = *c.AngleThresholdDeg
	}
	if c.RootDirection != nil {
		d := *c.RootDirection
		params.RootDirection = r3.Vec{X: d[0], Y: d[1], Z: d[2]}
	}
	return params
}

// GetKDEROIRadius returns the configured region-of-interest radius, or
// +Inf when unset so every atlas particle contributes.
func (c *TuningConfig) GetKDEROIRadius() float64 {
	if c.KDEROIRadius == nil {
		return math.Inf(1)
	}
	return *c.KDEROIRadius
}

// GetKDEBandwidth merges bandwidth overrides over the model defaults.
func (c *TuningConfig) GetKDEBandwidth() model.KDEBandwidth {
	bw := model.DefaultKDEBandwidth()
	if c.KDEBandwidthScale != nil {
		bw.Scale = *c.KDEBandwidthScale
	}
	if c.KDEBandwidthDistance != nil {
		bw.Distance = *c.KDEBandwidthDistance
	}
	if c.KDEBandwidthAngle != nil {
		bw.Angle = *c.KDEBandwidthAngle
	}
	return bw
}

// GetWorkers returns the configured worker count, 0 meaning "pick for
// the machine".
func (c *TuningConfig) GetWorkers() int {
	if c.Workers == nil {
		return 0
	}
	return *c.Workers
}

// GetDefaultTransitionProb returns the fallback transition probability.
func (c *TuningConfig) GetDefaultTransitionProb() float64 {
	if c.DefaultTransitionProb == nil {
		return model.DefaultTransitionProbability
	}
	return *c.DefaultTransitionProb
}

// GetForceTracheaRootPrior reports whether tree roots should be pinned
// to generation 0.
func (c *TuningConfig) GetForceTracheaRootPrior() bool {
	return c.ForceTracheaRootPrior != nil && *c.ForceTracheaRootPrior
}
