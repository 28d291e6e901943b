// Package config loads the JSON machine description into a
// standalone.MachineConfig, applying the same sensible-defaults convention
// the rest of the core follows: absent numeric fields fall back to a
// reasonable default rather than zero.
package config

import (
	"encoding/json"

	"gopper/standalone"
)

// LoadConfig parses a JSON configuration document and returns a
// MachineConfig with defaults applied.
func LoadConfig(jsonData []byte) (*standalone.MachineConfig, error) {
	var cfg standalone.MachineConfig
	if err := json.Unmarshal(jsonData, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *standalone.MachineConfig) {
	if cfg.Mode == "" {
		cfg.Mode = "standalone"
	}
	if cfg.Kinematics == "" {
		cfg.Kinematics = "cartesian"
	}

	if cfg.Acceleration == 0 {
		cfg.Acceleration = 1000.0
	}
	if cfg.TravelAcceleration == 0 {
		cfg.TravelAcceleration = cfg.Acceleration
	}
	if cfg.RetractAcceleration == 0 {
		cfg.RetractAcceleration = cfg.Acceleration
	}
	if cfg.MaxXYJerk == 0 {
		cfg.MaxXYJerk = 20.0
	}
	if cfg.MaxZJerk == 0 {
		cfg.MaxZJerk = 0.4
	}
	if cfg.JunctionDeviation == 0 {
		cfg.JunctionDeviation = 0.05
	}

	if cfg.RingCapacity == 0 {
		cfg.RingCapacity = 16
	}
	if cfg.MaxStepFrequency == 0 {
		cfg.MaxStepFrequency = 40000
	}
	if cfg.DoubleStepFrequency == 0 {
		cfg.DoubleStepFrequency = 10000
	}
	if cfg.DropSegments == 0 {
		cfg.DropSegments = 1
	}
	if cfg.MinimumPlannerSpeed == 0 {
		cfg.MinimumPlannerSpeed = 0.05
	}
	if cfg.MinSegmentTimeUs == 0 {
		cfg.MinSegmentTimeUs = 20000
	}
	if cfg.VolumetricMultiplier == 0 {
		cfg.VolumetricMultiplier = 1.0
	}
	if cfg.ExtrudeMultiplier == 0 {
		cfg.ExtrudeMultiplier = 1.0
	}

	for name, axis := range cfg.Axes {
		if axis.MaxFeedrate == 0 {
			axis.MaxFeedrate = 300.0
		}
		if axis.MaxAccel == 0 {
			axis.MaxAccel = 1000.0
		}
		if axis.HomingVel == 0 {
			axis.HomingVel = 5.0
		}
		if axis.StepsPerUnit == 0 {
			axis.StepsPerUnit = 80.0
		}
		cfg.Axes[name] = axis
	}

	for i, ext := range cfg.Extruders {
		if ext.StepsPerUnit == 0 {
			ext.StepsPerUnit = 96.0
		}
		if ext.MaxFeedrate == 0 {
			ext.MaxFeedrate = 50.0
		}
		if ext.MaxAccel == 0 {
			ext.MaxAccel = 5000.0
		}
		if ext.MaxEJerk == 0 {
			ext.MaxEJerk = 5.0
		}
		if ext.RetractAcceleration == 0 {
			ext.RetractAcceleration = cfg.RetractAcceleration
		}
		cfg.Extruders[i] = ext
	}
	if len(cfg.Extruders) == 0 {
		cfg.Extruders = []standalone.ExtruderConfig{{
			StepsPerUnit:        96.0,
			MaxFeedrate:         50.0,
			MaxAccel:            5000.0,
			MaxEJerk:            5.0,
			RetractAcceleration: cfg.RetractAcceleration,
		}}
	}
}

// DefaultCartesianConfig returns a reasonable default configuration for a
// small Cartesian printer, useful for tests and as a starting template.
func DefaultCartesianConfig() *standalone.MachineConfig {
	cfg := &standalone.MachineConfig{
		Mode:       "standalone",
		Kinematics: "cartesian",
		Axes: map[string]standalone.AxisConfig{
			"x": {StepPin: "gpio0", DirPin: "gpio1", EnablePin: "gpio8", StepsPerUnit: 80.0, MaxFeedrate: 300.0, MaxAccel: 3000.0, HomingVel: 50.0, MinPosition: 0, MaxPosition: 220.0},
			"y": {StepPin: "gpio2", DirPin: "gpio3", EnablePin: "gpio8", StepsPerUnit: 80.0, MaxFeedrate: 300.0, MaxAccel: 3000.0, HomingVel: 50.0, MinPosition: 0, MaxPosition: 220.0},
			"z": {StepPin: "gpio4", DirPin: "gpio5", EnablePin: "gpio8", StepsPerUnit: 400.0, MaxFeedrate: 10.0, MaxAccel: 100.0, HomingVel: 5.0, MinPosition: 0, MaxPosition: 250.0},
		},
		Extruders: []standalone.ExtruderConfig{
			{StepPin: "gpio6", DirPin: "gpio7", EnablePin: "gpio8", StepsPerUnit: 96.0, MaxFeedrate: 50.0, MaxAccel: 5000.0, MaxEJerk: 5.0, RetractAcceleration: 5000.0},
		},
		Endstops: map[string]standalone.EndstopConfig{
			"x_min": {Pin: "gpio20", Axis: "x"},
			"y_min": {Pin: "gpio21", Axis: "y"},
			"z_min": {Pin: "gpio22", Axis: "z"},
		},
		Acceleration:        1000.0,
		TravelAcceleration:  1000.0,
		RetractAcceleration: 1000.0,
		MaxXYJerk:           20.0,
		MaxZJerk:            0.4,
		JunctionDeviation:   0.05,
	}
	applyDefaults(cfg)
	return cfg
}
