// Package kinematics maps head-frame (user-visible X/Y/Z) displacements onto
// physical motor step deltas, and back, for the mechanics the planner
// supports: plain Cartesian and the four Core* gantries.
package kinematics

import (
	"fmt"

	"gopper/standalone"
)

// Kinematics converts between the head frame (what the operator commands)
// and the motor frame (what the stepper engine actually drives). On
// Cartesian machines the two frames coincide; on Core* machines two motors
// are linear combinations of two head axes, which is why direction bits and
// position readback both need an explicit inverse.
type Kinematics interface {
	// Name is the configuration-file mechanics selector this implements.
	Name() string

	// CheckLimits validates a head-frame position against configured axis
	// travel limits.
	CheckLimits(pos standalone.Position) error

	// MotorDeltaSteps converts signed head-frame mm deltas into signed
	// per-motor step deltas, given each motor's steps-per-unit ([X,Y,Z]
	// order). The Z motor is returned unmixed on Cartesian, CoreXY and
	// CoreYX; CoreXZ and CoreZX mix it with X and leave the Y motor unmixed.
	MotorDeltaSteps(dx, dy, dz float64, stepsPerUnit [3]float64) (motorSteps [3]int64)

	// HeadPositionMM inverts absolute motor step counts back to a head-frame
	// mm position, for plan_get_position.
	HeadPositionMM(motorSteps [3]int64, stepsPerUnit [3]float64) (x, y, z float64)

	// DirectionBits returns the direction bitfield for a signed head-frame
	// mm delta: motor bits (BitX/BitY/BitZ) reflect what each motor actually
	// does, head bits (BitXHead/BitYHead/BitZHead) reflect the user-visible
	// axis direction. On Cartesian the two coincide.
	DirectionBits(dx, dy, dz float64) uint16
}

// AxisLimits is a position limit pair for one axis.
type AxisLimits struct {
	Min float64
	Max float64
}

// New constructs the Kinematics implementation named by cfg.Kinematics.
func New(cfg *standalone.MachineConfig) (Kinematics, error) {
	switch cfg.Kinematics {
	case "", "cartesian":
		return NewCartesian(cfg)
	case "corexy":
		return newCoreMixer(cfg, mixXY, false)
	case "coreyx":
		return newCoreMixer(cfg, mixXY, true)
	case "corexz":
		return newCoreMixer(cfg, mixXZ, false)
	case "corezx":
		return newCoreMixer(cfg, mixXZ, true)
	default:
		return nil, fmt.Errorf("unsupported kinematics: %s", cfg.Kinematics)
	}
}

func sign(v float64) int64 {
	if v < 0 {
		return -1
	}
	if v > 0 {
		return 1
	}
	return 0
}

func checkAxisLimits(name string, v float64, axes map[string]standalone.AxisConfig) error {
	a, ok := axes[name]
	if !ok {
		return nil
	}
	if v < a.MinPosition || v > a.MaxPosition {
		return fmt.Errorf("%s position %.3f out of limits [%.3f, %.3f]", name, v, a.MinPosition, a.MaxPosition)
	}
	return nil
}
