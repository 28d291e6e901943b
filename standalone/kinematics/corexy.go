package kinematics

import (
	"errors"

	"gopper/standalone"
)

// mixPlane names which two head axes a coreMixer combines onto two motors.
type mixPlane int

const (
	mixXY mixPlane = iota // CoreXY / CoreYX
	mixXZ                  // CoreXZ / CoreZX
)

// coreMixer implements the four Core* gantries: two motors each drive a
// linear combination of two head axes (dx+dy and dx-dy, or dx+dz and dx-dz),
// while the third head axis passes straight through to its own motor.
// swapped selects CoreYX/CoreZX, which exchanges which head axis lands on
// which physical motor slot without changing the mixing math itself.
type coreMixer struct {
	config  *standalone.MachineConfig
	plane   mixPlane
	swapped bool
}

func newCoreMixer(cfg *standalone.MachineConfig, plane mixPlane, swapped bool) (*coreMixer, error) {
	if _, ok := cfg.Axes["x"]; !ok {
		return nil, errors.New("X axis not configured")
	}
	if _, ok := cfg.Axes["y"]; !ok {
		return nil, errors.New("Y axis not configured")
	}
	if _, ok := cfg.Axes["z"]; !ok {
		return nil, errors.New("Z axis not configured")
	}
	return &coreMixer{config: cfg, plane: plane, swapped: swapped}, nil
}

func (k *coreMixer) Name() string {
	switch {
	case k.plane == mixXY && !k.swapped:
		return "corexy"
	case k.plane == mixXY && k.swapped:
		return "coreyx"
	case k.plane == mixXZ && !k.swapped:
		return "corexz"
	default:
		return "corezx"
	}
}

// split returns (a, b, straight) where a/b are the head-frame deltas fed
// into the two mixed motors (in A=a+b, B=a-b order) and straight is the
// untouched third axis delta.
func (k *coreMixer) split(dx, dy, dz float64) (a, b, straight float64) {
	if k.plane == mixXY {
		a, b, straight = dx, dy, dz
	} else {
		a, b, straight = dx, dz, dy
	}
	if k.swapped {
		a, b = b, a
	}
	return
}

func (k *coreMixer) MotorDeltaSteps(dx, dy, dz float64, stepsPerUnit [3]float64) (motorSteps [3]int64) {
	a, b, straight := k.split(dx, dy, dz)
	// Motor A/B steps-per-unit are carried on the config's first two mixed
	// axes; the straight-through axis keeps its own steps-per-unit.
	spuA, spuB, spuC := k.splitStepsPerUnit(stepsPerUnit)
	motorA := int64((a + b) * spuA)
	motorB := int64((a - b) * spuB)
	motorC := int64(straight * spuC)
	return k.unsplit(motorA, motorB, motorC)
}

func (k *coreMixer) splitStepsPerUnit(spu [3]float64) (a, b, c float64) {
	if k.plane == mixXY {
		return spu[0], spu[1], spu[2]
	}
	return spu[0], spu[2], spu[1]
}

// unsplit places (motorA, motorB, motorC) back into [X,Y,Z] motor slots the
// way this mechanics wires them: the two mixed motors occupy the X/Y (or
// X/Z) slots, the straight-through axis keeps its own slot.
func (k *coreMixer) unsplit(a, b, c int64) (out [3]int64) {
	if k.plane == mixXY {
		out[0], out[1], out[2] = a, b, c
	} else {
		out[0], out[2], out[1] = a, b, c
	}
	return
}

func (k *coreMixer) HeadPositionMM(motorSteps [3]int64, stepsPerUnit [3]float64) (x, y, z float64) {
	var motorA, motorB, motorC int64
	if k.plane == mixXY {
		motorA, motorB, motorC = motorSteps[0], motorSteps[1], motorSteps[2]
	} else {
		motorA, motorB, motorC = motorSteps[0], motorSteps[2], motorSteps[1]
	}
	spuA, spuB, spuC := k.splitStepsPerUnit(stepsPerUnit)
	// Inverse of a=dx+dy (or dx+dz), b=dx-dy: average recovers a, half-diff
	// recovers b.
	a := (float64(motorA)/spuA + float64(motorB)/spuB) / 2
	b := (float64(motorA)/spuA - float64(motorB)/spuB) / 2
	straight := float64(motorC) / spuC
	if k.swapped {
		a, b = b, a
	}
	if k.plane == mixXY {
		return a, b, straight
	}
	return a, straight, b
}

func (k *coreMixer) DirectionBits(dx, dy, dz float64) uint16 {
	a, b, straight := k.split(dx, dy, dz)
	motorA := a + b
	motorB := a - b

	var bits uint16
	// Motor bits: which physical motors turn backward. unsplit() places the
	// two mixed motors and the straight-through axis into [X,Y,Z] slots; the
	// bits here must match that placement exactly.
	if motorA < 0 {
		bits |= standalone.BitX
	}
	if k.plane == mixXY {
		if motorB < 0 {
			bits |= standalone.BitY
		}
		if straight < 0 {
			bits |= standalone.BitZ
		}
	} else {
		if motorB < 0 {
			bits |= standalone.BitZ
		}
		if straight < 0 {
			bits |= standalone.BitY
		}
	}

	// Head bits: which user-visible axis moves backward, independent of
	// which motor combination produced it. Endstop logic consults these.
	if dx < 0 {
		bits |= standalone.BitXHead
	}
	if dy < 0 {
		bits |= standalone.BitYHead
	}
	if dz < 0 {
		bits |= standalone.BitZHead
	}
	return bits
}

func (k *coreMixer) CheckLimits(pos standalone.Position) error {
	if err := checkAxisLimits("x", pos.X, k.config.Axes); err != nil {
		return err
	}
	if err := checkAxisLimits("y", pos.Y, k.config.Axes); err != nil {
		return err
	}
	if err := checkAxisLimits("z", pos.Z, k.config.Axes); err != nil {
		return err
	}
	return nil
}
