package kinematics

import (
	"errors"

	"gopper/standalone"
)

// Cartesian is a 1:1 mapping between head axes and motors.
type Cartesian struct {
	config *standalone.MachineConfig
}

// NewCartesian creates a new Cartesian kinematics instance.
func NewCartesian(config *standalone.MachineConfig) (*Cartesian, error) {
	if _, ok := config.Axes["x"]; !ok {
		return nil, errors.New("X axis not configured")
	}
	if _, ok := config.Axes["y"]; !ok {
		return nil, errors.New("Y axis not configured")
	}
	if _, ok := config.Axes["z"]; !ok {
		return nil, errors.New("Z axis not configured")
	}
	return &Cartesian{config: config}, nil
}

func (k *Cartesian) Name() string { return "cartesian" }

func (k *Cartesian) MotorDeltaSteps(dx, dy, dz float64, stepsPerUnit [3]float64) (motorSteps [3]int64) {
	motorSteps[0] = int64(dx * stepsPerUnit[0])
	motorSteps[1] = int64(dy * stepsPerUnit[1])
	motorSteps[2] = int64(dz * stepsPerUnit[2])
	return
}

func (k *Cartesian) HeadPositionMM(motorSteps [3]int64, stepsPerUnit [3]float64) (x, y, z float64) {
	x = float64(motorSteps[0]) / stepsPerUnit[0]
	y = float64(motorSteps[1]) / stepsPerUnit[1]
	z = float64(motorSteps[2]) / stepsPerUnit[2]
	return
}

func (k *Cartesian) DirectionBits(dx, dy, dz float64) uint16 {
	var bits uint16
	if dx < 0 {
		bits |= standalone.BitX | standalone.BitXHead
	}
	if dy < 0 {
		bits |= standalone.BitY | standalone.BitYHead
	}
	if dz < 0 {
		bits |= standalone.BitZ | standalone.BitZHead
	}
	return bits
}

func (k *Cartesian) CheckLimits(pos standalone.Position) error {
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
