// Package stepgen is the stepper engine (spec §4.4): a periodic handler
// that pops blocks from the planner's ring, drives a Bresenham multi-axis
// line generator, and reshapes its own period to trace the
// accelerate/cruise/decelerate phases of each block's trapezoid.
package stepgen

import (
	"fmt"
	"strconv"
	"strings"

	"gopper/core"
)

// parsePin turns a config pin name like "gpio12" into a core.GPIOPin. It is
// deliberately tiny: the core has no board-specific pin macro table in
// scope (spec §1 non-goals), so configuration pin names are just the raw
// GPIO number with an optional "gpio" prefix.
func parsePin(name string) (core.GPIOPin, error) {
	n := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(name)), "gpio")
	if n == "" {
		return 0, fmt.Errorf("empty pin name")
	}
	v, err := strconv.Atoi(n)
	if err != nil {
		return 0, fmt.Errorf("invalid pin name %q: %w", name, err)
	}
	return core.GPIOPin(v), nil
}

// gpioBackend adapts a core.GPIODriver + a trio of pin names into a
// core.StepperBackend, the hardware abstraction the rest of the engine
// drives. Step() pulses high then low immediately; on a real MCU target
// this would be timed to the driver's minimum pulse width, but the
// standalone engine's tick rate is already well under the pulse-width
// requirement of any modern driver.
type gpioBackend struct {
	driver     core.GPIODriver
	step       core.GPIOPin
	dir        core.GPIOPin
	enable     core.GPIOPin
	hasEnable  bool
	invertDir  bool
	invertEn   bool
	enabled    bool
	lastDir    bool
}

// NewGPIOStepper builds a core.StepperBackend driving step/dir/enable pins
// through a core.GPIODriver. enablePin may be empty if the motor driver has
// no software enable line.
func NewGPIOStepper(driver core.GPIODriver, stepPin, dirPin, enablePin string, invertDir, invertEnable bool) (core.StepperBackend, error) {
	return newGPIOBackend(driver, stepPin, dirPin, enablePin, invertDir, invertEnable)
}

func newGPIOBackend(driver core.GPIODriver, stepPin, dirPin, enablePin string, invertDir, invertEnable bool) (*gpioBackend, error) {
	b := &gpioBackend{driver: driver, invertDir: invertDir, invertEn: invertEnable}

	sp, err := parsePin(stepPin)
	if err != nil {
		return nil, fmt.Errorf("step pin: %w", err)
	}
	dp, err := parsePin(dirPin)
	if err != nil {
		return nil, fmt.Errorf("dir pin: %w", err)
	}
	b.step, b.dir = sp, dp

	if err := driver.ConfigureOutput(b.step); err != nil {
		return nil, err
	}
	if err := driver.ConfigureOutput(b.dir); err != nil {
		return nil, err
	}

	if enablePin != "" {
		ep, err := parsePin(enablePin)
		if err != nil {
			return nil, fmt.Errorf("enable pin: %w", err)
		}
		if err := driver.ConfigureOutput(ep); err != nil {
			return nil, err
		}
		b.enable = ep
		b.hasEnable = true
		b.setEnabled(false)
	}

	return b, nil
}

func (b *gpioBackend) Init(stepPin, dirPin uint8, invertStep, invertDir bool) error {
	return nil // configured at construction; kept to satisfy core.StepperBackend
}

func (b *gpioBackend) Step() {
	b.driver.SetPin(b.step, true)
	b.driver.SetPin(b.step, false)
}

func (b *gpioBackend) SetDirection(dir bool) {
	if dir == b.lastDir {
		return
	}
	b.lastDir = dir
	out := dir
	if b.invertDir {
		out = !out
	}
	b.driver.SetPin(b.dir, out)
}

func (b *gpioBackend) Stop() {}

func (b *gpioBackend) GetName() string { return "gpio" }

func (b *gpioBackend) setEnabled(on bool) {
	if !b.hasEnable {
		return
	}
	b.enabled = on
	out := on
	if b.invertEn {
		out = !out
	}
	b.driver.SetPin(b.enable, out)
}
