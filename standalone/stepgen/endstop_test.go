package stepgen

import (
	"testing"

	"gopper/core"
	"gopper/standalone"
)

func endstopTestConfig() *standalone.MachineConfig {
	return &standalone.MachineConfig{
		Endstops: map[string]standalone.EndstopConfig{
			"x_min": {Pin: "gpio20", Axis: "x", Invert: true},
		},
	}
}

// TestEndstopMonitorDebounce verifies the two-sample agreement rule of
// spec §4.5: a single active sample is not enough to trigger.
func TestEndstopMonitorDebounce(t *testing.T) {
	driver := core.NewSimGPIODriver()
	mon, err := NewEndstopMonitor(driver, endstopTestConfig())
	if err != nil {
		t.Fatalf("NewEndstopMonitor: %v", err)
	}
	mon.SetHomingMask(1 << uint(standalone.AxisX))

	pin, _ := parsePin("gpio20")
	// Invert=true uses ConfigureInputPullUp, which defaults the pin high
	// (active = !raw = false, not triggered). Pull it low to simulate the
	// switch closing.
	driver.SetPin(pin, false)

	mon.Poll() // sample 1: active, runLength -> 1, not yet debounced
	if mon.Triggered(standalone.AxisX) {
		t.Errorf("triggered after a single sample, expected debounce to require 2")
	}

	mon.Poll() // sample 2: active again, runLength -> 2, debounced
	if !mon.Triggered(standalone.AxisX) {
		t.Errorf("expected triggered after 2 consecutive active samples")
	}
}

// TestEndstopMonitorHomingMaskGating verifies a homing mask of 0 disables
// all endstop checks, matching normal travel moves per spec §4.5.
func TestEndstopMonitorHomingMaskGating(t *testing.T) {
	driver := core.NewSimGPIODriver()
	mon, err := NewEndstopMonitor(driver, endstopTestConfig())
	if err != nil {
		t.Fatalf("NewEndstopMonitor: %v", err)
	}

	pin, _ := parsePin("gpio20")
	driver.SetPin(pin, false)
	mon.Poll()
	mon.Poll()

	if mon.Triggered(standalone.AxisX) {
		t.Errorf("expected Triggered to be masked off with homing mask 0")
	}

	mon.SetHomingMask(1 << uint(standalone.AxisX))
	if !mon.Triggered(standalone.AxisX) {
		t.Errorf("expected Triggered once the axis bit is set in the homing mask")
	}
}

func TestEndstopMonitorUntriggeredByDefault(t *testing.T) {
	driver := core.NewSimGPIODriver()
	mon, err := NewEndstopMonitor(driver, endstopTestConfig())
	if err != nil {
		t.Fatalf("NewEndstopMonitor: %v", err)
	}
	mon.SetHomingMask(1 << uint(standalone.AxisX))

	mon.Poll()
	mon.Poll()

	if mon.Triggered(standalone.AxisX) {
		t.Errorf("expected untriggered: pull-up default is high, inverted to inactive")
	}
}
