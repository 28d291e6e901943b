package stepgen

import (
	"testing"

	"gopper/core"
)

func TestParsePin(t *testing.T) {
	cases := map[string]core.GPIOPin{
		"gpio12": 12,
		"GPIO5":  5,
		"7":      7,
		" gpio3 ": 3,
	}
	for in, want := range cases {
		got, err := parsePin(in)
		if err != nil {
			t.Errorf("parsePin(%q): unexpected error: %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("parsePin(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestParsePinRejectsGarbage(t *testing.T) {
	if _, err := parsePin(""); err == nil {
		t.Errorf("expected an error for an empty pin name")
	}
	if _, err := parsePin("not-a-number"); err == nil {
		t.Errorf("expected an error for a non-numeric pin name")
	}
}

// TestGPIOStepperPulsesStepPin verifies Step() drives a rising-then-falling
// edge and SetDirection only writes the pin when the direction changes.
func TestGPIOStepperPulsesStepPin(t *testing.T) {
	driver := core.NewSimGPIODriver()
	stepper, err := NewGPIOStepper(driver, "gpio0", "gpio1", "gpio2", false, false)
	if err != nil {
		t.Fatalf("NewGPIOStepper: %v", err)
	}

	stepper.Step()
	v, _ := driver.GetPin(0)
	if v {
		t.Errorf("expected step pin to settle low after Step(), got high")
	}

	stepper.SetDirection(true)
	dirPin, _ := driver.GetPin(1)
	if !dirPin {
		t.Errorf("expected dir pin high after SetDirection(true)")
	}

	stepper.SetDirection(true) // no-op, direction unchanged
	stepper.SetDirection(false)
	dirPin, _ = driver.GetPin(1)
	if dirPin {
		t.Errorf("expected dir pin low after SetDirection(false)")
	}
}

func TestGPIOStepperInvertDir(t *testing.T) {
	driver := core.NewSimGPIODriver()
	stepper, err := NewGPIOStepper(driver, "gpio0", "gpio1", "", true, false)
	if err != nil {
		t.Fatalf("NewGPIOStepper: %v", err)
	}

	stepper.SetDirection(true)
	dirPin, _ := driver.GetPin(1)
	if dirPin {
		t.Errorf("expected inverted dir pin low when logical direction is true")
	}
}
