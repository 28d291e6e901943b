package core

import "testing"

func TestSimGPIODriverOutput(t *testing.T) {
	driver := NewSimGPIODriver()

	pin := GPIOPin(25)
	if err := driver.ConfigureOutput(pin); err != nil {
		t.Fatalf("ConfigureOutput failed: %v", err)
	}

	if err := driver.SetPin(pin, true); err != nil {
		t.Fatalf("SetPin(true) failed: %v", err)
	}
	if state, err := driver.GetPin(pin); err != nil || !state {
		t.Errorf("expected pin high, got %v (err %v)", state, err)
	}

	if err := driver.SetPin(pin, false); err != nil {
		t.Fatalf("SetPin(false) failed: %v", err)
	}
	if state, err := driver.GetPin(pin); err != nil || state {
		t.Errorf("expected pin low, got %v (err %v)", state, err)
	}
}

func TestSimGPIODriverReadPin(t *testing.T) {
	driver := NewSimGPIODriver()
	pin := GPIOPin(3)

	if err := driver.ConfigureInputPullUp(pin); err != nil {
		t.Fatalf("ConfigureInputPullUp failed: %v", err)
	}
	if !driver.ReadPin(pin) {
		t.Errorf("expected pull-up default high")
	}

	driver.SetPin(pin, false)
	if driver.ReadPin(pin) {
		t.Errorf("expected pin low after SetPin(false)")
	}
}

func TestGPIODriverRegistration(t *testing.T) {
	driver := NewSimGPIODriver()
	SetGPIODriver(driver)

	if MustGPIO() != GPIODriver(driver) {
		t.Errorf("MustGPIO did not return the registered driver")
	}
}
