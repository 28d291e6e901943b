package core

import "sync"

// SimGPIODriver is an in-memory GPIODriver, standing in for real hardware
// on a host machine that has no GPIO controller of its own. cmd/gopperd
// uses it by default; it is also what the package's own tests exercise the
// GPIODriver contract against.
type SimGPIODriver struct {
	mu   sync.Mutex
	pins map[GPIOPin]bool
}

// NewSimGPIODriver returns an empty simulated GPIO bank.
func NewSimGPIODriver() *SimGPIODriver {
	return &SimGPIODriver{pins: make(map[GPIOPin]bool)}
}

func (d *SimGPIODriver) ConfigureOutput(pin GPIOPin) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pins[pin] = false
	return nil
}

func (d *SimGPIODriver) ConfigureInputPullUp(pin GPIOPin) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pins[pin] = true
	return nil
}

func (d *SimGPIODriver) ConfigureInputPullDown(pin GPIOPin) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pins[pin] = false
	return nil
}

func (d *SimGPIODriver) SetPin(pin GPIOPin, value bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pins[pin] = value
	return nil
}

func (d *SimGPIODriver) GetPin(pin GPIOPin) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pins[pin], nil
}

func (d *SimGPIODriver) ReadPin(pin GPIOPin) bool {
	v, _ := d.GetPin(pin)
	return v
}
