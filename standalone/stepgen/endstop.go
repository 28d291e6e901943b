package stepgen

import (
	"gopper/core"
	"gopper/standalone"
)

// debounceSamples is the number of consecutive identical raw reads an
// endstop must produce before its triggered state latches, filtering the
// single-sample contact bounce a mechanical switch produces.
const debounceSamples = 2

type endstopState struct {
	cfg       standalone.EndstopConfig
	pin       core.GPIOPin
	lastRaw   bool
	runLength int
	triggered bool
}

// EndstopMonitor polls configured endstop pins and exposes a debounced
// triggered state per axis, gated by a homing mask so travel moves never
// see spurious aborts from an endstop the current move isn't homing
// against (spec §4.5).
type EndstopMonitor struct {
	driver core.GPIODriver
	byName map[string]*endstopState
	byAxis map[int][]*endstopState

	homingMask uint16
}

// NewEndstopMonitor builds a monitor for every endstop in cfg.Endstops.
func NewEndstopMonitor(driver core.GPIODriver, cfg *standalone.MachineConfig) (*EndstopMonitor, error) {
	m := &EndstopMonitor{
		driver: driver,
		byName: make(map[string]*endstopState, len(cfg.Endstops)),
		byAxis: make(map[int][]*endstopState),
	}

	for name, ec := range cfg.Endstops {
		pin, err := parsePin(ec.Pin)
		if err != nil {
			return nil, err
		}
		if ec.Invert {
			if err := driver.ConfigureInputPullUp(pin); err != nil {
				return nil, err
			}
		} else {
			if err := driver.ConfigureInputPullDown(pin); err != nil {
				return nil, err
			}
		}
		st := &endstopState{cfg: ec, pin: pin}
		m.byName[name] = st
		axis := axisIndex(ec.Axis)
		m.byAxis[axis] = append(m.byAxis[axis], st)
	}

	return m, nil
}

func axisIndex(name string) int {
	switch name {
	case "x":
		return standalone.AxisX
	case "y":
		return standalone.AxisY
	case "z":
		return standalone.AxisZ
	default:
		return standalone.AxisE
	}
}

// SetHomingMask restricts Triggered/AnyTriggered to only the axes whose bit
// is set (1<<AxisX, etc.), matching which axes the in-flight move is
// homing. Pass 0 to disable all endstop checks (normal travel moves).
func (m *EndstopMonitor) SetHomingMask(mask uint16) {
	m.homingMask = mask
}

// Poll samples every configured pin once, advancing each one's debounce
// run length. Call it once per engine tick (or on a slower dedicated
// ticker for a real hardware target where polling at full step rate would
// be wasteful).
func (m *EndstopMonitor) Poll() {
	for _, st := range m.byName {
		raw := m.driver.ReadPin(st.pin)
		active := raw
		if st.cfg.Invert {
			active = !raw
		}
		if active == st.lastRaw {
			if st.runLength < debounceSamples {
				st.runLength++
			}
		} else {
			st.lastRaw = active
			st.runLength = 1
		}
		st.triggered = active && st.runLength >= debounceSamples
	}
}

// Triggered reports whether any endstop watching axis is both debounced-hit
// and enabled by the current homing mask.
func (m *EndstopMonitor) Triggered(axis int) bool {
	if m.homingMask&(1<<uint(axis)) == 0 {
		return false
	}
	for _, st := range m.byAxis[axis] {
		if st.triggered {
			return true
		}
	}
	return false
}

// AnyTriggered reports whether any axis currently enabled by the homing
// mask has a debounced endstop hit, for a quick overall abort check.
func (m *EndstopMonitor) AnyTriggered() bool {
	for axis := range m.byAxis {
		if m.Triggered(axis) {
			return true
		}
	}
	return false
}
