// Package bridge translates retired planner.Block trapezoids into the
// klipper-mode wire commands (config_stepper, set_next_step_dir,
// queue_step) the MCU's dictionary advertises, so a Block produced by the
// same planner/kinematics stack that drives the standalone stepgen.Engine
// can also drive a real MCU over host/mcu instead of an in-process GPIO
// backend.
package bridge

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"gopper/core"
	"gopper/protocol"
	"gopper/standalone"
	"gopper/standalone/planner"
)

// axisNames indexes the same four driver slots Block.Steps/DirectionBits
// use: X, Y, Z, E.
var axisNames = [4]string{"x", "y", "z", "e"}

var axisBit = [4]uint16{standalone.BitX, standalone.BitY, standalone.BitZ, standalone.BitE}

// commandSender is the slice of *mcu.MCU the bridge actually needs: looking
// up a dictionary-advertised command by name and sending it. Depending on
// this instead of *mcu.MCU directly lets tests exercise SendBlock's wire
// framing without a live serial connection.
type commandSender interface {
	SendCommand(name string, args func(output protocol.OutputBuffer)) error
}

// Bridge owns one config_stepper'd oid per physical motor (X, Y, Z, plus
// one per configured extruder) and turns Blocks into queue_step runs for
// each. It holds no trapezoid state of its own between blocks; every Block
// carries everything needed to regenerate its own three-phase schedule.
type Bridge struct {
	m commandSender

	motorOID    [3]uint8 // X, Y, Z
	extruderOID []uint8  // indexed by Block.Driver

	nextOID uint8

	quit        chan struct{}
	quickStop   atomic.Bool
	runningOnce sync.Once
}

// New connects oids for the configured axes and extruders, issuing
// config_stepper for each over m (which must already be connected with its
// dictionary retrieved). Pin names come from cfg the same way
// stepgen.NewGPIOStepper derives them for the standalone GPIO backend.
func New(m commandSender, cfg *standalone.MachineConfig) (*Bridge, error) {
	b := &Bridge{m: m, quit: make(chan struct{})}

	for i, name := range axisNames[:3] {
		axis, ok := cfg.Axes[name]
		if !ok {
			return nil, fmt.Errorf("bridge: no axis config for %q", name)
		}
		oid, err := b.configStepper(axis.StepPin, axis.DirPin, axis.InvertDir)
		if err != nil {
			return nil, fmt.Errorf("bridge: config_stepper %s: %w", name, err)
		}
		b.motorOID[i] = oid
	}

	b.extruderOID = make([]uint8, len(cfg.Extruders))
	for i, ext := range cfg.Extruders {
		oid, err := b.configStepper(ext.StepPin, ext.DirPin, ext.InvertDir)
		if err != nil {
			return nil, fmt.Errorf("bridge: config_stepper extruder %d: %w", i, err)
		}
		b.extruderOID[i] = oid
	}

	return b, nil
}

func (b *Bridge) configStepper(stepPin, dirPin string, invertDir bool) (uint8, error) {
	sp, err := parsePin(stepPin)
	if err != nil {
		return 0, fmt.Errorf("step pin: %w", err)
	}
	dp, err := parsePin(dirPin)
	if err != nil {
		return 0, fmt.Errorf("dir pin: %w", err)
	}

	oid := b.nextOID
	b.nextOID++

	invert := uint32(0)
	if invertDir {
		invert = 1
	}
	err = b.m.SendCommand("config_stepper", func(out protocol.OutputBuffer) {
		protocol.EncodeVLQUint(out, uint32(oid))
		protocol.EncodeVLQUint(out, sp)
		protocol.EncodeVLQUint(out, dp)
		protocol.EncodeVLQUint(out, invert)
		protocol.EncodeVLQUint(out, 0) // step_pulse_ticks: let the MCU use its default
	})
	if err != nil {
		return 0, err
	}
	return oid, nil
}

// parsePin mirrors stepgen.parsePin: a config pin name is either a bare
// number or a "gpioN" name.
func parsePin(name string) (uint32, error) {
	n := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(name)), "gpio")
	if n == "" {
		return 0, fmt.Errorf("empty pin name")
	}
	v, err := strconv.Atoi(n)
	if err != nil {
		return 0, fmt.Errorf("invalid pin name %q: %w", name, err)
	}
	return uint32(v), nil
}

// oidFor returns the stepper oid driving the given Block axis slot
// (0=X,1=Y,2=Z,3=E, E selecting Block.Driver's extruder).
func (b *Bridge) oidFor(axis int, driver int) (uint8, bool) {
	if axis < 3 {
		return b.motorOID[axis], true
	}
	if driver < 0 || driver >= len(b.extruderOID) {
		return 0, false
	}
	return b.extruderOID[driver], true
}

// SendBlock regenerates one Block's three-phase trapezoid as a queue_step
// run per phase per axis, scaling each axis's share of the block's step
// count proportionally to the master Bresenham tick count the way the
// standalone engine's per-tick Bresenham counters implicitly do, and sends
// set_next_step_dir once per axis ahead of its first queue_step.
//
// Each phase is approximated as a single linear interval ramp (one
// queue_step triple), rather than Klipper's true minimal-error run-length
// compression: Block already carries only the trapezoid's three corner
// rates, which is exactly enough information to reconstruct a one-run-per-
// phase linear ramp and no more.
func (b *Bridge) SendBlock(blk *planner.Block) error {
	if blk.StepEventCount == 0 {
		return nil
	}

	accelSteps := blk.AccelerateUntil
	decelSteps := blk.StepEventCount - blk.DecelerateAfter
	cruiseSteps := blk.StepEventCount - accelSteps - decelSteps

	for axis := 0; axis < 4; axis++ {
		total := blk.Steps[axis]
		if total == 0 {
			continue
		}
		oid, ok := b.oidFor(axis, blk.Driver)
		if !ok {
			continue
		}

		dir := uint32(0)
		if blk.DirectionBits&axisBit[axis] != 0 {
			dir = 1
		}
		if err := b.setNextDir(oid, dir); err != nil {
			return fmt.Errorf("bridge: axis %d: %w", axis, err)
		}

		ratio := float64(total) / float64(blk.StepEventCount)
		axisAccel := int64(float64(accelSteps) * ratio)
		axisCruise := int64(float64(cruiseSteps) * ratio)
		axisDecel := total - axisAccel - axisCruise

		phases := []struct {
			count            int64
			startRate, endRate int64
		}{
			{axisAccel, blk.InitialRate, blk.NominalRate},
			{axisCruise, blk.NominalRate, blk.NominalRate},
			{axisDecel, blk.NominalRate, blk.FinalRate},
		}

		for _, p := range phases {
			if p.count <= 0 {
				continue
			}
			if err := b.queueStepRun(oid, p.count, p.startRate, p.endRate); err != nil {
				return fmt.Errorf("bridge: axis %d: %w", axis, err)
			}
		}
	}

	return nil
}

func (b *Bridge) setNextDir(oid uint8, dir uint32) error {
	return b.m.SendCommand("set_next_step_dir", func(out protocol.OutputBuffer) {
		protocol.EncodeVLQUint(out, uint32(oid))
		protocol.EncodeVLQUint(out, dir)
	})
}

// queueStepRun converts a phase's step count and corner rates (steps/s)
// into one queue_step command: interval (ticks) at the phase's first step,
// and add (ticks/step) linearly ramping interval to the phase's last step.
func (b *Bridge) queueStepRun(oid uint8, count int64, startRate, endRate int64) error {
	startInterval := rateToInterval(startRate)
	endInterval := rateToInterval(endRate)

	var add int64
	if count > 1 {
		add = (endInterval - startInterval) / (count - 1)
	}
	if add > 32767 {
		add = 32767
	}
	if add < -32768 {
		add = -32768
	}

	const maxRunCount = 65535
	for count > 0 {
		run := count
		if run > maxRunCount {
			run = maxRunCount
		}
		err := b.m.SendCommand("queue_step", func(out protocol.OutputBuffer) {
			protocol.EncodeVLQUint(out, uint32(oid))
			protocol.EncodeVLQUint(out, uint32(startInterval))
			protocol.EncodeVLQUint(out, uint32(run))
			protocol.EncodeVLQInt(out, int32(add))
		})
		if err != nil {
			return err
		}
		startInterval += add * run
		count -= run
	}

	return nil
}

func rateToInterval(rate int64) int64 {
	if rate < planner.MinStepRate {
		rate = planner.MinStepRate
	}
	return int64(core.TimerFreq) / rate
}

// Run drains ring, translating and forwarding each retired block to the
// MCU over SendBlock, until stop is closed. It is the klipper-mode
// counterpart to stepgen.Engine.Run: the MCU itself executes the
// trapezoid timing once queue_step commands land, so this loop only needs
// to keep the wire fed, not reproduce per-tick integration locally.
func (b *Bridge) Run(ring *planner.Ring, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-b.quit:
			return
		default:
		}

		if ring.Empty() {
			select {
			case <-stop:
				return
			case <-b.quit:
				return
			case <-ring.Wake():
			case <-time.After(time.Millisecond):
			}
			continue
		}

		if b.quickStop.Swap(false) {
			// Planner.QuickStop already advanced tail to head for every
			// block it could see; this only catches the rare block that
			// was still being read here when the flag landed. Abandon it
			// without sending, same as stepgen.Engine.abandonCurrent.
			ring.Advance()
			continue
		}

		idx := ring.Tail()
		blk := ring.At(idx)
		blk.Busy = true
		err := b.SendBlock(blk)
		blk.Busy = false
		ring.Advance()
		if err != nil {
			// The wire transport reports its own errors; dropping one
			// block rather than wedging the whole ring keeps the motion
			// stream alive for the caller to notice and recover from.
			continue
		}
	}
}

// QuickStop satisfies planner.Stopper: the next ring-drain iteration in
// Run skips one already-latched block rather than forwarding it, mirroring
// stepgen.Engine's abandon-in-flight behavior.
func (b *Bridge) QuickStop() {
	b.quickStop.Store(true)
}

// Stop terminates Run's loop permanently.
func (b *Bridge) Stop() {
	b.runningOnce.Do(func() { close(b.quit) })
}
