package stepgen

import (
	"sync"
	"sync/atomic"
	"time"

	"gopper/core"
	"gopper/standalone"
	"gopper/standalone/logging"
	"gopper/standalone/planner"
)

// maxTickPeriod bounds how long the engine sleeps when the ring is empty,
// so a block published right after the idle check starts isn't delayed by
// more than this before the next poll.
const maxTickPeriod = core.TimerFreq / 1000 // 1ms in ticks

// Engine is the stepper consumer (spec §4.4): it pops blocks off the
// planner's ring one at a time and drives a Bresenham line generator across
// up to four physical motors (X, Y, Z, E), reshaping its own period every
// tick to trace the block's accelerate/cruise/decelerate trapezoid. It
// implements planner.Stopper so the planner can abort it from QuickStop.
type Engine struct {
	ring           *planner.Ring
	config         *standalone.MachineConfig
	motors         [3]core.StepperBackend // X, Y, Z
	extruderMotors []core.StepperBackend  // indexed by Block.Driver
	log            logging.Logger

	endstops *EndstopMonitor

	quit        chan struct{}
	quickStop   atomic.Bool
	runningOnce sync.Once

	// current block execution state; valid only while cur != nil.
	cur                 *planner.Block
	curIndex            uint32
	counter             [4]int64
	stepEventsCompleted int64
	stepRate            uint32 // steps/s, current integrated rate
	accFixedPoint       uint64 // 24.8 fixed-point acceleration_time accumulator, running for the whole accelerate phase
	decFixedPoint       uint64 // 24.8 fixed-point deceleration_time accumulator, running for the whole decelerate phase
	stepLoops           int

	outPosition [4]int64 // consumer-side absolute step position, counted from zero at construction; QuickStop and PlanSetPosition leave it unchanged
}

// NewEngine constructs an Engine driving the X/Y/Z motor backends plus one
// extruder backend per configured driver slot, selected per block by
// Block.Driver.
func NewEngine(ring *planner.Ring, config *standalone.MachineConfig, motors [3]core.StepperBackend, extruderMotors []core.StepperBackend, endstops *EndstopMonitor, log logging.Logger) *Engine {
	if log == nil {
		log = logging.Discard
	}
	return &Engine{
		ring:           ring,
		config:         config,
		motors:         motors,
		extruderMotors: extruderMotors,
		endstops:       endstops,
		log:            log,
		quit:           make(chan struct{}),
	}
}

// extruderFor returns the extruder backend to drive for the given
// Block.Driver index, or nil if out of range.
func (e *Engine) extruderFor(driver int) core.StepperBackend {
	if driver < 0 || driver >= len(e.extruderMotors) {
		return nil
	}
	return e.extruderMotors[driver]
}

// QuickStop abandons whatever block is currently latched, without waiting
// for it to finish. Safe to call concurrently with Run's goroutine.
func (e *Engine) QuickStop() {
	e.quickStop.Store(true)
}

// Endstops exposes the engine's endstop monitor, if configured, so a
// homing sequence running on another goroutine can arm/query it.
func (e *Engine) Endstops() *EndstopMonitor {
	return e.endstops
}

// Run drives the engine until stop is closed. It is a wall-clock stand-in
// for the hardware timer interrupt the source uses: each iteration computes
// the next tick's period in timer ticks and sleeps that long in real time,
// rather than reprogramming a one-shot hardware timer.
func (e *Engine) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-e.quit:
			return
		default:
		}

		periodTicks := e.tick()

		d := time.Duration(periodTicks) * time.Second / core.TimerFreq
		if d <= 0 {
			d = time.Microsecond
		}
		timer := time.NewTimer(d)
		select {
		case <-stop:
			timer.Stop()
			return
		case <-e.quit:
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// Stop terminates Run's loop permanently.
func (e *Engine) Stop() {
	e.runningOnce.Do(func() { close(e.quit) })
}

// tick executes one Bresenham step-or-idle cycle and returns the number of
// timer ticks to wait before the next one.
func (e *Engine) tick() uint32 {
	if e.endstops != nil {
		e.endstops.Poll()
	}

	if e.quickStop.Swap(false) && e.cur != nil {
		e.abandonCurrent()
	}

	if e.cur == nil {
		if !e.latchNextBlock() {
			return maxTickPeriod
		}
	}

	b := e.cur
	extruder := e.extruderFor(b.Driver)

	// stepLoops groups more than one Bresenham iteration under a single
	// timer period once the integrated rate exceeds what one period can
	// service (set by the previous call's calcPeriod).
	for loop := 0; loop < e.stepLoops && e.cur != nil; loop++ {
		for axis := 0; axis < 4; axis++ {
			if b.Steps[axis] == 0 {
				continue
			}
			e.counter[axis] += b.Steps[axis]
			if e.counter[axis] > 0 {
				e.counter[axis] -= b.StepEventCount
				m := extruder
				if axis < 3 {
					m = e.motors[axis]
				}
				if m != nil {
					m.Step()
					core.RecordStep()
				}
				if b.DirectionBits&(1<<axisBit[axis]) != 0 {
					e.outPosition[axis]--
				} else {
					e.outPosition[axis]++
				}
			}
		}

		e.stepEventsCompleted++
		if e.stepEventsCompleted >= b.StepEventCount {
			e.retireCurrent()
			break
		}
	}

	if e.cur != nil {
		e.integrateRate(b)
	}

	return e.calcPeriod()
}

var axisBit = [4]uint16{
	bitIndex(standalone.BitX),
	bitIndex(standalone.BitY),
	bitIndex(standalone.BitZ),
	bitIndex(standalone.BitE),
}

func bitIndex(bit uint16) uint16 {
	i := uint16(0)
	for bit > 1 {
		bit >>= 1
		i++
	}
	return i
}

// latchNextBlock pops the next published block off the ring, if any, and
// initializes Bresenham/trapezoid state for it. Returns false if the ring
// was empty.
func (e *Engine) latchNextBlock() bool {
	if e.ring.Empty() {
		return false
	}
	idx := e.ring.Tail()
	b := e.ring.At(idx)
	b.Busy = true

	e.cur = b
	e.curIndex = idx
	e.stepEventsCompleted = 0
	e.accFixedPoint = 0
	e.decFixedPoint = 0
	e.stepRate = uint32(b.InitialRate)
	e.stepLoops = 1
	for axis := 0; axis < 4; axis++ {
		e.counter[axis] = -b.StepEventCount / 2
	}

	for axis := 0; axis < 3; axis++ {
		if m := e.motors[axis]; m != nil {
			m.SetDirection(b.DirectionBits&(1<<axisBit[axis]) != 0)
		}
	}
	if m := e.extruderFor(b.Driver); m != nil {
		m.SetDirection(b.DirectionBits&(1<<axisBit[3]) != 0)
	}

	return true
}

// retireCurrent marks the block free and advances the ring tail, waking any
// producer waiting on room.
func (e *Engine) retireCurrent() {
	e.cur.Busy = false
	e.cur = nil
	e.ring.Advance()
}

// abandonCurrent drops the in-flight block immediately, as QuickStop
// demands, without finishing its remaining steps.
func (e *Engine) abandonCurrent() {
	if e.cur == nil {
		return
	}
	e.cur.Busy = false
	e.cur = nil
	// ring.Advance was already driven to head by Planner.QuickStop; nothing
	// further to retire here.
}

// integrateRate advances stepRate one tick through the block's
// accelerate/cruise/decelerate trapezoid using the 24.8 fixed-point
// integration acc_step_rate = initial_rate + ((acceleration_rate *
// acceleration_time) >> 24), acceleration_time accumulating the whole
// accelerate phase (mirrors stepper.cpp's acceleration_time/
// deceleration_time). accFixedPoint/decFixedPoint must never be masked back
// down after each tick — only their integer part (>>24) is read out; the
// accumulator itself keeps growing for the life of the phase, which is what
// makes the derived rate actually ramp instead of pinning at the phase's
// starting rate.
func (e *Engine) integrateRate(b *planner.Block) {
	switch {
	case e.stepEventsCompleted <= b.AccelerateUntil:
		e.accFixedPoint += uint64(b.AccelerationRate)
		delta := uint64(e.accFixedPoint >> 24)
		rate := uint64(b.InitialRate) + delta
		if rate > uint64(b.NominalRate) {
			rate = uint64(b.NominalRate)
		}
		e.stepRate = uint32(rate)

	case e.stepEventsCompleted <= b.DecelerateAfter:
		e.stepRate = uint32(b.NominalRate)

	default:
		e.decFixedPoint += uint64(b.AccelerationRate)
		delta := int64(e.decFixedPoint >> 24)
		rate := int64(b.NominalRate) - delta
		if rate < b.FinalRate {
			rate = b.FinalRate
		}
		if rate < planner.MinStepRate {
			rate = planner.MinStepRate
		}
		e.stepRate = uint32(rate)
	}
}

// calcPeriod converts the current integrated step rate into a timer period,
// consulting calcTimer for the step-loop multiplier needed once the rate
// exceeds the configured single-step timer ceiling.
func (e *Engine) calcPeriod() uint32 {
	maxFreq := uint32(e.config.MaxStepFrequency)
	if maxFreq == 0 {
		maxFreq = 40000
	}
	doubleFreq := uint32(e.config.DoubleStepFrequency)

	period, loops := calcTimer(e.stepRate, maxFreq, doubleFreq)
	e.stepLoops = loops
	return period
}

// calcTimer derives a timer period (in ticks) from a step rate: clamp the
// rate to maxFreq (MAX_STEP_FREQUENCY), then pick stepLoops off doubleFreq
// (DOUBLE_STEP_FREQUENCY) thresholds — above 2x doubleFreq, 4 steps per
// tick at quarter rate; above doubleFreq, 2 steps per tick at half rate;
// otherwise 1 — so the handler can emit multiple Bresenham steps per timer
// period when the required frequency exceeds a single interrupt's headroom.
// The period is floored at 100 ticks, the shortest period the consumer can
// reliably service.
func calcTimer(stepRate, maxFreq, doubleFreq uint32) (periodTicks uint32, stepLoops int) {
	const minPeriod = 100

	if stepRate < 1 {
		stepRate = 1
	}
	if maxFreq == 0 {
		maxFreq = 40000
	}
	if stepRate > maxFreq {
		stepRate = maxFreq
	}

	switch {
	case doubleFreq > 0 && stepRate > 2*doubleFreq:
		stepLoops = 4
		stepRate >>= 2
	case doubleFreq > 0 && stepRate > doubleFreq:
		stepLoops = 2
		stepRate >>= 1
	default:
		stepLoops = 1
	}
	if stepRate < 1 {
		stepRate = 1
	}

	period := core.TimerFreq / stepRate
	if period < minPeriod {
		period = minPeriod
	}
	return period, stepLoops
}
