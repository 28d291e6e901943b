package planner

import (
	"fmt"
	"math"

	"gopper/standalone"
	"gopper/standalone/kinematics"
	"gopper/standalone/logging"
)

// Stopper is implemented by the stepper engine consuming this planner's
// ring; QuickStop notifies it that the ring was just drained out from under
// it so it can abandon whatever block it had latched.
type Stopper interface {
	QuickStop()
}

// Planner is the front end (spec §4.1): it turns absolute mm targets into
// Blocks, appends them to the Ring, and re-solves the lookahead window after
// every append. It is the sole writer of every Block field while that
// block's Busy flag is false.
type Planner struct {
	config *standalone.MachineConfig
	kin    kinematics.Kinematics
	ring   *Ring
	log    logging.Logger
	engine Stopper // optional; the consumer, for QuickStop notification

	motorStepsPerUnit [3]float64 // X, Y, Z motor steps/mm
	axisMaxAccelSt    [3]float64 // per-axis acceleration clamp, steps/s^2
	axisMaxFeedrate   [3]float64 // mm/s

	position [4]int64 // producer-owned absolute step position: motor X/Y/Z, extruder E

	previousSpeed        [4]float64 // mm/s, per axis, last block's clamped speed
	previousNominalSpeed float64

	activeExtruder int
	activeDriver   int

	extruderIdleCounters []int // §4.7 dual-extruder enable policy countdowns
}

// NewPlanner constructs a Planner over a freshly allocated Ring.
func NewPlanner(config *standalone.MachineConfig, kin kinematics.Kinematics, log logging.Logger) *Planner {
	capacity := config.RingCapacity
	if capacity <= 0 {
		capacity = 16
	}

	p := &Planner{
		config: config,
		kin:    kin,
		ring:   NewRing(capacity),
		log:    log,
	}

	if a, ok := config.Axes["x"]; ok {
		p.motorStepsPerUnit[0] = a.StepsPerUnit
		p.axisMaxAccelSt[0] = a.MaxAccel * a.StepsPerUnit
		p.axisMaxFeedrate[0] = a.MaxFeedrate
	}
	if a, ok := config.Axes["y"]; ok {
		p.motorStepsPerUnit[1] = a.StepsPerUnit
		p.axisMaxAccelSt[1] = a.MaxAccel * a.StepsPerUnit
		p.axisMaxFeedrate[1] = a.MaxFeedrate
	}
	if a, ok := config.Axes["z"]; ok {
		p.motorStepsPerUnit[2] = a.StepsPerUnit
		p.axisMaxAccelSt[2] = a.MaxAccel * a.StepsPerUnit
		p.axisMaxFeedrate[2] = a.MaxFeedrate
	}

	p.extruderIdleCounters = make([]int, len(config.Extruders))

	return p
}

// Ring exposes the underlying block ring to the stepper engine.
func (p *Planner) Ring() *Ring { return p.ring }

// SetEngine registers the consumer so QuickStop can notify it.
func (p *Planner) SetEngine(e Stopper) { p.engine = e }

func (p *Planner) extruder(index int) standalone.ExtruderConfig {
	if index >= 0 && index < len(p.config.Extruders) {
		return p.config.Extruders[index]
	}
	return standalone.ExtruderConfig{StepsPerUnit: 1, MaxFeedrate: 50, MaxAccel: 1000, MaxEJerk: 5, RetractAcceleration: 1000}
}

// headPosition returns the current head-frame mm position derived from the
// motor-space step position.
func (p *Planner) headPosition() (x, y, z float64) {
	return p.kin.HeadPositionMM([3]int64{p.position[0], p.position[1], p.position[2]}, p.motorStepsPerUnit)
}

// PlanSetPosition resets the producer's logical position and clears the
// junction-speed history. It does not touch the stepper engine: the
// engine's own step position is left as it was.
func (p *Planner) PlanSetPosition(pos standalone.Position, extruderIndex int) {
	spu := p.extruder(extruderIndex).StepsPerUnit
	motor := p.kin.MotorDeltaSteps(pos.X, pos.Y, pos.Z, p.motorStepsPerUnit)
	p.position[0], p.position[1], p.position[2] = motor[0], motor[1], motor[2]
	p.position[3] = int64(pos.E * spu)
	p.activeExtruder = extruderIndex
	p.previousSpeed = [4]float64{}
	p.previousNominalSpeed = 0
}

// PlanSetEPosition resets only the extruder coordinate.
func (p *Planner) PlanSetEPosition(e float64, extruderIndex int) {
	spu := p.extruder(extruderIndex).StepsPerUnit
	p.position[3] = int64(e * spu)
	p.previousSpeed[standalone.AxisE] = 0
}

// GetPosition returns the current head-frame position in millimeters.
func (p *Planner) GetPosition() standalone.Position {
	x, y, z := p.headPosition()
	e := float64(p.position[3]) / p.extruder(p.activeExtruder).StepsPerUnit
	return standalone.Position{X: x, Y: y, Z: z, E: e}
}

// MovesPlanned returns the number of blocks currently queued; BlocksQueued
// reports whether there is at least one.
func (p *Planner) MovesPlanned() int  { return p.ring.Len() }
func (p *Planner) BlocksQueued() bool { return p.ring.Len() > 0 }

// Synchronize cooperatively yields until the ring drains completely.
func (p *Planner) Synchronize() {
	for !p.ring.Empty() {
		<-p.ring.Wake()
	}
}

// QuickStop drops every queued block and notifies the consumer. Safe to
// call from any context; never waits for the current block to finish.
func (p *Planner) QuickStop() {
	head := p.ring.Head()
	for p.ring.Tail() != head {
		p.ring.Advance()
	}
	if p.engine != nil {
		p.engine.QuickStop()
	}
}

// ResetAccelerationRates re-derives the step-domain acceleration clamps
// after an mm-domain parameter change (M201).
func (p *Planner) ResetAccelerationRates() {
	if a, ok := p.config.Axes["x"]; ok {
		p.axisMaxAccelSt[0] = a.MaxAccel * a.StepsPerUnit
	}
	if a, ok := p.config.Axes["y"]; ok {
		p.axisMaxAccelSt[1] = a.MaxAccel * a.StepsPerUnit
	}
	if a, ok := p.config.Axes["z"]; ok {
		p.axisMaxAccelSt[2] = a.MaxAccel * a.StepsPerUnit
	}
}

// waitForRoom cooperatively yields while the ring is full.
func (p *Planner) waitForRoom() {
	for p.ring.Full() {
		<-p.ring.Wake()
	}
}

// PlanBufferLine is the §4.1 front end: append one new block for a move to
// target (absolute head-frame millimeters) at feedRate mm/min.
func (p *Planner) PlanBufferLine(target standalone.Position, feedRateMMPerMin float64, extruderIndex, driverIndex int) error {
	if feedRateMMPerMin <= 0 {
		return fmt.Errorf("feed rate must be positive, got %v", feedRateMMPerMin)
	}

	ext := p.extruder(extruderIndex)
	if extruderIndex != p.activeExtruder {
		old := p.extruder(p.activeExtruder)
		if old.StepsPerUnit > 0 {
			p.position[3] = int64(float64(p.position[3]) * ext.StepsPerUnit / old.StepsPerUnit)
		}
		p.activeExtruder = extruderIndex
	}

	x0, y0, z0 := p.headPosition()
	e0 := float64(p.position[3]) / ext.StepsPerUnit

	dx, dy, dz := target.X-x0, target.Y-y0, target.Z-z0
	deHead := target.E - e0

	motorDelta := p.kin.MotorDeltaSteps(dx, dy, dz, p.motorStepsPerUnit)

	extrusionMultiplier := p.config.VolumetricMultiplier
	if extrusionMultiplier <= 0 {
		extrusionMultiplier = 1
	}
	flow := p.config.ExtrudeMultiplier
	if flow <= 0 {
		flow = 1
	}
	eSteps := int64(deHead * extrusionMultiplier * flow * ext.StepsPerUnit)

	var steps [4]int64
	steps[0], steps[1], steps[2] = absI64(motorDelta[0]), absI64(motorDelta[1]), absI64(motorDelta[2])
	steps[3] = absI64(eSteps)

	stepEventCount := maxI64(steps[0], steps[1], steps[2], steps[3])
	if stepEventCount < p.config.DropSegments {
		// Silently dropped: too short to matter (§7).
		return nil
	}

	millimeters := math.Sqrt(dx*dx + dy*dy + dz*dz)
	if millimeters < 1e-6 {
		millimeters = math.Abs(deHead)
	}
	if millimeters < 1e-9 {
		return nil
	}

	nominalSpeed := feedRateMMPerMin / 60
	nominalRate := ceilInt64(float64(stepEventCount) * feedRateMMPerMin / 60 / millimeters)

	currentSpeed := [4]float64{
		dx * feedRateMMPerMin / (millimeters * 60),
		dy * feedRateMMPerMin / (millimeters * 60),
		dz * feedRateMMPerMin / (millimeters * 60),
		deHead * feedRateMMPerMin / (millimeters * 60),
	}

	// Speed factor clamp (§4.1 step 7): scale everything down by the worst
	// axis overspeed ratio.
	maxFeedrate := [4]float64{p.axisMaxFeedrate[0], p.axisMaxFeedrate[1], p.axisMaxFeedrate[2], ext.MaxFeedrate}
	scale := 1.0
	for axis := 0; axis < 4; axis++ {
		if maxFeedrate[axis] <= 0 {
			continue
		}
		if s := math.Abs(currentSpeed[axis]); s > maxFeedrate[axis] {
			ratio := maxFeedrate[axis] / s
			if ratio < scale {
				scale = ratio
			}
		}
	}
	if scale < 1.0 {
		for axis := range currentSpeed {
			currentSpeed[axis] *= scale
		}
		nominalSpeed *= scale
		nominalRate = ceilInt64(float64(nominalRate) * scale)
	}

	// Slowdown (§4.1 step 8): stretch short segments toward minsegmenttime
	// while the ring isn't starved, keeping the consumer fed.
	queued := p.ring.Len()
	if queued > 1 && queued < p.ring.Capacity()/2 && p.config.MinSegmentTimeUs > 0 {
		segTime := millimeters / nominalSpeed // seconds
		minSegTime := float64(p.config.MinSegmentTimeUs) / 1e6
		if segTime < minSegTime && segTime > 0 {
			ratio := segTime / minSegTime
			nominalSpeed *= ratio
			nominalRate = ceilInt64(float64(nominalRate) * ratio)
			for axis := range currentSpeed {
				currentSpeed[axis] *= ratio
			}
		}
	}

	// Acceleration class selection (§4.1 step 9).
	accelMM := p.config.Acceleration
	switch {
	case steps[0] == 0 && steps[1] == 0 && steps[2] == 0 && steps[3] > 0:
		accelMM = ext.RetractAcceleration
		if accelMM <= 0 {
			accelMM = p.config.RetractAcceleration
		}
	case steps[3] == 0 && p.config.TravelAcceleration > 0:
		accelMM = p.config.TravelAcceleration
	}
	accelerationSt := accelMM * float64(stepEventCount) / millimeters
	for axis := 0; axis < 3; axis++ {
		if p.axisMaxAccelSt[axis] <= 0 || steps[axis] == 0 {
			continue
		}
		share := accelerationSt * float64(steps[axis]) / float64(stepEventCount)
		if share > p.axisMaxAccelSt[axis] {
			accelerationSt *= p.axisMaxAccelSt[axis] / share
		}
	}

	// Junction jerk model (§4.1 step 10).
	maxXYJerk := p.config.MaxXYJerk
	maxZJerk := p.config.MaxZJerk
	maxEJerk := ext.MaxEJerk

	vmaxJunction := nominalSpeed
	if maxXYJerk > 0 && maxXYJerk/2 < vmaxJunction {
		vmaxJunction = maxXYJerk / 2
	}
	if maxZJerk > 0 && math.Abs(currentSpeed[standalone.AxisZ]) > 0 {
		vmaxJunction = math.Min(vmaxJunction, maxZJerk/2)
	}
	if maxEJerk > 0 {
		vmaxJunction = math.Min(vmaxJunction, maxEJerk/2)
	}

	if p.previousNominalSpeed > 0 {
		factor := 1.0
		if maxZJerk > 0 {
			if delta := math.Abs(currentSpeed[standalone.AxisZ] - p.previousSpeed[standalone.AxisZ]); delta > maxZJerk {
				if f := maxZJerk / delta; f < factor {
					factor = f
				}
			}
		}
		if maxEJerk > 0 {
			if delta := math.Abs(currentSpeed[standalone.AxisE] - p.previousSpeed[standalone.AxisE]); delta > maxEJerk {
				if f := maxEJerk / delta; f < factor {
					factor = f
				}
			}
		}
		xyJerk := math.Hypot(currentSpeed[0]-p.previousSpeed[0], currentSpeed[1]-p.previousSpeed[1])
		if maxXYJerk > 0 && xyJerk > maxXYJerk {
			if f := maxXYJerk / xyJerk; f < factor {
				factor = f
			}
		}
		vmaxJunction = math.Min(p.previousNominalSpeed, nominalSpeed*factor)
	}

	minPlannerSpeed := p.config.MinimumPlannerSpeed
	if minPlannerSpeed <= 0 {
		minPlannerSpeed = 0.05
	}

	maxEntrySpeed := vmaxJunction
	vAllowable := math.Sqrt(2*accelMM*millimeters + minPlannerSpeed*minPlannerSpeed)
	entrySpeed := math.Min(maxEntrySpeed, vAllowable)
	nominalLengthFlag := nominalSpeed <= vAllowable

	p.previousSpeed = currentSpeed
	p.previousNominalSpeed = nominalSpeed

	p.waitForRoom()

	b := p.ring.Reserve()
	*b = Block{
		Steps:             steps,
		StepEventCount:    stepEventCount,
		DirectionBits:     p.kin.DirectionBits(dx, dy, dz) | eDirectionBit(eSteps),
		Millimeters:       millimeters,
		NominalSpeed:      nominalSpeed,
		NominalRate:       nominalRate,
		Acceleration:      accelMM,
		AccelerationSt:    accelerationSt,
		AccelerationRate:  accelerationRateFixedPoint(accelerationSt),
		EntrySpeed:        entrySpeed,
		MaxEntrySpeed:     maxEntrySpeed,
		NominalLengthFlag: nominalLengthFlag,
		RecalculateFlag:   true,
		Driver:            driverIndex,
	}
	b.solveTrapezoid(entrySpeed/nominalSpeed, minPlannerSpeed/nominalSpeed)

	p.ring.Publish()

	p.position[0] += motorDelta[0]
	p.position[1] += motorDelta[1]
	p.position[2] += motorDelta[2]
	p.position[3] += eSteps

	p.noteExtruderActivity(extruderIndex, eSteps)

	runLookahead(p.ring, minPlannerSpeed)

	return nil
}

// noteExtruderActivity implements the §4.7 dual-extruder enable policy: an
// extruder that just moved gets its idle countdown reset; others decay.
func (p *Planner) noteExtruderActivity(active int, eSteps int64) {
	if !p.config.DisableInactiveExtruder || len(p.extruderIdleCounters) < 2 {
		return
	}
	if eSteps != 0 && active < len(p.extruderIdleCounters) {
		p.extruderIdleCounters[active] = 2 * p.ring.Capacity()
	}
	for i := range p.extruderIdleCounters {
		if i == active {
			continue
		}
		if p.extruderIdleCounters[i] > 0 {
			p.extruderIdleCounters[i]--
		}
	}
}

// ExtruderShouldDisable reports whether a non-active extruder's idle
// countdown has reached zero and its driver may be powered down.
func (p *Planner) ExtruderShouldDisable(index int) bool {
	if !p.config.DisableInactiveExtruder || index >= len(p.extruderIdleCounters) {
		return false
	}
	return p.extruderIdleCounters[index] == 0
}

func eDirectionBit(eSteps int64) uint16 {
	if eSteps < 0 {
		return standalone.BitE
	}
	return 0
}

// accelerationRateFixedPoint converts a steps/s^2 acceleration into the
// 24.8 fixed-point rate the stepper engine integrates against:
// acc_step_rate += (rate * time) >> 24. Scaled so that multiplying by a
// tick-domain time and shifting right 24 reproduces accelerationSt * dt in
// steps/s, at the engine's assumed tick rate.
func accelerationRateFixedPoint(accelerationSt float64) uint32 {
	if accelerationSt < 0 {
		accelerationSt = 0
	}
	scaled := accelerationSt * (1 << 24) / standaloneTimerFrequency
	if scaled > math.MaxUint32 {
		scaled = math.MaxUint32
	}
	return uint32(scaled)
}

// standaloneTimerFrequency is the tick rate the fixed-point acceleration
// integration assumes; matches core.TimerFreq.
const standaloneTimerFrequency = 12000000

func absI64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func maxI64(vs ...int64) int64 {
	m := int64(0)
	for _, v := range vs {
		if v > m {
			m = v
		}
	}
	return m
}
