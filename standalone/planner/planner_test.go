package planner

import (
	"testing"

	"gopper/standalone"
	"gopper/standalone/kinematics"
	"gopper/standalone/logging"
)

// scenarioConfig reproduces the literal boundary-scenario parameters from
// spec §8: axis_steps_per_unit=80 on X/Y, max_feedrate=300mm/s,
// acceleration=1000mm/s^2, max_xy_jerk=20mm/s, MIN_PLANNER_SPEED=0.05,
// ring capacity 16.
func scenarioConfig() *standalone.MachineConfig {
	return &standalone.MachineConfig{
		Kinematics: "cartesian",
		Axes: map[string]standalone.AxisConfig{
			"x": {StepsPerUnit: 80, MaxFeedrate: 300, MaxAccel: 2000, MinPosition: -1000, MaxPosition: 1000},
			"y": {StepsPerUnit: 80, MaxFeedrate: 300, MaxAccel: 2000, MinPosition: -1000, MaxPosition: 1000},
			"z": {StepsPerUnit: 400, MaxFeedrate: 10, MaxAccel: 2000, MinPosition: -1000, MaxPosition: 1000},
		},
		Extruders: []standalone.ExtruderConfig{
			{StepsPerUnit: 400, MaxFeedrate: 50, MaxAccel: 5000, MaxEJerk: 5, RetractAcceleration: 1000},
		},
		Acceleration:        1000,
		MaxXYJerk:           20,
		MinimumPlannerSpeed: 0.05,
		RingCapacity:        16,
		DropSegments:        1,
	}
}

func newTestPlanner(t *testing.T) *Planner {
	t.Helper()
	cfg := scenarioConfig()
	kin, err := kinematics.New(cfg)
	if err != nil {
		t.Fatalf("kinematics.New: %v", err)
	}
	return NewPlanner(cfg, kin, logging.Discard)
}

// TestPlanBufferLineSingleAxisShortMove is spec §8 boundary scenario 1.
func TestPlanBufferLineSingleAxisShortMove(t *testing.T) {
	p := newTestPlanner(t)

	if err := p.PlanBufferLine(standalone.Position{X: 10}, 3600, 0, 0); err != nil {
		t.Fatalf("PlanBufferLine: %v", err)
	}
	if p.ring.Len() != 1 {
		t.Fatalf("expected 1 block, got %d", p.ring.Len())
	}

	b := p.ring.At(p.ring.Tail())
	if b.Steps[standalone.AxisX] != 800 {
		t.Errorf("Steps[X] = %d, want 800", b.Steps[standalone.AxisX])
	}
	if got, want := b.NominalSpeed, 60.0; got < want-0.01 || got > want+0.01 {
		t.Errorf("NominalSpeed = %v, want %v", got, want)
	}
	if b.NominalRate != 4800 {
		t.Errorf("NominalRate = %d, want 4800", b.NominalRate)
	}
	if b.AccelerateUntil > 144 {
		t.Errorf("AccelerateUntil = %d, expected a short jerk-limited accel ramp (<=144 steps)", b.AccelerateUntil)
	}
	// Symmetric decel: the deceleration phase should roughly mirror the
	// acceleration phase since both corner rates are low on a lone block
	// (the jerk-limited entry speed and the minimum-planner-speed exit).
	decelPhase := b.StepEventCount - b.DecelerateAfter
	if decelPhase == 0 {
		t.Errorf("expected a non-zero deceleration phase")
	}
}

// TestPlanBufferLineCollinearJunction is spec §8 boundary scenario 2.
func TestPlanBufferLineCollinearJunction(t *testing.T) {
	p := newTestPlanner(t)

	if err := p.PlanBufferLine(standalone.Position{X: 10}, 3600, 0, 0); err != nil {
		t.Fatalf("first PlanBufferLine: %v", err)
	}
	if err := p.PlanBufferLine(standalone.Position{X: 20}, 3600, 0, 0); err != nil {
		t.Fatalf("second PlanBufferLine: %v", err)
	}
	if p.ring.Len() != 2 {
		t.Fatalf("expected 2 blocks, got %d", p.ring.Len())
	}

	b1 := p.ring.At(p.ring.Tail())
	b2 := p.ring.At(p.ring.Tail() + 1)

	if b1.NominalSpeed < 59 || b1.NominalSpeed > 61 {
		t.Errorf("block1 NominalSpeed = %v, want ~60", b1.NominalSpeed)
	}
	if b2.EntrySpeed < 59 || b2.EntrySpeed > 61 {
		t.Errorf("block2 EntrySpeed = %v, want ~60 for a collinear junction", b2.EntrySpeed)
	}
}

// TestPlanBufferLineRightAngleCorner is spec §8 boundary scenario 3: the
// junction speed at a 90-degree corner caps at max_xy_jerk/2.
func TestPlanBufferLineRightAngleCorner(t *testing.T) {
	p := newTestPlanner(t)

	if err := p.PlanBufferLine(standalone.Position{X: 10}, 3600, 0, 0); err != nil {
		t.Fatalf("first PlanBufferLine: %v", err)
	}
	if err := p.PlanBufferLine(standalone.Position{X: 10, Y: 10}, 3600, 0, 0); err != nil {
		t.Fatalf("second PlanBufferLine: %v", err)
	}

	b2 := p.ring.At(p.ring.Tail() + 1)
	if b2.MaxEntrySpeed > 10+1e-6 {
		t.Errorf("corner MaxEntrySpeed = %v, want <= 10 (max_xy_jerk/2)", b2.MaxEntrySpeed)
	}
}

// TestPlanBufferLinePureRetract is spec §8 boundary scenario 4: an E-only
// move uses retract_acceleration and its length is |deltaE|.
func TestPlanBufferLinePureRetract(t *testing.T) {
	p := newTestPlanner(t)

	if err := p.PlanBufferLine(standalone.Position{E: -2}, 1800, 0, 0); err != nil {
		t.Fatalf("PlanBufferLine: %v", err)
	}

	b := p.ring.At(p.ring.Tail())
	if b.Millimeters < 1.99 || b.Millimeters > 2.01 {
		t.Errorf("Millimeters = %v, want ~2", b.Millimeters)
	}
	if b.NominalSpeed < 29 || b.NominalSpeed > 31 {
		t.Errorf("NominalSpeed = %v, want ~30", b.NominalSpeed)
	}
	if b.Acceleration != 1000 {
		t.Errorf("Acceleration = %v, want the configured retract_acceleration 1000", b.Acceleration)
	}
}

// TestPlanBufferLineRingFullYields is spec §8 boundary scenario 5: appending
// past capacity blocks the caller until the consumer (simulated here by
// manually advancing tail) drains room.
func TestPlanBufferLineRingFullYields(t *testing.T) {
	p := newTestPlanner(t)

	// Fill the ring to capacity-1 directly; one more append would block.
	for i := 1; i < p.ring.Capacity(); i++ {
		if err := p.PlanBufferLine(standalone.Position{X: float64(i)}, 3600, 0, 0); err != nil {
			t.Fatalf("PlanBufferLine #%d: %v", i, err)
		}
	}
	if !p.ring.Full() {
		t.Fatalf("ring should be full after filling to capacity")
	}

	done := make(chan error, 1)
	go func() {
		done <- p.PlanBufferLine(standalone.Position{X: 999}, 3600, 0, 0)
	}()

	select {
	case <-done:
		t.Fatalf("the blocking append returned before the ring drained any room")
	default:
	}

	p.ring.Advance() // simulate the consumer retiring one block

	if err := <-done; err != nil {
		t.Fatalf("PlanBufferLine: %v", err)
	}
}

// TestExtruderShouldDisablePolicy exercises spec §4.7's dual-extruder enable
// countdown.
func TestExtruderShouldDisablePolicy(t *testing.T) {
	cfg := scenarioConfig()
	cfg.DisableInactiveExtruder = true
	cfg.Extruders = append(cfg.Extruders, standalone.ExtruderConfig{StepsPerUnit: 400, MaxFeedrate: 50, MaxAccel: 5000, MaxEJerk: 5, RetractAcceleration: 1000})

	kin, err := kinematics.New(cfg)
	if err != nil {
		t.Fatalf("kinematics.New: %v", err)
	}
	p := NewPlanner(cfg, kin, logging.Discard)

	if err := p.PlanBufferLine(standalone.Position{E: 5}, 1800, 0, 0); err != nil {
		t.Fatalf("PlanBufferLine: %v", err)
	}

	for i := 0; i < 2*p.ring.Capacity(); i++ {
		p.noteExtruderActivity(0, 0)
	}
	if !p.ExtruderShouldDisable(1) {
		t.Errorf("expected extruder 1 to be eligible for disable after its idle countdown elapsed")
	}
	if p.ExtruderShouldDisable(0) {
		t.Errorf("active extruder 0 should never be eligible for disable")
	}
}
