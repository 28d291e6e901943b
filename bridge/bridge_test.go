package bridge

import (
	"testing"

	"gopper/protocol"
	"gopper/standalone"
	"gopper/standalone/planner"
)

// recordedCall captures one SendCommand invocation's decoded VLQ
// parameters, in the same field order cmdQueueStep/cmdSetNextStepDir
// decode them.
type recordedCall struct {
	name   string
	fields []uint32 // decoded as unsigned; signed fields are re-cast by the caller
}

type fakeSender struct {
	calls []recordedCall
	fail  bool
}

func (f *fakeSender) SendCommand(name string, args func(output protocol.OutputBuffer)) error {
	if f.fail {
		return errTest
	}
	buf := protocol.NewScratchOutput()
	args(buf)
	data := buf.Result()
	var fields []uint32
	for len(data) > 0 {
		v, err := protocol.DecodeVLQUint(&data)
		if err != nil {
			break
		}
		fields = append(fields, v)
	}
	f.calls = append(f.calls, recordedCall{name: name, fields: fields})
	return nil
}

var errTest = &simpleErr{"send failed"}

type simpleErr struct{ s string }

func (e *simpleErr) Error() string { return e.s }

func testConfig() *standalone.MachineConfig {
	return &standalone.MachineConfig{
		Axes: map[string]standalone.AxisConfig{
			"x": {StepPin: "gpio0", DirPin: "gpio1"},
			"y": {StepPin: "gpio2", DirPin: "gpio3"},
			"z": {StepPin: "gpio4", DirPin: "gpio5"},
		},
		Extruders: []standalone.ExtruderConfig{
			{StepPin: "gpio6", DirPin: "gpio7"},
		},
	}
}

func TestNewConfiguresOneOIDPerMotorAndExtruder(t *testing.T) {
	sender := &fakeSender{}
	b, err := New(sender, testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if len(sender.calls) != 4 {
		t.Fatalf("expected 4 config_stepper calls (X,Y,Z,E0), got %d", len(sender.calls))
	}
	for _, c := range sender.calls {
		if c.name != "config_stepper" {
			t.Errorf("expected config_stepper, got %s", c.name)
		}
	}
	if b.motorOID[0] == b.motorOID[1] || b.motorOID[1] == b.motorOID[2] {
		t.Errorf("expected distinct oids per motor, got %v", b.motorOID)
	}
	if len(b.extruderOID) != 1 {
		t.Fatalf("expected one extruder oid, got %d", len(b.extruderOID))
	}
}

func TestNewRejectsMissingAxis(t *testing.T) {
	cfg := testConfig()
	delete(cfg.Axes, "z")
	if _, err := New(&fakeSender{}, cfg); err == nil {
		t.Errorf("expected an error for a missing axis config")
	}
}

// TestSendBlockIssuesDirAndQueueStepPerAxis verifies a single-axis block
// produces exactly one set_next_step_dir and one queue_step per
// non-degenerate phase.
func TestSendBlockIssuesDirAndQueueStepPerAxis(t *testing.T) {
	sender := &fakeSender{}
	b, err := New(sender, testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sender.calls = nil // discard the config_stepper calls from New

	blk := &planner.Block{
		Steps:           [4]int64{100, 0, 0, 0},
		StepEventCount:  100,
		DirectionBits:   standalone.BitX,
		InitialRate:     500,
		NominalRate:     2000,
		FinalRate:       500,
		AccelerateUntil: 30,
		DecelerateAfter: 70,
	}

	if err := b.SendBlock(blk); err != nil {
		t.Fatalf("SendBlock: %v", err)
	}

	var dirCalls, stepCalls int
	for _, c := range sender.calls {
		switch c.name {
		case "set_next_step_dir":
			dirCalls++
			if len(c.fields) != 2 {
				t.Fatalf("set_next_step_dir: expected 2 fields, got %d", len(c.fields))
			}
			if c.fields[0] != uint32(b.motorOID[0]) {
				t.Errorf("set_next_step_dir oid = %d, want %d", c.fields[0], b.motorOID[0])
			}
			if c.fields[1] != 1 {
				t.Errorf("expected dir=1 for a negative (BitX set) move, got %d", c.fields[1])
			}
		case "queue_step":
			stepCalls++
			if len(c.fields) != 4 {
				t.Fatalf("queue_step: expected 4 fields, got %d", len(c.fields))
			}
			if c.fields[0] != uint32(b.motorOID[0]) {
				t.Errorf("queue_step oid = %d, want %d", c.fields[0], b.motorOID[0])
			}
		default:
			t.Errorf("unexpected command %s", c.name)
		}
	}
	if dirCalls != 1 {
		t.Errorf("expected exactly 1 set_next_step_dir, got %d", dirCalls)
	}
	if stepCalls != 3 {
		t.Errorf("expected 3 queue_step runs (accel/cruise/decel), got %d", stepCalls)
	}
}

// TestSendBlockSkipsZeroStepAxes verifies an axis with Steps[axis]==0 gets
// no commands at all, matching a pure single-axis move.
func TestSendBlockSkipsZeroStepAxes(t *testing.T) {
	sender := &fakeSender{}
	b, err := New(sender, testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sender.calls = nil

	blk := &planner.Block{
		Steps:           [4]int64{0, 50, 0, 0},
		StepEventCount:  50,
		InitialRate:     500,
		NominalRate:     500,
		FinalRate:       500,
		AccelerateUntil: 0,
		DecelerateAfter: 50,
	}
	if err := b.SendBlock(blk); err != nil {
		t.Fatalf("SendBlock: %v", err)
	}

	for _, c := range sender.calls {
		if len(c.fields) > 0 && c.fields[0] == uint32(b.motorOID[0]) {
			t.Errorf("unexpected command against the X oid for a Y-only move: %s", c.name)
		}
	}
}

func TestSendBlockIgnoresEmptyBlock(t *testing.T) {
	sender := &fakeSender{}
	b, err := New(sender, testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sender.calls = nil

	if err := b.SendBlock(&planner.Block{}); err != nil {
		t.Fatalf("SendBlock on a zero-value block should be a no-op, got: %v", err)
	}
	if len(sender.calls) != 0 {
		t.Errorf("expected no wire commands for a zero-value block, got %d", len(sender.calls))
	}
}

func TestQueueStepRunSplitsOversizedCounts(t *testing.T) {
	sender := &fakeSender{}
	b, err := New(sender, testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sender.calls = nil

	if err := b.queueStepRun(b.motorOID[0], 70000, 1000, 1000); err != nil {
		t.Fatalf("queueStepRun: %v", err)
	}

	var total int
	for _, c := range sender.calls {
		if c.name != "queue_step" {
			continue
		}
		total += int(c.fields[2])
	}
	if total != 70000 {
		t.Errorf("expected split runs to sum to 70000 steps, got %d", total)
	}
	if len(sender.calls) < 2 {
		t.Errorf("expected queue_step to split a 70000-count run across multiple wire commands, got %d", len(sender.calls))
	}
}
