package gcode

import (
	"fmt"

	"gopper/standalone"
	"gopper/standalone/logging"
	"gopper/standalone/planner"
)

// Interpreter executes parsed G-code commands against a Planner, tracking
// the modal state (absolute/relative, extrude mode, active feed rate and
// tool) the way Marlin's Stepper_move front door does.
type Interpreter struct {
	state   *standalone.MachineState
	config  *standalone.MachineConfig
	planner *planner.Planner
	log     logging.Logger

	homeRequest func(axes [3]bool) error
}

// NewInterpreter creates a new G-code interpreter bound to a planner and
// machine configuration. homeRequest performs the actual homing sequence
// (engine-level, via stepgen.EndstopMonitor); it may be nil in tests that
// never issue G28.
func NewInterpreter(config *standalone.MachineConfig, p *planner.Planner, log logging.Logger, homeRequest func(axes [3]bool) error) *Interpreter {
	if log == nil {
		log = logging.Discard
	}
	return &Interpreter{
		state: &standalone.MachineState{
			AbsoluteMode: true,
			ExtrudeMode:  false,
		},
		config:      config,
		planner:     p,
		log:         log,
		homeRequest: homeRequest,
	}
}

// GetState returns the current machine state.
func (interp *Interpreter) GetState() *standalone.MachineState {
	return interp.state
}

// Execute dispatches one parsed command.
func (interp *Interpreter) Execute(cmd *standalone.GCodeCommand) error {
	if cmd == nil {
		return nil
	}

	switch cmd.Type {
	case 'G':
		return interp.executeG(cmd)
	case 'M':
		return interp.executeM(cmd)
	case 'T':
		return interp.executeT(cmd)
	}

	return nil
}

func (interp *Interpreter) executeG(cmd *standalone.GCodeCommand) error {
	switch cmd.Number {
	case 0, 1: // G0/G1 - linear move
		return interp.doMove(cmd)
	case 28: // G28 - home
		return interp.doHome(cmd)
	case 90: // G90 - absolute positioning
		interp.state.AbsoluteMode = true
	case 91: // G91 - relative positioning
		interp.state.AbsoluteMode = false
	case 92: // G92 - set position
		return interp.doSetPosition(cmd)
	}

	return nil
}

func (interp *Interpreter) executeM(cmd *standalone.GCodeCommand) error {
	switch cmd.Number {
	case 82: // M82 - absolute extrusion
		interp.state.ExtrudeMode = false
	case 83: // M83 - relative extrusion
		interp.state.ExtrudeMode = true

	case 114: // M114 - report position
		pos := interp.planner.GetPosition()
		interp.log.Infof("X:%.3f Y:%.3f Z:%.3f E:%.3f", pos.X, pos.Y, pos.Z, pos.E)

	case 201: // M201 - set max acceleration (per axis, mm/s^2)
		interp.setAxisParam(cmd, func(a *standalone.AxisConfig, v float64) { a.MaxAccel = v })
		interp.planner.ResetAccelerationRates()

	case 203: // M203 - set max feedrate (per axis, mm/s)
		interp.setAxisParam(cmd, func(a *standalone.AxisConfig, v float64) { a.MaxFeedrate = v })

	case 204: // M204 - set default/travel/retract acceleration
		if standalone.HasParameter(cmd, 'S') {
			interp.config.Acceleration = standalone.GetParameter(cmd, 'S', interp.config.Acceleration)
		}
		if standalone.HasParameter(cmd, 'P') {
			interp.config.Acceleration = standalone.GetParameter(cmd, 'P', interp.config.Acceleration)
		}
		if standalone.HasParameter(cmd, 'T') {
			interp.config.TravelAcceleration = standalone.GetParameter(cmd, 'T', interp.config.TravelAcceleration)
		}
		if standalone.HasParameter(cmd, 'R') {
			interp.config.RetractAcceleration = standalone.GetParameter(cmd, 'R', interp.config.RetractAcceleration)
		}
		interp.planner.ResetAccelerationRates()

	case 205: // M205 - set jerk / junction deviation
		if standalone.HasParameter(cmd, 'X') {
			interp.config.MaxXYJerk = standalone.GetParameter(cmd, 'X', interp.config.MaxXYJerk)
		}
		if standalone.HasParameter(cmd, 'Z') {
			interp.config.MaxZJerk = standalone.GetParameter(cmd, 'Z', interp.config.MaxZJerk)
		}
		if standalone.HasParameter(cmd, 'E') && len(interp.config.Extruders) > 0 {
			interp.config.Extruders[interp.state.ActiveTool].MaxEJerk = standalone.GetParameter(cmd, 'E', interp.config.Extruders[interp.state.ActiveTool].MaxEJerk)
		}
		if standalone.HasParameter(cmd, 'J') {
			interp.config.JunctionDeviation = standalone.GetParameter(cmd, 'J', interp.config.JunctionDeviation)
		}

	case 220: // M220 - set feed rate percentage
		if standalone.HasParameter(cmd, 'S') {
			pct := standalone.GetParameter(cmd, 'S', 100)
			if pct > 0 {
				interp.state.FeedRate = interp.state.FeedRate * pct / 100
			}
		}

	case 221: // M221 - set flow percentage
		if standalone.HasParameter(cmd, 'S') {
			pct := standalone.GetParameter(cmd, 'S', 100)
			if pct > 0 {
				interp.config.ExtrudeMultiplier = pct / 100
			}
		}

	case 400: // M400 - wait for moves to finish
		interp.planner.Synchronize()

	case 410: // M410 - quickstop
		interp.planner.QuickStop()
	}

	return nil
}

func (interp *Interpreter) setAxisParam(cmd *standalone.GCodeCommand, apply func(*standalone.AxisConfig, float64)) {
	for letter, name := range map[byte]string{'X': "x", 'Y': "y", 'Z': "z"} {
		if !standalone.HasParameter(cmd, letter) {
			continue
		}
		axis, ok := interp.config.Axes[name]
		if !ok {
			continue
		}
		apply(&axis, standalone.GetParameter(cmd, letter, 0))
		interp.config.Axes[name] = axis
	}
	if standalone.HasParameter(cmd, 'E') && len(interp.config.Extruders) > 0 {
		idx := interp.state.ActiveTool
		if idx < 0 || idx >= len(interp.config.Extruders) {
			idx = 0
		}
		ext := interp.config.Extruders[idx]
		// ExtruderConfig and AxisConfig share MaxAccel/MaxFeedrate fields by
		// name, so reuse apply against a throwaway AxisConfig view.
		axisView := standalone.AxisConfig{MaxAccel: ext.MaxAccel, MaxFeedrate: ext.MaxFeedrate}
		apply(&axisView, standalone.GetParameter(cmd, 'E', 0))
		ext.MaxAccel, ext.MaxFeedrate = axisView.MaxAccel, axisView.MaxFeedrate
		interp.config.Extruders[idx] = ext
	}
}

// executeT handles a tool change (T0, T1, ...): the new extruder's steps/mm
// is reconciled against the old one on the next PlanBufferLine via
// Planner's extruder-change rescale, so only the active tool index needs
// updating here.
func (interp *Interpreter) executeT(cmd *standalone.GCodeCommand) error {
	if cmd.Number < 0 || cmd.Number >= len(interp.config.Extruders) {
		return fmt.Errorf("tool T%d not configured", cmd.Number)
	}
	interp.state.ActiveTool = cmd.Number
	return nil
}

func (interp *Interpreter) doMove(cmd *standalone.GCodeCommand) error {
	current := interp.planner.GetPosition()
	target := current

	if standalone.HasParameter(cmd, 'F') {
		interp.state.FeedRate = standalone.GetParameter(cmd, 'F', interp.state.FeedRate*60) / 60.0
	}

	if interp.state.AbsoluteMode {
		if standalone.HasParameter(cmd, 'X') {
			target.X = standalone.GetParameter(cmd, 'X', current.X)
		}
		if standalone.HasParameter(cmd, 'Y') {
			target.Y = standalone.GetParameter(cmd, 'Y', current.Y)
		}
		if standalone.HasParameter(cmd, 'Z') {
			target.Z = standalone.GetParameter(cmd, 'Z', current.Z)
		}
	} else {
		if standalone.HasParameter(cmd, 'X') {
			target.X = current.X + standalone.GetParameter(cmd, 'X', 0)
		}
		if standalone.HasParameter(cmd, 'Y') {
			target.Y = current.Y + standalone.GetParameter(cmd, 'Y', 0)
		}
		if standalone.HasParameter(cmd, 'Z') {
			target.Z = current.Z + standalone.GetParameter(cmd, 'Z', 0)
		}
	}

	if standalone.HasParameter(cmd, 'E') {
		if interp.state.ExtrudeMode {
			target.E = current.E + standalone.GetParameter(cmd, 'E', 0)
		} else {
			target.E = standalone.GetParameter(cmd, 'E', current.E)
		}
	}

	feedRateMMPerMin := interp.state.FeedRate * 60
	if feedRateMMPerMin <= 0 {
		feedRateMMPerMin = interp.defaultFeedRate()
	}

	return interp.planner.PlanBufferLine(target, feedRateMMPerMin, interp.state.ActiveTool, interp.state.ActiveTool)
}

func (interp *Interpreter) defaultFeedRate() float64 {
	if a, ok := interp.config.Axes["x"]; ok && a.MaxFeedrate > 0 {
		return a.MaxFeedrate * 60
	}
	return 1500
}

// doHome executes G28: synchronize the planner, run the homing sequence
// for the requested axes (all three if none named), and reseed both the
// planner's and the state's position to zero at the triggered endstop.
func (interp *Interpreter) doHome(cmd *standalone.GCodeCommand) error {
	interp.planner.Synchronize()

	axes := [3]bool{
		standalone.HasParameter(cmd, 'X'),
		standalone.HasParameter(cmd, 'Y'),
		standalone.HasParameter(cmd, 'Z'),
	}
	if !axes[0] && !axes[1] && !axes[2] {
		axes = [3]bool{true, true, true}
	}

	if interp.homeRequest != nil {
		if err := interp.homeRequest(axes); err != nil {
			return fmt.Errorf("homing: %w", err)
		}
	}

	pos := interp.planner.GetPosition()
	if axes[0] {
		pos.X = 0
		interp.state.Homed[standalone.AxisX] = true
	}
	if axes[1] {
		pos.Y = 0
		interp.state.Homed[standalone.AxisY] = true
	}
	if axes[2] {
		pos.Z = 0
		interp.state.Homed[standalone.AxisZ] = true
	}
	interp.planner.PlanSetPosition(pos, interp.state.ActiveTool)

	return nil
}

// doSetPosition executes G92: reassign the logical position without moving.
func (interp *Interpreter) doSetPosition(cmd *standalone.GCodeCommand) error {
	current := interp.planner.GetPosition()

	if standalone.HasParameter(cmd, 'X') {
		current.X = standalone.GetParameter(cmd, 'X', current.X)
	}
	if standalone.HasParameter(cmd, 'Y') {
		current.Y = standalone.GetParameter(cmd, 'Y', current.Y)
	}
	if standalone.HasParameter(cmd, 'Z') {
		current.Z = standalone.GetParameter(cmd, 'Z', current.Z)
	}

	if standalone.HasParameter(cmd, 'E') {
		current.E = standalone.GetParameter(cmd, 'E', current.E)
	}

	interp.planner.PlanSetPosition(current, interp.state.ActiveTool)
	return nil
}
