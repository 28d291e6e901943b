// Package manager wires the G-code front door, planner, kinematics and
// stepper engine together for standalone mode (spec.md component G running
// as a goroutine over a local GPIO driver). It lives in its own package,
// one level below gopper/standalone, so that standalone's leaf packages
// (config, gcode, kinematics, logging, planner, stepgen) can import the
// shared type definitions in gopper/standalone without creating an import
// cycle back through this wiring layer.
package manager

import (
	"errors"
	"fmt"
	"time"

	"gopper/core"
	"gopper/standalone"
	"gopper/standalone/config"
	"gopper/standalone/gcode"
	"gopper/standalone/kinematics"
	"gopper/standalone/logging"
	"gopper/standalone/planner"
	"gopper/standalone/stepgen"
)

// Manager coordinates all standalone-mode components behind a small line-
// oriented API, the shape a serial host loop or an interactive CLI drives.
type Manager struct {
	config      *standalone.MachineConfig
	parser      *gcode.Parser
	interpreter *gcode.Interpreter
	planner     *planner.Planner
	kinematics  kinematics.Kinematics
	engine      *stepgen.Engine
	log         logging.Logger

	outputBuffer []byte
	inputBuffer  []byte

	engineStop chan struct{}

	initialized bool
	running     bool
}

// New loads a JSON configuration document and builds a Manager.
func New(configData []byte, sink logging.Sink) (*Manager, error) {
	cfg, err := config.LoadConfig(configData)
	if err != nil {
		return nil, err
	}
	return NewWithConfig(cfg, sink)
}

// NewWithConfig builds a Manager over an already-loaded config.
func NewWithConfig(cfg *standalone.MachineConfig, sink logging.Sink) (*Manager, error) {
	return &Manager{
		config:       cfg,
		parser:       gcode.NewParser(),
		log:          logging.New(sink),
		inputBuffer:  make([]byte, 0, 256),
		outputBuffer: make([]byte, 0, 256),
	}, nil
}

// Initialize builds the kinematics, planner and stepper engine over the
// given GPIO driver and starts the engine's goroutine.
func (m *Manager) Initialize(gpioDriver core.GPIODriver) error {
	if m.initialized {
		return errors.New("already initialized")
	}

	kin, err := kinematics.New(m.config)
	if err != nil {
		return err
	}
	m.kinematics = kin

	m.planner = planner.NewPlanner(m.config, kin, m.log)

	motors, extruderMotors, err := buildMotors(gpioDriver, m.config)
	if err != nil {
		return fmt.Errorf("building stepper backends: %w", err)
	}

	var endstops *stepgen.EndstopMonitor
	if len(m.config.Endstops) > 0 {
		endstops, err = stepgen.NewEndstopMonitor(gpioDriver, m.config)
		if err != nil {
			return fmt.Errorf("building endstop monitor: %w", err)
		}
	}

	m.engine = stepgen.NewEngine(m.planner.Ring(), m.config, motors, extruderMotors, endstops, m.log)
	m.planner.SetEngine(m.engine)

	m.interpreter = gcode.NewInterpreter(m.config, m.planner, m.log, m.homeAxes)

	m.engineStop = make(chan struct{})
	go m.engine.Run(m.engineStop)

	m.initialized = true
	return nil
}

// buildMotors constructs the X/Y/Z StepperBackends plus one per configured
// extruder, all driven through the same GPIO driver.
func buildMotors(driver core.GPIODriver, cfg *standalone.MachineConfig) ([3]core.StepperBackend, []core.StepperBackend, error) {
	var motors [3]core.StepperBackend

	names := [3]string{"x", "y", "z"}
	for i, name := range names {
		axis, ok := cfg.Axes[name]
		if !ok {
			continue
		}
		m, err := stepgen.NewGPIOStepper(driver, axis.StepPin, axis.DirPin, axis.EnablePin, axis.InvertDir, axis.InvertEnable)
		if err != nil {
			return motors, nil, fmt.Errorf("axis %s: %w", name, err)
		}
		motors[i] = m
	}

	extruderMotors := make([]core.StepperBackend, len(cfg.Extruders))
	for i, ext := range cfg.Extruders {
		m, err := stepgen.NewGPIOStepper(driver, ext.StepPin, ext.DirPin, ext.EnablePin, ext.InvertDir, false)
		if err != nil {
			return motors, nil, fmt.Errorf("extruder %d: %w", i, err)
		}
		extruderMotors[i] = m
	}

	return motors, extruderMotors, nil
}

// homeAxes drives the classic min-endstop seek-then-backoff homing
// sequence for the requested head axes: jog toward the endstop at homing
// velocity until it trips, then stop. It runs synchronously on the calling
// goroutine (the interpreter's), which is safe because it always follows a
// Planner.Synchronize in doHome.
func (m *Manager) homeAxes(axes [3]bool) error {
	names := [3]string{"x", "y", "z"}
	var mask uint16
	for i, want := range axes {
		if want {
			mask |= 1 << uint(i)
		}
	}

	// The engine owns the EndstopMonitor; expose it via a narrow accessor
	// rather than duplicating monitor state here.
	endstops := m.engine.Endstops()
	if endstops == nil {
		return errors.New("no endstops configured")
	}
	endstops.SetHomingMask(mask)
	defer endstops.SetHomingMask(0)

	for i, want := range axes {
		if !want {
			continue
		}
		axisCfg, ok := m.config.Axes[names[i]]
		if !ok {
			continue
		}
		target := standalone.Position{}
		switch i {
		case standalone.AxisX:
			target.X = axisCfg.MinPosition - axisCfg.MaxPosition
		case standalone.AxisY:
			target.Y = axisCfg.MinPosition - axisCfg.MaxPosition
		case standalone.AxisZ:
			target.Z = axisCfg.MinPosition - axisCfg.MaxPosition
		}
		cur := m.planner.GetPosition()
		target.X += cur.X
		target.Y += cur.Y
		target.Z += cur.Z
		target.E = cur.E

		homingFeed := axisCfg.HomingVel * 60
		if homingFeed <= 0 {
			homingFeed = 300
		}
		if err := m.planner.PlanBufferLine(target, homingFeed, 0, 0); err != nil {
			return err
		}

		for !endstops.Triggered(i) {
			if !m.planner.BlocksQueued() && m.planner.MovesPlanned() == 0 {
				return fmt.Errorf("endstop for axis %s never triggered", names[i])
			}
			time.Sleep(time.Millisecond)
		}
		m.planner.QuickStop()
		m.planner.Synchronize()
	}

	return nil
}

// ProcessLine parses and executes one line of G-code.
func (m *Manager) ProcessLine(line string) error {
	if !m.initialized {
		return errors.New("manager not initialized")
	}

	cmd, err := m.parser.ParseLine(line)
	if err != nil {
		return err
	}
	if cmd == nil {
		return nil
	}
	return m.interpreter.Execute(cmd)
}

// ProcessByte feeds one byte of streamed serial input; a complete line
// triggers ProcessLine and an "ok" response, matching the Marlin/Klipper
// line-ack protocol.
func (m *Manager) ProcessByte(b byte) error {
	m.inputBuffer = append(m.inputBuffer, b)

	if b != '\n' && b != '\r' {
		return nil
	}

	line := string(m.inputBuffer)
	m.inputBuffer = m.inputBuffer[:0]

	for len(line) > 0 && (line[len(line)-1] == '\n' || line[len(line)-1] == '\r' || line[len(line)-1] == ' ') {
		line = line[:len(line)-1]
	}
	if len(line) == 0 {
		return nil
	}

	if err := m.ProcessLine(line); err != nil {
		m.SendResponse(fmt.Sprintf("// error: %v\nok\n", err))
		return err
	}

	m.SendResponse("ok\n")
	return nil
}

// SendResponse queues a response line to be drained by GetOutput.
func (m *Manager) SendResponse(response string) {
	m.outputBuffer = append(m.outputBuffer, []byte(response)...)
}

// GetOutput returns and clears any pending output.
func (m *Manager) GetOutput() []byte {
	if len(m.outputBuffer) == 0 {
		return nil
	}
	output := make([]byte, len(m.outputBuffer))
	copy(output, m.outputBuffer)
	m.outputBuffer = m.outputBuffer[:0]
	return output
}

// Start begins standalone operation.
func (m *Manager) Start() error {
	if !m.initialized {
		return errors.New("manager not initialized")
	}
	m.running = true
	m.SendResponse("Gopper Standalone Mode Ready\n")
	return nil
}

// Stop halts the stepper engine goroutine and drops any queued moves.
func (m *Manager) Stop() {
	m.running = false
	if m.planner != nil {
		m.planner.QuickStop()
	}
	if m.engine != nil {
		m.engine.Stop()
	}
}

// IsRunning reports whether Start has been called without a matching Stop.
func (m *Manager) IsRunning() bool {
	return m.running
}

// GetState returns the current machine state.
func (m *Manager) GetState() *standalone.MachineState {
	if m.interpreter != nil {
		return m.interpreter.GetState()
	}
	return nil
}

// EmergencyStop immediately aborts all motion.
func (m *Manager) EmergencyStop() {
	m.Stop()
}
