package standalone

// Position represents a position in machine (head) coordinates, millimeters.
type Position struct {
	X float64
	Y float64
	Z float64
	E float64 // active extruder
}

// Direction bit layout, stable across the whole core. Motor bits (X/Y/Z/E)
// record what a physical motor did; head bits record what the user-visible
// axis did, which only differs from the motor bits under Core* kinematics
// (see kinematics.Kinematics).
const (
	BitX uint16 = 1 << iota
	BitY
	BitZ
	BitE
	BitXHead
	BitYHead
	BitZHead
	BitA // reserved for a future motor
	BitB
	BitC
)

// Axis indices, the order Block.Steps and the planner's position array store them in.
const (
	AxisX = 0
	AxisY = 1
	AxisZ = 2
	AxisE = 3
)

// AxisConfig is the per-motor configuration for one physical stepper.
type AxisConfig struct {
	StepPin   string // GPIO pin name for step pulses
	DirPin    string // GPIO pin name for direction
	EnablePin string // GPIO pin name for enable (optional)

	StepsPerUnit float64 // steps per millimeter
	MaxFeedrate  float64 // mm/s
	MaxAccel     float64 // mm/s^2, clamps the shared acceleration classes
	HomingVel    float64 // mm/s

	MinPosition float64 // mm
	MaxPosition float64 // mm

	InvertDir    bool
	InvertEnable bool
}

// ExtruderConfig is the per-driver configuration for one extruder.
type ExtruderConfig struct {
	StepsPerUnit        float64 // steps per mm of filament
	MaxFeedrate         float64 // mm/s
	MaxAccel            float64 // mm/s^2
	MaxEJerk            float64 // mm/s
	RetractAcceleration float64 // mm/s^2, used for E-only moves

	DirPin    string
	StepPin   string
	EnablePin string
	InvertDir bool
}

// EndstopConfig describes one limit switch input.
type EndstopConfig struct {
	Pin    string
	Invert bool
	Axis   string // "x", "y", "z"
	AtMax  bool   // true = max-end switch, false = min-end switch
}

// MachineConfig is the complete machine description. It is handed by
// pointer to the planner, the kinematics and the stepper engine at
// construction time; the interpreter's acceleration, feedrate, jerk and
// flow M-codes update it in place afterwards.
type MachineConfig struct {
	Mode       string // "standalone" or "klipper"
	Kinematics string // "cartesian", "corexy", "coreyx", "corexz", "corezx"

	Axes      map[string]AxisConfig    // "x", "y", "z"
	Extruders []ExtruderConfig         // indexed by driver/tool number
	Endstops  map[string]EndstopConfig // keyed by logical name, e.g. "x_min"

	// Acceleration classes (mm/s^2), selected per-move by the front end.
	Acceleration        float64
	TravelAcceleration  float64
	RetractAcceleration float64

	MaxXYJerk         float64 // mm/s
	MaxZJerk          float64 // mm/s
	JunctionDeviation float64 // mm; carried for config compatibility, unused by the jerk model

	RingCapacity        int     // power of two, block ring depth
	MaxStepFrequency    uint32  // steps/s ceiling
	DoubleStepFrequency uint32  // steps/s threshold for the step-loop multiplier
	DropSegments        int64   // minimum step_event_count to keep a block
	MinimumPlannerSpeed float64 // mm/s floor used when retrapezoiding the ring tail
	MinSegmentTimeUs    uint32  // microseconds; slows the feed rate when the ring is starving

	DisableInactiveExtruder bool // dual-extruder enable policy
	AbortOnEndstopHit       bool // endstop error policy

	VolumetricMultiplier float64 // scales E by filament cross-section, 1.0 = off
	ExtrudeMultiplier    float64 // "flow rate" percent / 100, M221

	// Klipper-mode bridge configuration; ignored in standalone mode.
	SerialDevice string
	BaudRate     int
}

// MachineState is the mutable, single-writer (producer-owned) interpreter
// state: current logical position, mode bits, and current feed rate.
type MachineState struct {
	Position     Position
	Homed        [4]bool // X, Y, Z, E
	AbsoluteMode bool    // G90 vs G91
	ExtrudeMode  bool    // true = relative extrusion (M83)
	FeedRate     float64 // mm/s, current modal feed rate
	ActiveTool   int     // selected extruder/driver index
}

// GCodeCommand is one parsed line.
type GCodeCommand struct {
	Type       byte // 'G', 'M', 'T'
	Number     int
	Parameters map[byte]float64
	Comment    string
}

// HasParameter reports whether a letter parameter was present on the line.
func HasParameter(cmd *GCodeCommand, letter byte) bool {
	_, ok := cmd.Parameters[letter]
	return ok
}

// GetParameter returns a letter parameter's value, or def if absent.
func GetParameter(cmd *GCodeCommand, letter byte, def float64) float64 {
	if v, ok := cmd.Parameters[letter]; ok {
		return v
	}
	return def
}
