// Package planner implements the bounded lookahead ring of motion blocks:
// each block is one straight-line segment in step space carrying a
// symmetric-trapezoid speed profile, continuously re-solved across the ring
// so adjacent segments chain smoothly under a constant acceleration.
package planner

// MinStepRate is the floor trapezoid corner rates are clamped to, avoiding
// timer overflow at very low step rates.
const MinStepRate = 120

// Block is one straight-line motion segment. After it is published, the
// lookahead passes may still rewrite its entry speed, flags and trapezoid
// fields until the stepper engine latches it by setting Busy; the planner
// never changes a Busy block.
type Block struct {
	// Steps[axis] is the absolute step count for that physical motor
	// (after kinematic mixing); always >= 0.
	Steps [4]int64
	// StepEventCount is the maximum across Steps — the master tick count.
	StepEventCount int64
	// DirectionBits: 1 = negative, using the standalone.Bit* layout.
	DirectionBits uint16

	Millimeters float64 // Euclidean length of the head's displacement

	NominalSpeed float64 // mm/s
	NominalRate  int64   // steps/s

	Acceleration     float64 // mm/s^2
	AccelerationSt   float64 // steps/s^2
	AccelerationRate uint32  // 24.8 fixed-point rate used by the stepper's integration

	EntrySpeed    float64 // mm/s
	MaxEntrySpeed float64 // mm/s

	InitialRate int64 // steps/s, trapezoid corner, floor MinStepRate
	FinalRate   int64 // steps/s, trapezoid corner, floor MinStepRate

	AccelerateUntil int64 // step milestone
	DecelerateAfter int64 // step milestone

	NominalLengthFlag bool // long enough that nominal speed is reachable from rest
	RecalculateFlag   bool // entry/exit speed moved since last trapezoid solve

	Busy bool // latched by the stepper engine; producer must not mutate trapezoid fields

	// Auxiliary annotations, orthogonal to the core trapezoid.
	FanSpeed uint8 // 0-255
	Driver   int   // active extruder/driver index
}
