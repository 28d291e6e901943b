// Package logging is the small leveled logger used by the standalone g-code
// front door to report diagnostics (cold extrude, step-rate clamped,
// endstop hit) the way Marlin/Klipper firmwares do: as serial comment
// lines, not a structured event stream.
package logging

import "fmt"

// Logger is the minimal surface the rest of standalone depends on.
type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Sink receives one fully formatted line per call (no trailing newline).
type Sink func(line string)

// gcodeLogger writes "// info:"/"// warn:"/"// error:" prefixed lines,
// matching the serial comment convention the gcode package forwards to the
// host.
type gcodeLogger struct {
	sink Sink
}

// New returns a Logger that writes through sink in the gcode-comment
// convention. A nil sink discards everything.
func New(sink Sink) Logger {
	if sink == nil {
		sink = func(string) {}
	}
	return &gcodeLogger{sink: sink}
}

func (l *gcodeLogger) Infof(format string, args ...interface{}) {
	l.sink("// info: " + fmt.Sprintf(format, args...))
}

func (l *gcodeLogger) Warnf(format string, args ...interface{}) {
	l.sink("// warn: " + fmt.Sprintf(format, args...))
}

func (l *gcodeLogger) Errorf(format string, args ...interface{}) {
	l.sink("// error: " + fmt.Sprintf(format, args...))
}

// Discard is a Logger that drops everything; useful in tests.
var Discard Logger = New(nil)
