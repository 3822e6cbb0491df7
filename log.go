package ivy

import (
	"log"
	"os"
)

// agentLogger wraps a *log.Logger with the four severities the reference
// Ivy implementation uses (debug/info/warn/error). debug is silent unless
// Verbose is set, matching the teacher's own practice of gating chatty
// output behind a single verbose flag (see gyre.go's SetVerbose).
type agentLogger struct {
	l       *log.Logger
	verbose bool
}

func newAgentLogger() *agentLogger {
	return &agentLogger{l: log.New(os.Stderr, "", log.LstdFlags)}
}

func (a *agentLogger) debugf(format string, args ...interface{}) {
	if a.verbose {
		a.l.Printf("D: "+format, args...)
	}
}

func (a *agentLogger) infof(format string, args ...interface{}) {
	a.l.Printf("I: "+format, args...)
}

func (a *agentLogger) warnf(format string, args ...interface{}) {
	a.l.Printf("W: "+format, args...)
}

func (a *agentLogger) errorf(format string, args ...interface{}) {
	a.l.Printf("E: "+format, args...)
}
