// Package debug provides conditional debug logging for htmlstage.
//
// Debug logging is enabled by setting the HTMLSTAGE_DEBUG environment variable:
//
//	HTMLSTAGE_DEBUG=1 htmlstage -root ./site -file index.html
//
// When enabled, debug messages are written to stderr with timestamps.
// When disabled (default), all debug functions are no-ops.
package debug

import (
	"io"
	"log"
	"os"
	"sync/atomic"
	"time"
)

const prefix = "[HTMLSTAGE] "

var (
	// enabled is true when HTMLSTAGE_DEBUG is set or SetEnabled(true) was called.
	enabled atomic.Bool
	// logger is swapped atomically so timer goroutines can log while tests
	// redirect output.
	logger atomic.Pointer[log.Logger]
)

func init() {
	logger.Store(log.New(os.Stderr, prefix, log.Ltime|log.Lmicroseconds))
	if os.Getenv("HTMLSTAGE_DEBUG") != "" {
		enabled.Store(true)
	}
}

// Enabled returns whether debug logging is enabled.
func Enabled() bool {
	return enabled.Load()
}

// SetEnabled allows programmatic control of debug logging.
func SetEnabled(e bool) {
	enabled.Store(e)
}

// SetOutput redirects debug output, e.g. to a buffer in tests.
func SetOutput(w io.Writer) {
	logger.Store(log.New(w, prefix, log.Ltime|log.Lmicroseconds))
}

// Log writes a debug message if debug logging is enabled.
// Uses printf-style formatting.
func Log(format string, args ...any) {
	if !Enabled() {
		return
	}
	logger.Load().Printf(format, args...)
}

// LogIf writes a debug message only if the condition is true.
func LogIf(cond bool, format string, args ...any) {
	if !cond {
		return
	}
	Log(format, args...)
}

// LogTiming writes a timing message if debug logging is enabled.
func LogTiming(name string, d time.Duration) {
	if !Enabled() {
		return
	}
	logger.Load().Printf("%s took %v", name, d)
}

// LogEnterExit logs function entry and exit with timing.
//
//	func cycle() {
//	    defer debug.LogEnterExit("cycle")()
//	    // ...
//	}
func LogEnterExit(name string) func() {
	if !Enabled() {
		return func() {}
	}
	l := logger.Load()
	l.Printf("-> %s", name)
	start := time.Now()
	return func() {
		l.Printf("<- %s (%v)", name, time.Since(start))
	}
}

// Dump logs a value with its type for debugging complex structures.
func Dump(name string, v any) {
	if !Enabled() {
		return
	}
	logger.Load().Printf("%s: %T = %+v", name, v, v)
}

// Section logs a section header for visual organization in debug output.
func Section(name string) {
	if !Enabled() {
		return
	}
	logger.Load().Printf("=== %s ===", name)
}
