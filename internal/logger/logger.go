// Package logger provides the logging handle injected into every store,
// adapter and service. Debug, Info and Section output is only printed when
// verbose mode is enabled via the --verbose flag; warnings and errors are
// always printed.
package logger

import (
	"fmt"
	"io"
	"os"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures a Logger.
type Options struct {
	// Verbose enables Debug, Info and Section output.
	Verbose bool

	// Output defaults to os.Stderr.
	Output io.Writer

	// LogFile, when set, tees every line into a size-rotated file.
	LogFile string

	// MaxSizeMB is the rotation threshold for LogFile. Defaults to 10.
	MaxSizeMB int

	// MaxBackups is the number of rotated files kept. Defaults to 3.
	MaxBackups int
}

// Logger writes levelled, line-oriented messages.
type Logger struct {
	mu      sync.Mutex
	verbose bool
	output  io.Writer
	closer  io.Closer
}

// New creates a Logger from options.
func New(opts Options) *Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	l := &Logger{verbose: opts.Verbose, output: out}

	if opts.LogFile != "" {
		maxSize := opts.MaxSizeMB
		if maxSize <= 0 {
			maxSize = 10
		}
		backups := opts.MaxBackups
		if backups <= 0 {
			backups = 3
		}
		rotating := &lumberjack.Logger{
			Filename:   opts.LogFile,
			MaxSize:    maxSize,
			MaxBackups: backups,
			Compress:   true,
		}
		l.output = io.MultiWriter(out, rotating)
		l.closer = rotating
	}

	return l
}

// Discard returns a Logger that drops everything. Useful for testing.
func Discard() *Logger {
	return &Logger{output: io.Discard}
}

// Close releases the rotating log file, if any.
func (l *Logger) Close() error {
	if l == nil || l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

// SetVerbose enables or disables verbose logging.
func (l *Logger) SetVerbose(v bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.verbose = v
}

// IsVerbose returns true if verbose mode is enabled.
func (l *Logger) IsVerbose() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.verbose
}

// SetOutput sets the output writer.
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.output = w
}

// Debug prints a message if verbose mode is enabled.
func (l *Logger) Debug(format string, args ...any) {
	l.printf(true, "[DEBUG] "+format+"\n", args...)
}

// Section prints a section header if verbose mode is enabled.
func (l *Logger) Section(name string) {
	l.printf(true, "\n=== %s ===\n", name)
}

// Info prints an informational message if verbose mode is enabled.
func (l *Logger) Info(format string, args ...any) {
	l.printf(true, "[INFO] "+format+"\n", args...)
}

// Warn prints a warning message.
func (l *Logger) Warn(format string, args ...any) {
	l.printf(false, "[WARN] "+format+"\n", args...)
}

// Error prints an error message.
func (l *Logger) Error(format string, args ...any) {
	l.printf(false, "[ERROR] "+format+"\n", args...)
}

func (l *Logger) printf(verboseOnly bool, format string, args ...any) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if verboseOnly && !l.verbose {
		return
	}
	fmt.Fprintf(l.output, format, args...)
}
