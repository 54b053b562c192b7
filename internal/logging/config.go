package logging

import "os"

// Config holds logging configuration.
type Config struct {
	// Enabled determines whether logging is active.
	Enabled bool
	// Level is the minimum log level to record.
	Level string
	// Dir is the directory for log files. Empty means log to stderr.
	Dir string
	// MaxFiles is the maximum number of log files to retain.
	MaxFiles int
	// PID is the process ID.
	PID int
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		Enabled:  true,
		Level:    "info",
		MaxFiles: 10,
		PID:      os.Getpid(),
	}
}
