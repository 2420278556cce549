// Package logx gives each component its own bracketed-prefix logger,
// matching the "[Component] message" convention used throughout the
// rest of this codebase's standard-library logging.
package logx

import (
	"log"
	"os"
)

// New returns a *log.Logger writing to stderr with a "[name] " prefix.
func New(name string) *log.Logger {
	return log.New(os.Stderr, "["+name+"] ", log.LstdFlags)
}
