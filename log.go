package mprpc

import (
	"log"
	"os"
)

// Logger is the optional diagnostic sink a Session reports internal,
// non-fatal conditions to; currently that is a recovered panic in a
// user hook. It intentionally mirrors the shape of the
// *log.Logger field boxcast-serf's RPC client accepts, rather than
// introducing a structured-logging dependency nothing else in this
// module needs.
type Logger interface {
	Printf(format string, args ...any)
}

// noopLogger discards everything; it is the Session default so that a
// caller who never configures a Logger sees no output, matching spec.md's
// "all hooks optional, all default to ignore" stance applied to
// diagnostics as well as user hooks.
type noopLogger struct{}

func (noopLogger) Printf(string, ...any) {}

// StdLogger adapts the standard library's *log.Logger to the Logger
// interface, the same adaptation boxcast-serf's RPC client performs for
// its own Logger field.
type StdLogger struct {
	*log.Logger
}

// NewStdLogger returns a Logger that writes to stderr with a fixed
// "mprpc: " prefix, suitable as a drop-in default for callers who want
// visibility without wiring their own Logger.
func NewStdLogger() Logger {
	return StdLogger{Logger: log.New(os.Stderr, "mprpc: ", log.LstdFlags)}
}
