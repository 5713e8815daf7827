// Package wlog provides the workbook engine's structured logger, a single
// package-level zerolog.Logger that hosts can redirect. Grounded in
// vinodismyname-mcpxcel/internal/telemetry/hooks.go's use of zerolog as the
// event-per-operation logger for workbook lifecycle and tool-call events.
package wlog

import (
	"os"

	"github.com/rs/zerolog"
)

// L is the package-level logger used throughout the workbook engine.
// Defaults to a console writer at info level; hosts embedding the engine
// may reassign it before use.
var L = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: true}).With().Timestamp().Logger()

// SetLevel adjusts L's minimum level globally.
func SetLevel(level zerolog.Level) {
	L = L.Level(level)
}

// Silent replaces L with a no-op logger, useful for embedding hosts (cgo,
// WASM) that want to suppress stderr chatter by default.
func Silent() {
	L = zerolog.Nop()
}
