// Package logx is this repository's structured-logging facade: a thin,
// domain-named wrapper around logiface + stumpy, mirroring the
// package-level pluggable-logger shape of eventloop/logging.go while
// replacing its hand-rolled LogEntry/LogLevel types with the generic
// logiface.Logger[*stumpy.Event] the rest of the pack already builds on.
package logx

import (
	"io"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// Logger is this repository's structured logger type. Every long-lived
// component (Reactor, Orchestrator, VolumeManager, BlockDeviceClient,
// Service error paths) accepts one instead of formatting strings itself.
type Logger = *logiface.Logger[*stumpy.Event]

// New builds a production logger writing newline-delimited JSON to w at
// the given level, via stumpy's zero-allocation event sink.
func New(w io.Writer, level logiface.Level) Logger {
	return logiface.New[*stumpy.Event](
		logiface.WithLevel[*stumpy.Event](level),
		stumpy.WithStumpy(stumpy.WithWriter(w)),
	)
}

// Discard returns a logger with logging disabled entirely, for tests and
// for components that were not handed a real sink.
func Discard() Logger {
	return logiface.New[*stumpy.Event](
		logiface.WithLevel[*stumpy.Event](logiface.LevelDisabled),
		stumpy.WithStumpy(),
	)
}
