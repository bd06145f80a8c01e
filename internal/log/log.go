// Copyright 2025 Redpanda Data, Inc.

// Package log provides the levelled, modular logger threaded through every
// pipeline component, adapted from the teacher's logrus-based wrapper
// without the bloblang-mapping log-shaping layer (the core has no
// surrounding plugin/mapping system to drive it).
package log

// Modular is an object with support for levelled logging and modular
// components: calling With/WithFields returns a derived logger carrying
// extra fields, without mutating the receiver.
type Modular interface {
	WithFields(inboundFields map[string]string) Modular
	With(keyValues ...any) Modular

	Fatal(format string, v ...any)
	Error(format string, v ...any)
	Warn(format string, v ...any)
	Info(format string, v ...any)
	Debug(format string, v ...any)
	Trace(format string, v ...any)
}
