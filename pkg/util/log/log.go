// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package log is a leveled logger in the style of glog. Every entry carries
// the log tags of the context it was emitted in, and arguments are rendered
// with redaction markers around unsafe values unless configured otherwise.
package log

import "context"

// Infof logs to the INFO log.
func Infof(ctx context.Context, format string, args ...interface{}) {
	addStructured(ctx, SeverityInfo, 1, format, args)
}

// InfofDepth logs to the INFO log, attributing the entry to the caller depth
// frames up the stack.
func InfofDepth(ctx context.Context, depth int, format string, args ...interface{}) {
	addStructured(ctx, SeverityInfo, depth+1, format, args)
}

// Warningf logs to the WARNING and INFO logs.
func Warningf(ctx context.Context, format string, args ...interface{}) {
	addStructured(ctx, SeverityWarning, 1, format, args)
}

// Errorf logs to the ERROR, WARNING and INFO logs.
func Errorf(ctx context.Context, format string, args ...interface{}) {
	addStructured(ctx, SeverityError, 1, format, args)
}

// V returns true if the logging verbosity is set to the specified level or
// higher.
func V(level int32) bool {
	return logging.verbosity.Load() >= level
}

// VEventf logs to the INFO log if the verbosity is at least level.
func VEventf(ctx context.Context, level int32, format string, args ...interface{}) {
	if V(level) {
		addStructured(ctx, SeverityInfo, 1, format, args)
	}
}
