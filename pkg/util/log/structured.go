// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package log

import (
	"context"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/cockroachdb/logtags"
	"github.com/cockroachdb/redact"
)

// formatTags renders the context's log tags as "[k1=v1,k2] ". If there are
// no tags, returns false.
func formatTags(ctx context.Context, buf *redact.StringBuilder) bool {
	tags := logtags.FromContext(ctx)
	if tags == nil {
		return false
	}
	var sb strings.Builder
	tags.FormatToString(&sb)
	buf.SafeRune('[')
	buf.SafeString(redact.SafeString(sb.String()))
	buf.SafeString("] ")
	return true
}

// makeMessage renders a log message prefixed by the context's tags. Unsafe
// arguments are enclosed in redaction markers.
func makeMessage(ctx context.Context, format string, args []interface{}) redact.RedactableString {
	var buf redact.StringBuilder
	formatTags(ctx, &buf)
	if len(format) == 0 {
		buf.Print(args...)
	} else {
		buf.Printf(format, args...)
	}
	return buf.RedactableString()
}

// FormatWithContextTags formats the string and prepends the context tags.
// Redaction markers are not inserted.
func FormatWithContextTags(ctx context.Context, format string, args ...interface{}) string {
	return makeMessage(ctx, format, args).StripMarkers()
}

// addStructured writes a log entry. depth is the number of stack frames
// between the caller of interest and addStructured.
func addStructured(
	ctx context.Context, s Severity, depth int, format string, args []interface{},
) {
	_, file, line, ok := runtime.Caller(depth + 1)
	if !ok {
		file, line = "???", 1
	} else {
		file = filepath.Base(file)
	}
	msg := makeMessage(ctx, format, args)
	if logging.redactable.Load() {
		logging.output(s, file, line, string(msg))
	} else {
		logging.output(s, file, line, msg.StripMarkers())
	}
}
