// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package log

import (
	"bytes"
	"context"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/logtags"
	"github.com/cockroachdb/redact"
	"github.com/cockroachdb/rangelocator/pkg/util/timeutil"
	"github.com/stretchr/testify/require"
)

// captureLogs redirects the log to a buffer for the duration of the test and
// pins the header clock.
func captureLogs(t *testing.T) *bytes.Buffer {
	var buf bytes.Buffer
	restoreOut := SetOutput(&buf)
	restoreClock := setClock(timeutil.NewManualTime(
		time.Date(2026, time.March, 7, 9, 4, 5, 123456789, time.UTC)))
	prevV := SetVerbosity(0)
	t.Cleanup(func() {
		restoreOut()
		restoreClock()
		SetVerbosity(prevV)
		SetRedactable(false)
	})
	return &buf
}

func TestLogHeader(t *testing.T) {
	buf := captureLogs(t)
	ctx := context.Background()

	Infof(ctx, "hello %d", 1)
	Warningf(ctx, "careful")
	Errorf(ctx, "broken: %s", "disk")

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	re := regexp.MustCompile(`^([IWE])260307 09:04:05\.123456 log_test\.go:\d+  (.*)$`)
	for i, expected := range []struct{ sev, msg string }{
		{"I", "hello 1"},
		{"W", "careful"},
		{"E", "broken: disk"},
	} {
		m := re.FindStringSubmatch(lines[i])
		require.NotNil(t, m, "line %q", lines[i])
		require.Equal(t, expected.sev, m[1])
		require.Equal(t, expected.msg, m[2])
	}
}

func TestLogTags(t *testing.T) {
	buf := captureLogs(t)
	ctx := logtags.AddTag(context.Background(), "table", "orders")
	ctx = logtags.AddTag(ctx, "reverse", nil)

	Infof(ctx, "located")
	require.Contains(t, buf.String(), "  [table=orders,reverse] located\n")
	require.Equal(t, "[table=orders,reverse] x=1", FormatWithContextTags(ctx, "x=%d", 1))
}

func TestLogRedaction(t *testing.T) {
	buf := captureLogs(t)
	ctx := context.Background()

	Infof(ctx, "row %s on %s", "secret", redact.Safe("n1"))
	require.Contains(t, buf.String(), "row secret on n1\n")

	buf.Reset()
	SetRedactable(true)
	Infof(ctx, "row %s on %s", "secret", redact.Safe("n1"))
	require.Contains(t, buf.String(), "row ‹secret› on n1\n")
}

func TestVerbosity(t *testing.T) {
	buf := captureLogs(t)
	ctx := context.Background()

	require.False(t, V(1))
	VEventf(ctx, 1, "hidden")
	require.Empty(t, buf.String())

	SetVerbosity(2)
	require.True(t, V(1))
	require.True(t, V(2))
	require.False(t, V(3))
	VEventf(ctx, 1, "shown")
	require.Contains(t, buf.String(), "shown")
}

func TestEveryN(t *testing.T) {
	captureLogs(t)
	e := Every(time.Hour)
	require.True(t, e.ShouldLog())
	require.False(t, e.ShouldLog())

	SetVerbosity(2)
	require.True(t, e.ShouldLog())
}
