// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package log

import (
	"bytes"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/rangelocator/pkg/util/syncutil"
	"github.com/cockroachdb/rangelocator/pkg/util/timeutil"
)

// Severity identifies the sort of log: info, warning etc.
type Severity int32

// Severities, in order of increasing importance.
const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
	numSeverity
)

const severityChar = "IWE"

var severityName = [numSeverity]string{
	SeverityInfo:    "INFO",
	SeverityWarning: "WARNING",
	SeverityError:   "ERROR",
}

func (s Severity) String() string {
	if s >= 0 && s < numSeverity {
		return severityName[s]
	}
	return "UNKNOWN"
}

// loggingT collects all the global state of the logging setup.
type loggingT struct {
	// verbosity is the V() threshold, read atomically.
	verbosity atomic.Int32
	// redactable keeps redaction markers around unsafe values.
	redactable atomic.Bool

	mu struct {
		syncutil.Mutex
		out   io.Writer
		clock timeutil.TimeSource
		buf   bytes.Buffer
	}
}

var logging loggingT

func init() {
	logging.mu.out = os.Stderr
	logging.mu.clock = timeutil.DefaultTimeSource{}
}

// SetOutput redirects log output to w and returns a function restoring the
// previous writer.
func SetOutput(w io.Writer) (restore func()) {
	logging.mu.Lock()
	defer logging.mu.Unlock()
	prev := logging.mu.out
	logging.mu.out = w
	return func() {
		logging.mu.Lock()
		defer logging.mu.Unlock()
		logging.mu.out = prev
	}
}

// SetVerbosity sets the global V() threshold and returns the previous one.
func SetVerbosity(level int32) int32 {
	return logging.verbosity.Swap(level)
}

// SetRedactable controls whether redaction markers are kept in log output.
func SetRedactable(redactable bool) {
	logging.redactable.Store(redactable)
}

// setClock overrides the clock used for log headers. Used in tests.
func setClock(clock timeutil.TimeSource) (restore func()) {
	logging.mu.Lock()
	defer logging.mu.Unlock()
	prev := logging.mu.clock
	logging.mu.clock = clock
	return func() {
		logging.mu.Lock()
		defer logging.mu.Unlock()
		logging.mu.clock = prev
	}
}

// output writes one log line: header, message and a trailing newline.
func (l *loggingT) output(s Severity, file string, line int, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.mu.buf.Reset()
	formatHeader(&l.mu.buf, s, l.mu.clock.Now(), file, line)
	l.mu.buf.WriteString(msg)
	if len(msg) == 0 || msg[len(msg)-1] != '\n' {
		l.mu.buf.WriteByte('\n')
	}
	// Errors writing the log have nowhere to be reported.
	_, _ = l.mu.out.Write(l.mu.buf.Bytes())
}

// formatHeader formats a log header:
//
//	Lyymmdd hh:mm:ss.uuuuuu file:line
//
// where the fields are defined as follows:
//
//	L                A single character, representing the log level (eg 'I' for INFO)
//	yy               The year (zero padded; ie 2016 is '16')
//	mm               The month (zero padded; ie May is '05')
//	dd               The day (zero padded)
//	hh:mm:ss.uuuuuu  Time in hours, minutes and fractional seconds
//	file             The file name
//	line             The line number
//
// Two spaces separate the header from the message.
func formatHeader(buf *bytes.Buffer, s Severity, now time.Time, file string, line int) {
	if s < 0 || s >= numSeverity {
		s = SeverityInfo
	}
	if line < 0 {
		line = 0
	}
	var tmp [32]byte
	year, month, day := now.Date()
	hour, minute, second := now.Clock()
	n := 0
	tmp[n] = severityChar[s]
	n++
	n += twoDigits(tmp[n:], year%100)
	n += twoDigits(tmp[n:], int(month))
	n += twoDigits(tmp[n:], day)
	tmp[n] = ' '
	n++
	n += twoDigits(tmp[n:], hour)
	tmp[n] = ':'
	n++
	n += twoDigits(tmp[n:], minute)
	tmp[n] = ':'
	n++
	n += twoDigits(tmp[n:], second)
	tmp[n] = '.'
	n++
	n += nDigits(tmp[n:], 6, now.Nanosecond()/1000)
	tmp[n] = ' '
	n++
	buf.Write(tmp[:n])
	buf.WriteString(file)
	buf.WriteByte(':')
	n = someDigits(tmp[:], line)
	buf.Write(tmp[len(tmp)-n:])
	buf.WriteString("  ")
}

const digits = "0123456789"

// twoDigits formats a zero-prefixed two-digit integer into b. Returns two.
func twoDigits(b []byte, d int) int {
	b[1] = digits[d%10]
	d /= 10
	b[0] = digits[d%10]
	return 2
}

// nDigits formats a zero-padded n-digit integer into b. It assumes d >= 0.
func nDigits(b []byte, n, d int) int {
	for j := n - 1; j >= 0; j-- {
		b[j] = digits[d%10]
		d /= 10
	}
	return n
}

// someDigits formats a variable-width integer at the end of b and returns
// its width.
func someDigits(b []byte, d int) int {
	j := len(b)
	for {
		j--
		b[j] = digits[d%10]
		d /= 10
		if d == 0 {
			break
		}
	}
	return len(b) - j
}
