// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package roachpb

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/redact"
)

// Key is a row key: an ordered byte sequence compared lexicographically.
type Key []byte

var (
	// KeyMin is the minimum key. It is the empty key.
	KeyMin = Key{}
	// KeyMax is the maximum-key sentinel. No row key used by a scan sorts
	// after it, and reverse scans without an explicit start row use it as
	// their implicit probe key.
	KeyMax = Key{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
)

// Compare compares the two keys bytewise.
func (k Key) Compare(b Key) int {
	return bytes.Compare(k, b)
}

// Equal returns whether the two keys are equal.
func (k Key) Equal(b Key) bool {
	return bytes.Equal(k, b)
}

// Less returns true if k sorts before b.
func (k Key) Less(b Key) bool {
	return bytes.Compare(k, b) < 0
}

// Next returns the next key in lexicographic sort order: the receiver with a
// zero byte appended. The receiver is not modified.
func (k Key) Next() Key {
	n := make(Key, len(k)+1)
	copy(n, k)
	return n
}

// IsMax returns whether the key is the maximum-key sentinel.
func (k Key) IsMax() bool {
	return bytes.Equal(k, KeyMax)
}

// Clone returns a copy of the key.
func (k Key) Clone() Key {
	if k == nil {
		return nil
	}
	c := make(Key, len(k))
	copy(c, k)
	return c
}

// String returns a printable version of the key. The sentinels are spelled
// out; other keys are quoted.
func (k Key) String() string {
	return redact.StringWithoutMarkers(k)
}

// SafeFormat implements the redact.SafeFormatter interface.
func (k Key) SafeFormat(w redact.SafePrinter, _ rune) {
	switch {
	case len(k) == 0:
		w.Print(redact.SafeString("/Min"))
	case k.IsMax():
		w.Print(redact.SafeString("/Max"))
	default:
		w.Print(strconv.Quote(string(k)))
	}
}

// TableName identifies a table. It scopes every partition, cache entry and
// location lookup.
type TableName string

// SafeValue implements the redact.SafeValue interface. Table names are not
// considered sensitive.
func (TableName) SafeValue() {}

// ServerName identifies a running server process. Two servers with the same
// host and port but a different StartCode are different processes, i.e. the
// server restarted in between.
type ServerName struct {
	Host      string
	Port      int32
	StartCode int64
}

// Equal returns whether the two server names identify the same process.
func (s ServerName) Equal(o ServerName) bool {
	return s == o
}

// Empty returns whether the server name is unset.
func (s ServerName) Empty() bool {
	return s == ServerName{}
}

// Validate checks that the server name is usable as a replica location.
func (s ServerName) Validate() error {
	if s.Port <= 0 {
		return errors.Newf("server %s: port must be positive", s)
	}
	return nil
}

// Address returns the host:port address of the server.
func (s ServerName) Address() string {
	return s.Host + ":" + strconv.Itoa(int(s.Port))
}

func (s ServerName) String() string {
	return redact.StringWithoutMarkers(s)
}

// SafeFormat implements the redact.SafeFormatter interface.
func (s ServerName) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("%s:%d#%d", redact.SafeString(s.Host), s.Port, s.StartCode)
}

// ParseServerName parses the host:port#startcode form produced by String.
func ParseServerName(s string) (ServerName, error) {
	hash := strings.LastIndexByte(s, '#')
	if hash < 0 {
		return ServerName{}, errors.Newf("server name %q: missing start code", s)
	}
	colon := strings.LastIndexByte(s[:hash], ':')
	if colon <= 0 {
		return ServerName{}, errors.Newf("server name %q: missing port", s)
	}
	port, err := strconv.ParseInt(s[colon+1:hash], 10, 32)
	if err != nil {
		return ServerName{}, errors.Wrapf(err, "server name %q: invalid port", s)
	}
	if port <= 0 {
		return ServerName{}, errors.Newf("server name %q: port must be positive", s)
	}
	startCode, err := strconv.ParseInt(s[hash+1:], 10, 64)
	if err != nil {
		return ServerName{}, errors.Wrapf(err, "server name %q: invalid start code", s)
	}
	return ServerName{Host: s[:colon], Port: int32(port), StartCode: startCode}, nil
}
