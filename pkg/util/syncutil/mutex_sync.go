// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package syncutil wraps the sync package's mutexes with lock assertions.
package syncutil

import "sync"

// A Mutex is a mutual exclusion lock.
type Mutex struct {
	sync.Mutex
}

// AssertHeld panics if the mutex is not locked. Functions which require that
// their callers hold a particular lock may use this to enforce it.
//
// Note that we do not require the lock to be held by any particular
// goroutine, just that some goroutine holds it.
func (m *Mutex) AssertHeld() {
	if m.TryLock() {
		m.Unlock()
		panic("mutex is not locked")
	}
}

// An RWMutex is a reader/writer mutual exclusion lock.
type RWMutex struct {
	sync.RWMutex
}

// AssertHeld panics if the mutex is not locked for writing or reading.
// Holding the write lock cannot be told apart from holding a read lock
// without tracking ownership, which we do not.
func (rw *RWMutex) AssertHeld() {
	rw.AssertRHeld()
}

// AssertRHeld panics if the mutex is not locked for reading. If the mutex is
// locked for writing, it is also considered to be locked for reading.
func (rw *RWMutex) AssertRHeld() {
	if rw.TryLock() {
		rw.Unlock()
		panic("mutex is not locked")
	}
}
