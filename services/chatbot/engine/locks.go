// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import "sync"

// contactLocks serializes event processing per contact. Entries are
// refcounted so the map does not grow with every contact ever seen.
type contactLocks struct {
	mu sync.Mutex
	m  map[string]*contactLock
}

type contactLock struct {
	mu   sync.Mutex
	refs int
}

func newContactLocks() *contactLocks {
	return &contactLocks{m: make(map[string]*contactLock)}
}

// lock acquires the mutex for a contact and returns its release func.
func (l *contactLocks) lock(contact string) func() {
	l.mu.Lock()
	cl, ok := l.m[contact]
	if !ok {
		cl = &contactLock{}
		l.m[contact] = cl
	}
	cl.refs++
	l.mu.Unlock()

	cl.mu.Lock()
	return func() {
		cl.mu.Unlock()
		l.mu.Lock()
		cl.refs--
		if cl.refs == 0 {
			delete(l.m, contact)
		}
		l.mu.Unlock()
	}
}
