/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package broker

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

type outcome struct {
	data json.RawMessage
	err  error
}

// pendingCommand tracks a request that is awaiting a response.
type pendingCommand struct {
	id      string
	command string
	timeout time.Duration
	started time.Time

	// Buffered (capacity 1); whoever removes the entry from the pending map delivers exactly one outcome.
	result chan outcome

	// Armed while the pending map lock is held, so any goroutine that takes the entry sees it.
	timer *time.Timer
}

func (pc *pendingCommand) resolve(o outcome) {
	if pc.timer != nil {
		pc.timer.Stop()
	}
	pc.result <- o
}

// pendingMap is a goroutine-safe map of in-flight commands keyed by correlation id.
// Removing an entry is the only way to obtain the right to resolve it.
type pendingMap struct {
	mu      sync.Mutex
	entries map[string]*pendingCommand
	closed  bool
}

func newPendingMap() *pendingMap {
	return &pendingMap{entries: make(map[string]*pendingCommand)}
}

// add registers pc and arms its timeout. Returns false if the map has been drained for good.
func (m *pendingMap) add(pc *pendingCommand, onTimeout func(id string)) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false
	}
	m.entries[pc.id] = pc
	pc.timer = time.AfterFunc(pc.timeout, func() { onTimeout(pc.id) })
	return true
}

// take removes and returns the entry for id, or nil if it has already been resolved.
func (m *pendingMap) take(id string) *pendingCommand {
	m.mu.Lock()
	defer m.mu.Unlock()

	pc, found := m.entries[id]
	if !found {
		return nil
	}
	delete(m.entries, id)
	return pc
}

func (m *pendingMap) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// drain swaps out the whole map and refuses further additions.
func (m *pendingMap) drain() []*pendingCommand {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	drained := make([]*pendingCommand, 0, len(m.entries))
	for _, pc := range m.entries {
		drained = append(drained, pc)
	}
	m.entries = make(map[string]*pendingCommand)
	return drained
}

// idGenerator produces correlation ids that are unique for the life of a connection:
// a time-derived seed plus a monotonic counter.
type idGenerator struct {
	seed    string
	counter atomic.Uint64
}

func newIDGenerator() *idGenerator {
	return &idGenerator{seed: fmt.Sprintf("%x", time.Now().UnixNano())}
}

func (g *idGenerator) next() string {
	return fmt.Sprintf("%s-%d", g.seed, g.counter.Add(1))
}
