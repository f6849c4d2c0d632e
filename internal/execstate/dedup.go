/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package execstate

import (
	"sync"
	"time"
)

// DefaultDeduplicationWindow is how long after a proactive continued event
// the matching continued notification from the debug host is suppressed.
const DefaultDeduplicationWindow = 200 * time.Millisecond

// continuedDeduplicator remembers recently emitted proactive continued events, per thread.
type continuedDeduplicator struct {
	mu         sync.Mutex
	recorded   map[int]time.Time
	window     time.Duration
	timeSource func() time.Time // For testing
}

func newContinuedDeduplicator(window time.Duration) *continuedDeduplicator {
	if window <= 0 {
		window = DefaultDeduplicationWindow
	}
	return &continuedDeduplicator{
		recorded:   make(map[int]time.Time),
		window:     window,
		timeSource: time.Now,
	}
}

func (d *continuedDeduplicator) record(threadID int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.timeSource()
	for id, at := range d.recorded {
		if now.Sub(at) > d.window {
			delete(d.recorded, id)
		}
	}
	d.recorded[threadID] = now
}

// shouldSuppress consumes the record for the thread, if any,
// and reports whether it was made within the window.
func (d *continuedDeduplicator) shouldSuppress(threadID int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	at, found := d.recorded[threadID]
	if !found {
		return false
	}
	delete(d.recorded, threadID)
	return d.timeSource().Sub(at) <= d.window
}

func (d *continuedDeduplicator) reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	clear(d.recorded)
}
