/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package events

import (
	"context"
	"encoding/json"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/microsoft/debugbridge/internal/protocol"
)

type Received struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// WaitFor blocks until one of the named events is dispatched and returns it.
// A non-positive timeout waits until ctx is done.
// The first matching event wins; every temporary subscription is removed before WaitFor returns.
func (d *Dispatcher) WaitFor(ctx context.Context, names []string, timeout time.Duration) (Received, error) {
	names = slices.Compact(slices.Sorted(slices.Values(names)))
	if len(names) == 0 {
		return Received{}, protocol.NewProtocolError("no events to wait for")
	}

	var claim sync.Once
	result := make(chan Received, 1)

	handles := make(map[string]Handle, len(names))
	for _, name := range names {
		handles[name] = d.On(name, func(data json.RawMessage) {
			claim.Do(func() {
				result <- Received{Event: name, Data: data}
			})
		})
	}
	defer func() {
		for name, h := range handles {
			d.Off(name, h)
		}
	}()

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	// Whichever of {event, timeout, cancellation} claims first decides the outcome.
	lose := func(err error) (Received, error) {
		claimed := false
		claim.Do(func() { claimed = true })
		if !claimed {
			return <-result, nil
		}
		return Received{}, err
	}

	select {
	case r := <-result:
		return r, nil
	case <-expired:
		return lose(&protocol.TimeoutError{Command: "wait for " + strings.Join(names, ", "), Timeout: timeout})
	case <-ctx.Done():
		return lose(ctx.Err())
	}
}
