/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

// Package events routes inbound event notifications to subscribers,
// by exact event name and by event namespace.
package events

import (
	"encoding/json"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/go-logr/logr"

	"github.com/microsoft/debugbridge/internal/protocol"
	"github.com/microsoft/debugbridge/pkg/resiliency"
)

// Handle identifies one subscription. Handles are never reused within a process.
type Handle uint64

const InvalidHandle Handle = 0

type Handler func(data json.RawMessage)

// NamespaceHandler receives the event name with the namespace prefix removed.
type NamespaceHandler func(name string, data json.RawMessage)

type subscriber[H any] struct {
	handle  Handle
	handler H
}

var lastHandle atomic.Uint64

func newHandle() Handle {
	return Handle(lastHandle.Add(1))
}

type Dispatcher struct {
	log logr.Logger

	mu         sync.Mutex
	exact      map[string][]subscriber[Handler]
	namespaces map[string][]subscriber[NamespaceHandler]
}

func NewDispatcher(log logr.Logger) *Dispatcher {
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	return &Dispatcher{
		log:        log,
		exact:      make(map[string][]subscriber[Handler]),
		namespaces: make(map[string][]subscriber[NamespaceHandler]),
	}
}

// SplitName splits "namespace:name" into its parts. Bare names have no namespace.
func SplitName(event string) (namespace, name string, hasNamespace bool) {
	namespace, name, hasNamespace = strings.Cut(event, protocol.NamespaceSeparator)
	if !hasNamespace {
		return "", event, false
	}
	return namespace, name, true
}

func (d *Dispatcher) On(event string, h Handler) Handle {
	handle := newHandle()
	d.mu.Lock()
	d.exact[event] = append(d.exact[event], subscriber[Handler]{handle, h})
	d.mu.Unlock()
	return handle
}

// Off removes the given subscriptions for the event, or all of them if no handles are passed.
func (d *Dispatcher) Off(event string, handles ...Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	removeSubscribers(d.exact, event, handles)
}

func (d *Dispatcher) OnNamespace(namespace string, h NamespaceHandler) Handle {
	handle := newHandle()
	d.mu.Lock()
	d.namespaces[namespace] = append(d.namespaces[namespace], subscriber[NamespaceHandler]{handle, h})
	d.mu.Unlock()
	return handle
}

func (d *Dispatcher) OffNamespace(namespace string, handles ...Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	removeSubscribers(d.namespaces, namespace, handles)
}

func removeSubscribers[H any](m map[string][]subscriber[H], key string, handles []Handle) {
	subs, found := m[key]
	if !found {
		return
	}

	if len(handles) == 0 {
		delete(m, key)
		return
	}

	// Copy so that a dispatch holding the old slice is not affected.
	remaining := slices.DeleteFunc(slices.Clone(subs), func(s subscriber[H]) bool {
		return slices.Contains(handles, s.handle)
	})
	if len(remaining) == 0 {
		delete(m, key)
	} else {
		m[key] = remaining
	}
}

// Dispatch delivers an event to exact-name subscribers, then to subscribers of its namespace.
// Handlers run on the calling goroutine, outside of the dispatcher lock.
// A panicking handler is logged and does not affect delivery to the others.
func (d *Dispatcher) Dispatch(event string, data json.RawMessage) {
	namespace, name, hasNamespace := SplitName(event)

	d.mu.Lock()
	exact := d.exact[event]
	var nsSubs []subscriber[NamespaceHandler]
	if hasNamespace {
		nsSubs = d.namespaces[namespace]
	}
	d.mu.Unlock()

	for _, s := range exact {
		d.invoke(event, func() { s.handler(data) })
	}
	for _, s := range nsSubs {
		d.invoke(event, func() { s.handler(name, data) })
	}
}

func (d *Dispatcher) invoke(event string, call func()) {
	if err := resiliency.Protect(d.log.WithValues("event", event), call); err != nil {
		d.log.V(1).Info("Event subscriber failed", "event", event, "error", err.Error())
	}
}

func (d *Dispatcher) SubscriberCount(event string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.exact[event])
}

// registeredNames is the number of bookkeeping entries, exact and namespace.
func (d *Dispatcher) registeredNames() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.exact) + len(d.namespaces)
}

// Subscribe registers a handler that receives the event payload decoded into T.
// Payloads that do not decode are logged and skipped.
func Subscribe[T any](d *Dispatcher, event string, handler func(T)) Handle {
	return d.On(event, func(data json.RawMessage) {
		var payload T
		if unmarshalErr := json.Unmarshal(data, &payload); unmarshalErr != nil {
			d.log.Error(unmarshalErr, "Event payload has unexpected shape", "event", event)
			return
		}
		handler(payload)
	})
}
