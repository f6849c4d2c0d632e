/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package events

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/microsoft/debugbridge/internal/protocol"
	"github.com/microsoft/debugbridge/pkg/testutil"
)

func TestSplitName(t *testing.T) {
	t.Parallel()

	ns, name, ok := SplitName("dap:stopped")
	assert.True(t, ok)
	assert.Equal(t, "dap", ns)
	assert.Equal(t, "stopped", name)

	ns, name, ok = SplitName("heartbeat")
	assert.False(t, ok)
	assert.Equal(t, "", ns)
	assert.Equal(t, "heartbeat", name)
}

func TestDispatchExactAndNamespace(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(testutil.NewLogForTesting(t.Name()))

	var exact []string
	var namespaced []string
	d.On(protocol.EventStopped, func(data json.RawMessage) { exact = append(exact, string(data)) })
	d.OnNamespace(protocol.NamespaceDebug, func(name string, data json.RawMessage) {
		namespaced = append(namespaced, name)
	})

	d.Dispatch(protocol.EventStopped, json.RawMessage(`{"reason":"step"}`))
	d.Dispatch(protocol.EventContinued, json.RawMessage(`{}`))
	d.Dispatch(protocol.EventProfilesChanged, json.RawMessage(`{}`))
	d.Dispatch("stopped", json.RawMessage(`{}`))

	assert.Equal(t, []string{`{"reason":"step"}`}, exact)
	assert.Equal(t, []string{"stopped", "continued"}, namespaced)
}

func TestOffRemovesSelectedOrAllHandlers(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(testutil.NewLogForTesting(t.Name()))

	calls := map[string]int{}
	h1 := d.On("ev", func(json.RawMessage) { calls["h1"]++ })
	d.On("ev", func(json.RawMessage) { calls["h2"]++ })
	require.Equal(t, 2, d.SubscriberCount("ev"))

	d.Off("ev", h1)
	d.Dispatch("ev", nil)
	assert.Equal(t, map[string]int{"h2": 1}, calls)

	d.Off("ev")
	d.Dispatch("ev", nil)
	assert.Equal(t, map[string]int{"h2": 1}, calls)
	assert.Equal(t, 0, d.registeredNames(), "removing the last handler should free the entry")

	ns := d.OnNamespace("dap", func(string, json.RawMessage) { calls["ns"]++ })
	d.OffNamespace("dap", ns)
	d.Dispatch("dap:ev", nil)
	assert.Equal(t, 0, calls["ns"])
	assert.Equal(t, 0, d.registeredNames())

	d.Off("never-registered") // no-op
}

func TestPanickingSubscriberDoesNotBlockOthers(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(testutil.NewLogForTesting(t.Name()))

	delivered := 0
	d.On("dap:stopped", func(json.RawMessage) { panic("subscriber bug") })
	d.On("dap:stopped", func(json.RawMessage) { delivered++ })
	d.OnNamespace("dap", func(string, json.RawMessage) { delivered++ })

	require.NotPanics(t, func() { d.Dispatch("dap:stopped", nil) })
	assert.Equal(t, 2, delivered)
}

func TestHandlerMayUnsubscribeDuringDispatch(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(testutil.NewLogForTesting(t.Name()))

	count := 0
	var h Handle
	h = d.On("once", func(json.RawMessage) {
		count++
		d.Off("once", h)
	})

	d.Dispatch("once", nil)
	d.Dispatch("once", nil)
	assert.Equal(t, 1, count)
}

func TestTypedSubscribe(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(testutil.NewLogForTesting(t.Name()))

	var got []protocol.StoppedEvent
	Subscribe(d, protocol.EventStopped, func(ev protocol.StoppedEvent) { got = append(got, ev) })

	d.Dispatch(protocol.EventStopped, json.RawMessage(`{"reason":"breakpoint","threadId":4,"location":{"file":"a.c","line":10},"stoppedAtBreakpoint":true}`))
	d.Dispatch(protocol.EventStopped, json.RawMessage(`"not an object"`))

	require.Len(t, got, 1)
	assert.Equal(t, "breakpoint", got[0].Reason)
	assert.Equal(t, 4, got[0].ThreadID)
	require.NotNil(t, got[0].Location)
	assert.Equal(t, 10, got[0].Location.Line)
	assert.True(t, got[0].StoppedAtBreakpoint)
}
