/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package protocol

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeClassifiesByShape(t *testing.T) {
	t.Parallel()

	t.Run("request", func(t *testing.T) {
		t.Parallel()
		f, err := Decode([]byte(`{"id":"a-1","command":"status","data":{}}`))
		require.NoError(t, err)
		require.NotNil(t, f.Request)
		assert.Nil(t, f.Response)
		assert.Nil(t, f.Event)
		assert.Equal(t, "a-1", f.Request.ID)
		assert.Equal(t, CmdStatus, f.Request.Command)
	})

	t.Run("response", func(t *testing.T) {
		t.Parallel()
		f, err := Decode([]byte(`{"id":"a-1","success":false,"data":null,"error":"no active session"}`))
		require.NoError(t, err)
		require.NotNil(t, f.Response)
		assert.False(t, f.Response.Success)
		require.NotNil(t, f.Response.Error)
		assert.Equal(t, "no active session", *f.Response.Error)
	})

	t.Run("event", func(t *testing.T) {
		t.Parallel()
		f, err := Decode([]byte(`{"type":"event","event":"dap:stopped","data":{"reason":"step"},"timestamp":1700000000000}`))
		require.NoError(t, err)
		require.NotNil(t, f.Event)
		assert.Equal(t, EventStopped, f.Event.Event)
		assert.Equal(t, int64(1700000000000), f.Event.Timestamp)
	})

	t.Run("malformed", func(t *testing.T) {
		t.Parallel()
		for _, frame := range []string{`not json`, `[]`, `{}`, `{"id":"x"}`, `{"command":"status"}`, `{"success":true}`, `{"type":"event"}`} {
			_, err := Decode([]byte(frame))
			require.Error(t, err, "frame %s should be rejected", frame)
			var protoErr *ProtocolError
			assert.True(t, errors.As(err, &protoErr), "frame %s should produce a ProtocolError", frame)
			assert.ErrorIs(t, err, ErrProtocol)
		}
	})
}

func TestRequestIDFromMalformedFrame(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "abc", RequestID([]byte(`{"id":"abc","command":42}`)))
	assert.Equal(t, "", RequestID([]byte(`garbage`)))
}

func TestResponseAndEventEncoding(t *testing.T) {
	t.Parallel()

	resp := NewErrorResponse("r1", &HostError{Message: "no frame"})
	b, err := Encode(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"r1","success":false,"data":null,"error":"no frame"}`, string(b))

	ok, err := NewSuccessResponse("r2", map[string]int{"x": 1})
	require.NoError(t, err)
	b, err = Encode(ok)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"r2","success":true,"data":{"x":1},"error":null}`, string(b))

	at := time.UnixMilli(1234)
	ev, err := NewEvent(EventContinued, ContinuedEvent{ThreadID: 3}, at)
	require.NoError(t, err)
	b, err = Encode(ev)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"event","event":"dap:continued","data":{"threadId":3},"timestamp":1234}`, string(b))

	raw, err := NewEvent("custom", json.RawMessage(nil), at)
	require.NoError(t, err)
	assert.Equal(t, json.RawMessage("null"), raw.Data)
}

func TestErrorTaxonomy(t *testing.T) {
	t.Parallel()

	timeout := &TimeoutError{Command: "status", Timeout: 50 * time.Millisecond}
	assert.True(t, IsTimeout(timeout))
	assert.Contains(t, timeout.Error(), "status")
	assert.Contains(t, timeout.Error(), "50ms")

	assert.True(t, IsConnectionError(errors.Join(errors.New("read failed"), ErrConnectionClosed)))
	assert.False(t, IsConnectionError(timeout))

	assert.ErrorIs(t, &HostError{Message: "x"}, ErrHost)
	assert.ErrorIs(t, &NotFoundError{Kind: "profile", Name: "p"}, ErrNotFound)
	assert.Equal(t, "profile 'p' not found", (&NotFoundError{Kind: "profile", Name: "p"}).Error())
}
