/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package protocol

import (
	"bytes"
	"encoding/json"
	"time"
)

const eventType = "event"

type Request struct {
	ID      string          `json:"id"`
	Command string          `json:"command"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type Response struct {
	ID      string          `json:"id"`
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *string         `json:"error"`
}

type Event struct {
	Type      string          `json:"type"`
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

// Frame is a decoded inbound message. Exactly one of the fields is set.
type Frame struct {
	Request  *Request
	Response *Response
	Event    *Event
}

func NewSuccessResponse(id string, data any) (*Response, error) {
	raw, marshalErr := marshalData(data)
	if marshalErr != nil {
		return nil, marshalErr
	}
	return &Response{ID: id, Success: true, Data: raw}, nil
}

func NewErrorResponse(id string, err error) *Response {
	msg := err.Error()
	return &Response{ID: id, Success: false, Data: json.RawMessage("null"), Error: &msg}
}

func NewEvent(name string, data any, at time.Time) (*Event, error) {
	raw, marshalErr := marshalData(data)
	if marshalErr != nil {
		return nil, marshalErr
	}
	return &Event{Type: eventType, Event: name, Data: raw, Timestamp: at.UnixMilli()}, nil
}

func marshalData(data any) (json.RawMessage, error) {
	switch d := data.(type) {
	case nil:
		return json.RawMessage("null"), nil
	case json.RawMessage:
		if len(d) == 0 {
			return json.RawMessage("null"), nil
		}
		return d, nil
	default:
		return json.Marshal(data)
	}
}

// shape is the union of every field that decides what kind of message a frame carries.
type shape struct {
	Type    *string          `json:"type"`
	Event   *string          `json:"event"`
	ID      *json.RawMessage `json:"id"`
	Command *string          `json:"command"`
	Success *bool            `json:"success"`
}

// Decode parses one wire frame and classifies it by shape:
// a frame with an "event" name (or type "event") is an Event, one with "success" is a Response,
// and one with "command" is a Request.
func Decode(frame []byte) (Frame, error) {
	var s shape
	if unmarshalErr := json.Unmarshal(frame, &s); unmarshalErr != nil {
		return Frame{}, NewProtocolError("frame is not a JSON object: %v", unmarshalErr)
	}

	switch {
	case s.Event != nil || (s.Type != nil && *s.Type == eventType):
		var ev Event
		if err := json.Unmarshal(frame, &ev); err != nil {
			return Frame{}, NewProtocolError("invalid event frame: %v", err)
		}
		if ev.Event == "" {
			return Frame{}, NewProtocolError("event frame has no event name")
		}
		return Frame{Event: &ev}, nil

	case s.Success != nil:
		var resp Response
		if err := json.Unmarshal(frame, &resp); err != nil {
			return Frame{}, NewProtocolError("invalid response frame: %v", err)
		}
		if resp.ID == "" {
			return Frame{}, NewProtocolError("response frame has no id")
		}
		return Frame{Response: &resp}, nil

	case s.Command != nil || s.ID != nil:
		var req Request
		if err := json.Unmarshal(frame, &req); err != nil {
			return Frame{}, NewProtocolError("invalid request frame: %v", err)
		}
		if req.ID == "" {
			return Frame{}, NewProtocolError("request frame has no id")
		}
		if req.Command == "" {
			return Frame{}, NewProtocolError("request '%s' has no command", req.ID)
		}
		return Frame{Request: &req}, nil

	default:
		return Frame{}, NewProtocolError("frame is neither a request, a response, nor an event")
	}
}

// RequestID extracts the id of a frame that may otherwise be malformed, so that a failure response
// can still be correlated by the sender. Returns an empty string if no id can be found.
func RequestID(frame []byte) string {
	var s struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(frame, &s); err != nil {
		return ""
	}
	return s.ID
}

func Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if encodeErr := enc.Encode(v); encodeErr != nil {
		return nil, encodeErr
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
