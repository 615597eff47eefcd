// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package farcall

import (
	"encoding/json"
	"fmt"
)

// Message types. A receiver must ignore messages whose type it does not
// recognize; only these two types are meaningful to a client.
const (
	TypeRequest  = "REQUEST"  // the initial request for a call
	TypeResponse = "RESPONSE" // the final response from a call
)

// Response status values.
const (
	StatusOK    = "OK"    // the call completed successfully
	StatusError = "ERROR" // the call failed; the response carries the error payload
)

// A Message is the parsed form of a farcall wire message. On the wire a
// message is a single JSON object discriminated by its "type" field.
// A request carries an ID, a function name, and arguments; a response
// carries the ID of the request it answers, a status, and a payload.
type Message struct {
	// Type is TypeRequest or TypeResponse.
	Type string `json:"type"`

	// ID correlates a response with the request that initiated it. IDs are
	// opaque strings minted fresh for each invocation and never reused.
	ID string `json:"id"`

	// FunctionName is the name of the remote function to invoke.
	// It is set only on requests.
	FunctionName string `json:"functionName,omitempty"`

	// Args are the arguments of the call, in order, each encoded as JSON.
	// They are set only on requests.
	Args []json.RawMessage `json:"args,omitempty"`

	// Status is StatusOK or StatusError. It is set only on responses.
	Status string `json:"status,omitempty"`

	// Response is the result payload of a successful call, or the error
	// payload of a failed one. It is set only on responses.
	Response json.RawMessage `json:"response,omitempty"`

	// Origin is the origin of the sender, as asserted by the channel that
	// delivered the message. It is never encoded on the wire: an origin
	// claimed inside the payload carries no authority.
	Origin string `json:"-"`
}

// Encode encodes m as JSON.
func (m *Message) Encode() []byte {
	data, err := json.Marshal(m)
	if err != nil {
		panic(fmt.Errorf("encoding message: %w", err))
	}
	return data
}

// Decode decodes data as JSON into m. The Origin field is left untouched;
// it is the transport's job to assert the sender's origin.
func (m *Message) Decode(data []byte) error {
	if err := json.Unmarshal(data, m); err != nil {
		return fmt.Errorf("invalid message: %w", err)
	}
	return nil
}

// String returns a human-friendly rendering of the message.
func (m *Message) String() string {
	switch m.Type {
	case TypeRequest:
		return fmt.Sprintf("Request(ID=%q, Function=%q, Args=%d)", m.ID, m.FunctionName, len(m.Args))
	case TypeResponse:
		return fmt.Sprintf("Response(ID=%q, Status=%v, [%d bytes])", m.ID, m.Status, len(m.Response))
	}
	return fmt.Sprintf("Message(Type=%q, ID=%q)", m.Type, m.ID)
}

// marshalArgs encodes each argument as JSON for inclusion in a request.
func marshalArgs(args []any) ([]json.RawMessage, error) {
	if len(args) == 0 {
		return nil, nil
	}
	enc := make([]json.RawMessage, len(args))
	for i, arg := range args {
		data, err := json.Marshal(arg)
		if err != nil {
			return nil, fmt.Errorf("encoding argument %d: %w", i, err)
		}
		enc[i] = data
	}
	return enc, nil
}
