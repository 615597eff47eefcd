// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package farcall

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// A Call is an in-flight invocation of a remote function. It settles exactly
// once, with either a result payload or an error, when the corresponding
// response arrives; a settled call never changes its outcome.
//
// A Call is created by the Go method of a binding and observed with Await.
// Multiple goroutines may Await the same call concurrently.
type Call struct {
	id string

	once   sync.Once
	done   chan struct{}
	result json.RawMessage
	err    error

	// detach, if non-nil, releases any bookkeeping held for the call when
	// the caller abandons it before settlement.
	detach func()
}

func newCall(id string) *Call { return &Call{id: id, done: make(chan struct{})} }

// settledCall returns a call that has already settled with err.
func settledCall(err error) *Call {
	c := newCall("")
	c.reject(err)
	return c
}

// ID returns the call identifier minted for c. It is empty for calls that
// never reached the wire, including all host-bound calls.
func (c *Call) ID() string { return c.id }

// Await blocks until c settles or ctx ends, and returns the result payload
// or the error the call settled with. The error for a call the remote side
// rejected has concrete type *CallError carrying the rejection payload
// verbatim.
//
// The protocol has no timeout: with a background context, a call whose
// response never arrives blocks forever. If ctx ends before settlement,
// Await reports the context's error and releases the call's pending entry,
// so an abandoned call does not accumulate state; a response arriving after
// that is dropped like any other response without a matching call.
func (c *Call) Await(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-c.done:
		return c.result, c.err
	case <-ctx.Done():
		if c.detach != nil {
			c.detach()
		}
		// The call may have settled while we were detaching.
		select {
		case <-c.done:
			return c.result, c.err
		default:
			return nil, ctx.Err()
		}
	}
}

func (c *Call) resolve(v json.RawMessage) { c.settle(v, nil) }
func (c *Call) reject(err error)          { c.settle(nil, err) }

// settle records the outcome of c. Only the first settlement takes effect.
func (c *Call) settle(v json.RawMessage, err error) {
	c.once.Do(func() {
		c.result, c.err = v, err
		close(c.done)
	})
}

// A CallError is the concrete type of errors reported for failed calls.
// For calls the remote side rejected, Err is nil and Payload carries the
// rejection payload exactly as received, with no wrapping. For calls that
// failed locally (the conduit closed, an argument failed to encode), Err
// holds the underlying error and Payload is nil.
type CallError struct {
	Payload json.RawMessage // the rejection payload, verbatim
	Err     error           // non-nil for local failures
}

func callError(err error) *CallError { return &CallError{Err: err} }

// Unwrap returns the underlying error of c. If c.Err == nil, this is nil.
func (c *CallError) Unwrap() error { return c.Err }

// Error satisfies the error interface.
func (c *CallError) Error() string {
	if c.Err != nil {
		return c.Err.Error()
	}
	return fmt.Sprintf("call rejected: %s", string(c.Payload))
}
