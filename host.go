// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package farcall

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNoRuntime is the error a HostLocator reports when no host runtime is
// present in the current environment. It is the only locator error the
// binding selector treats as "fall back to the development bridge"; any
// other error is a construction fault and propagates to the caller of New.
var ErrNoRuntime = errors.New("host runtime not available")

// ErrUnknownFunction is reported by a host-bound call naming a function the
// host runtime did not enumerate. Bridge-bound calls never report it; the
// bridge forwards every name to the remote side as-is.
var ErrUnknownFunction = errors.New("unknown function")

// A HostLocator attempts to detect the host runtime for the current
// environment. It reports ErrNoRuntime when the runtime is entirely absent.
type HostLocator func() (HostRuntime, error)

// A HostRuntime is a managed execution environment that exposes server-side
// functions directly: a synchronously enumerable table of named functions,
// each invoked with chained success and failure callbacks.
type HostRuntime interface {
	// Functions enumerates the names of the callable functions the runtime
	// exposes. The result may include the reserved chaining helpers; the
	// binding excludes those.
	Functions() []string

	// Call invokes the named function with the given arguments and returns
	// a handle for registering completion callbacks.
	Call(name string, args []any) PendingHost
}

// A PendingHost is an in-flight host function invocation. Callbacks are
// registered by chaining; when the call completes, exactly one of the
// success or failure callbacks is invoked, exactly once. A callback
// registered after completion must still be invoked.
type PendingHost interface {
	OnSuccess(func(result json.RawMessage)) PendingHost
	OnFailure(func(cause json.RawMessage)) PendingHost
}

// ReservedNames are host function table entries used for callback and
// user-context chaining. They are plumbing, not user functions, and the
// host binding does not wrap them.
var ReservedNames = map[string]bool{
	"onSuccess":       true,
	"onFailure":       true,
	"withUserContext": true,
}

// A hostBinding is the production binding: every function discovered in the
// host runtime's table, less the reserved names, is wrapped as a
// Call-producing function. The table is captured once at construction and
// never refreshed.
type hostBinding struct {
	rt    HostRuntime
	funcs map[string]bool
}

func newHostBinding(rt HostRuntime) *hostBinding {
	funcs := make(map[string]bool)
	for _, name := range rt.Functions() {
		if !ReservedNames[name] {
			funcs[name] = true
		}
	}
	return &hostBinding{rt: rt, funcs: funcs}
}

// Go invokes the named host function, adapting its success and failure
// callbacks to the one-shot settlement of a Call.
func (h *hostBinding) Go(name string, args ...any) *Call {
	if !h.funcs[name] {
		return settledCall(callError(fmt.Errorf("%w: %q", ErrUnknownFunction, name)))
	}
	c := newCall("")
	h.rt.Call(name, args).
		OnSuccess(func(result json.RawMessage) { c.resolve(result) }).
		OnFailure(func(cause json.RawMessage) { c.reject(&CallError{Payload: cause}) })
	return c
}

func (h *hostBinding) Call(ctx context.Context, name string, args ...any) (json.RawMessage, error) {
	return h.Go(name, args...).Await(ctx)
}

func (h *hostBinding) Func(name string) RemoteFunc {
	return func(ctx context.Context, args ...any) (json.RawMessage, error) {
		return h.Call(ctx, name, args...)
	}
}
