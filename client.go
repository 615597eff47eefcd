// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package farcall

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// A RemoteFunc invokes a single named remote function.
type RemoteFunc func(ctx context.Context, args ...any) (json.RawMessage, error)

// A Caller invokes named server-side functions and reports their results.
// The set of function names is open-ended; none are declared in advance.
// Both bindings of a Client satisfy Caller with identical semantics at the
// surface: a call either resolves with the function's result payload or
// rejects with its error.
type Caller interface {
	// Call invokes the named function and blocks until it settles or ctx
	// ends.
	Call(ctx context.Context, name string, args ...any) (json.RawMessage, error)

	// Go invokes the named function and immediately returns the in-flight
	// call.
	Go(name string, args ...any) *Call

	// Func returns a function invoking the given name.
	Func(name string) RemoteFunc
}

// Options configure a Client. A zero Options value is not usable: without a
// host runtime a channel is required, and without an allow-list the bridge
// accepts traffic from no origin.
type Options struct {
	// AllowedOrigins is a space-delimited list of origins permitted to send
	// messages to the development bridge. Matching is exact; see
	// AllowOrigins. Ignored when Policy is set.
	AllowedOrigins string

	// Policy, if set, decides origin admission with an arbitrary predicate
	// instead of AllowedOrigins.
	Policy OriginPolicy

	// TargetOrigin is the destination origin restriction for outbound
	// bridge messages. If empty, the channel's remote origin is used when
	// the channel reports one; otherwise New reports an error rather than
	// posting without a restriction.
	TargetOrigin string

	// Host locates the host runtime. A nil locator, or one reporting
	// ErrNoRuntime, selects the development bridge; any other locator
	// error fails construction.
	Host HostLocator

	// Channel is the conduit to the parent endpoint. It is used only when
	// the client is bridge-bound.
	Channel Channel

	// NewID mints call identifiers for the bridge. If nil, random UUID
	// strings are used.
	NewID func() string
}

// policy resolves the configured origin policy. An absent configuration
// yields the nil policy, which permits nothing.
func (o Options) policy() OriginPolicy {
	if o.Policy != nil {
		return o.Policy
	}
	if o.AllowedOrigins != "" {
		return AllowOrigins(o.AllowedOrigins)
	}
	return nil
}

// A Client invokes named server-side functions. Its binding is selected
// exactly once, at construction: host-bound when the host runtime is
// detected, bridge-bound otherwise. There are no transitions between the
// two after New returns, and the produced surface is identical in both.
type Client struct {
	binding Caller
	bridge  *Bridge // nil when host-bound
}

// New constructs a client from opts.
//
// If opts.Host detects a host runtime, the client wraps each function the
// runtime enumerates (excluding ReservedNames) and opts.Channel is ignored.
// If the locator reports ErrNoRuntime, or no locator is configured, the
// client starts a Bridge on opts.Channel instead. A locator failing for any
// other reason is a construction fault, returned unhandled.
func New(opts Options) (*Client, error) {
	if opts.Host != nil {
		rt, err := opts.Host()
		if err == nil {
			return &Client{binding: newHostBinding(rt)}, nil
		} else if !errors.Is(err, ErrNoRuntime) {
			return nil, fmt.Errorf("locating host runtime: %w", err)
		}
	}

	if opts.Channel == nil {
		return nil, errors.New("no channel for development bridge")
	}
	target := opts.TargetOrigin
	if target == "" {
		or, ok := opts.Channel.(OriginReporter)
		if !ok {
			return nil, errors.New("cannot determine target origin")
		}
		target = or.RemoteOrigin()
	}

	b := NewBridge().Allow(opts.policy()).Target(target)
	if opts.NewID != nil {
		b.MintID(opts.NewID)
	}
	b.Start(opts.Channel)
	return &Client{binding: b, bridge: b}, nil
}

// Call implements part of the Caller interface.
func (c *Client) Call(ctx context.Context, name string, args ...any) (json.RawMessage, error) {
	return c.binding.Call(ctx, name, args...)
}

// Go implements part of the Caller interface.
func (c *Client) Go(name string, args ...any) *Call { return c.binding.Go(name, args...) }

// Func implements part of the Caller interface.
func (c *Client) Func(name string) RemoteFunc { return c.binding.Func(name) }

// Bridge returns the development bridge backing c, or nil when c is
// host-bound.
func (c *Client) Bridge() *Bridge { return c.bridge }

// Close stops the development bridge, if any, and reports its exit status.
// Closing a host-bound client is a no-op.
func (c *Client) Close() error {
	if c.bridge != nil {
		return c.bridge.Stop()
	}
	return nil
}
