// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

// Package caller provides typed adapters over the dynamic farcall.Caller
// interface for callers that know the result type of a remote function.
//
// Results are decoded from the JSON payload delivered by the remote
// endpoint. An empty payload decodes to the zero value of the result type.
package caller

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/creachadair/farcall"
)

// Func adapts the named remote function to a Go function returning a value
// of type R. The arguments are encoded as JSON in the order given.
func Func[R any](c farcall.Caller, name string) func(context.Context, ...any) (R, error) {
	return func(ctx context.Context, args ...any) (R, error) {
		var out R
		data, err := c.Call(ctx, name, args...)
		if err != nil {
			return out, err
		}
		if err := decode(data, &out); err != nil {
			return out, fmt.Errorf("decode result of %q: %w", name, err)
		}
		return out, nil
	}
}

// Void adapts the named remote function to a Go function that discards its
// result and reports only success or failure.
func Void(c farcall.Caller, name string) func(context.Context, ...any) error {
	return func(ctx context.Context, args ...any) error {
		_, err := c.Call(ctx, name, args...)
		return err
	}
}

// decode unmarshals data into v. Empty data and a bare JSON null both leave
// v at its zero value without error.
func decode(data json.RawMessage, v any) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	return json.Unmarshal(data, v)
}
