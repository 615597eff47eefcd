// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

// Package hostfn provides an in-process implementation of the
// farcall.HostRuntime interface: a table mapping function names to Go
// functions, invoked with the host runtime's chained callback convention.
//
// # Usage
//
// Construct a new empty table and register functions on it:
//
//	tab := hostfn.New().
//	   Register("getData", func(args []any) (any, error) {
//	      return fetch(args)
//	   })
//
// A table satisfies farcall.HostRuntime, so it can back a host-bound
// client:
//
//	cli, err := farcall.New(farcall.Options{Host: hostfn.Locate(tab)})
//
// Note that Register will panic if given one of the reserved chaining
// names; those belong to the invocation protocol, not to user functions.
package hostfn

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/creachadair/farcall"
)

// A Func is a host function. Its result is encoded as JSON for delivery to
// the success callback; a non-nil error delivers its text to the failure
// callback instead.
type Func func(args []any) (any, error)

// A Table is a registry of named host functions. A nil *Table has no
// functions. The zero value is ready for use.
type Table struct {
	μ     sync.Mutex
	funcs map[string]Func
}

// New constructs a new empty table.
func New() *Table { return new(Table) }

// Register adds fn to the table under the given name, replacing any
// existing registration, and returns t to permit chaining. Register panics
// if name is one of the reserved chaining names.
func (t *Table) Register(name string, fn Func) *Table {
	if farcall.ReservedNames[name] {
		panic(fmt.Sprintf("cannot register reserved name %q", name))
	}
	t.μ.Lock()
	defer t.μ.Unlock()
	if t.funcs == nil {
		t.funcs = make(map[string]Func)
	}
	t.funcs[name] = fn
	return t
}

// Functions implements a method of the [farcall.HostRuntime] interface.
// Names are reported in lexicographic order.
func (t *Table) Functions() []string {
	t.μ.Lock()
	defer t.μ.Unlock()
	names := make([]string, 0, len(t.funcs))
	for name := range t.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Call implements a method of the [farcall.HostRuntime] interface. The
// function runs in its own goroutine; callbacks registered on the returned
// handle are invoked when it completes, including callbacks registered
// after completion.
func (t *Table) Call(name string, args []any) farcall.PendingHost {
	t.μ.Lock()
	fn, ok := t.funcs[name]
	t.μ.Unlock()

	p := new(pendingCall)
	go func() {
		if !ok {
			p.fail(errorPayload(fmt.Errorf("unknown function: %q", name)))
			return
		}
		result, err := func() (_ any, err error) {
			defer func() {
				if x := recover(); x != nil && err == nil {
					err = fmt.Errorf("function panicked (recovered): %v", x)
				}
			}()
			return fn(args)
		}()
		if err != nil {
			p.fail(errorPayload(err))
			return
		}
		data, err := json.Marshal(result)
		if err != nil {
			p.fail(errorPayload(err))
			return
		}
		p.succeed(data)
	}()
	return p
}

// Locate returns a locator reporting t as the detected host runtime, or
// farcall.ErrNoRuntime when t is nil. It mirrors how a production embedder
// probes its environment: either the runtime is there, or it is not.
func Locate(t *Table) farcall.HostLocator {
	return func() (farcall.HostRuntime, error) {
		if t == nil {
			return nil, farcall.ErrNoRuntime
		}
		return t, nil
	}
}

// A pendingCall buffers the outcome of an invocation until the matching
// callback is registered, and delivers it exactly once.
type pendingCall struct {
	μ         sync.Mutex
	done      bool
	failed    bool
	payload   json.RawMessage
	onSuccess func(json.RawMessage)
	onFailure func(json.RawMessage)
	delivered bool
}

func (p *pendingCall) succeed(v json.RawMessage) { p.complete(v, false) }
func (p *pendingCall) fail(v json.RawMessage)    { p.complete(v, true) }

func (p *pendingCall) complete(v json.RawMessage, failed bool) {
	p.μ.Lock()
	defer p.μ.Unlock()
	if p.done {
		return
	}
	p.done, p.failed, p.payload = true, failed, v
	p.deliverLocked()
}

// OnSuccess implements a method of the [farcall.PendingHost] interface.
func (p *pendingCall) OnSuccess(fn func(json.RawMessage)) farcall.PendingHost {
	p.μ.Lock()
	defer p.μ.Unlock()
	p.onSuccess = fn
	p.deliverLocked()
	return p
}

// OnFailure implements a method of the [farcall.PendingHost] interface.
func (p *pendingCall) OnFailure(fn func(json.RawMessage)) farcall.PendingHost {
	p.μ.Lock()
	defer p.μ.Unlock()
	p.onFailure = fn
	p.deliverLocked()
	return p
}

// deliverLocked invokes the completion callback if the call has completed
// and the relevant callback is registered. The caller must hold p.μ.
func (p *pendingCall) deliverLocked() {
	if !p.done || p.delivered {
		return
	}
	cb := p.onSuccess
	if p.failed {
		cb = p.onFailure
	}
	if cb == nil {
		return
	}
	p.delivered = true
	go cb(p.payload)
}

// errorPayload encodes the text of err as a JSON string payload.
func errorPayload(err error) json.RawMessage {
	data, merr := json.Marshal(err.Error())
	if merr != nil {
		return json.RawMessage(`"internal error"`)
	}
	return data
}
