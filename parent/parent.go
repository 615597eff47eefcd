// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

// Package parent implements the parent endpoint of the development bridge:
// a responder that serves REQUEST messages arriving on a channel with
// registered Go functions and answers each with a RESPONSE message.
//
// In production the host runtime makes this machinery unnecessary. It
// exists so that development sandboxes, tests, and the farcall command-line
// tool have a parent to talk to.
package parent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/creachadair/farcall"
	"github.com/creachadair/taskgroup"
)

// A Func serves one named function. Its result is encoded as the response
// payload of a RESPONSE with status OK; a non-nil error produces status
// ERROR with the error text as the payload. If the error is a
// *farcall.CallError with a non-nil Payload, that payload is sent verbatim
// instead, letting a handler control the rejection value seen by the caller.
type Func func(ctx context.Context, args []json.RawMessage) (any, error)

// A Responder serves inbound function requests. A zero-valued Responder is
// ready for use, but must not be copied after any method has been called.
//
// Call Handle to register functions, then Start with a channel to begin
// serving. A request naming an unregistered function is answered with
// status ERROR; messages that are not requests are dropped silently.
//
// Unlike the client bridge, a responder with no origin policy answers
// requests from any origin: a development parent typically faces only its
// own sandbox. Use Allow to restrict it.
type Responder struct {
	in  interface{ Recv() (*farcall.Message, error) }
	out struct {
		// Must hold the lock to send to or set ch.
		sync.Mutex
		ch farcall.Channel
	}
	tasks *taskgroup.Group

	μ sync.Mutex

	err    error                  // transport fatal error
	funcs  map[string]Func        // functionName → handler
	policy farcall.OriginPolicy   // nil permits all origins
	base   func() context.Context // return a new base context

	restrict bool // whether an origin policy was configured
}

// NewResponder constructs a new unstarted responder.
func NewResponder() *Responder { return new(Responder) }

// Handle registers a function under the given name. Passing a nil Func
// removes any function for the name. It is safe to call Handle while the
// responder is running. Handle returns r to permit chaining.
func (r *Responder) Handle(name string, fn Func) *Responder {
	r.μ.Lock()
	defer r.μ.Unlock()
	if r.funcs == nil {
		r.funcs = make(map[string]Func)
	}
	if fn == nil {
		delete(r.funcs, name)
	} else {
		r.funcs[name] = fn
	}
	return r
}

// Allow restricts the responder to requests from origins permitted by p.
// It must be called before Start. Allow returns r to permit chaining.
func (r *Responder) Allow(p farcall.OriginPolicy) *Responder {
	r.μ.Lock()
	defer r.μ.Unlock()
	r.policy, r.restrict = p, true
	return r
}

// NewContext registers a function that will be called to create a new base
// context for handlers. If it is not set a background context is used.
func (r *Responder) NewContext(base func() context.Context) *Responder {
	r.μ.Lock()
	defer r.μ.Unlock()
	if base == nil {
		r.base = context.Background
	} else {
		r.base = base
	}
	return r
}

// Start starts the responder serving on the given channel. It runs until
// the channel closes or Stop is called. Start does not block; call Wait to
// wait for the responder to exit and report its status.
func (r *Responder) Start(ch farcall.Channel) *Responder {
	if r.in != nil {
		panic("responder is already started")
	}

	g := taskgroup.New(nil)
	r.in = ch
	r.tasks = g
	r.out.ch = ch
	r.err = nil
	if r.base == nil {
		r.base = context.Background
	}

	g.Go(func() error {
		for {
			msg, err := r.in.Recv()
			if err != nil {
				r.fail(err)
				return nil
			}
			r.dispatch(msg)
		}
	})

	return r
}

// Stop closes the channel and terminates the responder. It blocks until the
// responder has exited and returns its status.
func (r *Responder) Stop() error { r.closeOut(); return r.Wait() }

func treatErrorAsSuccess(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}

// Wait blocks until r terminates and reports the error that caused it to
// stop. A stop due to a closed channel reports nil.
func (r *Responder) Wait() error {
	r.μ.Lock()
	t := r.tasks
	r.μ.Unlock()
	if t == nil {
		return nil // the responder is not running
	}
	t.Wait()

	r.μ.Lock()
	defer r.μ.Unlock()
	r.in = nil
	r.tasks = nil
	r.out.Lock()
	r.out.ch = nil
	r.out.Unlock()

	if treatErrorAsSuccess(r.err) {
		return nil
	}
	return r.err
}

// dispatch routes one inbound message. Only requests from permitted origins
// are served; everything else is dropped without reply.
func (r *Responder) dispatch(msg *farcall.Message) {
	r.μ.Lock()
	policy, restrict := r.policy, r.restrict
	fn, known := r.funcs[msg.FunctionName]
	base := r.base
	r.μ.Unlock()

	if restrict && !policy.Permits(msg.Origin) {
		return
	}
	if msg.Type != farcall.TypeRequest {
		return
	}
	origin := msg.Origin
	if !known {
		r.respond(msg.ID, origin, farcall.StatusError, errorPayload(fmt.Errorf("unknown function: %q", msg.FunctionName)))
		return
	}

	// Serve the request in its own goroutine so a slow function does not
	// stall dispatch of later requests.
	r.tasks.Go(func() error {
		result, err := func() (_ any, err error) {
			// Ensure a panic out of the handler becomes a graceful response.
			defer func() {
				if x := recover(); x != nil && err == nil {
					err = fmt.Errorf("handler panicked (recovered): %v", x)
				}
			}()
			return fn(base(), msg.Args)
		}()
		if err != nil {
			var ce *farcall.CallError
			if errors.As(err, &ce) && ce.Payload != nil {
				r.respond(msg.ID, origin, farcall.StatusError, ce.Payload)
			} else {
				r.respond(msg.ID, origin, farcall.StatusError, errorPayload(err))
			}
			return nil
		}
		payload, err := json.Marshal(result)
		if err != nil {
			r.respond(msg.ID, origin, farcall.StatusError, errorPayload(err))
			return nil
		}
		r.respond(msg.ID, origin, farcall.StatusOK, payload)
		return nil
	})
}

// respond sends a RESPONSE for the given call id, addressed to the origin
// the request arrived from.
func (r *Responder) respond(id, target, status string, payload json.RawMessage) {
	r.μ.Lock()
	err := r.err
	r.μ.Unlock()
	if err != nil {
		return
	}

	if err := r.send(&farcall.Message{
		Type:     farcall.TypeResponse,
		ID:       id,
		Status:   status,
		Response: payload,
	}, target); err != nil {
		r.closeOut()
	}
}

func (r *Responder) fail(err error) {
	r.closeOut()

	r.μ.Lock()
	defer r.μ.Unlock()
	r.err = err
}

func (r *Responder) send(msg *farcall.Message, targetOrigin string) error {
	r.out.Lock()
	defer r.out.Unlock()
	if r.out.ch == nil {
		return net.ErrClosed
	}
	return r.out.ch.Send(msg, targetOrigin)
}

func (r *Responder) closeOut() {
	r.out.Lock()
	defer r.out.Unlock()
	if r.out.ch != nil {
		r.out.ch.Close()
	}
}

// errorPayload encodes the text of err as a JSON string payload.
func errorPayload(err error) json.RawMessage {
	data, merr := json.Marshal(err.Error())
	if merr != nil {
		return json.RawMessage(`"internal error"`)
	}
	return data
}
