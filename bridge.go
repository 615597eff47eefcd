// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package farcall

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/creachadair/taskgroup"
	"github.com/google/uuid"
)

// A Channel is an untyped, asynchronous conduit for messages between two
// endpoints that do not share memory. Delivery is not guaranteed and the
// order of responses may differ from the order of requests.
//
// The methods of an implementation must be safe for concurrent use by one
// sender and one receiver.
type Channel interface {
	// Send delivers msg to the remote endpoint. If the remote endpoint's
	// origin does not match targetOrigin, the message is discarded without
	// error; the target origin "*" matches any endpoint.
	Send(msg *Message, targetOrigin string) error

	// Receive the next available message from the channel. The returned
	// message has its Origin field set to the sender's origin as asserted
	// by the transport.
	Recv() (*Message, error)

	// Close the channel, causing any pending send or receive operations to
	// terminate and report an error. After a channel is closed, all further
	// operations on it must report an error.
	Close() error
}

// An OriginReporter is an optional interface a Channel may implement to
// report the origin of its remote endpoint. When a bridge is started without
// an explicit target origin, the channel's remote origin is used instead.
type OriginReporter interface {
	RemoteOrigin() string
}

// A MessageLogger logs a message exchanged with the remote endpoint.
type MessageLogger func(msg MessageInfo)

// A MessageInfo combines a message and a flag indicating whether the message
// was sent (true) or received (false).
type MessageInfo struct {
	*Message      // the message being logged
	Sent     bool // whether the message was sent (true) or received (false)
}

func (m MessageInfo) dir() string {
	if m.Sent {
		return "send"
	}
	return "recv"
}

func (m MessageInfo) String() string {
	return fmt.Sprintf("%v %v", m.dir(), m.Message)
}

// A Bridge is the development-mode binding: it invokes named remote
// functions by posting REQUEST messages to a parent endpoint and settling
// pending calls as the matching RESPONSE messages arrive. A zero-valued
// Bridge is ready for use, but must not be copied after any method has been
// called.
//
// Call Start with a channel to start the service routine for the bridge.
// Once started, a bridge runs until Stop is called or the channel closes.
// Use Wait to wait for the bridge to exit and report its status.
//
// Inbound messages are filtered before they can settle anything: a message
// whose origin the configured policy does not permit, whose type is not
// TypeResponse, or whose id matches no pending call is dropped silently,
// never surfaced to any caller. Configure the policy with Allow before
// calling Start; the default policy permits no origin at all.
type Bridge struct {
	in  interface{ Recv() (*Message, error) }
	out struct {
		// Must hold the lock to send to or set ch.
		sync.Mutex
		ch Channel
	}
	tasks *taskgroup.Group

	μ sync.Mutex

	err    error         // transport fatal error
	calls  *callTable    // outbound calls pending responses
	policy OriginPolicy  // which origins may settle calls
	target string        // destination origin restriction for outbound messages
	newID  func() string // mints call identifiers
	mlog   MessageLogger // what it says on the tin

	onExit func(error)
}

// NewBridge constructs a new unstarted bridge.
func NewBridge() *Bridge { return new(Bridge) }

// Allow sets the policy deciding which message origins may reach the bridge.
// It must be called before Start. Allow returns b to permit chaining.
func (b *Bridge) Allow(p OriginPolicy) *Bridge {
	b.μ.Lock()
	defer b.μ.Unlock()
	b.policy = p
	return b
}

// Target sets the destination origin restriction used for outbound request
// messages. It must be called before Start; if it is not set, the channel's
// remote origin is used when the channel reports one, and otherwise the
// unrestricted origin "*". Target returns b to permit chaining.
func (b *Bridge) Target(origin string) *Bridge {
	b.μ.Lock()
	defer b.μ.Unlock()
	b.target = origin
	return b
}

// MintID sets the source of call identifiers. Identifiers must be unique
// per invocation for the life of the bridge; the default mints random UUID
// strings. MintID returns b to permit chaining.
func (b *Bridge) MintID(newID func() string) *Bridge {
	b.μ.Lock()
	defer b.μ.Unlock()
	b.newID = newID
	return b
}

// LogMessages registers a callback that will be invoked for each message
// exchanged with the remote endpoint, regardless of disposition, including
// messages to be discarded.
//
// Passing a nil callback disables message logging. The message logger is
// invoked synchronously with dispatch, prior to sending or settling.
func (b *Bridge) LogMessages(log MessageLogger) *Bridge {
	b.μ.Lock()
	defer b.μ.Unlock()
	b.mlog = log
	return b
}

// OnExit registers a callback to be invoked when the bridge terminates. The
// callback is executed synchronously during shutdown, with the same error
// value that would be reported by the Wait method.
//
// Only one exit callback can be registered at a time; if f == nil the
// callback is removed.
func (b *Bridge) OnExit(f func(error)) *Bridge {
	b.μ.Lock()
	defer b.μ.Unlock()
	b.onExit = f
	return b
}

// Start starts the bridge running on the given channel. The bridge runs
// until the channel closes or Stop is called. Start does not block; call
// Wait to wait for the bridge to exit and report its status.
func (b *Bridge) Start(ch Channel) *Bridge {
	if b.in != nil {
		panic("bridge is already started")
	}

	g := taskgroup.New(nil)
	b.in = ch
	b.tasks = g
	b.out.ch = ch
	b.err = nil
	b.calls = newCallTable()
	if b.newID == nil {
		b.newID = uuid.NewString
	}
	if b.target == "" {
		if or, ok := ch.(OriginReporter); ok {
			b.target = or.RemoteOrigin()
		} else {
			b.target = "*"
		}
	}

	g.Go(func() error {
		for {
			msg, err := b.in.Recv()
			if err != nil {
				b.fail(err)
				return nil
			}
			bridgeMetrics.msgRecv.Add(1)
			b.dispatch(msg)
		}
	})

	return b
}

// Stop closes the channel and terminates the bridge. It blocks until the
// bridge has exited and returns its status. After Stop completes it is safe
// to restart the bridge with a new channel.
func (b *Bridge) Stop() error { b.closeOut(); return b.Wait() }

func treatErrorAsSuccess(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}

// waitTasks blocks until the service routine has finished, and reports
// whether the bridge was running.
func (b *Bridge) waitTasks() bool {
	b.μ.Lock()
	t := b.tasks
	b.μ.Unlock()
	if t == nil {
		return false
	}
	t.Wait()
	return true
}

// Wait blocks until b terminates and reports the error that caused it to
// stop. After Wait completes it is safe to restart the bridge with a new
// channel.
//
// If b is not running, or has stopped because of a closed channel, Wait
// returns nil; otherwise it returns the error that triggered the failure.
func (b *Bridge) Wait() error {
	if !b.waitTasks() {
		return nil // the bridge is not running
	}

	// Clean up bridge state so it can be garbage collected.
	b.μ.Lock()
	defer b.μ.Unlock()
	b.in = nil
	b.tasks = nil
	b.out.Lock()
	b.out.ch = nil
	b.out.Unlock()
	b.calls = nil

	if treatErrorAsSuccess(b.err) {
		return nil
	}
	return b.err
}

// Call invokes the named remote function with args and blocks until the
// response arrives or ctx ends. Any name may be called: the set of remote
// functions is open-ended and determined by the remote side, not declared
// in advance. An error reported by Call has concrete type *CallError.
func (b *Bridge) Call(ctx context.Context, name string, args ...any) (json.RawMessage, error) {
	return b.Go(name, args...).Await(ctx)
}

// Go invokes the named remote function with args and immediately returns the
// Call that will settle when the matching response arrives. Go does not wait
// for a response; the call is fire-and-forget until Await. A request that
// could not be sent yields a call already settled with the send error.
//
// Concurrent calls carry distinct identifiers and settle independently, in
// whatever order their responses arrive.
func (b *Bridge) Go(name string, args ...any) *Call {
	bridgeMetrics.callOut.Add(1)
	enc, err := marshalArgs(args)
	if err != nil {
		bridgeMetrics.callOutErr.Add(1)
		return settledCall(callError(err))
	}

	// Phase 1: Check for fatal errors and register the pending call.
	b.μ.Lock()
	if err := b.err; err != nil {
		b.μ.Unlock()
		bridgeMetrics.callOutErr.Add(1)
		return settledCall(callError(err))
	}
	id := b.newID()
	call := b.calls.register(id)
	calls, target := b.calls, b.target
	b.μ.Unlock()
	bridgeMetrics.callPending.Add(1)

	call.detach = func() {
		if calls.remove(id) {
			bridgeMetrics.callPending.Add(-1)
		}
	}

	// Send the request to the parent endpoint. Note we MUST NOT hold the
	// state lock while doing this, as that would block the receiver from
	// dispatching messages.
	err = b.send(&Message{
		Type:         TypeRequest,
		ID:           id,
		FunctionName: name,
		Args:         enc,
	}, target)

	// Phase 2: Check for an error in the send, and settle now if it failed.
	if err != nil {
		if calls.remove(id) {
			bridgeMetrics.callPending.Add(-1)
		}
		bridgeMetrics.callOutErr.Add(1)
		call.reject(callError(err))
	}
	return call
}

// Func returns a function that invokes the named remote function through b.
// The name needs no registration; it is carried verbatim in each request.
func (b *Bridge) Func(name string) RemoteFunc {
	return func(ctx context.Context, args ...any) (json.RawMessage, error) {
		return b.Call(ctx, name, args...)
	}
}

// dispatch routes an inbound message from the remote endpoint. It settles
// at most one pending call and never reports an error: messages that fail
// origin validation, are not responses, or match no pending call are
// dropped without any observable effect.
func (b *Bridge) dispatch(msg *Message) {
	b.μ.Lock()
	policy, calls, mlog := b.policy, b.calls, b.mlog
	b.μ.Unlock()

	if mlog != nil {
		mlog(MessageInfo{Message: msg, Sent: false})
	}
	if !policy.Permits(msg.Origin) {
		bridgeMetrics.msgDropped.Add(1)
		return
	}
	if msg.Type != TypeResponse {
		bridgeMetrics.msgDropped.Add(1)
		return
	}
	if calls.settle(msg.ID, msg.Status, msg.Response) {
		bridgeMetrics.callPending.Add(-1)
	} else {
		bridgeMetrics.msgDropped.Add(1)
	}
}

// fail terminates all pending calls and updates the failure status.
func (b *Bridge) fail(err error) {
	b.closeOut()

	b.μ.Lock()
	defer b.μ.Unlock()

	// Terminate all incomplete pending calls.
	if n := b.calls.failAll(err); n > 0 {
		bridgeMetrics.callPending.Add(int64(-n))
	}

	b.err = err
	if b.onExit != nil {
		if treatErrorAsSuccess(err) {
			err = nil
		}
		b.onExit(err)
	}
}

func (b *Bridge) send(msg *Message, targetOrigin string) error {
	b.out.Lock()
	defer b.out.Unlock()
	bridgeMetrics.msgSent.Add(1)
	if b.mlog != nil {
		b.mlog(MessageInfo{Message: msg, Sent: true})
	}
	return b.out.ch.Send(msg, targetOrigin)
}

func (b *Bridge) closeOut() {
	b.out.Lock()
	defer b.out.Unlock()
	if b.out.ch != nil {
		b.out.ch.Close()
	}
}
