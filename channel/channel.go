// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

// Package channel provides implementations of the farcall.Channel interface.
//
// Each implementation enforces the messaging model of the bridge protocol:
// a send restricted to a target origin other than the remote endpoint's
// origin (or "*") is discarded silently, and every received message is
// stamped with the sender's origin as asserted by the transport. Payloads
// never carry their own origin.
package channel

import (
	"bufio"
	"bytes"
	"io"
	"net"
	"sync"

	"github.com/creachadair/farcall"
)

// Pipe constructs a connected pair of in-memory channels. The endpoints are
// assigned the given origins: messages sent to A are received by B stamped
// with aOrigin, and vice versa. Pipe is intended for tests and in-process
// sandboxes.
func Pipe(aOrigin, bOrigin string) (A, B farcall.Channel) {
	a2b := make(chan *farcall.Message)
	b2a := make(chan *farcall.Message)
	A = &pipe{origin: aOrigin, peer: bOrigin, send: a2b, recv: b2a, closed: make(chan struct{})}
	B = &pipe{origin: bOrigin, peer: aOrigin, send: b2a, recv: a2b, closed: make(chan struct{})}
	return
}

type pipe struct {
	origin string // origin of this endpoint
	peer   string // origin of the remote endpoint
	send   chan<- *farcall.Message
	recv   <-chan *farcall.Message

	once   sync.Once
	closed chan struct{} // closed by Close; unblocks local Recv and Send
}

// Send implements a method of the [farcall.Channel] interface. The message
// is stamped with the sending endpoint's origin; a copy is delivered so the
// caller's message is never shared across the pair.
func (p *pipe) Send(msg *farcall.Message, targetOrigin string) (err error) {
	defer safeClose(&err)
	if targetOrigin != "*" && targetOrigin != p.peer {
		return nil // not addressed to the remote endpoint; discard
	}
	cp := *msg
	cp.Origin = p.origin
	select {
	case p.send <- &cp:
		return nil
	case <-p.closed:
		return net.ErrClosed
	}
}

// Recv implements a method of the [farcall.Channel] interface.
func (p *pipe) Recv() (*farcall.Message, error) {
	select {
	case msg, ok := <-p.recv:
		if !ok {
			return nil, net.ErrClosed
		}
		return msg, nil
	case <-p.closed:
		return nil, net.ErrClosed
	}
}

// Close implements a method of the [farcall.Channel] interface. Closing
// either endpoint terminates pending operations on both.
func (p *pipe) Close() error {
	p.once.Do(func() {
		close(p.closed)
		close(p.send)
	})
	return nil
}

// RemoteOrigin implements the [farcall.OriginReporter] extension.
func (p *pipe) RemoteOrigin() string { return p.peer }

func safeClose(err *error) {
	if x := recover(); x != nil && *err == nil {
		*err = net.ErrClosed
	}
}

// IO constructs a channel that reads newline-delimited JSON messages from r
// and writes them to wc. A byte conduit has exactly one peer, so every
// received message is stamped with remoteOrigin. Input that does not parse
// as a message is dropped silently; only transport errors terminate Recv.
func IO(r io.Reader, wc io.WriteCloser, remoteOrigin string) IOChannel {
	// N.B. The bufio package will reuse existing buffers if possible.
	return IOChannel{r: bufio.NewReader(r), w: bufio.NewWriter(wc), c: wc, origin: remoteOrigin}
}

// An IOChannel sends and receives messages on a reader and a writer.
type IOChannel struct {
	r      *bufio.Reader
	w      *bufio.Writer
	c      io.Closer
	origin string
}

// Send implements a method of the [farcall.Channel] interface.
func (c IOChannel) Send(msg *farcall.Message, targetOrigin string) error {
	if targetOrigin != "*" && targetOrigin != c.origin {
		return nil // not addressed to the remote endpoint; discard
	}
	if _, err := c.w.Write(msg.Encode()); err != nil {
		return err
	}
	if err := c.w.WriteByte('\n'); err != nil {
		return err
	}
	return c.w.Flush()
}

// Recv implements a method of the [farcall.Channel] interface.
func (c IOChannel) Recv() (*farcall.Message, error) {
	for {
		line, err := c.r.ReadBytes('\n')
		if len(line) == 0 && err != nil {
			return nil, err
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			if err != nil {
				return nil, err
			}
			continue
		}
		var msg farcall.Message
		if msg.Decode(line) != nil {
			if err != nil {
				return nil, err
			}
			continue // malformed input is dropped, not fatal
		}
		msg.Origin = c.origin
		return &msg, nil
	}
}

// Close implements a method of the [farcall.Channel] interface.
func (c IOChannel) Close() error { return c.c.Close() }

// RemoteOrigin implements the [farcall.OriginReporter] extension.
func (c IOChannel) RemoteOrigin() string { return c.origin }
