// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package parent

import (
	"context"
	"errors"
	"net"

	"github.com/creachadair/farcall"
	"github.com/creachadair/farcall/channel"
	"github.com/creachadair/taskgroup"
)

// An Accepter produces channels for inbound sandbox connections.
type Accepter interface {
	Accept(context.Context) (farcall.Channel, error)
}

// Loop accepts connections from acc and starts a responder for each one in
// a goroutine. Loop continues until acc closes or ctx ends.
//
// When ctx terminates, all running responders are stopped. When acc closes,
// the loop waits for running responders to exit before returning.
func Loop(ctx context.Context, acc Accepter, newResponder func() *Responder) error {
	g := taskgroup.New(nil)
	for {
		ch, err := acc.Accept(ctx)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				err = nil
			}
			g.Wait()
			return err
		}

		g.Go(func() error {
			sctx, cancel := context.WithCancel(ctx)
			defer cancel()

			rsp := newResponder().Start(ch)

			go func() { <-sctx.Done(); rsp.Stop() }()
			return rsp.Wait()
		})
	}
}

// NetAccepter adapts a net.Listener to the Accepter interface. Each
// accepted connection is wrapped as a stream channel whose messages are
// asserted to arrive from remoteOrigin.
func NetAccepter(lst net.Listener, remoteOrigin string) Accepter {
	return netAccepter{Listener: lst, origin: remoteOrigin}
}

type netAccepter struct {
	net.Listener
	origin string
}

func (n netAccepter) Accept(ctx context.Context) (farcall.Channel, error) {
	// A net.Listener does not obey a context, so simulate it by closing the
	// listener if ctx ends. The ok channel allows the context watcher to
	// clean up when we return before ctx ends.
	ok := make(chan struct{})
	defer close(ok)
	taskgroup.Go(func() error {
		select {
		case <-ctx.Done():
			n.Listener.Close()
		case <-ok:
			// release the waiter
		}
		return nil
	})

	conn, err := n.Listener.Accept()
	if err != nil {
		return nil, err
	}
	return channel.IO(conn, conn, n.origin), nil
}
