// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package parent_test

import (
	"context"
	"encoding/json"
	"net"
	"testing"

	"github.com/creachadair/farcall"
	"github.com/creachadair/farcall/channel"
	"github.com/creachadair/farcall/parent"
	"github.com/creachadair/taskgroup"
	"github.com/fortytw2/leaktest"
)

func mustListen(t *testing.T) (net.Listener, string) {
	t.Helper()
	lst, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	return lst, lst.Addr().String()
}

func TestLoop(t *testing.T) {
	defer leaktest.Check(t)()

	lst, addr := mustListen(t)
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	newResponder := func() *parent.Responder {
		return parent.NewResponder().
			Handle("echo", func(ctx context.Context, args []json.RawMessage) (any, error) {
				return args, nil
			})
	}
	loop := taskgroup.Go(func() error {
		return parent.Loop(ctx, parent.NetAccepter(lst, childOrigin), newResponder)
	})
	t.Log("Started parent loop...")

	const numClients = 5
	const numCalls = 5
	t.Logf("Clients: %d, calls per client: %d", numClients, numCalls)

	g := taskgroup.New(func(err error) {
		cancel()
		t.Errorf("Task error: %v", err)
	})
	for range numClients {
		g.Go(func() error {
			conn, err := net.Dial("tcp", addr)
			if err != nil {
				return err
			}
			defer conn.Close()
			b := farcall.NewBridge().
				Allow(farcall.AllowOrigins(parentOrigin)).
				Start(channel.IO(conn, conn, parentOrigin))
			for j := range numCalls {
				got, err := b.Call(t.Context(), "echo", j)
				if err != nil {
					t.Errorf("Call %d: %v", j+1, err)
				} else if want := `[` + string(rune('0'+j)) + `]`; string(got) != want {
					t.Errorf("Call %d: got %q, want %q", j+1, got, want)
				}
			}
			return b.Stop()
		})
	}
	t.Logf("Clients finished, err=%v", g.Wait())
	t.Logf("Closed listener, err=%v", lst.Close())
	t.Logf("Loop exited, err=%v", loop.Wait())
}
