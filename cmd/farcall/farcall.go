// Program farcall is a command-line utility for exercising farcall
// endpoints: it can invoke functions on a parent endpoint, and run a demo
// parent for clients to call.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/creachadair/command"
	"github.com/creachadair/farcall"
	"github.com/creachadair/farcall/channel"
	"github.com/creachadair/farcall/parent"
	"github.com/creachadair/flax"
	"github.com/gorilla/websocket"
)

var callFlags struct {
	Address string        `flag:"address,Address of the parent endpoint (ws://... or host:port)"`
	Origin  string        `flag:"origin,Origin to report for the remote endpoint (default ws://address)"`
	Target  string        `flag:"target,Target origin for outbound requests (default the remote origin)"`
	Timeout time.Duration `flag:"timeout,default=30s,Call timeout"`
	Verbose bool          `flag:"v,Log request and response traffic"`
}

var serveFlags struct {
	Address string `flag:"address,default=localhost:8415,Service address (host:port)"`
	WS      bool   `flag:"ws,Serve websocket connections instead of raw TCP"`
	Allow   string `flag:"allow,Origins allowed to issue requests (space-delimited; default allow all)"`
}

func main() {
	root := &command.C{
		Name: filepath.Base(os.Args[0]),
		Help: `Utilities for interacting with farcall endpoints.

A parent endpoint answers named function calls delivered as JSON messages.
The call command connects to a parent over a websocket (with a ws:// or
wss:// address), a raw TCP stream (host:port), or stdin/stdout (with the
address "-"), invokes one function, and prints the JSON result.`,

		Commands: []*command.C{
			{
				Name:     "call",
				Usage:    "<function> [json-arg...]",
				Help:     "Call a function on a parent endpoint and print its result.",
				SetFlags: command.Flags(flax.MustBind, &callFlags),
				Run:      runCall,
			},
			{
				Name:     "serve",
				Usage:    "",
				Help:     "Run a demonstration parent endpoint.",
				SetFlags: command.Flags(flax.MustBind, &serveFlags),
				Run:      runServe,
			},
			command.VersionCommand(),
			command.HelpCommand(nil),
		},
	}
	command.RunOrFail(root.NewEnv(nil).MergeFlags(true), os.Args[1:])
}

func runCall(env *command.Env) error {
	if len(env.Args) == 0 {
		return env.Usagef("missing function name")
	} else if callFlags.Address == "" {
		return env.Usagef("missing required --address")
	}
	name, jsonArgs := env.Args[0], env.Args[1:]
	args := make([]any, len(jsonArgs))
	for i, s := range jsonArgs {
		var v json.RawMessage
		if err := json.Unmarshal([]byte(s), &v); err != nil {
			return fmt.Errorf("argument %d: %w", i+1, err)
		}
		args[i] = v
	}

	ctx, cancel := context.WithTimeout(env.Context(), callFlags.Timeout)
	defer cancel()

	ch, origin, err := dialParent(ctx, callFlags.Address)
	if err != nil {
		return fmt.Errorf("dial parent: %w", err)
	}
	b := farcall.NewBridge().Allow(farcall.AllowOrigins(origin))
	if callFlags.Target != "" {
		b.Target(callFlags.Target)
	}
	if callFlags.Verbose {
		b.LogMessages(func(mi farcall.MessageInfo) { log.Print(mi) })
	}
	b.Start(ch)
	defer b.Stop()

	result, err := b.Call(ctx, name, args...)
	if err != nil {
		var ce *farcall.CallError
		if errors.As(err, &ce) && len(ce.Payload) != 0 {
			fmt.Println(string(ce.Payload))
		}
		return fmt.Errorf("call %q: %w", name, err)
	}
	fmt.Println(string(result))
	return nil
}

// dialParent connects to addr and reports the channel along with the origin
// assigned to the remote endpoint. The address "-" talks to a parent on
// stdin/stdout.
func dialParent(ctx context.Context, addr string) (farcall.Channel, string, error) {
	if addr == "-" {
		origin := callFlags.Origin
		if origin == "" {
			origin = "stdio"
		}
		return channel.IO(os.Stdin, os.Stdout, origin), origin, nil
	}
	if strings.HasPrefix(addr, "ws://") || strings.HasPrefix(addr, "wss://") {
		origin := callFlags.Origin
		if origin == "" {
			origin = addr
		}
		ch, err := channel.Dial(ctx, addr, origin)
		return ch, origin, err
	}
	conn, err := new(net.Dialer).DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, "", err
	}
	origin := callFlags.Origin
	if origin == "" {
		origin = "tcp://" + addr
	}
	return channel.IO(conn, conn, origin), origin, nil
}

func runServe(env *command.Env) error {
	newResponder := func() *parent.Responder {
		r := parent.NewResponder().
			Handle("ping", func(ctx context.Context, args []json.RawMessage) (any, error) {
				return "pong", nil
			}).
			Handle("echo", func(ctx context.Context, args []json.RawMessage) (any, error) {
				return args, nil
			}).
			Handle("time", func(ctx context.Context, args []json.RawMessage) (any, error) {
				return time.Now().UTC().Format(time.RFC3339Nano), nil
			})
		if serveFlags.Allow != "" {
			r.Allow(farcall.AllowOrigins(serveFlags.Allow))
		}
		return r
	}

	if serveFlags.WS {
		return serveWS(env.Context(), newResponder)
	}
	lst, err := net.Listen("tcp", serveFlags.Address)
	if err != nil {
		return err
	}
	log.Printf("Parent endpoint listening at %q", lst.Addr())
	acc := parent.NetAccepter(lst, "tcp://"+serveFlags.Address)
	return parent.Loop(env.Context(), acc, newResponder)
}

func serveWS(ctx context.Context, newResponder func() *parent.Responder) error {
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, req *http.Request) {
		conn, err := up.Upgrade(w, req, nil)
		if err != nil {
			log.Printf("Upgrade failed: %v", err)
			return
		}
		origin := req.Header.Get("Origin")
		if origin == "" {
			origin = "ws://" + req.RemoteAddr
		}
		r := newResponder().Start(channel.WS(conn, origin))
		go func() {
			<-req.Context().Done()
			r.Stop()
		}()
		if err := r.Wait(); err != nil {
			log.Printf("Responder for %q failed: %v", origin, err)
		}
	})
	srv := &http.Server{Addr: serveFlags.Address, Handler: mux}
	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()
	log.Printf("Parent endpoint listening at ws://%s", serveFlags.Address)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
