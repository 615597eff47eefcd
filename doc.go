// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

// Package farcall lets client code invoke named server-side functions and
// await their results, without caring whether it runs against a managed host
// runtime or inside a detached development sandbox.
//
// The set of callable function names is open-ended: nothing is declared in
// advance, and any name may be invoked. In production the names come from
// the host runtime's own function table; in development, requests for any
// name are forwarded to a parent endpoint over an untyped, asynchronous
// message conduit and correlated with their responses by a unique call
// identifier.
//
// # Clients
//
// A Client selects its binding exactly once, at construction:
//
//	cli, err := farcall.New(farcall.Options{
//	   AllowedOrigins: "https://dev.example.com",
//	   Channel:        ch,
//	})
//
// When Options.Host detects a host runtime, the client is host-bound: every
// function the runtime enumerates is wrapped as a callable, and the chained
// success/failure callbacks of the runtime are adapted to call settlement.
// Otherwise the client is bridge-bound and a [Bridge] is started on the
// configured channel. The calling surface is identical either way:
//
//	result, err := cli.Call(ctx, "getData", 42)
//
// Errors reported for failed calls have concrete type [*CallError].
//
// # Bridges
//
// The [Bridge] is the development-mode binding. Each call mints a fresh
// identifier, registers a pending entry, and posts a REQUEST message to the
// bridge's target origin; the service routine settles the matching entry
// when a RESPONSE with the same identifier arrives. Responses may arrive in
// any order. To create and start a bridge directly:
//
//	b := farcall.NewBridge().
//	   Allow(farcall.AllowOrigins("https://dev.example.com")).
//	   Start(ch)
//
// The bridge runs until [Bridge.Stop] is called or the channel closes. Call
// [Bridge.Wait] to wait for the bridge to exit and return its status.
//
// Inbound messages are filtered before they can settle anything: messages
// from origins the configured [OriginPolicy] does not permit, messages that
// are not responses, and responses matching no pending call are all dropped
// silently. Dropped messages are never surfaced to callers; observe them
// with [Bridge.LogMessages] or the counters of [Bridge.Metrics].
//
// # Channels
//
// The [Channel] interface defines the conduit the bridge runs on: an
// asynchronous exchange of JSON messages between two endpoints, each send
// restricted to a target origin and each receipt stamped with the sender's
// origin. The channel package provides in-memory, stream, and websocket
// implementations.
//
// # Calls
//
// [Bridge.Call] and [Client.Call] block until the response arrives or the
// context ends. [Bridge.Go] returns the in-flight [Call] immediately; use
// [Call.Await] to collect the result later. The protocol has no timeout: a
// call whose response never arrives stays pending until its context ends.
//
// # Parents
//
// The parent package implements the opposite endpoint of the conduit, a
// responder that serves REQUEST messages with registered Go functions. It
// stands in for the development sandbox's host page in tests, examples, and
// the farcall command-line tool.
package farcall
