// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package farcall

import "expvar"

// metrics record bridge activity counters.
type metrics struct {
	msgRecv     expvar.Int // number of messages received
	msgSent     expvar.Int // number of messages sent
	msgDropped  expvar.Int // number of messages received and discarded
	callOut     expvar.Int // number of calls initiated
	callOutErr  expvar.Int // number of calls failing before a response arrived
	callPending expvar.Int // gauge of calls currently pending

	emap *expvar.Map
}

// bridgeMetrics are shared globally among all bridges.
var bridgeMetrics = newMetrics()

func newMetrics() *metrics {
	m := &metrics{emap: new(expvar.Map)}
	m.emap.Set("messages_received", &m.msgRecv)
	m.emap.Set("messages_sent", &m.msgSent)
	m.emap.Set("messages_dropped", &m.msgDropped)
	m.emap.Set("calls_out", &m.callOut)
	m.emap.Set("calls_out_failed", &m.callOutErr)
	m.emap.Set("calls_pending", &m.callPending)
	return m
}

// Metrics returns a metrics map for the bridge. It is safe for the caller to
// add additional metrics to the map while the bridge is active.
func (b *Bridge) Metrics() *expvar.Map { return bridgeMetrics.emap }
