// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package farcall

import (
	"encoding/json"
	"sync"
)

// A callTable registers outbound calls awaiting responses, keyed by call
// identifier. Each table is owned by the Bridge that constructed it: the
// caller inserts entries, the receive loop removes them on settlement, and
// no other writers exist.
type callTable struct {
	μ     sync.Mutex
	calls map[string]*Call
}

func newCallTable() *callTable { return &callTable{calls: make(map[string]*Call)} }

// register creates, records, and returns a new pending call for id.
// Distinct ids never interfere; registering is safe for concurrent use.
func (t *callTable) register(id string) *Call {
	c := newCall(id)
	t.μ.Lock()
	defer t.μ.Unlock()
	t.calls[id] = c
	return c
}

// remove discards the pending entry for id, if one exists, without settling
// it. It reports whether an entry was removed.
func (t *callTable) remove(id string) bool {
	t.μ.Lock()
	defer t.μ.Unlock()
	_, ok := t.calls[id]
	delete(t.calls, id)
	return ok
}

// settle resolves or rejects the pending call for id and removes its entry,
// reporting whether a call was settled. Exactly one of resolve or reject
// occurs per settlement: status StatusError rejects with the payload, any
// other status resolves with it.
//
// A response whose id is not pending is dropped without effect: stale and
// spurious responses are not errors.
func (t *callTable) settle(id, status string, payload json.RawMessage) bool {
	t.μ.Lock()
	c, ok := t.calls[id]
	delete(t.calls, id)
	t.μ.Unlock()
	if !ok {
		return false
	}
	if status == StatusError {
		c.reject(&CallError{Payload: payload})
	} else {
		c.resolve(payload)
	}
	return true
}

// failAll rejects every pending call with err, empties the table, and
// reports how many calls were rejected.
func (t *callTable) failAll(err error) int {
	t.μ.Lock()
	defer t.μ.Unlock()
	n := len(t.calls)
	for id, c := range t.calls {
		c.reject(callError(err))
		delete(t.calls, id)
	}
	return n
}
