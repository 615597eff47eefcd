// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package farcall

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/creachadair/taskgroup"
)

func TestCallSettleOnce(t *testing.T) {
	c := newCall("t1")

	c.resolve(json.RawMessage(`"first"`))
	c.reject(errors.New("too late"))
	c.resolve(json.RawMessage(`"also too late"`))

	got, err := c.Await(context.Background())
	if err != nil {
		t.Errorf("Await: unexpected error: %v", err)
	}
	if string(got) != `"first"` {
		t.Errorf("Await: got %q, want %q", got, `"first"`)
	}
}

func TestCallAwaitCancel(t *testing.T) {
	detached := false
	c := newCall("t2")
	c.detach = func() { detached = true }

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	if got, err := c.Await(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Await: got (%q, %v), want context deadline error", got, err)
	}
	if !detached {
		t.Error("Await did not detach the abandoned call")
	}

	// Settling after abandonment must not disturb anything.
	c.resolve(json.RawMessage(`true`))
	if got, err := c.Await(context.Background()); err != nil || string(got) != "true" {
		t.Errorf("Await (settled): got (%q, %v), want (true, nil)", got, err)
	}
}

func TestCallTable(t *testing.T) {
	tab := newCallTable()

	t.Run("UnknownID", func(t *testing.T) {
		if tab.settle("nonesuch", StatusOK, nil) {
			t.Error("settle of an unregistered id reported true")
		}
	})

	t.Run("SettleOK", func(t *testing.T) {
		c := tab.register("ok1")
		if !tab.settle("ok1", StatusOK, json.RawMessage(`{"v":1}`)) {
			t.Error("settle reported false for a pending call")
		}
		got, err := c.Await(context.Background())
		if err != nil {
			t.Errorf("Await: unexpected error: %v", err)
		}
		if string(got) != `{"v":1}` {
			t.Errorf("Await: got %q, want %q", got, `{"v":1}`)
		}

		// A second settlement for the same id has nothing to act on.
		if tab.settle("ok1", StatusError, json.RawMessage(`"nope"`)) {
			t.Error("second settle for the same id reported true")
		}
	})

	t.Run("SettleError", func(t *testing.T) {
		c := tab.register("err1")
		if !tab.settle("err1", StatusError, json.RawMessage(`"boom"`)) {
			t.Error("settle reported false for a pending call")
		}
		_, err := c.Await(context.Background())
		var ce *CallError
		if !errors.As(err, &ce) {
			t.Fatalf("Await: got error %v, want *CallError", err)
		}
		if string(ce.Payload) != `"boom"` {
			t.Errorf("Payload: got %q, want %q", ce.Payload, `"boom"`)
		}
		if ce.Err != nil {
			t.Errorf("Err: got %v, want nil", ce.Err)
		}
	})

	t.Run("Independent", func(t *testing.T) {
		c1 := tab.register("a")
		c2 := tab.register("b")
		tab.settle("b", StatusOK, json.RawMessage(`2`))

		got, err := c2.Await(context.Background())
		if err != nil || string(got) != "2" {
			t.Errorf(`Await "b": got (%q, %v), want (2, nil)`, got, err)
		}
		select {
		case <-c1.done:
			t.Error(`call "a" settled by a response for "b"`)
		default:
		}
		tab.settle("a", StatusOK, json.RawMessage(`1`))
		if got, err := c1.Await(context.Background()); err != nil || string(got) != "1" {
			t.Errorf(`Await "a": got (%q, %v), want (1, nil)`, got, err)
		}
	})

	t.Run("Remove", func(t *testing.T) {
		tab.register("gone")
		if !tab.remove("gone") {
			t.Error("remove reported false for a pending call")
		}
		if tab.remove("gone") {
			t.Error("second remove reported true")
		}
		if tab.settle("gone", StatusOK, nil) {
			t.Error("settle of a removed call reported true")
		}
	})

	t.Run("FailAll", func(t *testing.T) {
		errTest := errors.New("the sky is falling")
		cs := []*Call{tab.register("f1"), tab.register("f2"), tab.register("f3")}
		if n := tab.failAll(errTest); n != 3 {
			t.Errorf("failAll: got %d, want 3", n)
		}
		for _, c := range cs {
			if _, err := c.Await(context.Background()); !errors.Is(err, errTest) {
				t.Errorf("Await %q: got %v, want %v", c.ID(), err, errTest)
			}
		}
	})
}

func TestCallTableConcurrent(t *testing.T) {
	tab := newCallTable()

	// Concurrent registration and settlement of disjoint ids must not
	// interfere with each other.
	ids := []string{"w", "x", "y", "z"}
	g := taskgroup.New(nil)
	calls := make([]*Call, len(ids))
	for i, id := range ids {
		calls[i] = tab.register(id)
		g.Go(func() error {
			tab.settle(id, StatusOK, json.RawMessage(`"`+id+`"`))
			return nil
		})
	}
	g.Wait()
	for i, c := range calls {
		got, err := c.Await(context.Background())
		if err != nil {
			t.Errorf("Await %q: unexpected error: %v", ids[i], err)
		}
		if want := `"` + ids[i] + `"`; string(got) != want {
			t.Errorf("Await %q: got %q, want %q", ids[i], got, want)
		}
	}
}

func TestMarshalArgs(t *testing.T) {
	if enc, err := marshalArgs(nil); enc != nil || err != nil {
		t.Errorf("marshalArgs(nil): got (%v, %v), want (nil, nil)", enc, err)
	}
	enc, err := marshalArgs([]any{42, "hi", true, nil})
	if err != nil {
		t.Fatalf("marshalArgs: unexpected error: %v", err)
	}
	want := []string{"42", `"hi"`, "true", "null"}
	for i, arg := range enc {
		if string(arg) != want[i] {
			t.Errorf("arg %d: got %q, want %q", i, arg, want[i])
		}
	}
	if _, err := marshalArgs([]any{func() {}}); err == nil {
		t.Error("marshalArgs of a function value did not fail")
	}
}
