// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package hostfn_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/creachadair/farcall"
	"github.com/creachadair/farcall/hostfn"
	"github.com/creachadair/mds/mtest"
	"github.com/google/go-cmp/cmp"
)

// await registers callbacks on p and returns the payload it completes with,
// along with whether it failed.
func await(t *testing.T, p farcall.PendingHost) (json.RawMessage, bool) {
	t.Helper()
	type outcome struct {
		payload json.RawMessage
		failed  bool
	}
	ch := make(chan outcome, 1)
	p.OnSuccess(func(result json.RawMessage) {
		ch <- outcome{payload: result}
	}).OnFailure(func(cause json.RawMessage) {
		ch <- outcome{payload: cause, failed: true}
	})
	select {
	case o := <-ch:
		return o.payload, o.failed
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for completion")
		return nil, false
	}
}

func TestTable(t *testing.T) {
	tab := hostfn.New().
		Register("getData", func(args []any) (any, error) {
			return map[string]int{"value": 99}, nil
		}).
		Register("fail", func(args []any) (any, error) {
			return nil, errors.New("bad wolf")
		}).
		Register("explode", func(args []any) (any, error) {
			panic("kaboom")
		})

	t.Run("Functions", func(t *testing.T) {
		got := tab.Functions()
		want := []string{"explode", "fail", "getData"}
		if diff := cmp.Diff(got, want); diff != "" {
			t.Errorf("Functions (-got, +want):\n%s", diff)
		}
	})

	t.Run("OK", func(t *testing.T) {
		got, failed := await(t, tab.Call("getData", []any{42}))
		if failed {
			t.Errorf("Call getData failed: %s", got)
		}
		if string(got) != `{"value":99}` {
			t.Errorf("Result: got %q, want %q", got, `{"value":99}`)
		}
	})

	t.Run("Fail", func(t *testing.T) {
		got, failed := await(t, tab.Call("fail", nil))
		if !failed {
			t.Errorf("Call fail succeeded: %s", got)
		}
		if string(got) != `"bad wolf"` {
			t.Errorf("Cause: got %q, want %q", got, `"bad wolf"`)
		}
	})

	t.Run("Panic", func(t *testing.T) {
		got, failed := await(t, tab.Call("explode", nil))
		if !failed {
			t.Errorf("Call explode succeeded: %s", got)
		}
		if want := `"function panicked (recovered): kaboom"`; string(got) != want {
			t.Errorf("Cause: got %q, want %q", got, want)
		}
	})

	t.Run("Unknown", func(t *testing.T) {
		got, failed := await(t, tab.Call("nonesuch", nil))
		if !failed {
			t.Errorf("Call nonesuch succeeded: %s", got)
		}
		if want := `"unknown function: \"nonesuch\""`; string(got) != want {
			t.Errorf("Cause: got %q, want %q", got, want)
		}
	})
}

func TestLateCallbacks(t *testing.T) {
	release := make(chan struct{})
	tab := hostfn.New().Register("wait", func(args []any) (any, error) {
		<-release
		return "done", nil
	})

	// Complete the call before any callback is registered; the callback
	// must still fire.
	p := tab.Call("wait", nil)
	close(release)
	time.Sleep(10 * time.Millisecond)

	got, failed := await(t, p)
	if failed {
		t.Errorf("Call wait failed: %s", got)
	}
	if string(got) != `"done"` {
		t.Errorf("Result: got %q, want %q", got, `"done"`)
	}
}

func TestReservedNames(t *testing.T) {
	tab := hostfn.New()
	for name := range farcall.ReservedNames {
		mtest.MustPanic(t, func() { tab.Register(name, nil) })
	}
}

func TestLocate(t *testing.T) {
	t.Run("Present", func(t *testing.T) {
		tab := hostfn.New()
		rt, err := hostfn.Locate(tab)()
		if err != nil {
			t.Fatalf("Locate: unexpected error: %v", err)
		}
		if rt != farcall.HostRuntime(tab) {
			t.Errorf("Locate: got %v, want %v", rt, tab)
		}
	})

	t.Run("Absent", func(t *testing.T) {
		rt, err := hostfn.Locate(nil)()
		if !errors.Is(err, farcall.ErrNoRuntime) {
			t.Errorf("Locate: got (%v, %v), want %v", rt, err, farcall.ErrNoRuntime)
		}
	})
}
