package preview

import (
	"errors"
	"fmt"
	"testing"
)

type opaqueError struct{ cause error }

func (e *opaqueError) Error() string { return "engine unavailable" }
func (e *opaqueError) Unwrap() error { return e.cause }

func TestMessageChain(t *testing.T) {
	root := errors.New("connection refused")

	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"single", root, "connection refused"},
		{
			"wrapped twice",
			fmt.Errorf("request failed: %w", fmt.Errorf("dial tcp 127.0.0.1:1233: %w", root)),
			"request failed\ndial tcp 127.0.0.1:1233\nconnection refused",
		},
		{
			"cause not in message",
			&opaqueError{cause: root},
			"engine unavailable\nconnection refused",
		},
		{
			"joined",
			errors.Join(errors.New("first"), errors.New("second")),
			"first\nsecond",
		},
		{
			"wrapper adds nothing",
			fmt.Errorf("%w", root),
			"connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MessageChain(tt.err); got != tt.want {
				t.Errorf("MessageChain() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLoopOrder(t *testing.T) {
	l := NewLoop()

	var got []int
	for i := 0; i < 50; i++ {
		i := i
		l.Post(func() { got = append(got, i) })
	}
	l.Close()

	if len(got) != 50 {
		t.Fatalf("expected 50 callbacks, got %d", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("callback %d ran at position %d", v, i)
		}
	}

	ran := false
	l.Post(func() { ran = true })
	l.Close()
	if ran {
		t.Error("callback posted after Close ran")
	}
}

func TestDispatcherFunc(t *testing.T) {
	var called bool
	d := DispatcherFunc(func(fn func()) { fn() })
	d.Post(func() { called = true })
	if !called {
		t.Error("DispatcherFunc did not forward")
	}
}
