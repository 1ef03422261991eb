package dbus_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/chronostools/dbus"
	"github.com/chronostools/dbus/conntest"
)

func TestDialAssignsUniqueName(t *testing.T) {
	bus := conntest.New(t)
	ctx := context.Background()
	conn := bus.Dial(ctx)

	if got, want := conn.LocalName(), ":1.1"; got != want {
		t.Errorf("LocalName() = %q, want %q", got, want)
	}
}

func TestCallRoundtrip(t *testing.T) {
	bus := conntest.New(t)
	bus.Handle(func(m *dbus.Message) ([]any, string, error) {
		if m.Interface != "com.example.Greeter" || m.Member != "Greet" {
			return nil, "", fmt.Errorf("unexpected call %s.%s", m.Interface, m.Member)
		}
		name, _ := m.Body[0].(string)
		return []any{"hello, " + name}, "s", nil
	})

	ctx := context.Background()
	conn := bus.Dial(ctx)

	reply, err := conn.Call(ctx, "com.example.Service", "/com/example/Object", "com.example.Greeter", "Greet", "s", []any{"alice"})
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if len(reply.Body) != 1 || reply.Body[0] != "hello, alice" {
		t.Errorf("Call reply = %v, want [\"hello, alice\"]", reply.Body)
	}
}

func TestCallPropagatesMethodError(t *testing.T) {
	bus := conntest.New(t)
	bus.Handle(func(m *dbus.Message) ([]any, string, error) {
		return nil, "", fmt.Errorf("boom")
	})

	ctx := context.Background()
	conn := bus.Dial(ctx)

	_, err := conn.Call(ctx, "com.example.Service", "/com/example/Object", "com.example.Greeter", "Greet", "", nil)
	if err == nil {
		t.Fatal("expected an error")
	}
	var replyErr *dbus.MethodReplyError
	if !asMethodReplyError(err, &replyErr) {
		t.Fatalf("error = %v (%T), want *dbus.MethodReplyError", err, err)
	}
	if replyErr.Name != "org.freedesktop.DBus.Error.Failed" {
		t.Errorf("error name = %q", replyErr.Name)
	}
}

func TestCallUnknownMethod(t *testing.T) {
	bus := conntest.New(t)
	ctx := context.Background()
	conn := bus.Dial(ctx)

	_, err := conn.Call(ctx, "com.example.Service", "/com/example/Object", "com.example.Greeter", "Missing", "", nil)
	if err == nil {
		t.Fatal("expected an error")
	}
}

func TestCallRespectsContextCancellation(t *testing.T) {
	bus := conntest.New(t)
	// A handler that never returns, so the fake bus never answers
	// non-Hello calls and the call can only end through its context.
	bus.Handle(func(m *dbus.Message) ([]any, string, error) {
		select {}
	})

	ctx := context.Background()
	conn := bus.Dial(ctx)

	callCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()

	_, err := conn.Call(callCtx, "com.example.Service", "/com/example/Object", "com.example.Greeter", "Stuck", "", nil)
	if err != context.DeadlineExceeded {
		t.Errorf("err = %v, want context.DeadlineExceeded", err)
	}
}

func TestHandleServesIncomingCalls(t *testing.T) {
	bus := conntest.New(t)
	ctx := context.Background()
	server := bus.Dial(ctx)
	client := bus.Dial(ctx)

	server.Handle("com.example.Echo", "Say", func(ctx context.Context, call *dbus.Message) ([]any, string, error) {
		return call.Body, call.Signature, nil
	})

	reply, err := client.Call(ctx, server.LocalName(), "/com/example/Object", "com.example.Echo", "Say", "s", []any{"ping"})
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if reply.Body[0] != "ping" {
		t.Errorf("reply body = %v", reply.Body)
	}
}

func TestWatchReceivesMatchingSignals(t *testing.T) {
	bus := conntest.New(t)
	ctx := context.Background()
	conn := bus.Dial(ctx)

	w, err := conn.Watch(dbus.SignalFilter{Interface: "com.example.Notifier", Member: "Changed"})
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	defer w.Close()

	if err := bus.Broadcast("/com/example/Object", "com.example.Other", "Ignored", "", nil); err != nil {
		t.Fatalf("Broadcast failed: %v", err)
	}
	if err := bus.Broadcast("/com/example/Object", "com.example.Notifier", "Changed", "s", []any{"new value"}); err != nil {
		t.Fatalf("Broadcast failed: %v", err)
	}

	select {
	case n := <-w.Chan():
		if n.Member != "Changed" || n.Body[0] != "new value" {
			t.Errorf("unexpected notification: %+v", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for signal")
	}
}

func TestWatcherCloseStopsDelivery(t *testing.T) {
	bus := conntest.New(t)
	ctx := context.Background()
	conn := bus.Dial(ctx)

	w, err := conn.Watch(dbus.SignalFilter{})
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	w.Close()

	if _, ok := <-w.Chan(); ok {
		t.Error("expected Chan() to be closed after Close")
	}
}

func TestCloseFailsPendingCalls(t *testing.T) {
	bus := conntest.New(t)
	bus.Handle(func(m *dbus.Message) ([]any, string, error) {
		select {}
	})

	ctx := context.Background()
	conn := bus.Dial(ctx)

	done := make(chan error, 1)
	go func() {
		_, err := conn.Call(ctx, "com.example.Service", "/com/example/Object", "com.example.Greeter", "Stuck", "", nil)
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	conn.Close()

	select {
	case err := <-done:
		if err == nil {
			t.Error("expected an error from the in-flight call after Close")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for pending call to fail")
	}
}

func asMethodReplyError(err error, target **dbus.MethodReplyError) bool {
	if e, ok := err.(*dbus.MethodReplyError); ok {
		*target = e
		return true
	}
	return false
}
