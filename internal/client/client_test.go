package client

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/danmuck/chatrelay/internal/chat"
	"github.com/danmuck/chatrelay/internal/testutil/testlog"
)

func startRelay(t *testing.T) (*chat.Service, string, context.CancelFunc) {
	t.Helper()
	svc := chat.NewServiceWithConfig(chat.ServiceConfig{NodeID: "chatd.client-test", WriteTimeout: time.Second})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = svc.Serve(ctx, ln)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return svc, ln.Addr().String(), cancel
}

func dialAndJoin(t *testing.T, addr string, names []string, opts ...Option) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := Dial(ctx, addr, opts...)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	if _, err := c.Negotiate(ctx, Names(names...)); err != nil {
		t.Fatalf("negotiate %v failed: %v", names, err)
	}
	return c
}

func waitSinks(t *testing.T, svc *chat.Service, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(svc.Registry().SnapshotSinks()) == n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d sinks", n)
}

func expectMessage(t *testing.T, c *Client, want string) {
	t.Helper()
	select {
	case got, ok := <-c.Messages():
		if !ok {
			t.Fatalf("messages closed early: %v", c.Err())
		}
		if got != want {
			t.Fatalf("unexpected message got=%q want=%q", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %q", want)
	}
}

func TestClientNegotiateAndRelay(t *testing.T) {
	testlog.Start(t)
	svc, addr, _ := startRelay(t)

	alice := dialAndJoin(t, addr, []string{"alice"})
	bob := dialAndJoin(t, addr, []string{"alice", "bob"})
	if alice.Handle() != "alice" || bob.Handle() != "bob" {
		t.Fatalf("unexpected handles alice=%q bob=%q", alice.Handle(), bob.Handle())
	}
	waitSinks(t, svc, 2)

	if err := alice.Send("hello"); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	expectMessage(t, alice, "alice: hello")
	expectMessage(t, bob, "alice: hello")

	if err := alice.Whisper("bob", "psst"); err != nil {
		t.Fatalf("whisper failed: %v", err)
	}
	expectMessage(t, bob, "[Whisper from alice]: psst")
}

func TestClientTimestamps(t *testing.T) {
	testlog.Start(t)
	svc, addr, _ := startRelay(t)
	fixed := time.Date(2024, 1, 2, 13, 4, 5, 0, time.UTC)

	alice := dialAndJoin(t, addr, []string{"alice"}, WithTimestamps(), WithClock(func() time.Time { return fixed }))
	bob := dialAndJoin(t, addr, []string{"bob"})
	waitSinks(t, svc, 2)

	if err := alice.Send("hi"); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	expectMessage(t, bob, "alice: hi [13:04:05]")
}

func TestClientNamesExhausted(t *testing.T) {
	testlog.Start(t)
	_, addr, _ := startRelay(t)
	dialAndJoin(t, addr, []string{"alice"})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := Dial(ctx, addr)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer c.Close()
	if _, err := c.Negotiate(ctx, Names("alice")); !errors.Is(err, ErrNoMoreNames) {
		t.Fatalf("expected ErrNoMoreNames, got %v", err)
	}
}

func TestClientNegotiateHonorsContext(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			defer conn.Close()
			time.Sleep(time.Second)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	c, err := Dial(ctx, ln.Addr().String())
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer c.Close()
	if _, err := c.Negotiate(ctx, Names("alice")); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestClientMessagesCloseOnShutdown(t *testing.T) {
	testlog.Start(t)
	_, addr, cancel := startRelay(t)
	alice := dialAndJoin(t, addr, []string{"alice"})

	cancel()
	select {
	case _, ok := <-alice.Messages():
		if ok {
			t.Fatalf("expected closed channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("messages did not close after shutdown")
	}
	if alice.Err() == nil {
		t.Fatalf("expected read error after shutdown")
	}
}

func TestClientSendRejectsMultiline(t *testing.T) {
	testlog.Start(t)
	server, conn := net.Pipe()
	defer server.Close()
	c := NewClient(conn)
	defer c.Close()
	if err := c.Send("one\ntwo"); !errors.Is(err, ErrMultilineText) {
		t.Fatalf("expected ErrMultilineText, got %v", err)
	}
}

func TestClientSendAfterClose(t *testing.T) {
	testlog.Start(t)
	server, conn := net.Pipe()
	defer server.Close()
	c := NewClient(conn)
	if err := c.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	_ = c.Close()
	if err := c.Send("late"); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if _, ok := <-c.Messages(); ok {
		t.Fatalf("messages must be closed")
	}
}
