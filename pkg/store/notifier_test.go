package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestRedisNotifierDeliversToSubscriber(t *testing.T) {
	mr := miniredis.RunT(t)
	n, err := NewRedisNotifier(mr.Addr(), "", 0, "test")
	if err != nil {
		t.Fatalf("NewRedisNotifier: %v", err)
	}

	ctx, cancelCtx := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelCtx()

	ch, cancel, err := n.Subscribe(ctx, "u1")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer cancel()

	want := Change{Type: ChangeCreated, BookID: "b1"}
	if err := n.Publish(ctx, "u1", want); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case got := <-ch:
		if got != want {
			t.Fatalf("got %+v, want %+v", got, want)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for change")
	}
}

func TestRedisNotifierIsolatesUsers(t *testing.T) {
	mr := miniredis.RunT(t)
	n, err := NewRedisNotifier(mr.Addr(), "", 0, "test")
	if err != nil {
		t.Fatalf("NewRedisNotifier: %v", err)
	}

	ctx, cancelCtx := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelCtx()

	ch, cancel, err := n.Subscribe(ctx, "u1")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer cancel()

	if err := n.Publish(ctx, "u2", Change{Type: ChangeDeleted, BookID: "x"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case got := <-ch:
		t.Fatalf("received change for another user: %+v", got)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestMemoryNotifierFanOut(t *testing.T) {
	n := NewMemoryNotifier()
	ctx, cancelCtx := context.WithCancel(context.Background())
	defer cancelCtx()

	ch1, cancel1, _ := n.Subscribe(ctx, "u1")
	ch2, cancel2, _ := n.Subscribe(ctx, "u1")
	defer cancel1()
	defer cancel2()

	want := Change{Type: ChangeUpdated, BookID: "b1"}
	if err := n.Publish(ctx, "u1", want); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	for _, ch := range []<-chan Change{ch1, ch2} {
		select {
		case got := <-ch:
			if got != want {
				t.Fatalf("got %+v", got)
			}
		case <-time.After(time.Second):
			t.Fatal("missing fan-out delivery")
		}
	}
}
