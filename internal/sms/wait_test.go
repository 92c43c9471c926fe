package sms

import (
	"context"
	"testing"
	"time"
)

func TestFilterMatches(t *testing.T) {
	msg := Message{Sender: "Acme Bank", Body: "Your code is 482913"}
	cases := []struct {
		filter Filter
		want   bool
	}{
		{Filter{}, true},
		{Filter{Sender: "acme"}, true},
		{Filter{Sender: "other"}, false},
		{Filter{Contains: "CODE IS"}, true},
		{Filter{Contains: "password"}, false},
		{Filter{HasCode: true}, true},
		{Filter{Sender: "acme", Contains: "code", HasCode: true}, true},
	}
	for _, tc := range cases {
		if got := tc.filter.Matches(msg); got != tc.want {
			t.Errorf("Matches(%+v) = %t, want %t", tc.filter, got, tc.want)
		}
	}
	if (Filter{HasCode: true}).Matches(Message{Body: "hello"}) {
		t.Error("HasCode matched a body without a code")
	}
}

func TestWaitForReturnsExistingMatch(t *testing.T) {
	store := NewStore(10)
	store.Insert(Message{ID: "a", Sender: "Bank", Body: "code 1234", Timestamp: time.Now()})
	waiter := NewWaiter(store, 0)

	start := time.Now()
	msg, ok := waiter.WaitFor(context.Background(), Filter{Sender: "bank"}, 2*time.Second)
	if !ok || msg.ID != "a" {
		t.Fatalf("WaitFor = %+v, %t", msg, ok)
	}
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Fatalf("existing match took %s, expected an immediate return", elapsed)
	}
}

func TestWaitForTimesOut(t *testing.T) {
	store := NewStore(10)
	waiter := NewWaiter(store, 0)

	start := time.Now()
	_, ok := waiter.WaitFor(context.Background(), Filter{Sender: "nobody"}, 300*time.Millisecond)
	elapsed := time.Since(start)
	if ok {
		t.Fatal("WaitFor matched with no messages")
	}
	if elapsed < 300*time.Millisecond {
		t.Fatalf("returned after %s, before the timeout", elapsed)
	}
	if elapsed > time.Second {
		t.Fatalf("returned after %s, materially later than the timeout", elapsed)
	}
}

func TestWaitForWakesOnInsert(t *testing.T) {
	store := NewStore(10)
	waiter := NewWaiter(store, 0)

	go func() {
		time.Sleep(100 * time.Millisecond)
		store.Insert(Message{ID: "late", Sender: "Bank", Body: "code 1234", Timestamp: time.Now()})
	}()

	start := time.Now()
	msg, ok := waiter.WaitFor(context.Background(), Filter{Sender: "bank"}, 5*time.Second)
	if !ok || msg.ID != "late" {
		t.Fatalf("WaitFor = %+v, %t", msg, ok)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("woke after %s, expected well under the timeout", elapsed)
	}
}

func TestWaitForIgnoresStaleArrivals(t *testing.T) {
	store := NewStore(10)
	waiter := NewWaiter(store, 60*time.Second)

	// A matching message whose timestamp predates the wait by more than the
	// freshness window arrives while the waiter is suspended; it must not
	// satisfy the wait.
	go func() {
		time.Sleep(50 * time.Millisecond)
		store.Insert(Message{
			ID:        "stale",
			Sender:    "Bank",
			Body:      "code 1234",
			Timestamp: time.Now().Add(-2 * time.Minute),
		})
	}()

	_, ok := waiter.WaitFor(context.Background(), Filter{Sender: "bank"}, 300*time.Millisecond)
	if ok {
		t.Fatal("stale arrival satisfied the wait")
	}
}

func TestWaitForConcurrentWaiters(t *testing.T) {
	store := NewStore(10)
	waiter := NewWaiter(store, 0)

	results := make(chan string, 2)
	for i := 0; i < 2; i++ {
		go func() {
			msg, ok := waiter.WaitFor(context.Background(), Filter{Contains: "shared"}, 5*time.Second)
			if !ok {
				results <- ""
				return
			}
			results <- msg.ID
		}()
	}

	time.Sleep(100 * time.Millisecond)
	store.Insert(Message{ID: "shared", Body: "shared payload", Timestamp: time.Now()})

	for i := 0; i < 2; i++ {
		select {
		case id := <-results:
			if id != "shared" {
				t.Fatalf("waiter %d got %q", i, id)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("waiter never returned")
		}
	}
}

func TestWaitForCancellation(t *testing.T) {
	store := NewStore(10)
	waiter := NewWaiter(store, 0)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	start := time.Now()
	_, ok := waiter.WaitFor(ctx, Filter{Sender: "nobody"}, 10*time.Second)
	if ok {
		t.Fatal("cancelled wait reported a match")
	}
	if time.Since(start) > time.Second {
		t.Fatal("cancellation did not unblock the wait")
	}
}
