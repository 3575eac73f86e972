package queue

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestQueue_PriorityOrder_FreeSlotDequeuesHighestFirst(t *testing.T) {
	q := New[string](time.Hour)

	var released []string
	var mu sync.Mutex
	onLeave := func(name string) OnLeave {
		return func() {
			mu.Lock()
			released = append(released, name)
			mu.Unlock()
		}
	}

	// C1 priority 5, C2 priority 1, C3 priority 5 enqueued in this order;
	// stable ordering means C1 (seq 0) precedes C3 (seq 2) despite equal
	// priority, and both precede C2 (lower priority).
	q.Enqueue("C1", nil, onLeave("C1"), 5)
	q.Enqueue("C2", nil, onLeave("C2"), 1)
	q.Enqueue("C3", nil, onLeave("C3"), 5)

	q.FreeSlot()
	q.FreeSlot()
	q.FreeSlot()

	mu.Lock()
	defer mu.Unlock()
	want := []string{"C1", "C3", "C2"}
	if len(released) != len(want) {
		t.Fatalf("released = %v, want %v", released, want)
	}
	for i := range want {
		if released[i] != want[i] {
			t.Fatalf("released = %v, want %v", released, want)
		}
	}
}

func TestQueue_Enqueue_BroadcastsImmediatePosition(t *testing.T) {
	q := New[string](time.Hour)

	posCh := make(chan int, 1)
	q.Enqueue("solo", func(pos int) { posCh <- pos }, nil, 0)

	select {
	case pos := <-posCh:
		if pos != 1 {
			t.Fatalf("position = %d, want 1", pos)
		}
	case <-time.After(time.Second):
		t.Fatal("no immediate position broadcast on enqueue")
	}
}

func TestQueue_DirtyTick_BroadcastsCurrentPositions(t *testing.T) {
	q := New[string](50 * time.Millisecond)

	posA := make(chan int, 4)
	posB := make(chan int, 4)
	q.Enqueue("A", func(pos int) { posA <- pos }, nil, 1)
	q.Enqueue("B", func(pos int) { posB <- pos }, nil, 1)
	<-posA
	<-posB

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	q.Dequeue("A") // marks dirty; only B should remain and move to position 1

	select {
	case pos := <-posB:
		if pos != 1 {
			t.Fatalf("B position after A left = %d, want 1", pos)
		}
	case <-time.After(time.Second):
		t.Fatal("no dirty-tick broadcast observed")
	}
}

func TestQueue_FreeSlot_OnEmptyQueueIsNoOp(t *testing.T) {
	q := New[string](time.Hour)
	q.FreeSlot() // must not panic
	if q.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", q.Len())
	}
}

func TestQueue_Dequeue_DoesNotInvokeOnLeave(t *testing.T) {
	q := New[string](time.Hour)
	called := false
	q.Enqueue("only", nil, func() { called = true }, 0)
	q.Dequeue("only")
	if called {
		t.Fatal("Dequeue invoked on_leave")
	}
	if q.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", q.Len())
	}
}

func TestQueue_Reenqueue_RepositionsExistingEntry(t *testing.T) {
	q := New[string](time.Hour)
	q.Enqueue("A", nil, nil, 0)
	q.Enqueue("B", nil, nil, 0)
	q.Enqueue("A", nil, nil, 10) // re-enqueue with higher priority

	if q.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", q.Len())
	}

	var order []string
	q.mu.Lock()
	for _, e := range q.entries {
		order = append(order, e.client)
	}
	q.mu.Unlock()
	if len(order) != 2 || order[0] != "A" {
		t.Fatalf("order = %v, want A first after re-enqueue with higher priority", order)
	}
}
