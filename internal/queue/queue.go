// Package queue implements the Admission Queue (C7): an ordered
// wait-list a gateway falls back to when a realm is over its configured
// slot ceiling (§4.7). Entries are held until a slot frees up, with
// periodic "you are at position N" broadcasts while waiting.
//
// Grounded on the teacher's internal/spawn.RespawnTaskManager: a
// mutex-protected map driven by a single ticker goroutine, with
// callbacks dispatched outside the lock to avoid reentrant deadlocks
// with the caller (here, the gateway's per-connection state machine).
package queue

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// ClientRef identifies a queued client; entries compare by this value
// (§3 Client Reference).
type ClientRef interface {
	comparable
}

// OnUpdate is invoked with the 1-based queue position whenever the
// queue broadcasts (on enqueue, and on each dirty tick).
type OnUpdate func(position int)

// OnLeave is invoked exactly once when a slot frees and this entry is
// released (FreeSlot), never on Dequeue.
type OnLeave func()

type entry[C ClientRef] struct {
	client   C
	priority int
	seq      int64
	onUpdate OnUpdate
	onLeave  OnLeave
}

// Queue is an ordered wait-list, stable by descending priority then
// insertion order (§3 Queue Entry). The zero value is not usable; use
// New.
type Queue[C ClientRef] struct {
	broadcastEvery time.Duration

	mu      sync.Mutex
	entries []*entry[C]
	byRef   map[C]*entry[C]
	dirty   bool
	nextSeq int64
	running bool
}

// New returns an empty Queue that broadcasts positions at broadcastEvery
// intervals while non-empty and dirty (§4.7: "Timer fires every 250
// ms").
func New[C ClientRef](broadcastEvery time.Duration) *Queue[C] {
	return &Queue[C]{
		broadcastEvery: broadcastEvery,
		byRef:          make(map[C]*entry[C]),
	}
}

// Run drives the broadcast ticker until ctx is cancelled. It blocks and
// must be started once per Queue, typically in its own goroutine.
func (q *Queue[C]) Run(ctx context.Context) {
	ticker := time.NewTicker(q.broadcastEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.broadcastIfDirty()
		}
	}
}

// Enqueue inserts client with the given priority (higher admitted
// sooner) and callbacks. A client already queued is repositioned: its
// old entry is replaced. Position is broadcast immediately on enqueue
// (the Open Question on immediate-vs-next-tick position reporting is
// decided in favor of immediate feedback).
func (q *Queue[C]) Enqueue(client C, onUpdate OnUpdate, onLeave OnLeave, priority int) {
	q.mu.Lock()
	if old, exists := q.byRef[client]; exists {
		q.removeLocked(old)
	}
	e := &entry[C]{client: client, priority: priority, seq: q.nextSeq, onUpdate: onUpdate, onLeave: onLeave}
	q.nextSeq++
	q.entries = append(q.entries, e)
	q.byRef[client] = e
	q.sortLocked()
	snapshot := q.snapshotLocked()
	q.dirty = false
	q.mu.Unlock()

	q.broadcast(snapshot)
	slog.Debug("queue: enqueued", "priority", priority, "size", len(snapshot))
}

// Dequeue removes client without invoking on_leave (the caller
// disconnected or cancelled, rather than being admitted).
func (q *Queue[C]) Dequeue(client C) {
	q.mu.Lock()
	e, exists := q.byRef[client]
	if exists {
		q.removeLocked(e)
	}
	q.mu.Unlock()
	if exists {
		slog.Debug("queue: dequeued")
	}
}

// FreeSlot pops the front entry, if any, and invokes its on_leave
// callback outside the lock (§4.7).
func (q *Queue[C]) FreeSlot() {
	q.mu.Lock()
	if len(q.entries) == 0 {
		q.mu.Unlock()
		return
	}
	front := q.entries[0]
	q.removeLocked(front)
	q.mu.Unlock()

	if front.onLeave != nil {
		front.onLeave()
	}
	slog.Debug("queue: slot freed")
}

// Len reports the current queue depth.
func (q *Queue[C]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

func (q *Queue[C]) removeLocked(e *entry[C]) {
	for i, cur := range q.entries {
		if cur == e {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			break
		}
	}
	delete(q.byRef, e.client)
	q.dirty = true
}

func (q *Queue[C]) sortLocked() {
	sort.SliceStable(q.entries, func(i, j int) bool {
		if q.entries[i].priority != q.entries[j].priority {
			return q.entries[i].priority > q.entries[j].priority
		}
		return q.entries[i].seq < q.entries[j].seq
	})
}

type callback struct {
	fn       OnUpdate
	position int
}

func (q *Queue[C]) snapshotLocked() []callback {
	out := make([]callback, 0, len(q.entries))
	for i, e := range q.entries {
		if e.onUpdate != nil {
			out = append(out, callback{fn: e.onUpdate, position: i + 1})
		}
	}
	return out
}

func (q *Queue[C]) broadcast(calls []callback) {
	for _, c := range calls {
		c.fn(c.position)
	}
}

func (q *Queue[C]) broadcastIfDirty() {
	q.mu.Lock()
	if !q.dirty || len(q.entries) == 0 {
		q.mu.Unlock()
		return
	}
	snapshot := q.snapshotLocked()
	q.dirty = false
	q.mu.Unlock()

	q.broadcast(snapshot)
}
