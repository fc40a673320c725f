package processor

import (
	"testing"

	"github.com/tendant/simple-proxyprep/internal/img"
)

func newTask(key string, p Priority) *task {
	return &task{message: img.Message{ContentKey: key}, priority: p, future: newFuture(key)}
}

func queueKeys(q taskQueue) []string {
	keys := make([]string, 0, len(q))
	for _, t := range q {
		keys = append(keys, t.key())
	}
	return keys
}

func TestQueuePairPicksHighFirst(t *testing.T) {
	var qp queuePair
	qp.push(newTask("l1", Low))
	qp.push(newTask("h1", High))
	qp.push(newTask("l2", Low))
	qp.push(newTask("h2", High))

	var got []string
	for tk := qp.pick(); tk != nil; tk = qp.pick() {
		got = append(got, tk.key())
	}
	want := []string{"h1", "h2", "l1", "l2"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestRequeueGoesToFrontOfOwnQueue(t *testing.T) {
	var qp queuePair
	qp.push(newTask("l1", Low))
	qp.push(newTask("l2", Low))

	first := qp.pick()
	qp.requeue(first)

	if keys := queueKeys(qp.low); keys[0] != "l1" || keys[1] != "l2" {
		t.Fatalf("order not preserved after requeue: %v", keys)
	}
	if qp.high.Len() != 0 {
		t.Fatalf("requeue leaked into high queue")
	}
}

func TestRemoveAndRemoveAll(t *testing.T) {
	q := taskQueue{newTask("a", Low), newTask("b", Low), newTask("a", Low), newTask("c", Low)}

	if got := q.Remove("b"); got == nil || got.key() != "b" {
		t.Fatalf("Remove(b) = %v", got)
	}
	if got := q.Remove("missing"); got != nil {
		t.Fatalf("Remove(missing) = %v", got)
	}

	removed := q.RemoveAll("a")
	if len(removed) != 2 {
		t.Fatalf("RemoveAll(a) removed %d tasks", len(removed))
	}
	if keys := queueKeys(q); len(keys) != 1 || keys[0] != "c" {
		t.Fatalf("unexpected remainder: %v", keys)
	}

	drained := q.Drain()
	if len(drained) != 1 || q.Len() != 0 {
		t.Fatalf("Drain left %d tasks, returned %d", q.Len(), len(drained))
	}
	if q.PopFront() != nil {
		t.Fatal("PopFront on empty queue should return nil")
	}
}
