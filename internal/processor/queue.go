package processor

import (
	"fmt"

	"github.com/tendant/simple-proxyprep/internal/img"
)

// Priority orders queued work. High is always drained before Low.
type Priority int

const (
	Low Priority = iota
	High
)

func (p Priority) String() string {
	switch p {
	case Low:
		return "low"
	case High:
		return "high"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

type task struct {
	message  img.Message
	priority Priority
	future   *Future
}

func (t *task) key() string { return t.message.ContentKey }

type taskQueue []*task

func (q *taskQueue) Len() int { return len(*q) }

func (q *taskQueue) PushBack(t *task) { *q = append(*q, t) }

func (q *taskQueue) PushFront(t *task) {
	*q = append(*q, nil)
	copy((*q)[1:], *q)
	(*q)[0] = t
}

func (q *taskQueue) PopFront() *task {
	old := *q
	if len(old) == 0 {
		return nil
	}
	t := old[0]
	old[0] = nil
	*q = old[1:]
	return t
}

// Remove takes out the first task queued under key.
func (q *taskQueue) Remove(key string) *task {
	for i, t := range *q {
		if t.key() == key {
			*q = append((*q)[:i], (*q)[i+1:]...)
			return t
		}
	}
	return nil
}

// RemoveAll takes out every task queued under key.
func (q *taskQueue) RemoveAll(key string) []*task {
	var removed []*task
	kept := (*q)[:0]
	for _, t := range *q {
		if t.key() == key {
			removed = append(removed, t)
			continue
		}
		kept = append(kept, t)
	}
	for i := len(kept); i < len(*q); i++ {
		(*q)[i] = nil
	}
	*q = kept
	return removed
}

// Drain empties the queue and returns what it held.
func (q *taskQueue) Drain() []*task {
	tasks := *q
	*q = nil
	return tasks
}

type queuePair struct {
	high taskQueue
	low  taskQueue
}

func (qp *queuePair) of(p Priority) *taskQueue {
	if p == High {
		return &qp.high
	}
	return &qp.low
}

func (qp *queuePair) push(t *task) { qp.of(t.priority).PushBack(t) }

// requeue puts t back at the front of its own queue, preserving the order of
// same-priority tasks after a failed dispatch attempt.
func (qp *queuePair) requeue(t *task) { qp.of(t.priority).PushFront(t) }

func (qp *queuePair) pick() *task {
	if t := qp.high.PopFront(); t != nil {
		return t
	}
	return qp.low.PopFront()
}
