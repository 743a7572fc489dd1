package actions

import (
	"context"
	"sync"
)

// Queue is the two-stage work queue of the pipeline: enqueued actions
// wait in the new stage until a worker takes one, which moves it to the
// in-progress stage until the worker reports done. Safe for concurrent
// producers; the take is atomic, so no two workers ever hold the same
// action.
type Queue struct {
	mu         sync.Mutex
	pending    []Action
	inProgress map[uint64]Action
	nextToken  uint64
	notify     chan struct{}
}

// QueueStats is a snapshot of queue depth for status surfaces.
type QueueStats struct {
	Pending    int
	InProgress int
}

func NewQueue() *Queue {
	return &Queue{
		inProgress: make(map[uint64]Action),
		notify:     make(chan struct{}, 1),
	}
}

// Enqueue appends an action to the new stage and wakes one waiting
// worker.
func (q *Queue) Enqueue(action Action) {
	q.mu.Lock()
	q.pending = append(q.pending, action)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Take blocks until an action is available or the context ends. The
// returned token identifies the in-progress entry and must be passed to
// Done when the action's effects have run.
func (q *Queue) Take(ctx context.Context) (Action, uint64, error) {
	for {
		q.mu.Lock()
		if len(q.pending) > 0 {
			action := q.pending[0]
			q.pending = q.pending[1:]
			q.nextToken++
			token := q.nextToken
			q.inProgress[token] = action
			remaining := len(q.pending)
			q.mu.Unlock()
			if remaining > 0 {
				// The notify channel carries at most one signal, so
				// re-arm it for the next waiting worker.
				select {
				case q.notify <- struct{}{}:
				default:
				}
			}
			return action, token, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return Action{}, 0, ctx.Err()
		case <-q.notify:
		}
	}
}

// Done removes a taken action from the in-progress stage.
func (q *Queue) Done(token uint64) {
	q.mu.Lock()
	delete(q.inProgress, token)
	q.mu.Unlock()
}

// Stats reports current queue depth.
func (q *Queue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{Pending: len(q.pending), InProgress: len(q.inProgress)}
}
