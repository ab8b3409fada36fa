package engine

import (
	"sync"
	"time"

	"github.com/quietgrid/sheetsync/internal/draft"
	"github.com/quietgrid/sheetsync/internal/steps"
	"github.com/quietgrid/sheetsync/internal/transport"
)

// cmdKind distinguishes command kinds on the engine's queue.
type cmdKind int

const (
	cmdOpenDraft cmdKind = iota + 1
	cmdUpdateDraft
	cmdCommitDraft
	cmdCloseDraft
	cmdFlush
	cmdEditResult
	cmdViewHistory
	cmdUndo
	cmdRedo
	cmdFastForward
	cmdTruncate
	cmdResync
)

// command is one unit of work for the run loop. Exactly the fields for its
// kind are set.
type command struct {
	kind cmdKind

	stepID string
	index  int
	params steps.Params
	patch  draft.Patch
	window time.Duration

	snapshot draft.Draft

	// edit result fields
	generation int64
	result     *transport.EditResult
	err        error
}

// commandQueue is a thread-safe FIFO queue for engine commands.
//
// The queue is unbounded: flush timers and transport goroutines must be
// able to enqueue without blocking. External enqueuing is thread-safe while
// the run loop dequeues.
//
// A buffered signal channel (size 1) coalesces wakeups and enables
// context-aware waiting in the run loop.
type commandQueue struct {
	mu       sync.Mutex
	commands []command
	closed   bool
	signal   chan struct{}
}

func newCommandQueue() *commandQueue {
	return &commandQueue{
		commands: make([]command, 0, 64),
		signal:   make(chan struct{}, 1),
	}
}

// Enqueue adds a command to the back of the queue.
// Returns false if the queue is closed.
func (q *commandQueue) Enqueue(c command) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.commands = append(q.commands, c)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue attempts to dequeue without blocking.
func (q *commandQueue) TryDequeue() (command, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.commands) == 0 {
		return command{}, false
	}
	c := q.commands[0]

	// Nil out the slot so the command's pointers (params, result) don't
	// outlive their dequeue.
	q.commands[0] = command{}
	if len(q.commands) == 1 {
		q.commands = q.commands[:0]
	} else {
		q.commands = q.commands[1:]
	}
	return c, true
}

// Wait returns a channel that signals when commands may be available.
func (q *commandQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *commandQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.commands)
}

// Close signals that no more commands will be enqueued.
// Wakes any blocked waiters by closing the signal channel.
func (q *commandQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
