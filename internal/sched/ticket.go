package sched

import (
	"context"
	"errors"
	"sync/atomic"
)

// Scheduler errors.
var (
	// ErrCancelled is the error of a ticket cancelled before its result was
	// inserted into the page cache, including tickets withdrawn by Shutdown.
	ErrCancelled = errors.New("sched: cancelled")

	// ErrShutdown is the error of tickets requested after Shutdown. Tickets
	// accepted before Shutdown never carry it.
	ErrShutdown = errors.New("sched: shut down")

	// ErrNoSource is returned when no page source is attached.
	ErrNoSource = errors.New("sched: no page source")
)

// Priority orders pending decodes. Higher values run first.
type Priority uint32

// Priorities, lowest first.
const (
	Background Priority = iota
	Prefetch
	Visible
)

// String returns the priority name.
func (p Priority) String() string {
	switch p {
	case Background:
		return "background"
	case Prefetch:
		return "prefetch"
	case Visible:
		return "visible"
	default:
		return "unknown"
	}
}

// State is the lifecycle stage of a ticket.
type State uint32

// Ticket states. Done, Failed and Cancelled are final.
const (
	StateQueued State = iota
	StateRunning
	StateDone
	StateFailed
	StateCancelled
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateQueued:
		return "queued"
	case StateRunning:
		return "running"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Final reports whether the state is terminal.
func (s State) Final() bool {
	return s >= StateDone
}

// Ticket identifies one decode of one page. Tickets are created by
// Scheduler.Request; the zero value is not usable.
type Ticket struct {
	page int
	gen  uint64
	seq  uint64
	src  Source

	// Written under Scheduler.mu, readable without it.
	priority atomic.Uint32
	state    atomic.Uint32

	// Guarded by Scheduler.mu.
	cancelled bool
	index     int // position in the queue, -1 when not queued

	ctx    context.Context
	cancel context.CancelFunc

	err  error // set before done is closed
	done chan struct{}
}

func newTicket(page int, prio Priority, gen, seq uint64, src Source) *Ticket {
	ctx, cancel := context.WithCancel(context.Background())
	t := &Ticket{
		page:   page,
		gen:    gen,
		seq:    seq,
		src:    src,
		index:  -1,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	t.priority.Store(uint32(prio))
	return t
}

// finishedTicket returns a ticket already in a final state.
func finishedTicket(page int, gen uint64, state State, err error) *Ticket {
	t := newTicket(page, Background, gen, 0, nil)
	t.finish(state, err)
	return t
}

// finish moves the ticket to a final state. Caller must hold Scheduler.mu
// or own the ticket exclusively.
func (t *Ticket) finish(state State, err error) {
	t.err = err
	t.state.Store(uint32(state))
	t.cancel()
	close(t.done)
}

// Page returns the page index.
func (t *Ticket) Page() int { return t.page }

// Generation returns the archive generation the ticket belongs to.
func (t *Ticket) Generation() uint64 { return t.gen }

// Priority returns the current priority.
func (t *Ticket) Priority() Priority { return Priority(t.priority.Load()) }

// State returns the current state.
func (t *Ticket) State() State { return State(t.state.Load()) }

// Done returns a channel closed when the ticket reaches a final state.
func (t *Ticket) Done() <-chan struct{} { return t.done }

// Err returns the failure or cancellation cause once the ticket is final,
// and nil before that or on success.
func (t *Ticket) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Wait blocks until the ticket is final or ctx is done.
func (t *Ticket) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ticketQueue is a max-heap on priority, FIFO within a priority.
// It implements container/heap.Interface.
type ticketQueue []*Ticket

func (q ticketQueue) Len() int { return len(q) }

func (q ticketQueue) Less(i, j int) bool {
	pi, pj := q[i].Priority(), q[j].Priority()
	if pi != pj {
		return pi > pj
	}
	return q[i].seq < q[j].seq
}

func (q ticketQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *ticketQueue) Push(x any) {
	t := x.(*Ticket)
	t.index = len(*q)
	*q = append(*q, t)
}

func (q *ticketQueue) Pop() any {
	old := *q
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*q = old[:n-1]
	return t
}
