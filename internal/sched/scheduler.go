// Package sched decodes pages on a fixed pool of background workers.
//
// Requests are deduplicated per page: while a page has a live ticket, new
// requests join it and may only raise its priority. A page never has more
// than one decode running, including decodes left over from cancelled
// tickets or from a previous archive generation; a newer ticket for the same
// page waits until the old decode returns.
//
// Completed pages are inserted into a cache.PageCache under the scheduler
// lock, and the ticket is retired in the same critical section, so Request
// always sees a page as either in flight or cached.
package sched

import (
	"container/heap"
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/gogpu/pagepipe/internal/cache"
	"github.com/gogpu/pagepipe/internal/image"
)

// Source yields raw page bytes. *archive.Archive implements it.
type Source interface {
	ReadPage(i int) ([]byte, error)
}

// DecodeFunc turns page bytes into a decoded page.
type DecodeFunc func(ctx context.Context, data []byte) (*image.Page, error)

// Config configures a Scheduler.
type Config struct {
	// Workers is the pool size. Zero or negative means GOMAXPROCS-1,
	// at least 1.
	Workers int

	// Decode decodes page bytes. Nil uses image.Decode with default options.
	Decode DecodeFunc

	// OnReady, when set, is called outside all locks after a page has been
	// inserted into the cache.
	OnReady func(page int)
}

// DefaultWorkers returns GOMAXPROCS-1, at least 1.
func DefaultWorkers() int {
	return max(1, runtime.GOMAXPROCS(0)-1)
}

// Scheduler runs page decodes in priority order.
//
// Thread safety: Scheduler is safe for concurrent use.
type Scheduler struct {
	pages   *cache.PageCache
	decode  DecodeFunc
	onReady func(int)
	workers int

	mu       sync.Mutex
	cond     *sync.Cond
	queue    ticketQueue
	inflight map[int]*Ticket // live ticket per page
	busy     map[int]*Ticket // ticket whose decode is running, per page
	blocked  map[int]*Ticket // popped ticket waiting for busy[page]
	src      Source
	gen      uint64
	seq      uint64
	closed   bool

	completed uint64
	failed    uint64
	discarded uint64

	wg sync.WaitGroup
}

// New creates a scheduler reading from src and filling pages. The workers
// start immediately. src may be nil until Reset attaches one.
func New(src Source, pages *cache.PageCache, cfg Config) *Scheduler {
	workers := cfg.Workers
	if workers <= 0 {
		workers = DefaultWorkers()
	}
	decode := cfg.Decode
	if decode == nil {
		decode = func(ctx context.Context, data []byte) (*image.Page, error) {
			return image.Decode(ctx, data, image.Options{})
		}
	}

	s := &Scheduler{
		pages:    pages,
		decode:   decode,
		onReady:  cfg.OnReady,
		workers:  workers,
		inflight: make(map[int]*Ticket),
		busy:     make(map[int]*Ticket),
		blocked:  make(map[int]*Ticket),
		src:      src,
	}
	s.cond = sync.NewCond(&s.mu)

	s.wg.Add(workers)
	for range workers {
		go s.worker()
	}
	return s
}

// Workers returns the pool size.
func (s *Scheduler) Workers() int { return s.workers }

// Generation returns the current archive generation.
func (s *Scheduler) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// Request asks for page i to be decoded at priority prio.
//
// If page i already has a live ticket, that ticket is returned with its
// priority raised to max(old, prio). If page i is cached, a completed ticket
// is returned. After Shutdown the returned ticket is cancelled with
// ErrShutdown.
func (s *Scheduler) Request(i int, prio Priority) *Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return finishedTicket(i, s.gen, StateCancelled, ErrShutdown)
	}

	if t, ok := s.inflight[i]; ok {
		if prio > t.Priority() {
			t.priority.Store(uint32(prio))
			if t.index >= 0 {
				heap.Fix(&s.queue, t.index)
			}
		}
		return t
	}

	if s.pages.Contains(i) {
		return finishedTicket(i, s.gen, StateDone, nil)
	}

	s.seq++
	t := newTicket(i, prio, s.gen, s.seq, s.src)
	s.inflight[i] = t
	heap.Push(&s.queue, t)
	s.cond.Signal()
	return t
}

// Lookup returns the live ticket for page i, if any.
func (s *Scheduler) Lookup(i int) (*Ticket, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.inflight[i]
	return t, ok
}

// Cancel withdraws t. A queued ticket is finished at once; a running decode
// is told to stop and its result is discarded. Final tickets are ignored.
func (s *Scheduler) Cancel(t *Ticket) {
	if t == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked(t)
}

func (s *Scheduler) cancelLocked(t *Ticket) {
	if t.State().Final() || t.cancelled {
		return
	}
	if s.inflight[t.page] == t {
		delete(s.inflight, t.page)
	}

	switch {
	case t.index >= 0:
		heap.Remove(&s.queue, t.index)
		t.finish(StateCancelled, ErrCancelled)
	case s.blocked[t.page] == t:
		delete(s.blocked, t.page)
		t.finish(StateCancelled, ErrCancelled)
	default:
		// Running: the worker finishes it on return.
		t.cancelled = true
		t.cancel()
	}
}

// Invalidate cancels the tickets of pages and removes them from the page
// cache. Use it when the bytes behind a page index change.
func (s *Scheduler) Invalidate(pages ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range pages {
		if t, ok := s.inflight[p]; ok {
			s.cancelLocked(t)
		}
		s.pages.Remove(p)
	}
}

// Reset starts a new archive generation reading from src. Every live ticket
// is cancelled and results of older generations are discarded. The page
// cache is not cleared.
func (s *Scheduler) Reset(src Source) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.gen++
	s.src = src
	for _, t := range s.inflight {
		s.cancelLocked(t)
	}
	s.inflight = make(map[int]*Ticket)

	slogger().Debug("sched: reset", "generation", s.gen)
}

// Shutdown refuses new requests, cancels queued work and waits for running
// decodes to return. Every ticket it withdraws finishes with ErrCancelled.
// It is safe to call more than once.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		for _, t := range s.inflight {
			s.cancelLocked(t)
		}
		for _, t := range s.blocked {
			s.cancelLocked(t)
		}
		s.inflight = make(map[int]*Ticket)
		s.cond.Broadcast()
	}
	s.mu.Unlock()

	s.wg.Wait()
	slogger().Debug("sched: shut down")
}

// worker is the main loop for each worker goroutine.
func (s *Scheduler) worker() {
	defer s.wg.Done()
	for {
		t := s.next()
		if t == nil {
			return
		}
		page, err := s.run(t)
		s.complete(t, page, err)
	}
}

// next blocks until a runnable ticket is available or the scheduler is
// closed, in which case it returns nil.
func (s *Scheduler) next() *Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			return nil
		}
		t := heap.Pop(&s.queue).(*Ticket)
		if _, running := s.busy[t.page]; running {
			s.blocked[t.page] = t
			continue
		}
		s.busy[t.page] = t
		t.state.Store(uint32(StateRunning))
		return t
	}
}

// run reads and decodes one page without holding any lock.
func (s *Scheduler) run(t *Ticket) (*image.Page, error) {
	if t.src == nil {
		return nil, ErrNoSource
	}
	data, err := t.src.ReadPage(t.page)
	if err != nil {
		return nil, err
	}
	if err := t.ctx.Err(); err != nil {
		return nil, err
	}
	page, err := s.decode(t.ctx, data)
	if err != nil {
		return nil, fmt.Errorf("decode page %d: %w", t.page, err)
	}
	return page, nil
}

// complete retires a ticket after its decode returned.
func (s *Scheduler) complete(t *Ticket, page *image.Page, err error) {
	s.mu.Lock()

	if s.busy[t.page] == t {
		delete(s.busy, t.page)
	}
	if b, ok := s.blocked[t.page]; ok {
		delete(s.blocked, t.page)
		if s.closed {
			b.finish(StateCancelled, ErrCancelled)
		} else {
			heap.Push(&s.queue, b)
			s.cond.Signal()
		}
	}
	if s.inflight[t.page] == t {
		delete(s.inflight, t.page)
	}

	ready := false
	switch {
	case t.cancelled || t.gen != s.gen || s.closed:
		s.discarded++
		t.finish(StateCancelled, ErrCancelled)
	case err != nil:
		s.failed++
		t.finish(StateFailed, err)
		slogger().Warn("sched: decode failed", "page", t.page, "err", err)
	default:
		s.completed++
		s.pages.Insert(t.page, page)
		t.finish(StateDone, nil)
		ready = true
	}
	s.mu.Unlock()

	if ready && s.onReady != nil {
		s.onReady(t.page)
	}
}

// Stats describes scheduler activity.
type Stats struct {
	Workers    int
	Queued     int
	Running    int
	Completed  uint64
	Failed     uint64
	Discarded  uint64
	Generation uint64
}

// String returns a short human-readable summary.
func (s Stats) String() string {
	return fmt.Sprintf("%d workers, %d queued, %d running, %d done, %d failed, %d discarded",
		s.Workers, s.Queued, s.Running, s.Completed, s.Failed, s.Discarded)
}

// Stats returns a snapshot of scheduler activity.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		Workers:    s.workers,
		Queued:     len(s.queue) + len(s.blocked),
		Running:    len(s.busy),
		Completed:  s.completed,
		Failed:     s.failed,
		Discarded:  s.discarded,
		Generation: s.gen,
	}
}
