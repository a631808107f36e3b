package sched

import (
	"context"
	"errors"
	"math/rand"
	"runtime"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gogpu/pagepipe/internal/cache"
	"github.com/gogpu/pagepipe/internal/image"
)

var errRead = errors.New("read failed")

// fakeSource returns the page index as bytes.
type fakeSource struct {
	fail map[int]error
	tag  string
}

func (f fakeSource) ReadPage(i int) ([]byte, error) {
	if err := f.fail[i]; err != nil {
		return nil, err
	}
	return []byte(f.tag + strconv.Itoa(i)), nil
}

// recorder is a DecodeFunc that records calls and can block until released.
type recorder struct {
	gate    chan struct{} // nil means never block
	started chan int

	mu         sync.Mutex
	running    map[int]int
	maxRunning int
	order      []int
	calls      map[int]int
	sources    map[int]string
}

func newRecorder(block bool) *recorder {
	p := &recorder{
		started: make(chan int, 128),
		running: make(map[int]int),
		calls:   make(map[int]int),
		sources: make(map[int]string),
	}
	if block {
		p.gate = make(chan struct{})
	}
	return p
}

func (p *recorder) decode(ctx context.Context, data []byte) (*image.Page, error) {
	s := string(data)
	tag := ""
	for len(s) > 0 && (s[0] < '0' || s[0] > '9') {
		tag += s[:1]
		s = s[1:]
	}
	page, err := strconv.Atoi(s)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.running[page]++
	p.maxRunning = max(p.maxRunning, p.running[page])
	p.order = append(p.order, page)
	p.calls[page]++
	p.sources[page] = tag
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.running[page]--
		p.mu.Unlock()
	}()

	p.started <- page
	if p.gate != nil {
		select {
		case <-p.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return image.NewPage(1, 1, []byte{byte(page), 0, 0, 255}), nil
}

func (p *recorder) release() { close(p.gate) }

func (p *recorder) snapshot() (order []int, calls map[int]int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.order), func() map[int]int {
		m := make(map[int]int, len(p.calls))
		for k, v := range p.calls {
			m[k] = v
		}
		return m
	}()
}

func waitStarted(t *testing.T, p *recorder, want int) {
	t.Helper()
	select {
	case got := <-p.started:
		if got != want {
			t.Fatalf("started page %d, want %d", got, want)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("page %d never started", want)
	}
}

func waitFinal(t *testing.T, tk *Ticket) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = tk.Wait(ctx)
	if !tk.State().Final() {
		t.Fatalf("ticket for page %d not final: %v", tk.Page(), tk.State())
	}
}

func newScheduler(t *testing.T, workers int, p *recorder, src Source) (*Scheduler, *cache.PageCache) {
	t.Helper()
	pages := cache.NewPageCache(64, 0)
	s := New(src, pages, Config{Workers: workers, Decode: p.decode})
	t.Cleanup(s.Shutdown)
	return s, pages
}

// =============================================================================
// Request
// =============================================================================

func TestRequestDecodesIntoCache(t *testing.T) {
	p := newRecorder(false)
	pages := cache.NewPageCache(8, 0)
	var ready atomic.Int64
	ready.Store(-1)
	s := New(fakeSource{}, pages, Config{
		Workers: 2,
		Decode:  p.decode,
		OnReady: func(page int) { ready.Store(int64(page)) },
	})
	defer s.Shutdown()

	tk := s.Request(4, Visible)
	waitFinal(t, tk)

	if tk.State() != StateDone || tk.Err() != nil {
		t.Fatalf("State=%v Err=%v, want done", tk.State(), tk.Err())
	}
	got, ok := pages.Peek(4)
	if !ok || got.Pix[0] != 4 {
		t.Fatalf("page 4 not cached: %v %v", got, ok)
	}
	if ready.Load() != 4 {
		t.Errorf("OnReady page = %d, want 4", ready.Load())
	}
	if _, ok := s.Lookup(4); ok {
		t.Error("completed ticket still in flight")
	}

	again := s.Request(4, Visible)
	if again.State() != StateDone {
		t.Errorf("cached page request State = %v, want done", again.State())
	}
	select {
	case <-again.Done():
	default:
		t.Error("cached page ticket should already be done")
	}
}

func TestRequestDedup(t *testing.T) {
	p := newRecorder(true)
	s, _ := newScheduler(t, 1, p, fakeSource{})

	blocker := s.Request(0, Visible)
	waitStarted(t, p, 0)

	a := s.Request(3, Background)
	b := s.Request(3, Prefetch)
	if a != b {
		t.Fatal("second request should join the live ticket")
	}
	if a.Priority() != Prefetch {
		t.Errorf("Priority() = %v, want prefetch", a.Priority())
	}
	if c := s.Request(3, Background); c != a || a.Priority() != Prefetch {
		t.Error("lower priority request must not lower the ticket priority")
	}
	if blocker.State() != StateRunning {
		t.Errorf("blocker State = %v, want running", blocker.State())
	}

	p.release()
	waitFinal(t, a)
	_, calls := p.snapshot()
	if calls[3] != 1 {
		t.Errorf("page 3 decoded %d times, want 1", calls[3])
	}
}

func TestPriorityOrder(t *testing.T) {
	p := newRecorder(true)
	s, _ := newScheduler(t, 1, p, fakeSource{})

	s.Request(0, Visible)
	waitStarted(t, p, 0)

	reqs := []struct {
		page int
		prio Priority
	}{
		{1, Background},
		{2, Prefetch},
		{3, Visible},
		{4, Prefetch},
		{5, Background},
	}
	var last *Ticket
	for _, r := range reqs {
		last = s.Request(r.page, r.prio)
	}
	s.Request(5, Visible) // raise: 5 now runs before 2 and 4

	p.release()
	waitFinal(t, last)
	waitFinal(t, s.Request(1, Background))

	order, _ := p.snapshot()
	want := []int{0, 3, 5, 2, 4, 1}
	if !slices.Equal(order, want) {
		t.Errorf("decode order = %v, want %v", order, want)
	}
}

// =============================================================================
// Cancel
// =============================================================================

func TestCancelQueued(t *testing.T) {
	p := newRecorder(true)
	s, pages := newScheduler(t, 1, p, fakeSource{})

	s.Request(0, Visible)
	waitStarted(t, p, 0)

	tk := s.Request(1, Prefetch)
	s.Cancel(tk)
	if tk.State() != StateCancelled || !errors.Is(tk.Err(), ErrCancelled) {
		t.Fatalf("State=%v Err=%v, want cancelled", tk.State(), tk.Err())
	}
	s.Cancel(tk) // no-op on final tickets

	p.release()
	waitFinal(t, s.Request(2, Visible))

	_, calls := p.snapshot()
	if calls[1] != 0 {
		t.Error("cancelled queued ticket was decoded")
	}
	if pages.Contains(1) {
		t.Error("cancelled page cached")
	}
}

func TestCancelRunningDiscardsResult(t *testing.T) {
	p := newRecorder(true)
	s, pages := newScheduler(t, 1, p, fakeSource{})

	tk := s.Request(0, Visible)
	waitStarted(t, p, 0)
	s.Cancel(tk)

	waitFinal(t, tk)
	if tk.State() != StateCancelled {
		t.Errorf("State = %v, want cancelled", tk.State())
	}
	if pages.Contains(0) {
		t.Error("result of cancelled decode was cached")
	}
	if st := s.Stats(); st.Discarded != 1 {
		t.Errorf("Discarded = %d, want 1", st.Discarded)
	}
}

func TestRequestAfterCancelWaitsForRunningDecode(t *testing.T) {
	p := newRecorder(true)
	s, pages := newScheduler(t, 2, p, fakeSource{})

	old := s.Request(0, Visible)
	waitStarted(t, p, 0)
	s.Cancel(old)

	// The recorder honors ctx, so the old decode returns promptly; the new
	// ticket must still not overlap it.
	fresh := s.Request(0, Visible)
	if fresh == old {
		t.Fatal("cancelled ticket was reused")
	}
	waitFinal(t, old)
	waitStarted(t, p, 0)
	p.release()
	waitFinal(t, fresh)

	if fresh.State() != StateDone || !pages.Contains(0) {
		t.Errorf("fresh ticket State=%v cached=%v", fresh.State(), pages.Contains(0))
	}
	if p.maxRunning > 1 {
		t.Errorf("max concurrent decodes of one page = %d", p.maxRunning)
	}
}

// =============================================================================
// Failures, invalidation, generations
// =============================================================================

func TestFailureIsNotRetriedAutomatically(t *testing.T) {
	p := newRecorder(false)
	s, pages := newScheduler(t, 2, p, fakeSource{fail: map[int]error{5: errRead}})

	tk := s.Request(5, Visible)
	waitFinal(t, tk)
	if tk.State() != StateFailed || !errors.Is(tk.Err(), errRead) {
		t.Fatalf("State=%v Err=%v, want failed with errRead", tk.State(), tk.Err())
	}
	if pages.Contains(5) {
		t.Error("failed page cached")
	}
	if _, ok := s.Lookup(5); ok {
		t.Error("failed ticket still live")
	}

	retry := s.Request(5, Visible)
	if retry == tk {
		t.Fatal("explicit request should create a new ticket")
	}
	waitFinal(t, retry)
	if st := s.Stats(); st.Failed != 2 {
		t.Errorf("Failed = %d, want 2", st.Failed)
	}
}

func TestDecodeErrorWrapped(t *testing.T) {
	pages := cache.NewPageCache(4, 0)
	s := New(fakeSource{}, pages, Config{Workers: 1}) // default decoder
	defer s.Shutdown()

	tk := s.Request(0, Visible) // "0" is not an image
	waitFinal(t, tk)
	if !errors.Is(tk.Err(), image.ErrFormat) {
		t.Errorf("Err() = %v, want image.ErrFormat", tk.Err())
	}
}

func TestInvalidate(t *testing.T) {
	p := newRecorder(false)
	s, pages := newScheduler(t, 1, p, fakeSource{})

	waitFinal(t, s.Request(2, Visible))
	if !pages.Contains(2) {
		t.Fatal("page 2 not cached")
	}
	s.Invalidate(2, 9)
	if pages.Contains(2) {
		t.Error("Invalidate left page 2 cached")
	}

	waitFinal(t, s.Request(2, Visible))
	_, calls := p.snapshot()
	if calls[2] != 2 {
		t.Errorf("page 2 decoded %d times, want 2", calls[2])
	}
}

func TestResetDiscardsStaleResults(t *testing.T) {
	p := newRecorder(true)
	s, pages := newScheduler(t, 1, p, fakeSource{tag: "a"})

	stale := s.Request(0, Visible)
	waitStarted(t, p, 0)
	queued := s.Request(1, Visible)

	s.Reset(fakeSource{tag: "b"})
	if s.Generation() != 1 {
		t.Errorf("Generation() = %d, want 1", s.Generation())
	}
	if queued.State() != StateCancelled {
		t.Errorf("queued ticket State = %v, want cancelled", queued.State())
	}
	waitFinal(t, stale)
	if stale.State() != StateCancelled || pages.Contains(0) {
		t.Errorf("stale State=%v cached=%v", stale.State(), pages.Contains(0))
	}

	fresh := s.Request(0, Visible)
	if fresh.Generation() != 1 {
		t.Errorf("fresh ticket generation = %d", fresh.Generation())
	}
	waitStarted(t, p, 0)
	p.release()
	waitFinal(t, fresh)

	p.mu.Lock()
	src := p.sources[0]
	p.mu.Unlock()
	if src != "b" {
		t.Errorf("page 0 decoded from source %q, want b", src)
	}
}

func TestNoSource(t *testing.T) {
	p := newRecorder(false)
	s, _ := newScheduler(t, 1, p, nil)

	tk := s.Request(0, Visible)
	waitFinal(t, tk)
	if !errors.Is(tk.Err(), ErrNoSource) {
		t.Errorf("Err() = %v, want ErrNoSource", tk.Err())
	}
}

// =============================================================================
// Shutdown and stress
// =============================================================================

func TestShutdownWithDecodesInFlight(t *testing.T) {
	p := newRecorder(true) // never released: decodes exit only via ctx
	pages := cache.NewPageCache(16, 0)
	s := New(fakeSource{}, pages, Config{Workers: 4, Decode: p.decode})

	var tickets []*Ticket
	for i := range 6 {
		tickets = append(tickets, s.Request(i, Visible))
	}
	for range 4 {
		select {
		case <-p.started:
		case <-time.After(5 * time.Second):
			t.Fatal("decodes did not start")
		}
	}

	done := make(chan struct{})
	go func() {
		s.Shutdown()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Shutdown did not return")
	}

	for _, tk := range tickets {
		if tk.State() != StateCancelled {
			t.Errorf("page %d State = %v, want cancelled", tk.Page(), tk.State())
		}
	}
	if pages.Len() != 0 {
		t.Errorf("pages cached after shutdown: %v", pages.Keys())
	}
	if tk := s.Request(9, Visible); !errors.Is(tk.Err(), ErrShutdown) {
		t.Errorf("Request after Shutdown Err = %v, want ErrShutdown", tk.Err())
	}
	s.Shutdown() // idempotent
}

// TestShutdownCancelsBlockedTicket covers a ticket parked behind a decode of
// the same page that ignores ctx. It must end like every other ticket
// Shutdown withdraws.
func TestShutdownCancelsBlockedTicket(t *testing.T) {
	gate := make(chan struct{})
	started := make(chan int, 4)
	s := New(fakeSource{}, cache.NewPageCache(4, 0), Config{
		Workers: 2,
		Decode: func(_ context.Context, data []byte) (*image.Page, error) {
			started <- len(data)
			<-gate
			return image.NewPage(1, 1, []byte{0, 0, 0, 255}), nil
		},
	})

	old := s.Request(0, Visible)
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("decode did not start")
	}
	s.Cancel(old)
	fresh := s.Request(0, Visible)

	waitLocked := func(what string, cond func() bool) {
		t.Helper()
		deadline := time.Now().Add(5 * time.Second)
		for {
			s.mu.Lock()
			ok := cond()
			s.mu.Unlock()
			if ok {
				return
			}
			if time.Now().After(deadline) {
				close(gate)
				t.Fatalf("timed out waiting for %s", what)
			}
			time.Sleep(time.Millisecond)
		}
	}
	waitLocked("blocked ticket", func() bool { return s.blocked[0] == fresh })

	done := make(chan struct{})
	go func() {
		s.Shutdown()
		close(done)
	}()
	waitLocked("shutdown", func() bool { return s.closed })
	close(gate)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Shutdown did not return")
	}

	for _, tk := range []*Ticket{old, fresh} {
		if tk.State() != StateCancelled || !errors.Is(tk.Err(), ErrCancelled) {
			t.Errorf("ticket State=%v Err=%v, want cancelled with ErrCancelled", tk.State(), tk.Err())
		}
	}
	if errors.Is(fresh.Err(), ErrShutdown) {
		t.Error("ticket accepted before Shutdown carries ErrShutdown")
	}
	if len(started) != 0 {
		t.Error("blocked ticket was decoded")
	}
}

// TestAtMostOneRunningDecodePerPage flips pages rapidly while cancelling
// and re-requesting them.
func TestAtMostOneRunningDecodePerPage(t *testing.T) {
	p := newRecorder(false)
	p.started = make(chan int, 1<<16)
	pages := cache.NewPageCache(2, 0) // tiny cache: pages keep re-entering
	s := New(fakeSource{}, pages, Config{
		Workers: 4,
		Decode: func(ctx context.Context, data []byte) (*image.Page, error) {
			time.Sleep(200 * time.Microsecond)
			return p.decode(ctx, data)
		},
	})

	var wg sync.WaitGroup
	for g := range 4 {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			var live []*Ticket
			for range 400 {
				tk := s.Request(rng.Intn(6), Priority(rng.Intn(3)))
				live = append(live, tk)
				if rng.Intn(2) == 0 {
					s.Cancel(live[rng.Intn(len(live))])
				}
				if rng.Intn(50) == 0 {
					s.Invalidate(rng.Intn(6))
				}
				time.Sleep(50 * time.Microsecond)
			}
		}(int64(g))
	}
	wg.Wait()
	s.Shutdown()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.maxRunning > 1 {
		t.Errorf("max concurrent decodes of one page = %d, want 1", p.maxRunning)
	}
	if len(p.order) == 0 {
		t.Error("no decodes ran")
	}
}

func TestDefaultWorkers(t *testing.T) {
	want := max(1, runtime.GOMAXPROCS(0)-1)
	if got := DefaultWorkers(); got != want {
		t.Errorf("DefaultWorkers() = %d, want %d", got, want)
	}
	s := New(nil, cache.NewPageCache(1, 0), Config{})
	defer s.Shutdown()
	if s.Workers() != want {
		t.Errorf("Workers() = %d, want %d", s.Workers(), want)
	}
}

func TestStatsString(t *testing.T) {
	st := Stats{Workers: 3, Queued: 2, Running: 1, Completed: 7}
	if got := st.String(); got != "3 workers, 2 queued, 1 running, 7 done, 0 failed, 0 discarded" {
		t.Errorf("String() = %q", got)
	}
}
