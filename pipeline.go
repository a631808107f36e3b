package pagepipe

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gogpu/gpucontext"

	"github.com/gogpu/pagepipe/archive"
	"github.com/gogpu/pagepipe/internal/cache"
	"github.com/gogpu/pagepipe/internal/image"
	"github.com/gogpu/pagepipe/internal/sched"
	"github.com/gogpu/pagepipe/internal/texture"
	"github.com/gogpu/pagepipe/manifest"
)

// Pipeline turns page views into drawable textures.
//
// Pages are decoded on background workers into a bounded page cache,
// composed into spreads for dual layout, and uploaded as textures keyed by
// a quantized zoom level. DrawablesFor never blocks on decoding: pages that
// are not ready yet are reported as Pending.
//
// Thread safety: Pipeline is owned by the render goroutine and is not safe
// for concurrent use. Only the ready hook runs on other goroutines.
type Pipeline struct {
	cfg     Config
	opts    options
	creator gpucontext.TextureCreator

	pages    *cache.PageCache
	spreads  *cache.SpreadCache
	sched    *sched.Scheduler
	textures *texture.Cache

	arc      *archive.Archive
	manifest *manifest.Manifest
	pairs    pairing

	tickets  map[int]*sched.Ticket
	failed   map[int]error
	prefetch mapset.Set[int]
	hints    PrefetchHints
	anchor   anchor

	layout Layout
	bucket int
	rtl    bool

	clock   time.Duration
	lastNow time.Time

	closed bool
}

// anchor is the spread prefetching was last issued for.
type anchor struct {
	first, last int
	valid       bool
}

// New creates a pipeline with no archive attached. Textures are created
// with creator, which may be nil until SetTextureCreator is called.
func New(cfg Config, creator gpucontext.TextureCreator, opts ...Option) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger != nil {
		SetLogger(o.logger)
	}

	decode := o.decode
	if decode == nil {
		limits := image.Options{MaxBytes: cfg.MaxImageBytes, MaxAnimation: cfg.MaxAnimation}
		decode = func(ctx context.Context, data []byte) (*image.Page, error) {
			return image.Decode(ctx, data, limits)
		}
	}

	spreads, err := cache.NewSpreadCache(cfg.MaxSpreads)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	pages := cache.NewPageCache(cfg.MaxDecodedPages, cfg.MaxDecodedBytes)

	p := &Pipeline{
		cfg:     cfg,
		opts:    o,
		creator: creator,
		pages:   pages,
		spreads: spreads,
		sched: sched.New(nil, pages, sched.Config{
			Workers: cfg.Workers,
			Decode:  decode,
			OnReady: o.onReady,
		}),
		textures: texture.New(texture.Config{
			MaxTextures:    cfg.MaxTextures,
			MaxTextureSize: cfg.MaxTextureSize,
			Ladder:         cfg.Zoom,
		}),
	}
	p.resetTracking()

	Logger().Debug("pagepipe: pipeline created", "workers", p.sched.Workers())
	return p, nil
}

// Open opens the archive at path and attaches it. The pipeline owns the
// archive from then on.
func (p *Pipeline) Open(path string) error {
	if p.closed {
		return ErrClosed
	}
	a, err := archive.Open(path)
	if err != nil {
		return err
	}
	return p.NotifyArchiveChanged(a)
}

// NotifyArchiveChanged attaches a, which may be nil, and takes ownership of
// it. Every cached page, spread and texture of the previous archive is
// dropped, and decodes still running for it are discarded. The previous
// archive is closed.
func (p *Pipeline) NotifyArchiveChanged(a *archive.Archive) error {
	if p.closed {
		return ErrClosed
	}

	var src sched.Source
	if a != nil {
		src = a
	}
	p.sched.Reset(src)
	p.pages.Clear()
	p.spreads.Purge()
	p.textures.Clear()

	old := p.arc
	p.arc = a
	p.manifest = nil
	n := 0
	if a != nil {
		p.manifest = a.Manifest()
		n = a.PageCount()
		Logger().Info("pagepipe: archive attached", "path", a.Path(), "pages", n)
	}
	p.pairs = newPairing(n, p.manifest)
	p.resetTracking()

	if old != nil && old != a {
		return old.Close()
	}
	return nil
}

// SetTextureCreator replaces the texture creator, for example after the
// render context was recreated.
func (p *Pipeline) SetTextureCreator(c gpucontext.TextureCreator) {
	p.creator = c
}

// NotifyContextLost destroys every texture. Call it before the render
// context that created them goes away.
func (p *Pipeline) NotifyContextLost() {
	n := p.textures.Len()
	p.textures.Clear()
	Logger().Info("pagepipe: render context lost", "textures", n)
}

// NotifyLayoutChanged drops the textures of the layout being left. Views
// passed to DrawablesFor report layout changes on their own.
func (p *Pipeline) NotifyLayoutChanged(l Layout) {
	if l == p.layout {
		return
	}
	p.layout = l
	p.anchor.valid = false

	var n int
	if l == Single {
		n = p.textures.Invalidate(func(k texture.Key) bool { return k.Kind == texture.Dual })
		p.spreads.Purge()
	} else {
		n = p.textures.Invalidate(func(k texture.Key) bool { return k.Kind == texture.Single })
	}
	Logger().Debug("pagepipe: layout changed", "layout", l.String(), "textures", n)
}

// NotifyZoomChanged drops the textures of other zoom buckets. Zoom changes
// within the current bucket keep every texture.
func (p *Pipeline) NotifyZoomChanged(zoom float64) {
	p.setBucket(p.textures.Ladder().Bucket(normalizeZoom(zoom)))
}

func (p *Pipeline) setBucket(b int) {
	if b == p.bucket {
		return
	}
	p.bucket = b
	n := p.textures.Invalidate(func(k texture.Key) bool { return k.Bucket != b })
	Logger().Debug("pagepipe: zoom bucket changed", "bucket", b, "textures", n)
}

func (p *Pipeline) setRightToLeft(rtl bool) {
	if rtl == p.rtl {
		return
	}
	p.rtl = rtl
	p.spreads.Purge()
	p.textures.Invalidate(func(k texture.Key) bool { return k.Kind == texture.Dual })
}

// NotifyManifestEdited applies an edited manifest to the attached archive.
// Only pages whose member or spread changed lose their decoded pixels,
// spreads and textures.
func (p *Pipeline) NotifyManifestEdited(m *manifest.Manifest) error {
	if p.closed {
		return ErrClosed
	}
	if p.arc == nil {
		return ErrNoArchive
	}

	changed := p.arc.ApplyManifest(m)
	p.sched.Invalidate(changed...)
	for _, i := range changed {
		delete(p.failed, i)
		delete(p.tickets, i)
	}

	p.manifest = p.arc.Manifest()
	next := newPairing(p.arc.PageCount(), p.manifest)
	repaired := mapset.NewThreadUnsafeSet(p.pairs.changed(next)...)
	p.pairs = next

	moved := mapset.NewThreadUnsafeSet(changed...)
	p.spreads.RemovePages(moved.Union(repaired).ToSlice()...)
	n := p.textures.Invalidate(func(k texture.Key) bool {
		if moved.Contains(k.Left) || moved.Contains(k.Right) {
			return true
		}
		return k.Kind == texture.Dual && (repaired.Contains(k.Left) || repaired.Contains(k.Right))
	})
	p.anchor.valid = false

	Logger().Debug("pagepipe: manifest edited",
		"moved", moved.Cardinality(), "repaired", repaired.Cardinality(), "textures", n)
	return nil
}

// Tick advances the animation clock by dt.
func (p *Pipeline) Tick(dt time.Duration) {
	if dt > 0 {
		p.clock += dt
	}
}

// Retry forgets a failed page and requests it again.
func (p *Pipeline) Retry(page int) {
	if p.closed || p.arc == nil {
		return
	}
	delete(p.failed, page)
	p.textures.Invalidate(func(k texture.Key) bool {
		return k.Has(page) && p.textures.Failures(k) > 0
	})
	p.tickets[page] = p.sched.Request(page, sched.Visible)
}

// DrawablesFor returns the drawable for v and queues the decodes it needs.
func (p *Pipeline) DrawablesFor(v View) Frame {
	if p.closed {
		return Frame{Primary: failedDrawable(Spread{Left: v.Page, Right: NoPage}, ErrClosed)}
	}
	p.advanceClock()
	if p.arc == nil {
		return Frame{Primary: failedDrawable(Spread{Left: v.Page, Right: NoPage}, ErrNoArchive)}
	}
	if v.Page < 0 || v.Page >= p.pairs.len() {
		err := &archive.PageError{Index: v.Page, Err: archive.ErrOutOfRange}
		return Frame{Primary: failedDrawable(Spread{Left: v.Page, Right: NoPage}, err)}
	}

	p.reap()
	p.NotifyLayoutChanged(v.Layout)
	p.setBucket(p.textures.Ladder().Bucket(normalizeZoom(v.Zoom)))
	p.setRightToLeft(p.rightToLeft(v.Direction))

	first, second := v.Page, NoPage
	if v.Layout == Dual {
		first, second = p.pairs.spread(v.Page)
	}

	d := p.drawable(first, second)
	p.prefetchAround(first, max(first, second))

	return Frame{
		Primary: d,
		Hints: PrefetchHints{
			Ahead:  slices.Clone(p.hints.Ahead),
			Behind: slices.Clone(p.hints.Behind),
		},
	}
}

// drawable resolves one single page or spread.
func (p *Pipeline) drawable(first, second int) Drawable {
	sp := place(first, second, p.rtl)
	key := texture.SingleKey(first, p.bucket)
	if second != NoPage {
		key = texture.DualKey(sp, p.bucket)
	}

	if h, ok := p.textures.Lookup(key); ok {
		if key.Kind == texture.Single {
			if pg, ok := p.pages.Peek(first); ok && pg.Animated() {
				return p.upload(sp, key, pg, pg.FrameAt(p.clock))
			}
		}
		return readyDrawable(sp, h)
	}

	if key.Kind == texture.Dual {
		if composed, ok := p.spreads.Get(sp); ok {
			return p.upload(sp, key, composed, 0)
		}
	}

	// Request every member before reporting, so both pages of a spread
	// decode in parallel.
	members := []int{sp.Left}
	if sp.Right != NoPage {
		members = append(members, sp.Right)
	}
	pages := make([]*image.Page, len(members))
	var (
		missing bool
		failErr error
	)
	for i, m := range members {
		pg, err := p.page(m)
		switch {
		case err != nil && failErr == nil:
			failErr = err
		case pg == nil:
			missing = true
		}
		pages[i] = pg
	}
	if failErr != nil {
		return failedDrawable(sp, failErr)
	}
	if missing {
		return Drawable{State: Pending, Pages: sp}
	}

	if key.Kind == texture.Single {
		pg := pages[0]
		return p.upload(sp, key, pg, pg.FrameAt(p.clock))
	}
	composed := image.Compose(pages[0], pages[1])
	p.spreads.Add(sp, composed)
	return p.upload(sp, key, composed, 0)
}

// upload fetches or creates the texture for key.
func (p *Pipeline) upload(sp Spread, key texture.Key, pg *image.Page, frame int) Drawable {
	h, err := p.textures.GetOrCreate(key, pg, frame, p.creator)
	if err == nil {
		return readyDrawable(sp, h)
	}
	if errors.Is(err, texture.ErrUpload) && p.textures.Failures(key) >= p.cfg.UploadRetries {
		return failedDrawable(sp, err)
	}
	return Drawable{State: Pending, Pages: sp}
}

// page returns the decoded page i, or nil while it is being decoded. A
// non-nil error means the page failed and will not be retried until Retry.
func (p *Pipeline) page(i int) (*image.Page, error) {
	if pg, ok := p.pages.Get(i); ok {
		return pg, nil
	}
	if err, ok := p.failed[i]; ok {
		return nil, err
	}
	if t, ok := p.tickets[i]; ok {
		st := t.State()
		if st == sched.StateFailed {
			p.fail(i, t.Err())
			return nil, t.Err()
		}
		if !st.Final() && t.Priority() == sched.Visible {
			return nil, nil
		}
	}

	// New request, a priority raise, or re-entry after eviction.
	t := p.sched.Request(i, sched.Visible)
	p.tickets[i] = t
	if t.State() == sched.StateDone {
		if pg, ok := p.pages.Get(i); ok {
			return pg, nil
		}
	}
	return nil, nil
}

func (p *Pipeline) fail(i int, err error) {
	p.failed[i] = err
	delete(p.tickets, i)
	Logger().Warn("pagepipe: page failed", "page", i, "kind", KindOf(err).String(), "err", err)
}

// reap retires final tickets, remembering failures.
func (p *Pipeline) reap() {
	for i, t := range p.tickets {
		switch t.State() {
		case sched.StateFailed:
			p.fail(i, t.Err())
		case sched.StateDone, sched.StateCancelled:
			delete(p.tickets, i)
		}
	}
}

// prefetchAround queues the pages around the spread [first, last] and
// cancels outstanding decodes outside the prefetch window. It does nothing
// while the spread is unchanged.
func (p *Pipeline) prefetchAround(first, last int) {
	if p.anchor.valid && p.anchor.first == first && p.anchor.last == last {
		return
	}
	p.anchor = anchor{first: first, last: last, valid: true}

	n := p.pairs.len()
	k := p.cfg.PrefetchAhead
	var hints PrefetchHints
	want := mapset.NewThreadUnsafeSet[int]()
	for i := last + 1; i <= min(last+k, n-1); i++ {
		hints.Ahead = append(hints.Ahead, i)
	}
	for i := first - 1; i >= max(first-k/2, 0); i-- {
		hints.Behind = append(hints.Behind, i)
	}
	for _, i := range slices.Concat(hints.Ahead, hints.Behind) {
		want.Add(i)
		if _, bad := p.failed[i]; bad || p.pages.Contains(i) {
			continue
		}
		p.tickets[i] = p.sched.Request(i, sched.Prefetch)
	}

	lo, hi := first-p.cfg.PrefetchWindow, last+p.cfg.PrefetchWindow
	cancelled := 0
	for i, t := range p.tickets {
		if i >= lo && i <= hi {
			continue
		}
		if !t.State().Final() {
			p.sched.Cancel(t)
			cancelled++
		}
		delete(p.tickets, i)
	}

	p.prefetch = want
	p.hints = hints
	Logger().Debug("pagepipe: prefetch",
		"first", first, "last", last, "queued", want.Cardinality(), "cancelled", cancelled)
}

func (p *Pipeline) advanceClock() {
	if p.opts.now == nil {
		return
	}
	now := p.opts.now()
	if !p.lastNow.IsZero() {
		p.Tick(now.Sub(p.lastNow))
	}
	p.lastNow = now
}

func (p *Pipeline) rightToLeft(d Direction) bool {
	switch d {
	case LeftToRight:
		return false
	case RightToLeft:
		return true
	default:
		return p.manifest.RightToLeft()
	}
}

func (p *Pipeline) resetTracking() {
	p.tickets = make(map[int]*sched.Ticket)
	p.failed = make(map[int]error)
	p.prefetch = mapset.NewThreadUnsafeSet[int]()
	p.hints = PrefetchHints{}
	p.anchor = anchor{}
}

// PageCount returns the number of pages of the attached archive.
func (p *Pipeline) PageCount() int { return p.pairs.len() }

// Archive returns the attached archive, or nil.
func (p *Pipeline) Archive() *archive.Archive { return p.arc }

// Manifest returns a copy of the manifest in effect, or nil.
func (p *Pipeline) Manifest() *manifest.Manifest { return p.manifest.Clone() }

// SpreadFor returns the pages shown in dual layout when page is current,
// in screen order for direction d.
func (p *Pipeline) SpreadFor(page int, d Direction) Spread {
	first, second := p.pairs.spread(page)
	return place(first, second, p.rightToLeft(d))
}

// NextPage returns the page to show after page in layout l. At the end of
// the archive it returns the current spread's first page.
func (p *Pipeline) NextPage(page int, l Layout) int {
	n := p.pairs.len()
	if n == 0 {
		return 0
	}
	page = min(max(page, 0), n-1)
	if l == Single {
		return min(page+1, n-1)
	}
	if last := p.pairs.last(page); last+1 < n {
		return last + 1
	}
	first, _ := p.pairs.spread(page)
	return first
}

// PrevPage returns the page to show before page in layout l.
func (p *Pipeline) PrevPage(page int, l Layout) int {
	n := p.pairs.len()
	if n == 0 {
		return 0
	}
	page = min(max(page, 0), n-1)
	if l == Single {
		return max(page-1, 0)
	}
	first, _ := p.pairs.spread(page)
	if first == 0 {
		return 0
	}
	prev, _ := p.pairs.spread(first - 1)
	return prev
}

// Shutdown stops the decode workers, drops every page, spread and texture,
// and closes the archive. It is safe to call more than once.
func (p *Pipeline) Shutdown() error {
	if p.closed {
		return nil
	}
	p.closed = true

	p.sched.Shutdown()
	p.pages.Clear()
	p.spreads.Purge()
	p.textures.Clear()
	p.resetTracking()

	var err error
	if p.arc != nil {
		err = p.arc.Close()
		p.arc = nil
	}
	Logger().Debug("pagepipe: shut down")
	return err
}

// Stats describes the state of every pipeline stage.
type Stats struct {
	PageCount int
	Failed    int
	Prefetch  int
	Clock     time.Duration
	Pages     cache.Stats
	Spreads   cache.Stats
	Scheduler sched.Stats
	Textures  texture.Stats
}

// String returns a multi-line human-readable summary.
func (s Stats) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "archive:  %d pages, %d failed, %d prefetching\n", s.PageCount, s.Failed, s.Prefetch)
	fmt.Fprintf(&b, "pages:    %s\n", s.Pages)
	fmt.Fprintf(&b, "spreads:  %s\n", s.Spreads)
	fmt.Fprintf(&b, "decode:   %s\n", s.Scheduler)
	fmt.Fprintf(&b, "textures: %s", s.Textures)
	return b.String()
}

// Stats returns a snapshot of pipeline activity.
func (p *Pipeline) Stats() Stats {
	return Stats{
		PageCount: p.pairs.len(),
		Failed:    len(p.failed),
		Prefetch:  p.prefetch.Cardinality(),
		Clock:     p.clock,
		Pages:     p.pages.Stats(),
		Spreads:   p.spreads.Stats(),
		Scheduler: p.sched.Stats(),
		Textures:  p.textures.Stats(),
	}
}

func normalizeZoom(z float64) float64 {
	if z <= 0 || math.IsNaN(z) {
		return 1
	}
	return z
}

func readyDrawable(sp Spread, h *texture.Handle) Drawable {
	w, ht := h.SourceSize()
	return Drawable{State: Ready, Texture: h.Texture(), Width: w, Height: ht, Pages: sp}
}

func failedDrawable(sp Spread, err error) Drawable {
	return Drawable{State: Failed, Pages: sp, Err: err, Kind: KindOf(err)}
}
