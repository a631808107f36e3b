package pagepipe

import "github.com/gogpu/pagepipe/manifest"

// pairing maps every page to the dual-layout spread containing it.
//
// Pages pair even-odd from page 0. A standalone page is never paired and
// the pairing restarts after it. A page without a partner, such as the
// last page of an odd count, stands alone. A view on the last page always
// shows it alone, even when the page before it pairs with it.
type pairing struct {
	first []int // page -> first page of its spread, in reading order
}

func newPairing(n int, m *manifest.Manifest) pairing {
	first := make([]int, n)
	for i := 0; i < n; {
		if m.IsStandalone(i) || i == n-1 || m.IsStandalone(i+1) {
			first[i] = i
			i++
			continue
		}
		first[i], first[i+1] = i, i
		i += 2
	}
	return pairing{first: first}
}

func (p pairing) len() int { return len(p.first) }

// spread returns the reading-order members of the spread containing page.
// second is NoPage for a page shown alone. The last page is always shown
// alone.
func (p pairing) spread(page int) (first, second int) {
	if page < 0 || page >= len(p.first)-1 {
		return page, NoPage
	}
	first = p.first[page]
	if first+1 < len(p.first) && p.first[first+1] == first {
		return first, first + 1
	}
	return first, NoPage
}

// last returns the last reading-order page of the spread containing page.
func (p pairing) last(page int) int {
	first, second := p.spread(page)
	if second != NoPage {
		return second
	}
	return first
}

// changed returns the pages whose spread differs between p and q.
func (p pairing) changed(q pairing) []int {
	var out []int
	for i := range max(p.len(), q.len()) {
		a1, a2 := p.spread(i)
		b1, b2 := q.spread(i)
		if i >= p.len() || i >= q.len() || a1 != b1 || a2 != b2 {
			out = append(out, i)
		}
	}
	return out
}

// place orders a reading-order pair for the screen.
func place(first, second int, rtl bool) Spread {
	if second == NoPage {
		return Spread{Left: first, Right: NoPage}
	}
	if rtl {
		return Spread{Left: second, Right: first}
	}
	return Spread{Left: first, Right: second}
}
