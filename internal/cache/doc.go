// Package cache holds decoded pages between the decode workers and the
// render path.
//
// # PageCache
//
// A mutex-guarded LRU keyed by page index and bounded twice: by entry count
// and by resident pixel bytes. Whichever bound trips first evicts the least
// recently used pages. The page being inserted is never evicted, so a single
// page larger than the byte budget is still kept, alone.
//
//	pages := cache.NewPageCache(32, 512<<20)
//	pages.Insert(3, page)
//	p, ok := pages.Get(3)
//
// # SpreadCache
//
// A small LRU of composed dual-page spreads keyed by the pair of page
// indices in placement order, so panning over a spread does not recompose
// it every frame.
//
// # Thread Safety
//
// Both caches are safe for concurrent use. Locks are held only for the
// duration of each call; pages are immutable and stay valid for readers
// after eviction.
package cache
