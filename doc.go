// Package pagepipe is the page image pipeline of a comic archive viewer.
//
// # Overview
//
// Given the page the user is looking at, a Pipeline decodes page images
// from the archive on background workers, keeps decoded pages in a bounded
// memory cache, composes dual-page spreads, and uploads GPU textures at a
// quantized zoom level. The render loop never waits for a decode: pages that
// are not ready are reported as Pending and become Ready on a later frame.
//
// # Quick Start
//
//	p, err := pagepipe.New(pagepipe.DefaultConfig(), renderer.TextureCreator(),
//	    pagepipe.WithReadyHook(func(int) { window.RequestRedraw() }))
//	if err != nil {
//	    return err
//	}
//	defer p.Shutdown()
//
//	if err := p.Open("volume01.cbz"); err != nil {
//	    return err
//	}
//
//	// Every frame:
//	f := p.DrawablesFor(pagepipe.View{Page: page, Layout: pagepipe.Dual, Zoom: zoom})
//	switch f.Primary.State {
//	case pagepipe.Ready:
//	    renderer.DrawTexture(f.Primary.Texture, x, y)
//	case pagepipe.Pending:
//	    drawSpinner()
//	case pagepipe.Failed:
//	    drawPlaceholder(f.Primary.Kind)
//	}
//
// # Architecture
//
// The pipeline is organized into:
//   - archive: container access and page order
//   - manifest: the manifest.toml bundled with an archive
//   - internal/sched: prioritized, deduplicated background decoding
//   - internal/cache: decoded page and composed spread caches
//   - internal/image: decoding, composition and scaling
//   - internal/texture: zoom-bucketed GPU texture cache
//
// # Threading
//
// The Pipeline and its texture cache belong to the render goroutine. Decode
// workers only touch the page cache, which is guarded by its own mutex.
package pagepipe

// Version information
const (
	// Version is the current version of the library
	Version = "0.1.0"

	// VersionMajor is the major version
	VersionMajor = 0

	// VersionMinor is the minor version
	VersionMinor = 1

	// VersionPatch is the patch version
	VersionPatch = 0
)
