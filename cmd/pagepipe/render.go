package main

import (
	"context"
	"errors"
	"fmt"
	"image/png"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/gogpu/pagepipe"
	"github.com/gogpu/pagepipe/internal/texture"
)

type renderFlags struct {
	page      int
	layout    string
	zoom      float64
	direction string
	out       string
	timeout   time.Duration
	stats     bool
}

func newRenderCmd(a *app) *cobra.Command {
	var f renderFlags

	cmd := &cobra.Command{
		Use:   "render <archive>",
		Short: "Render a page or spread to PNG",
		Long: `Run the page pipeline without a window against an in-memory texture
device and write the drawable for the requested view to a PNG file.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			view, err := f.view()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), f.timeout)
			defer cancel()

			d, stats, err := render(ctx, a.cfg.Pipeline, args[0], view)
			if err != nil {
				return err
			}
			if err := writePNG(f.out, d); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s: pages %s, %dx%d\n", f.out, spreadString(d.Pages), d.Width, d.Height)
			if f.stats {
				fmt.Fprintln(cmd.OutOrStdout(), stats)
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&f.page, "page", 0, "page index")
	flags.StringVar(&f.layout, "layout", "single", "layout: single or dual")
	flags.Float64Var(&f.zoom, "zoom", 1, "zoom factor")
	flags.StringVar(&f.direction, "direction", "auto", "reading direction: auto, ltr or rtl")
	flags.StringVarP(&f.out, "out", "o", "page.png", "output PNG file")
	flags.DurationVar(&f.timeout, "timeout", 30*time.Second, "give up waiting for the page after this long")
	flags.BoolVar(&f.stats, "stats", false, "print pipeline statistics")
	return cmd
}

func (f renderFlags) view() (pagepipe.View, error) {
	v := pagepipe.View{Page: f.page, Zoom: f.zoom}
	switch f.layout {
	case "single":
		v.Layout = pagepipe.Single
	case "dual":
		v.Layout = pagepipe.Dual
	default:
		return v, fmt.Errorf("unknown layout %q", f.layout)
	}
	switch f.direction {
	case "auto":
		v.Direction = pagepipe.DirectionAuto
	case "ltr":
		v.Direction = pagepipe.LeftToRight
	case "rtl":
		v.Direction = pagepipe.RightToLeft
	default:
		return v, fmt.Errorf("unknown direction %q", f.direction)
	}
	return v, nil
}

// render drives a pipeline frame by frame until the view is no longer
// pending.
func render(ctx context.Context, cfg pagepipe.Config, path string, v pagepipe.View) (pagepipe.Drawable, pagepipe.Stats, error) {
	ready := make(chan struct{}, 1)
	p, err := pagepipe.New(cfg, texture.NewMemoryCreator(), pagepipe.WithReadyHook(func(int) {
		select {
		case ready <- struct{}{}:
		default:
		}
	}))
	if err != nil {
		return pagepipe.Drawable{}, pagepipe.Stats{}, err
	}
	defer p.Shutdown()

	if err := p.Open(path); err != nil {
		return pagepipe.Drawable{}, pagepipe.Stats{}, err
	}

	for {
		d := p.DrawablesFor(v).Primary
		switch d.State {
		case pagepipe.Ready:
			return d, p.Stats(), nil
		case pagepipe.Failed:
			return d, p.Stats(), fmt.Errorf("page %d: %s: %w", v.Page, d.Kind, d.Err)
		}
		select {
		case <-ready:
		case <-time.After(10 * time.Millisecond):
		case <-ctx.Done():
			return d, p.Stats(), fmt.Errorf("page %d: %w", v.Page, ctx.Err())
		}
	}
}

func writePNG(path string, d pagepipe.Drawable) error {
	tex, ok := d.Texture.(*texture.MemoryTexture)
	if !ok {
		return errors.New("drawable has no readable texture")
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, tex.NRGBA()); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func spreadString(s pagepipe.Spread) string {
	if s.Right == pagepipe.NoPage {
		return fmt.Sprint(s.Left)
	}
	return fmt.Sprintf("%d+%d", s.Left, s.Right)
}
