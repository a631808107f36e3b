package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/gogpu/pagepipe/archive"
	"github.com/gogpu/pagepipe/internal/image"
)

func newInspectCmd(_ *app) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <archive>",
		Short: "List pages and manifest fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			arc, err := archive.Open(args[0])
			if err != nil {
				return err
			}
			defer arc.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "archive:   %s (%s)\n", arc.Path(), arc.Kind())
			fmt.Fprintf(out, "pages:     %d\n", arc.PageCount())

			if m := arc.Manifest(); m != nil {
				fmt.Fprintf(out, "title:     %s\n", m.Title)
				fmt.Fprintf(out, "author:    %s\n", m.Author)
				fmt.Fprintf(out, "direction: %s\n", m.Direction)
				if s := m.Standalone(); len(s) > 0 {
					fmt.Fprintf(out, "standalone: %s\n", strings.Trim(fmt.Sprint(s), "[]"))
				}
			}
			fmt.Fprintln(out)

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "#\tNAME\tFORMAT\tSIZE")
			var total uint64
			for i, name := range arc.PageNames() {
				data, err := arc.ReadPage(i)
				if err != nil {
					fmt.Fprintf(tw, "%d\t%s\t-\t%v\n", i, name, err)
					continue
				}
				format := image.Sniff(data)
				if format == "" {
					format = "?"
				}
				total += uint64(len(data))
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", i, name, format, humanize.IBytes(uint64(len(data))))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(out, "\ntotal: %s\n", humanize.IBytes(total))
			return nil
		},
	}
}
