package main

import (
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bjaus/tabexport"
	"github.com/bjaus/tabexport/internal/termtable"
)

func newFormatsCmd(a *app) *cobra.Command {
	var options bool
	cmd := &cobra.Command{
		Use:   "formats",
		Short: "List the enabled export formats",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return writeFormats(cmd.OutOrStdout(), a.registry(), options)
		},
	}
	cmd.Flags().BoolVar(&options, "options", false, "also list each format's options and defaults")
	return cmd
}

func writeFormats(w io.Writer, reg *tabexport.Registry, options bool) error {
	t := termtable.Table{
		Header:    []string{"ID", "Name", "Extension", "Streaming", "Description"},
		MaxWidths: []int{0, 0, 0, 0, 60},
	}
	for _, d := range reg.Describe() {
		t.Append(d.ID, d.Name, "."+d.Extension, strconv.FormatBool(d.Streaming), d.Description)
	}
	if err := t.Write(w); err != nil {
		return err
	}
	if !options {
		return nil
	}
	for _, id := range reg.IDs() {
		enc, _ := reg.Get(id)
		defaults := enc.DefaultOptions()
		opts := termtable.Table{
			Title:  enc.Descriptor().Name,
			Border: termtable.Rounded,
			Header: []string{"Option", "Type", "Default", "Choices"},
		}
		for _, f := range enc.Fields() {
			var choices []string
			for _, c := range f.Choices {
				choices = append(choices, strconv.Quote(c.Value))
			}
			opts.Append(tabexport.FieldName(id, f.ID), string(f.Type), defaults[f.ID], strings.Join(choices, " "))
		}
		if len(opts.Rows) == 0 {
			continue
		}
		if _, err := io.WriteString(w, "\n"); err != nil {
			return err
		}
		if err := opts.Write(w); err != nil {
			return err
		}
	}
	return nil
}
