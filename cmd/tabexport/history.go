package main

import (
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/bjaus/tabexport/history"
	"github.com/bjaus/tabexport/internal/termtable"
)

func newHistoryCmd(a *app) *cobra.Command {
	var (
		formID int
		limit  int
		prune  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent exports from the export log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := history.Open(a.cfg.Storage.HistoryDB)
			if err != nil {
				return err
			}
			defer store.Close()

			if prune > 0 {
				n, err := store.Prune(cmd.Context(), time.Now().Add(-prune).UTC())
				if err != nil {
					return err
				}
				a.log.WithField("removed", n).Info("Pruned export history")
			}
			records, err := store.Recent(cmd.Context(), formID, limit)
			if err != nil {
				return err
			}
			return writeHistory(cmd.OutOrStdout(), records)
		},
	}
	cmd.Flags().IntVar(&formID, "form-id", 0, "only show exports of this form")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of exports to show")
	cmd.Flags().DurationVar(&prune, "prune", 0, "first delete exports older than this")
	return cmd
}

func writeHistory(w io.Writer, records []history.ExportRecord) error {
	if len(records) == 0 {
		_, err := io.WriteString(w, "No exports recorded.\n")
		return err
	}
	t := termtable.Table{
		Header: []string{"Time", "Form", "Type", "Format", "Mode", "Rows", "Bytes"},
		Aligns: []termtable.Align{termtable.Left, termtable.Right, termtable.Left, termtable.Left, termtable.Left, termtable.Right, termtable.Right},
	}
	for _, r := range records {
		t.Append(
			r.CreatedAt.UTC().Format(time.DateTime),
			strconv.Itoa(r.FormID),
			r.FormType,
			r.Format,
			r.Mode,
			strconv.Itoa(r.Rows),
			strconv.FormatInt(r.Bytes, 10),
		)
	}
	return t.Write(w)
}
