package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/seantiz/fathom-train/internal/config"
	"github.com/seantiz/fathom-train/internal/model"
	"github.com/seantiz/fathom-train/internal/store"
)

const defaultRunsLimit = 20

func newRunsCmd(g *globalFlags, stdout, stderr io.Writer) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent training runs from the history database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, *g)
			if err != nil {
				return err
			}
			if cfg.DBPath == "" {
				return &config.ParameterError{Param: "--db", Reason: "a run history database is required"}
			}
			if limit <= 0 {
				return &config.ParameterError{Param: "--limit", Reason: "must be positive"}
			}

			db, err := store.NewSQLiteStore(cfg.DBPath)
			if err != nil {
				return err
			}
			defer db.Close()

			runs, total, err := db.ListRuns(cmd.Context(), limit, 0)
			if err != nil {
				return err
			}
			return printRuns(stdout, runs, total)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", defaultRunsLimit, "number of runs to show")
	return cmd
}

func printRuns(w io.Writer, runs []*model.Run, total int) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tSTAGE\tDURATION\tCREATED\tRESULT")
	for _, r := range runs {
		duration := "-"
		if r.DurationMS != nil {
			duration = (time.Duration(*r.DurationMS) * time.Millisecond).String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.Status, r.Stage, duration,
			r.CreatedAt.Local().Format(time.DateTime), summary(r))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "%d of %d runs\n", len(runs), total)
	return err
}

func summary(r *model.Run) string {
	switch r.Status {
	case model.StatusCompleted:
		return fmt.Sprintf("solution=%s cost=%s", r.Solution, r.Cost)
	case model.StatusFailed:
		return r.Error
	}
	return ""
}
