package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/yuanying/epubfetch/internal/ledger"
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [book-id]",
		Short: "Show recorded runs from the ledger",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			limit, _ := cmd.Flags().GetInt("limit")
			if limit < 1 {
				return fmt.Errorf("invalid --limit %d: must be at least 1", limit)
			}

			out := cmd.OutOrStdout()
			if _, err := os.Stat(cfg.LedgerPath); errors.Is(err, fs.ErrNotExist) {
				fmt.Fprintf(out, "No history recorded at %s\n", cfg.LedgerPath)
				return nil
			}

			l, err := ledger.Open(cmd.Context(), cfg.LedgerPath, loggerFor(cmd, cfg))
			if err != nil {
				return err
			}
			defer l.Close()

			bookID := ""
			if len(args) == 1 {
				bookID = args[0]
			}
			runs, err := l.Recent(cmd.Context(), bookID, limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs recorded")
				return nil
			}

			var paths map[string][]string
			if show, _ := cmd.Flags().GetBool("transitions"); show {
				paths = make(map[string][]string, len(runs))
				for _, r := range runs {
					states, err := l.Transitions(cmd.Context(), r.RunID)
					if err != nil {
						return err
					}
					paths[r.RunID] = states
				}
			}
			fmt.Fprintln(out, historyTable(runs, paths, isTerminal(out)))
			return nil
		},
	}
	cmd.Flags().IntP("limit", "n", 20, "Maximum number of runs to show")
	cmd.Flags().Bool("transitions", false, "Show every state a run passed through")
	return cmd
}

// historyTable renders runs newest first. When paths is non-nil the State
// column lists every recorded state of the run.
func historyTable(runs []ledger.Run, paths map[string][]string, tty bool) string {
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		duration := ""
		if r.FinishedAt != nil {
			duration = r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
		}
		state := r.State
		if paths != nil {
			state = strings.Join(paths[r.RunID], " > ")
		}
		detail := r.Output
		if r.Error != "" {
			detail = r.Error
		}
		rows = append(rows, []string{
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			r.BookID,
			r.Title,
			r.Format,
			state,
			duration,
			detail,
		})
	}
	aligns := []columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft}
	return renderTable([]string{"Started", "Book", "Title", "Format", "State", "Took", "Output / Error"}, rows, aligns, tty) +
		"\n" + strconv.Itoa(len(runs)) + " run(s)"
}
