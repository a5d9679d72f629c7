package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/yuanying/epubfetch/internal/epub"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file.epub>...",
		Short: "Check the structure of existing EPUB containers",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := loggerFor(cmd, cfg)
			v := &epub.Validator{Logger: logger}

			out := cmd.OutOrStdout()
			rows := make([][]string, 0, len(args))
			failed := 0
			for _, p := range args {
				report, err := v.Validate(p)
				if err != nil {
					failed++
					var verr *epub.ValidationError
					detail := err.Error()
					if errors.As(err, &verr) {
						detail = fmt.Sprintf("%d problem(s): %v", len(verr.Problems), errors.Join(verr.Problems...))
					}
					rows = append(rows, []string{p, "invalid", "", "", "", "", detail})
					continue
				}
				for _, w := range report.Warnings {
					logger.Warn("container warning", "path", p, "warning", w)
				}
				rows = append(rows, []string{
					p,
					"valid",
					report.Title,
					strconv.Itoa(report.Entries),
					strconv.Itoa(report.Items),
					strconv.Itoa(report.Spine),
					strconv.Itoa(len(report.Warnings)) + " warning(s)",
				})
			}

			aligns := []columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft}
			fmt.Fprintln(out, renderTable([]string{"File", "Result", "Title", "Entries", "Items", "Spine", "Notes"}, rows, aligns, isTerminal(out)))
			if failed > 0 {
				return fmt.Errorf("%d of %d container(s) invalid", failed, len(args))
			}
			return nil
		},
	}
}
