package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yuanying/epubfetch/internal/config"
)

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration with header values masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, resolved, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if resolved != "" {
				fmt.Fprintf(out, "# loaded from %s\n", resolved)
			} else {
				fmt.Fprintln(out, "# no config file found, showing defaults")
			}
			if err := config.Encode(out, cfg.Redacted()); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				fmt.Fprintf(out, "# %v\n", err)
			}
			return nil
		},
	}
}
