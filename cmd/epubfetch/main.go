package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/yuanying/epubfetch/internal/config"
)

type cliOptions struct {
	Config     *config.Config
	ConfigPath string
	BookIDs    []string
	NoLedger   bool
	Logger     *slog.Logger
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "epubfetch [flags] <book-id>...",
		Short: "Download paginated online books as EPUB, HTML or PDF",
		Long: `epubfetch retrieves a remotely hosted book, page by page, and
reassembles its chapters, stylesheets and media into one offline artifact:
a validated EPUB container, a single self-contained HTML document, or a PDF
rendered from that document.

Books whose artifact already exists in the output directory are skipped
without any network access.`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := readCLIOptions(cmd, args)
			if err != nil {
				return err
			}
			return run(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}

	pf := cmd.PersistentFlags()
	pf.String("config", "", "Config file (default: ./epubfetch.toml or ~/.config/epubfetch/config.toml)")
	pf.String("env-file", ".env", "Environment file loaded before the config")
	pf.String("ledger", "", "SQLite run history (default: <output-dir>/.epubfetch.db)")
	pf.String("log-level", "", "Log level: debug, info, warn, error")
	pf.String("log-format", "", "Log format: text, json")
	pf.BoolP("verbose", "v", false, "Enable debug logging (overrides --log-level)")

	f := cmd.Flags()
	f.String("base-url", "", "Base URL of the remote book API")
	f.StringP("output-dir", "o", "", "Directory for artifacts and working files")
	f.StringP("format", "f", "", "Output format: epub, html, pdf")
	f.IntP("concurrency", "j", 0, "Number of books processed in parallel")
	f.Bool("strict", false, "Fail a book on unresolved embedded references")
	f.String("conflict-policy", "", "Singleton conflicts: last-wins, first-wins, strict")
	f.Bool("no-validate", false, "Skip EPUB container validation")
	f.Int("max-image-width", 0, "Downscale embedded images wider than this (0 keeps originals)")
	f.Int("quality", 0, "JPEG quality for downscaled images (1-100)")
	f.Bool("legacy-png", false, "Label every embedded data URI as image/png")
	f.StringSlice("extra-css", nil, "Extra stylesheet URL fetched for HTML output (repeatable)")
	f.StringArrayP("header", "H", nil, `Request header "Name: value" (repeatable)`)
	f.String("proxy", "", "Proxy URL (http, https, socks5)")
	f.Bool("no-ledger", false, "Do not record runs in the ledger")

	cmd.AddCommand(newHistoryCmd(), newConfigCmd(), newValidateCmd())
	return cmd
}

// loadConfig reads the env file and the config file and applies the flags
// that were set. The result is not validated.
func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	envFile, _ := cmd.Flags().GetString("env-file")
	if err := config.LoadEnv(envFile); err != nil {
		return nil, "", err
	}
	configPath, _ := cmd.Flags().GetString("config")
	cfg, resolved, _, err := config.Load(configPath)
	if err != nil {
		return nil, "", err
	}
	if err := applyFlags(cmd, cfg); err != nil {
		return nil, "", err
	}
	return cfg, resolved, nil
}

func applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	changed := func(name string) bool {
		f := flags.Lookup(name)
		return f != nil && f.Changed
	}

	if changed("base-url") {
		cfg.BaseURL, _ = flags.GetString("base-url")
	}
	if changed("output-dir") {
		// A ledger at the default location follows the output directory.
		if cfg.LedgerPath == filepath.Join(cfg.OutputDir, ".epubfetch.db") {
			cfg.LedgerPath = ""
		}
		cfg.OutputDir, _ = flags.GetString("output-dir")
	}
	if changed("format") {
		format, _ := flags.GetString("format")
		if err := validateChoice("--format", format, "epub", "html", "pdf"); err != nil {
			return err
		}
		cfg.Format = format
	}
	if changed("concurrency") {
		n, _ := flags.GetInt("concurrency")
		if n < 1 {
			return fmt.Errorf("invalid --concurrency %d: must be at least 1", n)
		}
		cfg.Concurrency = n
	}
	if changed("strict") {
		cfg.Strict, _ = flags.GetBool("strict")
	}
	if changed("conflict-policy") {
		policy, _ := flags.GetString("conflict-policy")
		if err := validateChoice("--conflict-policy", policy, "last-wins", "first-wins", "strict"); err != nil {
			return err
		}
		cfg.ConflictPolicy = policy
	}
	if changed("no-validate") {
		noValidate, _ := flags.GetBool("no-validate")
		cfg.Validate = !noValidate
	}
	if changed("max-image-width") {
		w, _ := flags.GetInt("max-image-width")
		if w < 0 {
			return fmt.Errorf("invalid --max-image-width %d: must not be negative", w)
		}
		cfg.MaxImageWidth = w
	}
	if changed("quality") {
		q, _ := flags.GetInt("quality")
		if q < 1 || q > 100 {
			return fmt.Errorf("invalid --quality %d: must be between 1 and 100", q)
		}
		cfg.JPEGQuality = q
	}
	if changed("legacy-png") {
		cfg.LegacyPNGDataURI, _ = flags.GetBool("legacy-png")
	}
	if changed("extra-css") {
		cfg.ExtraStylesheets, _ = flags.GetStringSlice("extra-css")
	}
	if changed("header") {
		raw, _ := flags.GetStringArray("header")
		headers, err := parseHeaders(raw)
		if err != nil {
			return err
		}
		for k, v := range headers {
			cfg.Headers[k] = v
		}
	}
	if changed("proxy") {
		cfg.ProxyURL, _ = flags.GetString("proxy")
	}
	if changed("ledger") {
		cfg.LedgerPath, _ = flags.GetString("ledger")
	}
	if changed("log-level") {
		level, _ := flags.GetString("log-level")
		if err := validateChoice("--log-level", level, "debug", "info", "warn", "error"); err != nil {
			return err
		}
		cfg.Log.Level = level
	}
	if changed("log-format") {
		format, _ := flags.GetString("log-format")
		if err := validateChoice("--log-format", format, "text", "json"); err != nil {
			return err
		}
		cfg.Log.Format = format
	}
	return cfg.Normalize()
}

func validateChoice(flag, value string, choices ...string) error {
	v := strings.ToLower(strings.TrimSpace(value))
	for _, c := range choices {
		if v == c {
			return nil
		}
	}
	return fmt.Errorf("invalid %s %q: must be one of %s", flag, value, strings.Join(choices, ", "))
}

// parseHeaders turns "Name: value" strings into a map.
func parseHeaders(raw []string) (map[string]string, error) {
	headers := make(map[string]string, len(raw))
	for _, h := range raw {
		name, value, ok := strings.Cut(h, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --header %q: want \"Name: value\"", h)
		}
		headers[name] = strings.TrimSpace(value)
	}
	return headers, nil
}

func readCLIOptions(cmd *cobra.Command, args []string) (*cliOptions, error) {
	cfg, resolved, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var ids []string
	for _, a := range args {
		if id := strings.TrimSpace(a); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, errors.New("at least one book id is required")
	}

	noLedger, _ := cmd.Flags().GetBool("no-ledger")
	return &cliOptions{
		Config:     cfg,
		ConfigPath: resolved,
		BookIDs:    ids,
		NoLedger:   noLedger,
		Logger:     loggerFor(cmd, cfg),
	}, nil
}

func loggerFor(cmd *cobra.Command, cfg *config.Config) *slog.Logger {
	level := cfg.Log.Level
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = "debug"
	}
	return buildLogger(cmd.ErrOrStderr(), level, cfg.Log.Format)
}

func buildLogger(w io.Writer, level, format string) *slog.Logger {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}

	handlerOpts := &slog.HandlerOptions{Level: l}
	if strings.ToLower(format) == "json" {
		return slog.New(slog.NewJSONHandler(w, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts))
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
