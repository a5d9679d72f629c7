package main

import (
	"context"
	"fmt"
	"io"

	"github.com/yuanying/epubfetch/internal/collector"
	"github.com/yuanying/epubfetch/internal/converter"
	"github.com/yuanying/epubfetch/internal/dispatch"
	"github.com/yuanying/epubfetch/internal/fetch"
	"github.com/yuanying/epubfetch/internal/ledger"
	"github.com/yuanying/epubfetch/internal/links"
	"github.com/yuanying/epubfetch/internal/pipeline"
	"github.com/yuanying/epubfetch/internal/render"
)

func run(ctx context.Context, opts *cliOptions, out io.Writer) error {
	cfg := opts.Config
	logger := opts.Logger
	if opts.ConfigPath != "" {
		logger.Debug("using config", "path", opts.ConfigPath)
	}
	logger.Debug("request headers", "names", cfg.HeaderNames())

	policy, err := collector.ParseConflictPolicy(cfg.ConflictPolicy)
	if err != nil {
		return err
	}
	// Each book builds its own fetcher so no connections are shared.
	newCollector := func() (pipeline.Collector, error) {
		fetcher, err := fetch.New(fetch.Options{
			Headers:  cfg.Headers,
			ProxyURL: cfg.ProxyURL,
			Timeout:  cfg.RequestTimeout(),
			Logger:   logger,
		})
		if err != nil {
			return nil, err
		}
		return collector.New(fetcher, collector.Options{
			BaseURL:          cfg.BaseURL,
			Policy:           policy,
			ExtraStylesheets: cfg.ExtraStylesheets,
			Logger:           logger,
		})
	}
	// Fail on a bad proxy or base URL before any book starts.
	first, err := newCollector()
	if err != nil {
		return err
	}
	if c, ok := first.(io.Closer); ok {
		c.Close()
	}

	format, err := pipeline.ParseFormat(cfg.Format)
	if err != nil {
		return err
	}

	var observer pipeline.Observer
	if !opts.NoLedger && cfg.LedgerPath != "" {
		l, err := ledger.Open(ctx, cfg.LedgerPath, logger)
		if err != nil {
			return err
		}
		defer l.Close()
		observer = l
	}

	popts := pipeline.Options{
		OutputDir: cfg.OutputDir,
		Format:    format,
		Validate:  cfg.Validate,
		Resolver:  &links.Resolver{Strict: cfg.Strict, Logger: logger},
		HTML: converter.NewHTMLAssembler(converter.HTMLOptions{
			LegacyPNGDataURI: cfg.LegacyPNGDataURI,
			Images:           converter.NewImageOptimizer(cfg.MaxImageWidth, cfg.JPEGQuality),
			Logger:           logger,
		}),
		Observer: observer,
		Logger:   logger,
	}
	if format == pipeline.FormatPDF {
		popts.Renderer = render.NewChromeRenderer(cfg.RenderTimeout(), logger)
	}
	p, err := pipeline.New(newCollector, popts)
	if err != nil {
		return err
	}

	summary := dispatch.New(p, cfg.Concurrency, logger).Run(ctx, opts.BookIDs)
	fmt.Fprintln(out, summaryTable(opts.BookIDs, summary, isTerminal(out)))

	if summary.Failed() {
		return fmt.Errorf("%d of %d book(s) failed", len(summary.Failures), len(opts.BookIDs))
	}
	return nil
}

func summaryTable(ids []string, s *dispatch.Summary, tty bool) string {
	failures := make(map[string]error, len(s.Failures))
	for _, f := range s.Failures {
		failures[f.BookID] = f.Err
	}

	rows := make([][]string, 0, len(ids))
	for i, id := range ids {
		state, title, detail := "failed", "", ""
		if res := s.Results[i]; res != nil {
			state, title, detail = res.State.String(), res.Title, res.Output
		}
		if err := failures[id]; err != nil {
			detail = err.Error()
		}
		rows = append(rows, []string{id, title, state, detail})
	}
	return renderTable([]string{"Book", "Title", "State", "Output / Error"}, rows, nil, tty)
}
