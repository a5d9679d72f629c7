// Package render prints an assembled HTML document to PDF with headless Chrome.
package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// Renderer turns an HTML file on disk into PDF bytes.
type Renderer interface {
	RenderPDF(ctx context.Context, htmlPath string) ([]byte, error)
}

// ErrBrowserNotFound is returned when no Chrome or Chromium binary is available.
var ErrBrowserNotFound = errors.New("no Chrome or Chromium executable found")

// browserNames are tried in order when ExecPath is empty.
var browserNames = []string{
	"google-chrome",
	"google-chrome-stable",
	"chromium",
	"chromium-browser",
	"headless-shell",
	"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
	"/Applications/Chromium.app/Contents/MacOS/Chromium",
}

// Paper sizes in inches.
const (
	A4Width  = 8.27
	A4Height = 11.69
)

// ChromeRenderer drives a headless browser through the DevTools protocol.
type ChromeRenderer struct {
	ExecPath    string
	Timeout     time.Duration
	PaperWidth  float64
	PaperHeight float64
	Logger      *slog.Logger
}

// NewChromeRenderer creates a renderer printing A4 pages.
func NewChromeRenderer(timeout time.Duration, logger *slog.Logger) *ChromeRenderer {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChromeRenderer{
		Timeout:     timeout,
		PaperWidth:  A4Width,
		PaperHeight: A4Height,
		Logger:      logger,
	}
}

// FindBrowser returns the first known browser executable that exists.
func FindBrowser() (string, error) {
	for _, name := range browserNames {
		if p, err := exec.LookPath(name); err == nil {
			return p, nil
		}
	}
	return "", ErrBrowserNotFound
}

// FileURL converts a local path into a file:// URL.
func FileURL(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", p, err)
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}
	return u.String(), nil
}

func (r *ChromeRenderer) browserPath() (string, error) {
	if r.ExecPath != "" {
		return r.ExecPath, nil
	}
	return FindBrowser()
}

func allocatorOptions(execPath string) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if execPath != "" {
		opts = append(opts, chromedp.ExecPath(execPath))
	}
	return opts
}

func (r *ChromeRenderer) printParams() *page.PrintToPDFParams {
	w, h := r.PaperWidth, r.PaperHeight
	if w <= 0 || h <= 0 {
		w, h = A4Width, A4Height
	}
	return page.PrintToPDF().
		WithPrintBackground(true).
		WithPreferCSSPageSize(true).
		WithPaperWidth(w).
		WithPaperHeight(h)
}

// RenderPDF loads htmlPath in a fresh browser and prints it. Without
// ExecPath it fails with ErrBrowserNotFound before starting anything.
func (r *ChromeRenderer) RenderPDF(ctx context.Context, htmlPath string) ([]byte, error) {
	execPath, err := r.browserPath()
	if err != nil {
		return nil, err
	}
	target, err := FileURL(htmlPath)
	if err != nil {
		return nil, err
	}
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("starting headless browser", "browser", execPath, "url", target)

	allocCtx, cancel := chromedp.NewExecAllocator(ctx, allocatorOptions(execPath)...)
	defer cancel()

	browserCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	if r.Timeout > 0 {
		browserCtx, cancel = context.WithTimeout(browserCtx, r.Timeout)
		defer cancel()
	}

	var pdf []byte
	err = chromedp.Run(browserCtx,
		chromedp.Navigate(target),
		chromedp.WaitReady("body"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			data, _, err := r.printParams().Do(ctx)
			if err != nil {
				return err
			}
			pdf = data
			return nil
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to render %s: %w", htmlPath, err)
	}

	logger.Debug("rendered pdf", "path", htmlPath, "bytes", len(pdf))
	return pdf, nil
}
