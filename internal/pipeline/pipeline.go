// Package pipeline drives one book from its metadata to a finished artifact
// on disk.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/yuanying/epubfetch/internal/book"
	"github.com/yuanying/epubfetch/internal/collector"
	"github.com/yuanying/epubfetch/internal/converter"
	"github.com/yuanying/epubfetch/internal/epub"
	"github.com/yuanying/epubfetch/internal/links"
	"github.com/yuanying/epubfetch/internal/render"
)

// ErrBookLocked is returned when another process holds the lock of a book.
var ErrBookLocked = errors.New("book is being processed by another process")

// BookError is the failure of one run.
type BookError struct {
	BookID string
	State  State // last state reached before the failure
	Err    error
}

func (e *BookError) Error() string {
	return fmt.Sprintf("book %s failed after %s: %v", e.BookID, e.State, e.Err)
}

func (e *BookError) Unwrap() error { return e.Err }

// Collector is the part of collector.Collector a pipeline needs.
type Collector interface {
	FetchMetadata(ctx context.Context, id string) (*collector.Metadata, error)
	CollectResources(ctx context.Context, meta *collector.Metadata) (*book.Manifest, error)
}

// CollectorFactory builds the collector for one run. Every book gets its own
// collector and with it its own HTTP connections.
type CollectorFactory func() (Collector, error)

// Options configures a Pipeline.
type Options struct {
	OutputDir string
	Format    Format
	// Validate checks produced containers before they are moved into place.
	Validate bool
	Resolver *links.Resolver
	HTML     *converter.HTMLAssembler
	Renderer render.Renderer
	Observer Observer
	Logger   *slog.Logger
}

// Result describes a finished run.
type Result struct {
	RunID  string
	BookID string
	Title  string
	State  State
	Output string
	Report *epub.Report
}

// Pipeline processes books one at a time. It is safe to call Process from
// several goroutines for different books.
type Pipeline struct {
	newCollector CollectorFactory
	resolver  *links.Resolver
	html      *converter.HTMLAssembler
	container *epub.Assembler
	validator *epub.Validator
	renderer  render.Renderer
	opts      Options
	logger    *slog.Logger
}

// New creates a Pipeline. newCollector is called once per processed book.
// Missing components get their defaults.
func New(newCollector CollectorFactory, opts Options) (*Pipeline, error) {
	if newCollector == nil {
		return nil, errors.New("pipeline: nil collector factory")
	}
	if opts.OutputDir == "" {
		return nil, errors.New("pipeline: output directory is required")
	}
	if opts.Format == "" {
		opts.Format = FormatEPUB
	}
	if _, err := ParseFormat(string(opts.Format)); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	p := &Pipeline{
		newCollector: newCollector,
		resolver:     opts.Resolver,
		html:         opts.HTML,
		container:    epub.NewAssembler(logger),
		validator:    &epub.Validator{Logger: logger},
		renderer:     opts.Renderer,
		opts:         opts,
		logger:       logger,
	}
	if p.resolver == nil {
		p.resolver = &links.Resolver{Logger: logger}
	}
	if p.html == nil {
		p.html = converter.NewHTMLAssembler(converter.HTMLOptions{Logger: logger})
	}
	if p.renderer == nil && opts.Format == FormatPDF {
		p.renderer = render.NewChromeRenderer(0, logger)
	}
	return p, nil
}

// Process runs the state machine for one book id.
func (p *Pipeline) Process(ctx context.Context, id string) (*Result, error) {
	r := &run{
		p:      p,
		ctx:    ctx,
		logger: p.logger.With("book", id),
		res:    &Result{RunID: uuid.NewString(), BookID: id, State: NotStarted},
	}
	r.emit(NotStarted, NotStarted, nil)

	if err := os.MkdirAll(p.opts.OutputDir, 0o755); err != nil {
		return r.res, r.fail(fmt.Errorf("failed to create output directory: %w", err))
	}

	if existing, ok := p.findExisting(id); ok {
		r.res.Output = existing
		r.advance(Skipped)
		return r.res, nil
	}

	lock := flock.New(filepath.Join(p.opts.OutputDir, "."+id+".lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return r.res, r.fail(fmt.Errorf("failed to acquire book lock: %w", err))
	}
	if !locked {
		return r.res, r.fail(ErrBookLocked)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			r.logger.Warn("failed to release book lock", "error", err)
		}
	}()

	// Another process may have finished while we waited for the lock.
	if existing, ok := p.findExisting(id); ok {
		r.res.Output = existing
		r.advance(Skipped)
		return r.res, nil
	}

	if err := r.execute(); err != nil {
		return r.res, r.fail(err)
	}
	r.advance(Done)
	return r.res, nil
}

// OutputPath returns the final artifact path for a book.
func (p *Pipeline) OutputPath(id, bookName string) string {
	return filepath.Join(p.opts.OutputDir, fmt.Sprintf("%s-%s.%s", id, bookName, p.opts.Format.Ext()))
}

// WorkDir returns the staging directory for a book.
func (p *Pipeline) WorkDir(id, bookName string) string {
	return filepath.Join(p.opts.OutputDir, fmt.Sprintf("%s-%s", id, bookName))
}

// RenderDir holds the intermediate document of a PDF run. It is kept apart
// from WorkDir so nothing from it ends up in a container.
func (p *Pipeline) RenderDir(id, bookName string) string {
	return p.WorkDir(id, bookName) + ".render"
}

// findExisting looks for <id>-*.<ext> or <id>.<ext> in the output directory.
func (p *Pipeline) findExisting(id string) (string, bool) {
	ext := p.opts.Format.Ext()
	exact := filepath.Join(p.opts.OutputDir, id+"."+ext)
	if info, err := os.Stat(exact); err == nil && info.Mode().IsRegular() {
		return exact, true
	}
	matches, err := filepath.Glob(filepath.Join(p.opts.OutputDir, escapeGlob(id)+"-*."+ext))
	if err != nil {
		return "", false
	}
	for _, m := range matches {
		if info, err := os.Stat(m); err == nil && info.Mode().IsRegular() {
			return m, true
		}
	}
	return "", false
}

func escapeGlob(s string) string {
	return strings.NewReplacer(`\`, `\\`, "*", `\*`, "?", `\?`, "[", `\[`).Replace(s)
}

type run struct {
	p      *Pipeline
	ctx    context.Context
	logger *slog.Logger
	res    *Result
}

func (r *run) emit(from, to State, err error) {
	if r.p.opts.Observer == nil {
		return
	}
	r.p.opts.Observer.Observe(r.ctx, Event{
		RunID:  r.res.RunID,
		BookID: r.res.BookID,
		Title:  r.res.Title,
		Format: r.p.opts.Format,
		From:   from,
		To:     to,
		Output: r.res.Output,
		Err:    err,
		At:     time.Now(),
	})
}

func (r *run) advance(to State) {
	from := r.res.State
	r.res.State = to
	r.logger.Debug("state changed", "from", from.String(), "to", to.String())
	r.emit(from, to, nil)
}

func (r *run) fail(err error) error {
	from := r.res.State
	r.res.State = Failed
	r.logger.Error("book failed", "state", from.String(), "error", err)
	r.emit(from, Failed, err)
	return &BookError{BookID: r.res.BookID, State: from, Err: err}
}

func (r *run) execute() error {
	p := r.p
	c, err := p.newCollector()
	if err != nil {
		return fmt.Errorf("failed to create collector: %w", err)
	}
	if closer, ok := c.(io.Closer); ok {
		defer closer.Close()
	}

	meta, err := c.FetchMetadata(r.ctx, r.res.BookID)
	if err != nil {
		return err
	}
	r.res.Title = meta.Title
	r.advance(MetadataFetched)

	m, err := c.CollectResources(r.ctx, meta)
	if err != nil {
		return err
	}
	if m.BookName == "" {
		m.BookName = r.res.BookID
	}
	r.advance(ResourcesCollected)

	res, err := p.resolver.Resolve(m)
	if err != nil {
		return fmt.Errorf("failed to resolve links: %w", err)
	}
	r.logger.Info("links resolved", "rewritten", res.Rewritten, "unresolved", res.Unresolved)
	r.advance(LinksResolved)

	final := p.OutputPath(m.ID, m.BookName)
	switch p.opts.Format {
	case FormatHTML:
		err = r.buildHTML(m, final)
	case FormatPDF:
		err = r.buildPDF(m, final)
	default:
		err = r.buildEPUB(m, final)
	}
	if err != nil {
		return err
	}
	r.res.Output = final
	r.logger.Info("book written", "path", final)
	return nil
}

func (r *run) buildHTML(m *book.Manifest, final string) error {
	doc, err := r.p.html.Assemble(m)
	if err != nil {
		return err
	}
	r.advance(Assembled)
	return writeAtomic(final, doc)
}

func (r *run) buildPDF(m *book.Manifest, final string) error {
	doc, err := r.p.html.Assemble(m)
	if err != nil {
		return err
	}
	dir := r.p.RenderDir(m.ID, m.BookName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create render directory: %w", err)
	}
	htmlPath := filepath.Join(dir, m.BookName+".html")
	if err := os.WriteFile(htmlPath, doc, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", htmlPath, err)
	}
	pdf, err := r.p.renderer.RenderPDF(r.ctx, htmlPath)
	if err != nil {
		return err
	}
	r.advance(Assembled)
	return writeAtomic(final, pdf)
}

func (r *run) buildEPUB(m *book.Manifest, final string) error {
	work := r.p.WorkDir(m.ID, m.BookName)
	// Every file under work is packed, so leftovers of earlier runs must go.
	if err := os.RemoveAll(work); err != nil {
		return fmt.Errorf("failed to clear work directory: %w", err)
	}
	spine, err := epub.Stage(m, work)
	if err != nil {
		return fmt.Errorf("failed to stage resources: %w", err)
	}

	var cover string
	if m.CoverImage != nil {
		if cover, err = epub.StagePath(m.CoverImage.RemotePath); err != nil {
			return err
		}
	}

	tmp, err := tempPath(final)
	if err != nil {
		return err
	}
	defer os.Remove(tmp)

	err = r.p.container.Assemble(r.ctx, epub.Params{
		Dir:        work,
		BookName:   m.BookName,
		Title:      m.Title,
		Spine:      spine,
		CoverImage: cover,
		Output:     tmp,
	})
	if err != nil {
		return fmt.Errorf("failed to assemble container: %w", err)
	}
	r.advance(Assembled)

	if r.p.opts.Validate {
		report, err := r.p.validator.Validate(tmp)
		if err != nil {
			invalid := final + ".invalid"
			if rerr := os.Rename(tmp, invalid); rerr != nil {
				r.logger.Warn("failed to keep invalid container", "path", invalid, "error", rerr)
			} else {
				r.logger.Warn("invalid container kept for inspection", "path", invalid)
			}
			return err
		}
		r.res.Report = report
		r.advance(Validated)
	}

	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("failed to move %s into place: %w", final, err)
	}
	return nil
}

// tempPath reserves a hidden temporary file next to final.
func tempPath(final string) (string, error) {
	f, err := os.CreateTemp(filepath.Dir(final), "."+filepath.Base(final)+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create temporary file: %w", err)
	}
	name := f.Name()
	if err := f.Close(); err != nil {
		return "", err
	}
	if err := os.Chmod(name, 0o644); err != nil {
		return "", fmt.Errorf("failed to chmod %s: %w", name, err)
	}
	return name, nil
}

// writeAtomic writes data to a temporary file and renames it to final.
func writeAtomic(final string, data []byte) error {
	tmp, err := tempPath(final)
	if err != nil {
		return err
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to move %s into place: %w", final, err)
	}
	return nil
}
