// Package collector walks the paginated file listing of a remote book and
// classifies every entry into a book.Manifest.
package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/yuanying/epubfetch/internal/book"
	"github.com/yuanying/epubfetch/internal/fetch"
)

// ConflictPolicy decides which item keeps a singleton slot when two entries compete for it.
type ConflictPolicy string

const (
	LastWins  ConflictPolicy = "last-wins"
	FirstWins ConflictPolicy = "first-wins"
	Strict    ConflictPolicy = "strict"
)

// ParseConflictPolicy maps a config value to a policy. Empty means LastWins.
func ParseConflictPolicy(s string) (ConflictPolicy, error) {
	switch p := ConflictPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return LastWins, nil
	case LastWins, FirstWins, Strict:
		return p, nil
	}
	return "", fmt.Errorf("unknown conflict policy %q", s)
}

// ConflictError is returned under the Strict policy.
type ConflictError struct {
	Slot     book.Slot
	Existing string
	Incoming string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflicting %s: %s and %s", e.Slot, e.Existing, e.Incoming)
}

// ErrEmptyListing is returned when the listing yields no text at all.
var ErrEmptyListing = errors.New("listing contains no chapters")

// Options configures a Collector.
type Options struct {
	BaseURL string
	Policy  ConflictPolicy
	// ExtraStylesheets are fetched after the listing, relative to BaseURL.
	ExtraStylesheets []string
	Logger           *slog.Logger
}

// Collector builds manifests from the remote API.
type Collector struct {
	fetcher fetch.PageFetcher
	base    *url.URL
	policy  ConflictPolicy
	extra   []string
	logger  *slog.Logger
}

// New creates a Collector.
func New(fetcher fetch.PageFetcher, opts Options) (*Collector, error) {
	if fetcher == nil {
		return nil, errors.New("collector: nil fetcher")
	}
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse base url: %w", err)
	}
	if !base.IsAbs() {
		return nil, fmt.Errorf("base url %q is not absolute", opts.BaseURL)
	}
	policy := opts.Policy
	if policy == "" {
		policy = LastWins
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		fetcher: fetcher,
		base:    base,
		policy:  policy,
		extra:   opts.ExtraStylesheets,
		logger:  logger,
	}, nil
}

// Close releases the idle connections of the underlying fetcher, if it
// keeps any.
func (c *Collector) Close() error {
	if f, ok := c.fetcher.(interface{ CloseIdleConnections() }); ok {
		f.CloseIdleConnections()
	}
	return nil
}

// MetadataURL returns the descriptor endpoint for a book id.
func (c *Collector) MetadataURL(id string) string {
	return c.base.String() + "/api/v2/epubs/urn:orm:book:" + id
}

// FetchMetadata retrieves the title and the first listing cursor.
func (c *Collector) FetchMetadata(ctx context.Context, id string) (*Metadata, error) {
	u := c.MetadataURL(id)
	body, err := c.fetcher.Get(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch metadata: %w", err)
	}
	var meta Metadata
	if err := decodeChecked(metadataValidator, u, body, &meta); err != nil {
		return nil, err
	}
	meta.ID = id
	return &meta, nil
}

// Collect fetches the metadata and every listed resource of one book.
func (c *Collector) Collect(ctx context.Context, id string) (*book.Manifest, error) {
	meta, err := c.FetchMetadata(ctx, id)
	if err != nil {
		return nil, err
	}
	return c.CollectResources(ctx, meta)
}

// CollectResources walks the listing starting at meta.Files. On any error the
// partially built manifest is discarded.
func (c *Collector) CollectResources(ctx context.Context, meta *Metadata) (*book.Manifest, error) {
	m := book.NewManifest(meta.ID)
	m.Title = meta.Title
	m.BookName = book.Slug(meta.Title)
	log := c.logger.With("book", meta.ID)

	cursor := meta.Files
	pages := 0
	for cursor != "" {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pageURL, err := c.resolve(cursor)
		if err != nil {
			return nil, err
		}
		log.Info("searching book pages", "url", pageURL)
		next, err := c.collectPage(ctx, m, pageURL, log)
		if err != nil {
			return nil, err
		}
		pages++
		cursor = next
	}

	for _, ref := range c.extra {
		u, err := c.resolve(ref)
		if err != nil {
			return nil, err
		}
		css, err := c.fetcher.Get(ctx, u)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch extra stylesheet: %w", err)
		}
		m.ExtraCSS = append(m.ExtraCSS, css)
	}

	if len(m.TextItems()) == 0 {
		return nil, fmt.Errorf("book %s: %w", meta.ID, ErrEmptyListing)
	}

	log.Info("collected resources",
		"pages", pages,
		"chapters", len(m.Chapters),
		"media", len(m.Media),
		"conflicts", len(m.Conflicts))
	return m, nil
}

func (c *Collector) collectPage(ctx context.Context, m *book.Manifest, pageURL string, log *slog.Logger) (string, error) {
	body, err := c.fetcher.Get(ctx, pageURL)
	if err != nil {
		return "", fmt.Errorf("failed to fetch listing page: %w", err)
	}
	var page filesPage
	if err := decodeChecked(filesPageValidator, pageURL, body, &page); err != nil {
		return "", err
	}

	for _, e := range page.Results {
		u, err := c.resolve(e.URL)
		if err != nil {
			return "", err
		}
		log.Debug("downloading", "media_type", e.MediaType, "url", u)
		content, err := c.fetcher.Get(ctx, u)
		if err != nil {
			return "", fmt.Errorf("failed to fetch %s: %w", e.FullPath, err)
		}
		item := book.NewResourceItem(u, e.MediaType, e.FullPath, e.FileName, book.Kind(e.Kind), content)
		if !item.HasConsistentFolder() {
			log.Warn("file name is not a suffix of its path", "path", e.FullPath, "filename", e.FileName)
		}
		if err := c.place(m, item, log); err != nil {
			return "", err
		}
	}

	if page.Next == nil {
		return "", nil
	}
	return strings.TrimSpace(*page.Next), nil
}

// place applies the classification rules; the first matching rule wins.
func (c *Collector) place(m *book.Manifest, item *book.ResourceItem, log *slog.Logger) error {
	lowerName := strings.ToLower(item.FileName)
	switch {
	case item.Kind.IsMedia():
		if prev, ok := m.Media[item.FileName]; ok {
			log.Debug("media replaced", "name", item.FileName, "previous", prev.RemotePath, "path", item.RemotePath)
		}
		m.Media[item.FileName] = item
		return nil
	case item.Kind == book.KindStylesheet:
		return c.setSlot(m, book.SlotCSS, item, log)
	case strings.HasSuffix(lowerName, ".opf"):
		item.Kind = book.KindOPF
		return c.setSlot(m, book.SlotOPF, item, log)
	case strings.HasSuffix(lowerName, ".ncx"):
		item.Kind = book.KindNCX
		return c.setSlot(m, book.SlotNCX, item, log)
	case strings.Contains(lowerName, "cover"):
		if item.Kind == "" {
			item.Kind = book.KindChapter
		}
		return c.setSlot(m, book.SlotCoverPage, item, log)
	case item.Kind == book.KindOtherAsset:
		m.Others = append(m.Others, item)
		return nil
	default:
		if item.Kind == "" {
			item.Kind = book.KindChapter
		}
		m.Chapters = append(m.Chapters, item)
		return nil
	}
}

func (c *Collector) setSlot(m *book.Manifest, slot book.Slot, item *book.ResourceItem, log *slog.Logger) error {
	existing := m.Slot(slot)
	if existing == nil {
		m.SetSlot(slot, item)
		return nil
	}

	kept := item
	switch c.policy {
	case Strict:
		return &ConflictError{Slot: slot, Existing: existing.RemotePath, Incoming: item.RemotePath}
	case FirstWins:
		kept = existing
	}
	m.SetSlot(slot, kept)
	m.Conflicts = append(m.Conflicts, book.Conflict{Slot: slot, Existing: existing, Incoming: item, Kept: kept})
	log.Warn("singleton slot conflict",
		"slot", string(slot),
		"existing", existing.RemotePath,
		"incoming", item.RemotePath,
		"kept", kept.RemotePath,
		"policy", string(c.policy))
	return nil
}

func (c *Collector) resolve(ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("failed to parse url %q: %w", ref, err)
	}
	if u.IsAbs() {
		return u.String(), nil
	}
	return c.base.ResolveReference(u).String(), nil
}
