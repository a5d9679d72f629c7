// Package converter turns a resolved manifest into one offline HTML document.
package converter

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/yuanying/epubfetch/internal/book"
)

const fallbackDataURIType = "image/png"

// HTMLOptions configures an HTMLAssembler.
type HTMLOptions struct {
	// LegacyPNGDataURI labels every embedded resource as image/png.
	LegacyPNGDataURI bool
	// Images downscales raster images before embedding; nil keeps them as-is.
	Images *ImageOptimizer
	Logger *slog.Logger
}

// HTMLAssembler builds a single self-contained document from a manifest.
type HTMLAssembler struct {
	opts   HTMLOptions
	logger *slog.Logger
}

// NewHTMLAssembler creates an HTMLAssembler.
func NewHTMLAssembler(opts HTMLOptions) *HTMLAssembler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &HTMLAssembler{opts: opts, logger: logger}
}

// Assemble concatenates the cover page and chapters, inlines the stylesheets
// and embeds every referenced media item as a data URI.
func (a *HTMLAssembler) Assemble(m *book.Manifest) ([]byte, error) {
	var raw bytes.Buffer
	for _, item := range m.TextItems() {
		raw.Write(item.Content)
		raw.WriteByte('\n')
	}

	doc, err := goquery.NewDocumentFromReader(&raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse concatenated chapters: %w", err)
	}

	// Chapter titles end up in the head or body; the document keeps only
	// the book title.
	doc.Find("title").Remove()
	head := ensureHead(doc)
	head.AppendHtml(`<meta charset="utf-8"/>`)
	head.AppendHtml(`<title></title>`)
	head.ChildrenFiltered("title").Last().SetText(m.Title)

	a.inlineCSS(doc, head, m)

	embedder := &mediaEmbedder{assembler: a, manifest: m, cache: make(map[string]string)}
	embedder.embed(doc)

	cleanAttributes(doc)

	out, err := doc.Html()
	if err != nil {
		return nil, fmt.Errorf("failed to generate HTML: %w", err)
	}
	return []byte(out), nil
}

func ensureHead(doc *goquery.Document) *goquery.Selection {
	head := doc.Find("head").First()
	if head.Length() > 0 {
		return head
	}
	doc.Find("html").First().PrependHtml("<head></head>")
	return doc.Find("head").First()
}

func (a *HTMLAssembler) inlineCSS(doc *goquery.Document, head *goquery.Selection, m *book.Manifest) {
	var sheets []string
	if m.CSS != nil {
		sheets = append(sheets, string(m.CSS.Content))
	}
	for _, extra := range m.ExtraCSS {
		sheets = append(sheets, string(extra))
	}
	if len(sheets) == 0 {
		return
	}

	style := doc.Find("style").First()
	if style.Length() == 0 {
		head.AppendHtml("<style></style>")
		style = head.Find("style").Last()
	}

	// Escape any </style> in CSS so it cannot close the element early.
	cssText := strings.ReplaceAll(strings.Join(sheets, "\n"), "</style", `<\/style`)
	style.Get(0).AppendChild(&html.Node{Type: html.TextNode, Data: "\n" + cssText})
}

type mediaEmbedder struct {
	assembler *HTMLAssembler
	manifest  *book.Manifest
	cache     map[string]string
	safe      map[string]*book.ResourceItem
}

func (e *mediaEmbedder) embed(doc *goquery.Document) {
	doc.Find("[src]").Each(func(_ int, s *goquery.Selection) {
		node := s.Get(0)
		for i := range node.Attr {
			if node.Attr[i].Key == "src" {
				e.rewrite(&node.Attr[i])
			}
		}
	})
	// SVG images reference their bitmap through xlink:href or href.
	doc.Find("image").Each(func(_ int, s *goquery.Selection) {
		node := s.Get(0)
		for i := range node.Attr {
			if node.Attr[i].Key == "href" || node.Attr[i].Key == "xlink:href" {
				e.rewrite(&node.Attr[i])
			}
		}
	})
}

func (e *mediaEmbedder) rewrite(attr *html.Attribute) {
	value := strings.TrimSpace(attr.Val)
	if value == "" || strings.HasPrefix(strings.ToLower(value), "data:") {
		return
	}
	key := lastSegment(value)
	item, ok := e.lookup(key)
	if !ok {
		e.assembler.logger.Warn("cannot resolve embedded resource", "book", e.manifest.ID, "ref", value)
		return
	}
	if uri, ok := e.cache[key]; ok {
		attr.Val = uri
		return
	}
	uri := e.assembler.dataURI(item)
	e.cache[key] = uri
	attr.Val = uri
}

// lookup finds a media item by name, also under the sanitised name the
// link resolver writes.
func (e *mediaEmbedder) lookup(key string) (*book.ResourceItem, bool) {
	if item, ok := e.manifest.Media[key]; ok {
		return item, true
	}
	if e.safe == nil {
		e.safe = make(map[string]*book.ResourceItem, len(e.manifest.Media))
		for _, name := range e.manifest.MediaNames() {
			e.safe[book.StripBanned(name)] = e.manifest.Media[name]
		}
	}
	item, ok := e.safe[key]
	return item, ok
}

func (a *HTMLAssembler) dataURI(item *book.ResourceItem) string {
	data := item.Content
	mediaType := ""
	if a.opts.Images != nil && item.Kind == book.KindImage {
		optimized, err := a.opts.Images.Optimize(item.RemotePath, item.MediaType, data)
		switch {
		case err != nil:
			a.logger.Warn("image optimization failed", "path", item.RemotePath, "error", err)
		default:
			if optimized.Warning != "" {
				a.logger.Warn("image passed through", "path", item.RemotePath, "reason", optimized.Warning)
			}
			data = optimized.Data
			mediaType = optimized.MediaType
		}
	}
	if a.opts.LegacyPNGDataURI {
		mediaType = fallbackDataURIType
	} else if mediaType == "" {
		mediaType = dataURIType(item.MediaType, data)
	}
	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// dataURIType prefers the declared type, then content sniffing, then image/png.
func dataURIType(declared string, data []byte) string {
	declared = strings.ToLower(strings.TrimSpace(declared))
	if i := strings.IndexByte(declared, ';'); i >= 0 {
		declared = strings.TrimSpace(declared[:i])
	}
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	sniffed := http.DetectContentType(data)
	if strings.HasPrefix(sniffed, "image/") || strings.HasPrefix(sniffed, "video/") {
		return sniffed
	}
	return fallbackDataURIType
}

func lastSegment(value string) string {
	if i := strings.IndexAny(value, "?#"); i >= 0 {
		value = value[:i]
	}
	if i := strings.LastIndex(value, "/"); i >= 0 {
		value = value[i+1:]
	}
	return value
}
