package epub

import (
	"archive/zip"
	"context"
	"embed"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/google/uuid"
)

//go:embed templates/package.opf templates/toc.ncx templates/container.xml
var templateFS embed.FS

// mimetypeCRC is the CRC-32 of "application/epub+zip".
const mimetypeCRC = 0x2CAB616F

// Params describes one container to assemble from a staged directory.
type Params struct {
	Dir        string
	BookName   string
	Title      string
	Language   string
	Identifier string   // generated when empty
	Spine      []string // hrefs relative to Dir; empty means every XHTML file in walk order
	CoverImage string   // href relative to Dir, optional
	Output     string
}

// Assembler writes the package document, NCX and container descriptor into
// a staged directory and packs it into an OCF zip.
type Assembler struct {
	MediaTypes MediaTypes
	Logger     *slog.Logger
}

// NewAssembler creates an Assembler with the default media type table.
func NewAssembler(logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{MediaTypes: DefaultMediaTypes(), Logger: logger}
}

// Generated file names for a book.
func opfName(bookName string) string { return bookName + ".opf" }
func ncxName(bookName string) string { return bookName + ".ncx" }

// Assemble generates the metadata documents and writes the zip to p.Output.
func (a *Assembler) Assemble(ctx context.Context, p Params) error {
	if p.BookName == "" {
		p.BookName = "content"
	}
	if p.Identifier == "" {
		p.Identifier = "urn:uuid:" + uuid.NewString()
	}
	if p.Language == "" {
		p.Language = "en"
	}

	files, err := a.walk(p.Dir, p.BookName)
	if err != nil {
		return err
	}

	items, byHref := a.manifestItems(files)
	spineIDs, navPoints := a.spine(p, files, items, byHref)
	if len(spineIDs) == 0 {
		return fmt.Errorf("failed to assemble %s: no XHTML documents to put in the spine", p.BookName)
	}

	coverID := ""
	if p.CoverImage != "" {
		if item, ok := byHref[p.CoverImage]; ok {
			coverID = item.ID
		} else {
			a.Logger.Warn("cover image is not in the manifest", "path", p.CoverImage)
		}
	}

	tmpl, err := loadTemplates()
	if err != nil {
		return err
	}
	generated := map[string]string{
		opfName(p.BookName): renderOPF(tmpl.opf, packageDoc{
			Identifier: p.Identifier,
			BookName:   p.BookName,
			Title:      p.Title,
			Language:   p.Language,
			CoverID:    coverID,
			Items:      items,
			Spine:      spineIDs,
		}),
		ncxName(p.BookName): renderNCX(tmpl.ncx, p.Identifier, p.Title, navPoints),
		containerPath:       strings.ReplaceAll(tmpl.container, "#BOOK_NAME#", xmlEscape(p.BookName)),
	}
	for name, content := range generated {
		dst := filepath.Join(p.Dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return fmt.Errorf("failed to create directory for %s: %w", name, err)
		}
		if err := os.WriteFile(dst, []byte(content), 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
	}

	entries := append([]string{containerPath, opfName(p.BookName), ncxName(p.BookName)}, files...)
	return writeZip(ctx, p.Dir, entries, p.Output)
}

// walk lists regular files under dir relative to it with '/' separators, in
// lexical order, leaving out files the assembler generates itself.
func (a *Assembler) walk(dir, bookName string) ([]string, error) {
	skip := map[string]bool{
		mimetypeName:      true,
		containerPath:     true,
		opfName(bookName): true,
		ncxName(bookName): true,
	}
	var files []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if !skip[rel] {
			files = append(files, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", dir, err)
	}
	return files, nil
}

func (a *Assembler) manifestItems(files []string) ([]ManifestItem, map[string]ManifestItem) {
	used := map[string]bool{"ncx": true}
	var items []ManifestItem
	byHref := make(map[string]ManifestItem)
	for _, f := range files {
		mt := a.MediaTypes.Lookup(f)
		if mt == "" {
			a.Logger.Debug("packing file without manifest entry", "path", f)
			continue
		}
		item := ManifestItem{ID: uniqueID(path.Base(f), used), Href: f, MediaType: mt}
		items = append(items, item)
		byHref[f] = item
	}
	return items, byHref
}

func (a *Assembler) spine(p Params, files []string, items []ManifestItem, byHref map[string]ManifestItem) ([]string, []NavPoint) {
	hrefs := p.Spine
	if len(hrefs) == 0 {
		for _, item := range items {
			if item.MediaType == "application/xhtml+xml" {
				hrefs = append(hrefs, item.Href)
			}
		}
	}

	var ids []string
	var points []NavPoint
	for _, href := range hrefs {
		item, ok := byHref[href]
		if !ok || item.MediaType != "application/xhtml+xml" {
			a.Logger.Warn("spine entry is not an XHTML manifest item", "path", href)
			continue
		}
		ids = append(ids, item.ID)
		points = append(points, NavPoint{
			ID:        fmt.Sprintf("navPoint-%d", len(points)+1),
			PlayOrder: len(points) + 1,
			Label:     a.navLabel(p.Dir, href),
			Src:       href,
		})
	}
	return ids, points
}

func (a *Assembler) navLabel(dir, href string) string {
	raw, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(href)))
	if err == nil {
		if c, err := LoadContent(href, raw); err == nil && c.Title != "" {
			return c.Title
		}
	}
	return strings.TrimSuffix(path.Base(href), path.Ext(href))
}

// uniqueID turns a file name into a valid XML NCName and appends -2, -3, ...
// until it is not in used.
func uniqueID(name string, used map[string]bool) string {
	var b strings.Builder
	for i, r := range name {
		switch {
		case unicode.IsLetter(r) || r == '_':
			b.WriteRune(r)
		case i > 0 && (unicode.IsDigit(r) || r == '-' || r == '.'):
			b.WriteRune(r)
		case i == 0:
			b.WriteRune('_')
			if unicode.IsDigit(r) || r == '-' || r == '.' {
				b.WriteRune(r)
			}
		default:
			b.WriteRune('_')
		}
	}
	base := b.String()
	if base == "" {
		base = "item"
	}
	id := base
	for n := 2; used[id]; n++ {
		id = fmt.Sprintf("%s-%d", base, n)
	}
	used[id] = true
	return id
}

type templates struct {
	opf, ncx, container string
}

func loadTemplates() (templates, error) {
	read := func(name string) (string, error) {
		b, err := templateFS.ReadFile("templates/" + name)
		if err != nil {
			return "", fmt.Errorf("failed to load template %s: %w", name, err)
		}
		return string(b), nil
	}
	var t templates
	var err error
	if t.opf, err = read("package.opf"); err != nil {
		return t, err
	}
	if t.ncx, err = read("toc.ncx"); err != nil {
		return t, err
	}
	if t.container, err = read("container.xml"); err != nil {
		return t, err
	}
	return t, nil
}

// writeZip packs the OCF container: entry 0 is the stored mimetype with its
// precomputed CRC, every other entry is deflated in the given order.
func writeZip(ctx context.Context, dir string, entries []string, output string) error {
	f, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", output, err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	mw, err := zw.CreateRaw(&zip.FileHeader{
		Name:               mimetypeName,
		Method:             zip.Store,
		CRC32:              mimetypeCRC,
		CompressedSize64:   uint64(len(mimetypeContent)),
		UncompressedSize64: uint64(len(mimetypeContent)),
	})
	if err != nil {
		return fmt.Errorf("failed to create mimetype entry: %w", err)
	}
	if _, err := io.WriteString(mw, mimetypeContent); err != nil {
		return fmt.Errorf("failed to write mimetype entry: %w", err)
	}

	for _, name := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := addFile(zw, dir, name); err != nil {
			return err
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finish zip: %w", err)
	}
	return f.Close()
}

func addFile(zw *zip.Writer, dir, name string) error {
	src := filepath.Join(dir, filepath.FromSlash(name))
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", name, err)
	}
	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("failed to build header for %s: %w", name, err)
	}
	hdr.Name = name
	hdr.Method = zip.Deflate

	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return fmt.Errorf("failed to create entry %s: %w", name, err)
	}
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", name, err)
	}
	defer in.Close()
	if _, err := io.Copy(w, in); err != nil {
		return fmt.Errorf("failed to pack %s: %w", name, err)
	}
	return nil
}
