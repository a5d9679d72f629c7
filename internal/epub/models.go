package epub

// Package is the parsed form of an OPF package document.
type Package struct {
	Version    string
	Title      string
	Identifier string
	Language   string
	CoverID    string // EPUB 2.0 cover image manifest item ID (from meta name="cover")

	Manifest      map[string]ManifestItem // id -> item
	ManifestOrder []string                // ids in document order
	Spine         []SpineItem
	TocID         string
	NCXPath       string
}

// ManifestItem represents an item in the manifest
type ManifestItem struct {
	ID         string
	Href       string // path within the container, already joined with the OPF directory
	MediaType  string
	Properties []string
}

// SpineItem represents an item reference in the spine
type SpineItem struct {
	IDRef  string
	Linear bool
}

// NavPoint represents a single navigation point in the table of contents.
type NavPoint struct {
	ID        string
	PlayOrder int
	Label     string
	Src       string
}

// MediaTypes maps lower-case file extensions (without dot) to media types.
type MediaTypes map[string]string

// DefaultMediaTypes returns the extension table used for manifest generation.
func DefaultMediaTypes() MediaTypes {
	return MediaTypes{
		"jpg":   "image/jpeg",
		"jpeg":  "image/jpeg",
		"png":   "image/png",
		"gif":   "image/gif",
		"bmp":   "image/bmp",
		"svg":   "image/svg+xml",
		"webp":  "image/webp",
		"css":   "text/css",
		"html":  "application/xhtml+xml",
		"xhtml": "application/xhtml+xml",
		"opf":   "application/oebps-package+xml",
		"ncx":   "application/x-dtbncx+xml",
		"otf":   "application/vnd.ms-opentype",
		"ttf":   "application/x-font-truetype",
		"woff":  "font/woff",
		"woff2": "font/woff2",
		"js":    "text/javascript",
		"mp4":   "video/mp4",
	}
}

// Lookup returns the media type for a file name, or "" when unknown.
func (t MediaTypes) Lookup(name string) string {
	ext := ""
	for i := len(name) - 1; i >= 0 && name[i] != '/'; i-- {
		if name[i] == '.' {
			ext = name[i+1:]
			break
		}
	}
	if ext == "" {
		return ""
	}
	return t[toLowerASCII(ext)]
}

func toLowerASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if 'A' <= c && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
