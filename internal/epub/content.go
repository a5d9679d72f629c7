package epub

import (
	"bytes"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Content represents a parsed XHTML content file
type Content struct {
	Path      string // File path
	Title     string
	CSSLinks  []string // Referenced CSS file paths, resolved against Path
	ImageRefs []string // Referenced image paths, resolved against Path
}

// LoadContent loads and parses an XHTML content file.
// Absolute URLs and data: URIs are not collected as references.
func LoadContent(filePath string, content []byte) (*Content, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("failed to parse XHTML: %w", err)
	}

	c := &Content{
		Path:  filePath,
		Title: strings.TrimSpace(doc.Find("title").First().Text()),
	}

	baseDir := path.Dir(filePath)

	doc.Find("link[rel='stylesheet']").Each(func(i int, s *goquery.Selection) {
		if href, ok := s.Attr("href"); ok && isLocalRef(href) {
			c.CSSLinks = append(c.CSSLinks, resolvePath(baseDir, href))
		}
	})

	doc.Find("img[src], image").Each(func(i int, s *goquery.Selection) {
		src, ok := s.Attr("src")
		if !ok {
			src, ok = s.Attr("href")
		}
		if ok && isLocalRef(src) {
			c.ImageRefs = append(c.ImageRefs, resolvePath(baseDir, src))
		}
	})

	return c, nil
}

func isLocalRef(ref string) bool {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.HasPrefix(ref, "#") || strings.HasPrefix(strings.ToLower(ref), "data:") {
		return false
	}
	u, err := url.Parse(ref)
	return err == nil && !u.IsAbs() && u.Host == ""
}

// resolvePath resolves a relative path against a base directory
// baseDir: base directory (e.g., "text" for "text/chapter1.xhtml")
// relPath: relative path (e.g., "../images/photo.jpg")
// returns: resolved path (e.g., "images/photo.jpg")
func resolvePath(baseDir, relPath string) string {
	relPath, _ = splitFragment(relPath)
	if i := strings.IndexByte(relPath, '?'); i >= 0 {
		relPath = relPath[:i]
	}
	if unescaped, err := url.PathUnescape(relPath); err == nil {
		relPath = unescaped
	}
	return path.Clean(path.Join(baseDir, relPath))
}
