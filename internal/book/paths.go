package book

import (
	"path"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// BannedFileChars are removed from every path written to the local filesystem.
var BannedFileChars = []string{":", "*", "?", "<", ">", "|"}

var lower = cases.Lower(language.Und)

// SafePath normalizes a remote path or URL into a local relative path:
// a leading "https://" is stripped, then one leading separator, then every
// banned character.
func SafePath(original string) string {
	s := strings.TrimPrefix(original, "https://")
	if strings.HasPrefix(s, "/") || strings.HasPrefix(s, `\`) {
		s = s[1:]
	}
	return StripBanned(s)
}

// StripBanned removes every banned character from s.
func StripBanned(s string) string {
	for _, banned := range BannedFileChars {
		s = strings.ReplaceAll(s, banned, "")
	}
	return s
}

// Slug turns a book title into a filesystem-safe name.
func Slug(title string) string {
	s := lower.String(strings.TrimSpace(title))
	s = strings.ReplaceAll(s, " ", "-")
	s = strings.ReplaceAll(s, "/", "-")
	s = strings.ReplaceAll(s, `\`, "-")
	return SafePath(s)
}

// Relativize returns the relative path from folder `from` to folder `to`,
// using '/' separators. A non-empty result always ends with '/'; equal
// folders yield "".
func Relativize(from, to string) string {
	fromSegs := splitFolder(from)
	toSegs := splitFolder(to)

	common := 0
	for common < len(fromSegs) && common < len(toSegs) && fromSegs[common] == toSegs[common] {
		common++
	}

	parts := make([]string, 0, len(fromSegs)-common+len(toSegs)-common)
	for i := common; i < len(fromSegs); i++ {
		parts = append(parts, "..")
	}
	parts = append(parts, toSegs[common:]...)
	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, "/") + "/"
}

func splitFolder(folder string) []string {
	folder = path.Clean(strings.ReplaceAll(folder, `\`, "/"))
	if folder == "." {
		return nil
	}
	raw := strings.Split(folder, "/")
	segs := make([]string, 0, len(raw))
	for _, s := range raw {
		if s == "" {
			continue
		}
		segs = append(segs, s)
	}
	return segs
}

// MediaNames returns the media keys in sorted order.
func (m *Manifest) MediaNames() []string {
	names := make([]string, 0, len(m.Media))
	for name := range m.Media {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
