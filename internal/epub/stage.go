package epub

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/yuanying/epubfetch/internal/book"
)

// StagePath maps a remote path to its location inside the staging directory.
func StagePath(remotePath string) (string, error) {
	rel := path.Clean(strings.ReplaceAll(book.SafePath(remotePath), `\`, "/"))
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") || strings.HasPrefix(rel, "/") {
		return "", fmt.Errorf("unsafe resource path %q", remotePath)
	}
	return rel, nil
}

// Stage writes the cover page, chapters, stylesheet, media and other assets
// of m under dir. The remote OPF and NCX are not staged since the assembler
// generates its own. It returns the spine: text item hrefs in reading order,
// cover page first, without duplicates.
func Stage(m *book.Manifest, dir string) ([]string, error) {
	var spine []string
	seen := make(map[string]bool)

	write := func(item *book.ResourceItem) (string, error) {
		rel, err := StagePath(item.RemotePath)
		if err != nil {
			return "", err
		}
		dst := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return "", fmt.Errorf("failed to create directory for %s: %w", rel, err)
		}
		if err := os.WriteFile(dst, item.Content, 0o644); err != nil {
			return "", fmt.Errorf("failed to write %s: %w", rel, err)
		}
		return rel, nil
	}

	text := len(m.TextItems())
	for i, item := range m.AllItems() {
		if item == m.OPF || item == m.NCX {
			continue
		}
		rel, err := write(item)
		if err != nil {
			return nil, err
		}
		if i < text && !seen[rel] {
			seen[rel] = true
			spine = append(spine, rel)
		}
	}
	return spine, nil
}
