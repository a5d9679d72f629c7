// Package links rewrites resource references inside chapters so they point
// at the media files relative to each chapter's own folder.
package links

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/yuanying/epubfetch/internal/book"
)

// UnresolvedError lists embedded references that matched no media item.
type UnresolvedError struct {
	Path string
	Refs []string
}

func (e *UnresolvedError) Error() string {
	return fmt.Sprintf("%s: %d unresolved reference(s): %s", e.Path, len(e.Refs), strings.Join(e.Refs, ", "))
}

// Resolver rewrites chapter references in place.
type Resolver struct {
	Strict bool
	Logger *slog.Logger
}

// Result summarizes one Resolve call.
type Result struct {
	Rewritten  int
	Unresolved int
}

// Resolve rewrites the cover page and every chapter of m. The first image
// found in the cover page (or the first text item when there is no cover
// page) becomes m.CoverImage unless one is already set.
func (r *Resolver) Resolve(m *book.Manifest) (Result, error) {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("book", m.ID)

	var res Result
	var errs []error
	for i, item := range m.TextItems() {
		coverCandidate := i == 0 && m.CoverImage == nil
		n, unresolved, cover := r.resolveItem(m, item, coverCandidate, logger)
		res.Rewritten += n
		res.Unresolved += len(unresolved)
		if cover != nil {
			m.CoverImage = cover
			logger.Info("cover image found", "path", cover.RemotePath)
		}
		if r.Strict && len(unresolved) > 0 {
			errs = append(errs, &UnresolvedError{Path: item.RemotePath, Refs: unresolved})
		}
	}
	return res, errors.Join(errs...)
}

func (r *Resolver) resolveItem(m *book.Manifest, item *book.ResourceItem, coverCandidate bool, logger *slog.Logger) (int, []string, *book.ResourceItem) {
	content := string(item.Content)
	refs := Scan(content)
	if len(refs) == 0 {
		return 0, nil, nil
	}

	replacements := make(map[string]string)
	var unresolved []string
	var cover *book.ResourceItem

	for _, ref := range refs {
		if _, done := replacements[ref.Value]; done {
			continue
		}
		key, suffix := splitKey(ref.Value)
		media, ok := m.Media[key]
		if !ok {
			if ref.Embedded() {
				logger.Warn("no media found for reference", "path", item.RemotePath, "ref", ref.Value)
				unresolved = append(unresolved, ref.Value)
			} else {
				logger.Debug("reference left unchanged", "path", item.RemotePath, "ref", ref.Value)
			}
			continue
		}
		// Files are staged under their sanitised paths, so links must be too.
		replacements[ref.Value] = book.Relativize(book.SafePath(item.Folder), book.SafePath(media.Folder)) +
			book.StripBanned(media.FileName) + suffix
		if coverCandidate && cover == nil && media.Kind == book.KindImage {
			cover = media
		}
	}

	if len(replacements) == 0 {
		return 0, unresolved, cover
	}
	item.Content = []byte(newReplacer(replacements).Replace(content))
	return len(replacements), unresolved, cover
}

// newReplacer builds a single-pass replacer; at equal positions the longer
// original is tried first.
func newReplacer(pairs map[string]string) *strings.Replacer {
	olds := make([]string, 0, len(pairs))
	for k := range pairs {
		olds = append(olds, k)
	}
	sort.Slice(olds, func(i, j int) bool {
		if len(olds[i]) != len(olds[j]) {
			return len(olds[i]) > len(olds[j])
		}
		return olds[i] < olds[j]
	})
	args := make([]string, 0, 2*len(olds))
	for _, o := range olds {
		args = append(args, o, pairs[o])
	}
	return strings.NewReplacer(args...)
}
