package epub

import (
	"fmt"
	"log/slog"
	"path"
	"strings"
)

// ValidationError collects every structural problem found in a container.
type ValidationError struct {
	Path     string
	Problems []error
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		msgs[i] = p.Error()
	}
	return fmt.Sprintf("invalid EPUB %s: %s", e.Path, strings.Join(msgs, "; "))
}

func (e *ValidationError) Unwrap() []error {
	return e.Problems
}

// Report describes a container that passed validation.
type Report struct {
	OPFPath    string
	Entries    int
	Title      string
	Identifier string
	Items      int
	Spine      int
	NavPoints  int
	CoverHref  string
	Warnings   []string
}

// Validator checks the structural conformance of a produced container.
type Validator struct {
	Logger *slog.Logger
}

// Validate opens the container at p and checks: the mimetype entry, the
// container descriptor, the package document metadata, that every manifest
// href exists, that every spine idref resolves and that the NCX parses.
// Missing stylesheet or image references inside XHTML are warnings.
func (v *Validator) Validate(p string) (*Report, error) {
	logger := v.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r, err := Open(p)
	if err != nil {
		return nil, &ValidationError{Path: p, Problems: []error{err}}
	}
	defer r.Close()

	report := &Report{OPFPath: r.OPFPath(), Entries: len(r.Names())}
	var problems []error
	fail := func(format string, args ...any) {
		problems = append(problems, fmt.Errorf(format, args...))
	}

	opfContent, err := r.ReadFile(r.OPFPath())
	if err != nil {
		return nil, &ValidationError{Path: p, Problems: []error{fmt.Errorf("package document: %w", err)}}
	}
	opfDir := path.Dir(r.OPFPath())
	if opfDir == "." {
		opfDir = ""
	}
	pkg, err := ParseOPF(opfContent, opfDir)
	if err != nil {
		return nil, &ValidationError{Path: p, Problems: []error{err}}
	}
	report.Title = pkg.Title
	report.Identifier = pkg.Identifier
	report.Items = len(pkg.Manifest)
	report.Spine = len(pkg.Spine)

	if pkg.Title == "" {
		fail("package document has no dc:title")
	}
	if pkg.Identifier == "" {
		fail("package document has no unique dc:identifier")
	}

	for _, id := range pkg.ManifestOrder {
		item := pkg.Manifest[id]
		if item.Href == r.OPFPath() {
			fail("manifest lists the package document itself")
		}
		if !r.Has(item.Href) {
			fail("manifest item %q: %s not found", id, item.Href)
		}
		if item.MediaType == "" {
			fail("manifest item %q has no media-type", id)
		}
	}

	if len(pkg.Spine) == 0 {
		fail("spine is empty")
	}
	for _, ref := range pkg.Spine {
		if _, ok := pkg.Manifest[ref.IDRef]; !ok {
			fail("spine itemref %q does not resolve", ref.IDRef)
		}
	}

	switch {
	case pkg.TocID == "":
		fail("spine has no toc attribute")
	case pkg.NCXPath == "":
		fail("spine toc %q does not resolve", pkg.TocID)
	default:
		report.NavPoints = v.checkNCX(r, pkg.NCXPath, report, fail)
	}

	if href, ok := pkg.CoverHref(); ok {
		report.CoverHref = href
	}

	for _, ref := range pkg.Spine {
		item, ok := pkg.Manifest[ref.IDRef]
		if !ok || !r.Has(item.Href) {
			continue
		}
		raw, err := r.ReadFile(item.Href)
		if err != nil {
			fail("%s: %v", item.Href, err)
			continue
		}
		content, err := LoadContent(item.Href, raw)
		if err != nil {
			fail("%s: %v", item.Href, err)
			continue
		}
		for _, ref := range append(content.CSSLinks, content.ImageRefs...) {
			if !r.Has(ref) {
				report.Warnings = append(report.Warnings, fmt.Sprintf("%s references missing %s", item.Href, ref))
			}
		}
	}

	for _, w := range report.Warnings {
		logger.Warn("epub check", "path", p, "warning", w)
	}
	if len(problems) > 0 {
		return report, &ValidationError{Path: p, Problems: problems}
	}
	return report, nil
}

func (v *Validator) checkNCX(r *EPUBReader, ncxPath string, report *Report, fail func(string, ...any)) int {
	raw, err := r.ReadFile(ncxPath)
	if err != nil {
		fail("NCX: %w", err)
		return 0
	}
	_, points, err := ParseNCX(raw)
	if err != nil {
		fail("NCX: %w", err)
		return 0
	}
	ncxDir := path.Dir(ncxPath)
	for _, np := range points {
		target, _ := splitFragment(np.Src)
		if target == "" || !r.Has(path.Join(ncxDir, target)) {
			report.Warnings = append(report.Warnings, fmt.Sprintf("navPoint %q points at missing %s", np.ID, np.Src))
		}
	}
	return len(points)
}
