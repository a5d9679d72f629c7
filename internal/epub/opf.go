package epub

import (
	"encoding/xml"
	"fmt"
	"path"
	"strings"
)

// opfPackage represents the OPF XML structure
type opfPackage struct {
	XMLName  xml.Name    `xml:"package"`
	Version  string      `xml:"version,attr"`
	UniqueID string      `xml:"unique-identifier,attr"`
	Metadata opfMetadata `xml:"metadata"`
	Manifest opfManifest `xml:"manifest"`
	Spine    opfSpine    `xml:"spine"`
}

// opfMetadata represents the metadata section
type opfMetadata struct {
	Title      []string        `xml:"http://purl.org/dc/elements/1.1/ title"`
	Language   []string        `xml:"http://purl.org/dc/elements/1.1/ language"`
	Identifier []opfIdentifier `xml:"http://purl.org/dc/elements/1.1/ identifier"`
	Meta       []opfMeta       `xml:"meta"`
}

// opfIdentifier represents an identifier element
type opfIdentifier struct {
	Value string `xml:",chardata"`
	ID    string `xml:"id,attr"`
}

type opfMeta struct {
	Name    string `xml:"name,attr"`
	Content string `xml:"content,attr"`
}

type opfManifest struct {
	Items []opfManifestItem `xml:"item"`
}

type opfManifestItem struct {
	ID         string `xml:"id,attr"`
	Href       string `xml:"href,attr"`
	MediaType  string `xml:"media-type,attr"`
	Properties string `xml:"properties,attr"`
}

type opfSpine struct {
	Toc      string       `xml:"toc,attr"`
	ItemRefs []opfItemRef `xml:"itemref"`
}

type opfItemRef struct {
	IDRef  string `xml:"idref,attr"`
	Linear string `xml:"linear,attr"`
}

// ParseOPF parses an OPF file content.
// opfDir is the directory containing the OPF file (e.g., "OEBPS/"); manifest
// hrefs are joined with it.
func ParseOPF(content []byte, opfDir string) (*Package, error) {
	var pkg opfPackage
	if err := xml.Unmarshal(content, &pkg); err != nil {
		return nil, fmt.Errorf("failed to parse OPF XML: %w", err)
	}

	p := &Package{
		Version:  pkg.Version,
		Manifest: make(map[string]ManifestItem),
		TocID:    pkg.Spine.Toc,
	}

	if len(pkg.Metadata.Title) > 0 {
		p.Title = strings.TrimSpace(pkg.Metadata.Title[0])
	}
	if len(pkg.Metadata.Language) > 0 {
		p.Language = strings.TrimSpace(pkg.Metadata.Language[0])
	}
	// Identifier (find the one marked as unique-identifier)
	for _, id := range pkg.Metadata.Identifier {
		if id.ID == pkg.UniqueID {
			p.Identifier = strings.TrimSpace(id.Value)
			break
		}
	}
	for _, m := range pkg.Metadata.Meta {
		if m.Name == "cover" && m.Content != "" {
			p.CoverID = m.Content
			break
		}
	}

	for _, item := range pkg.Manifest.Items {
		mi := ManifestItem{
			ID:        item.ID,
			Href:      joinPath(opfDir, item.Href),
			MediaType: item.MediaType,
		}
		if item.Properties != "" {
			mi.Properties = strings.Fields(item.Properties)
		}
		if _, dup := p.Manifest[item.ID]; !dup {
			p.ManifestOrder = append(p.ManifestOrder, item.ID)
		}
		p.Manifest[item.ID] = mi
	}

	for _, ref := range pkg.Spine.ItemRefs {
		p.Spine = append(p.Spine, SpineItem{
			IDRef:  ref.IDRef,
			Linear: ref.Linear != "no",
		})
	}

	// Resolve NCX path from toc attribute
	if pkg.Spine.Toc != "" {
		if ncx, ok := p.Manifest[pkg.Spine.Toc]; ok {
			p.NCXPath = ncx.Href
		}
	}

	return p, nil
}

// joinPath joins OPF directory with a relative path
func joinPath(base, rel string) string {
	if i := strings.IndexAny(rel, "#?"); i >= 0 {
		rel = rel[:i]
	}
	if base == "" {
		return path.Clean(rel)
	}
	return path.Join(base, rel)
}

// renderOPF fills the package document template.
func renderOPF(tmpl string, doc packageDoc) string {
	var manifest, spine, meta strings.Builder
	for _, item := range doc.Items {
		fmt.Fprintf(&manifest, "    <item id=\"%s\" href=\"%s\" media-type=\"%s\"/>\n",
			xmlEscape(item.ID), xmlEscape(item.Href), xmlEscape(item.MediaType))
	}
	for _, id := range doc.Spine {
		fmt.Fprintf(&spine, "    <itemref idref=\"%s\"/>\n", xmlEscape(id))
	}
	if doc.CoverID != "" {
		fmt.Fprintf(&meta, "    <meta name=\"cover\" content=\"%s\"/>\n", xmlEscape(doc.CoverID))
	}

	return strings.NewReplacer(
		"#UUID#", xmlEscape(doc.Identifier),
		"#BOOK_NAME#", xmlEscape(doc.BookName),
		"#TITLE#", xmlEscape(doc.Title),
		"#LANGUAGE#", xmlEscape(doc.Language),
		"#META#", meta.String(),
		"#MANIFEST#", manifest.String(),
		"#SPINE#", spine.String(),
	).Replace(tmpl)
}

type packageDoc struct {
	Identifier string
	BookName   string
	Title      string
	Language   string
	CoverID    string
	Items      []ManifestItem
	Spine      []string
}

func xmlEscape(s string) string {
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}
