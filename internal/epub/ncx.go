package epub

import (
	"encoding/xml"
	"fmt"
	"strings"
)

type ncxDocument struct {
	XMLName   xml.Name      `xml:"ncx"`
	DocTitle  string        `xml:"docTitle>text"`
	NavPoints []ncxNavPoint `xml:"navMap>navPoint"`
}

type ncxNavPoint struct {
	ID        string        `xml:"id,attr"`
	PlayOrder int           `xml:"playOrder,attr"`
	Label     string        `xml:"navLabel>text"`
	Content   ncxContent    `xml:"content"`
	Children  []ncxNavPoint `xml:"navPoint"`
}

type ncxContent struct {
	Src string `xml:"src,attr"`
}

// ParseNCX parses an NCX document and flattens its navigation points in
// document order.
func ParseNCX(content []byte) (string, []NavPoint, error) {
	var doc ncxDocument
	if err := xml.Unmarshal(content, &doc); err != nil {
		return "", nil, fmt.Errorf("failed to parse NCX XML: %w", err)
	}
	var points []NavPoint
	var walk func([]ncxNavPoint)
	walk = func(nps []ncxNavPoint) {
		for _, np := range nps {
			points = append(points, NavPoint{
				ID:        np.ID,
				PlayOrder: np.PlayOrder,
				Label:     strings.TrimSpace(np.Label),
				Src:       np.Content.Src,
			})
			walk(np.Children)
		}
	}
	walk(doc.NavPoints)
	return strings.TrimSpace(doc.DocTitle), points, nil
}

// renderNCX fills the NCX template with one navPoint per entry.
func renderNCX(tmpl, identifier, title string, points []NavPoint) string {
	var nav strings.Builder
	for _, p := range points {
		fmt.Fprintf(&nav, "    <navPoint id=\"%s\" playOrder=\"%d\">\n", xmlEscape(p.ID), p.PlayOrder)
		fmt.Fprintf(&nav, "      <navLabel><text>%s</text></navLabel>\n", xmlEscape(p.Label))
		fmt.Fprintf(&nav, "      <content src=\"%s\"/>\n", xmlEscape(p.Src))
		nav.WriteString("    </navPoint>\n")
	}
	return strings.NewReplacer(
		"#UUID#", xmlEscape(identifier),
		"#TITLE#", xmlEscape(title),
		"#NAV_POINTS#", nav.String(),
	).Replace(tmpl)
}

// splitFragment splits a source path into the path and fragment identifier.
func splitFragment(src string) (path, fragment string) {
	if src == "" {
		return "", ""
	}
	parts := strings.SplitN(src, "#", 2)
	path = parts[0]
	if len(parts) == 2 {
		fragment = parts[1]
	}
	return path, fragment
}
