package epub

// CoverHref returns the container path of the cover image declared by the
// package, checking properties="cover-image" first and meta name="cover" second.
func (p *Package) CoverHref() (string, bool) {
	for _, id := range p.ManifestOrder {
		item := p.Manifest[id]
		for _, prop := range item.Properties {
			if prop == "cover-image" {
				return item.Href, true
			}
		}
	}
	if p.CoverID != "" {
		if item, ok := p.Manifest[p.CoverID]; ok {
			return item.Href, true
		}
	}
	return "", false
}
