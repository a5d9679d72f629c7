// Package book holds the in-memory model of one remote book while it is
// collected, rewritten and assembled.
package book

import (
	"path"
	"strings"
)

// Kind classifies a ResourceItem.
type Kind string

const (
	KindChapter    Kind = "chapter"
	KindStylesheet Kind = "stylesheet"
	KindImage      Kind = "image"
	KindVideo      Kind = "video"
	KindOtherAsset Kind = "other_asset"
	KindOPF        Kind = "opf"
	KindNCX        Kind = "ncx"
)

// IsMedia reports whether items of this kind are addressed through Manifest.Media.
func (k Kind) IsMedia() bool {
	return k == KindImage || k == KindVideo
}

// ResourceItem is one fetched fragment of a book.
type ResourceItem struct {
	SourceURL  string // origin address, diagnostics only
	MediaType  string // declared by the remote listing
	RemotePath string // full logical path inside the book
	FileName   string // last segment of RemotePath
	Kind       Kind
	Folder     string // RemotePath without FileName; "" at the root
	Content    []byte
}

// NewResourceItem builds an item and derives its folder.
// When fileName is not a suffix of remotePath the folder falls back to the
// directory part of remotePath.
func NewResourceItem(sourceURL, mediaType, remotePath, fileName string, kind Kind, content []byte) *ResourceItem {
	return &ResourceItem{
		SourceURL:  sourceURL,
		MediaType:  mediaType,
		RemotePath: remotePath,
		FileName:   fileName,
		Kind:       kind,
		Folder:     DeriveFolder(remotePath, fileName),
		Content:    content,
	}
}

// DeriveFolder strips fileName from the end of remotePath.
func DeriveFolder(remotePath, fileName string) string {
	if fileName != "" && strings.HasSuffix(remotePath, fileName) {
		return remotePath[:len(remotePath)-len(fileName)]
	}
	dir := path.Dir(strings.ReplaceAll(remotePath, `\`, "/"))
	if dir == "." || dir == "/" {
		return ""
	}
	return dir + "/"
}

// HasConsistentFolder reports whether Folder + FileName reproduces RemotePath.
func (r *ResourceItem) HasConsistentFolder() bool {
	return r.Folder+r.FileName == r.RemotePath
}

func (r *ResourceItem) String() string {
	return "ResourceItem[" + string(r.Kind) + " " + r.MediaType + " " + r.RemotePath + "]"
}

// Slot names a singleton role of the manifest.
type Slot string

const (
	SlotCoverPage  Slot = "cover-page"
	SlotCoverImage Slot = "cover-image"
	SlotCSS        Slot = "stylesheet"
	SlotOPF        Slot = "opf"
	SlotNCX        Slot = "ncx"
)

// Conflict records two items competing for one singleton slot.
type Conflict struct {
	Slot     Slot
	Existing *ResourceItem
	Incoming *ResourceItem
	Kept     *ResourceItem
}

// Manifest is the state of one book from collection to assembly.
type Manifest struct {
	ID       string
	Title    string
	BookName string

	// Chapters keeps insertion order, which is the reading order.
	Chapters []*ResourceItem
	// Media is keyed by file name; a later item with the same name replaces the earlier one.
	Media map[string]*ResourceItem
	// Others holds assets that are staged into containers but never concatenated.
	Others []*ResourceItem

	CoverPage  *ResourceItem
	CoverImage *ResourceItem
	CSS        *ResourceItem
	OPF        *ResourceItem
	NCX        *ResourceItem

	// ExtraCSS is site-wide reader CSS fetched outside the listing.
	ExtraCSS [][]byte

	Conflicts []Conflict
}

// NewManifest creates an empty manifest for the given book id.
func NewManifest(id string) *Manifest {
	return &Manifest{
		ID:    id,
		Media: make(map[string]*ResourceItem),
	}
}

// Slot returns the item currently held by a singleton slot.
func (m *Manifest) Slot(s Slot) *ResourceItem {
	switch s {
	case SlotCoverPage:
		return m.CoverPage
	case SlotCoverImage:
		return m.CoverImage
	case SlotCSS:
		return m.CSS
	case SlotOPF:
		return m.OPF
	case SlotNCX:
		return m.NCX
	}
	return nil
}

// SetSlot assigns a singleton slot unconditionally.
func (m *Manifest) SetSlot(s Slot, item *ResourceItem) {
	switch s {
	case SlotCoverPage:
		m.CoverPage = item
	case SlotCoverImage:
		m.CoverImage = item
	case SlotCSS:
		m.CSS = item
	case SlotOPF:
		m.OPF = item
	case SlotNCX:
		m.NCX = item
	}
}

// TextItems returns the cover page (if any) followed by the chapters in order.
func (m *Manifest) TextItems() []*ResourceItem {
	items := make([]*ResourceItem, 0, len(m.Chapters)+1)
	if m.CoverPage != nil {
		items = append(items, m.CoverPage)
	}
	return append(items, m.Chapters...)
}

// AllItems returns every item the manifest holds, text first, then
// stylesheet, media sorted by file name, other assets and metadata documents.
func (m *Manifest) AllItems() []*ResourceItem {
	items := m.TextItems()
	if m.CSS != nil {
		items = append(items, m.CSS)
	}
	for _, name := range m.MediaNames() {
		items = append(items, m.Media[name])
	}
	items = append(items, m.Others...)
	if m.OPF != nil {
		items = append(items, m.OPF)
	}
	if m.NCX != nil {
		items = append(items, m.NCX)
	}
	return items
}
