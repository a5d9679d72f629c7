package converter

import (
	"encoding/base64"
	"image/color"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"

	"github.com/yuanying/epubfetch/internal/book"
)

const chapterTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<html xmlns="http://www.w3.org/1999/xhtml" xmlns:epub="http://www.idpf.org/2007/ops">
<head><title>%s</title></head>
<body>%s</body>
</html>`

func xhtml(title, body string) []byte {
	return []byte(strings.Replace(strings.Replace(chapterTemplate, "%s", title, 1), "%s", body, 1))
}

func newTestManifest() *book.Manifest {
	m := book.NewManifest("42")
	m.Title = "Learning Go"
	m.BookName = "learning-go"
	m.Chapters = []*book.ResourceItem{
		book.NewResourceItem("", "application/xhtml+xml", "html/ch1.xhtml", "ch1.xhtml", book.KindChapter,
			xhtml("One", `<h1 epub:type="chapter">第1章</h1><img src="../images/a.png"/>`)),
		book.NewResourceItem("", "application/xhtml+xml", "html/ch2.xhtml", "ch2.xhtml", book.KindChapter,
			xhtml("Two", `<h1>第2章</h1><a href="ch1.xhtml#top">back</a><a href="ch1.xhtml">start</a>`)),
	}
	m.Media["a.png"] = book.NewResourceItem("", "image/png", "images/a.png", "a.png", book.KindImage, []byte("PNGDATA"))
	return m
}

func parseResult(t *testing.T, out []byte) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(out)))
	if err != nil {
		t.Fatalf("failed to parse result: %v", err)
	}
	return doc
}

func TestHTMLAssembler_Assemble(t *testing.T) {
	m := newTestManifest()
	out, err := NewHTMLAssembler(HTMLOptions{}).Assemble(m)
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	result := string(out)
	doc := parseResult(t, out)

	if i1, i2 := strings.Index(result, "第1章"), strings.Index(result, "第2章"); i1 < 0 || i2 < 0 || i1 > i2 {
		t.Errorf("chapters missing or out of order: %d, %d", i1, i2)
	}
	if doc.Find(`head meta[charset="utf-8"]`).Length() != 1 {
		t.Error("expected one meta charset in head")
	}
	if got := doc.Find("head title").Last().Text(); got != "Learning Go" {
		t.Errorf("title = %q, want Learning Go", got)
	}

	src, _ := doc.Find("img").Attr("src")
	want := "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("PNGDATA"))
	if src != want {
		t.Errorf("img src = %q, want %q", src, want)
	}
	if !strings.Contains(result, "/>") {
		t.Error("void elements should be closed")
	}
}

func TestHTMLAssembler_SingleTitle(t *testing.T) {
	m := newTestManifest()
	m.Title = "T & U"
	out, err := NewHTMLAssembler(HTMLOptions{}).Assemble(m)
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	doc := parseResult(t, out)

	if n := doc.Find("title").Length(); n != 1 {
		t.Fatalf("found %d title elements, want 1:\n%s", n, out)
	}
	if got := doc.Find("head title").Text(); got != "T & U" {
		t.Errorf("title = %q, want %q", got, "T & U")
	}
	if doc.Find("body title").Length() != 0 {
		t.Error("chapter titles must not remain in the body")
	}
	if strings.Contains(string(out), "<title>One</title>") || strings.Contains(string(out), "<title>Two</title>") {
		t.Error("chapter titles must be dropped")
	}
}

func TestHTMLAssembler_SanitisedMediaName(t *testing.T) {
	m := newTestManifest()
	m.Chapters[0].Content = xhtml("One", `<img src="../images/ab.png"/>`)
	m.Media = map[string]*book.ResourceItem{
		"a|b.png": book.NewResourceItem("", "image/png", "images/a|b.png", "a|b.png", book.KindImage, []byte("PNGDATA")),
	}
	out, err := NewHTMLAssembler(HTMLOptions{}).Assemble(m)
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	src, _ := parseResult(t, out).Find("img").Attr("src")
	if !strings.HasPrefix(src, "data:image/png;base64,") {
		t.Errorf("img src = %q, want a data URI", src)
	}
}

func TestHTMLAssembler_RemovesEpubAttributes(t *testing.T) {
	out, err := NewHTMLAssembler(HTMLOptions{}).Assemble(newTestManifest())
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(out), "epub:type") {
		t.Errorf("epub:type should be removed:\n%s", out)
	}
}

func TestHTMLAssembler_TruncatesFragmentLinks(t *testing.T) {
	out, err := NewHTMLAssembler(HTMLOptions{}).Assemble(newTestManifest())
	if err != nil {
		t.Fatal(err)
	}
	doc := parseResult(t, out)

	var hrefs []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		h, _ := s.Attr("href")
		hrefs = append(hrefs, h)
	})
	if len(hrefs) != 2 || hrefs[0] != "#top" || hrefs[1] != "ch1.xhtml" {
		t.Errorf("hrefs = %v, want [#top ch1.xhtml]", hrefs)
	}
}

func TestHTMLAssembler_InlinesCSS(t *testing.T) {
	t.Run("creates style element", func(t *testing.T) {
		m := newTestManifest()
		m.CSS = book.NewResourceItem("", "text/css", "css/book.css", "book.css", book.KindStylesheet, []byte("h1{color:red}"))
		m.ExtraCSS = [][]byte{[]byte("body{margin:0}")}

		out, err := NewHTMLAssembler(HTMLOptions{}).Assemble(m)
		if err != nil {
			t.Fatal(err)
		}
		doc := parseResult(t, out)
		styles := doc.Find("style")
		if styles.Length() != 1 {
			t.Fatalf("style elements = %d, want 1", styles.Length())
		}
		css := styles.Text()
		if !strings.Contains(css, "h1{color:red}") || !strings.Contains(css, "body{margin:0}") {
			t.Errorf("style = %q", css)
		}
		if strings.Index(css, "h1{") > strings.Index(css, "body{") {
			t.Error("book stylesheet should come before extra stylesheets")
		}
	})

	t.Run("reuses first style element", func(t *testing.T) {
		m := newTestManifest()
		m.Chapters[0].Content = []byte(`<html><head><style>p{}</style></head><body><p>x</p></body></html>`)
		m.CSS = book.NewResourceItem("", "text/css", "book.css", "book.css", book.KindStylesheet, []byte("em{}"))

		out, err := NewHTMLAssembler(HTMLOptions{}).Assemble(m)
		if err != nil {
			t.Fatal(err)
		}
		doc := parseResult(t, out)
		first := doc.Find("style").First().Text()
		if !strings.Contains(first, "p{}") || !strings.Contains(first, "em{}") {
			t.Errorf("first style = %q", first)
		}
	})

	t.Run("escapes closing tag", func(t *testing.T) {
		m := newTestManifest()
		m.CSS = book.NewResourceItem("", "text/css", "book.css", "book.css", book.KindStylesheet,
			[]byte(`a::after{content:"</style><script>"}`))
		out, err := NewHTMLAssembler(HTMLOptions{}).Assemble(m)
		if err != nil {
			t.Fatal(err)
		}
		if parseResult(t, out).Find("script").Length() != 0 {
			t.Error("CSS must not be able to close the style element")
		}
	})
}

func TestHTMLAssembler_CoverPageFirst(t *testing.T) {
	m := newTestManifest()
	m.CoverPage = book.NewResourceItem("", "application/xhtml+xml", "cover.xhtml", "cover.xhtml", book.KindChapter,
		xhtml("Cover", `<p>COVER</p>`))

	out, err := NewHTMLAssembler(HTMLOptions{}).Assemble(m)
	if err != nil {
		t.Fatal(err)
	}
	result := string(out)
	if strings.Index(result, "COVER") > strings.Index(result, "第1章") {
		t.Error("cover page should precede the chapters")
	}
}

func TestHTMLAssembler_UnresolvedSourceLeftAlone(t *testing.T) {
	m := newTestManifest()
	m.Chapters[1].Content = xhtml("Two", `<img src="missing.png"/><img src="data:image/gif;base64,R0lG"/>`)

	out, err := NewHTMLAssembler(HTMLOptions{}).Assemble(m)
	if err != nil {
		t.Fatal(err)
	}
	doc := parseResult(t, out)
	srcs := doc.Find("img").Map(func(_ int, s *goquery.Selection) string {
		v, _ := s.Attr("src")
		return v
	})
	if len(srcs) != 3 || srcs[1] != "missing.png" || srcs[2] != "data:image/gif;base64,R0lG" {
		t.Errorf("srcs = %v", srcs)
	}
}

func TestHTMLAssembler_SVGImage(t *testing.T) {
	m := newTestManifest()
	m.Chapters[1].Content = xhtml("Two",
		`<svg xmlns="http://www.w3.org/2000/svg" xmlns:xlink="http://www.w3.org/1999/xlink"><image xlink:href="../images/a.png"/></svg>`)

	out, err := NewHTMLAssembler(HTMLOptions{}).Assemble(m)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(out), "../images/a.png") {
		t.Errorf("svg image reference should be embedded:\n%s", out)
	}
}

func TestHTMLAssembler_DataURIType(t *testing.T) {
	jpegItem := func() *book.Manifest {
		m := newTestManifest()
		m.Media["a.png"] = book.NewResourceItem("", "image/jpeg", "images/a.png", "a.png", book.KindImage, []byte("JPEGDATA"))
		return m
	}

	out, err := NewHTMLAssembler(HTMLOptions{}).Assemble(jpegItem())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(out), "data:image/jpeg;base64,") {
		t.Error("declared media type should be used")
	}

	out, err = NewHTMLAssembler(HTMLOptions{LegacyPNGDataURI: true}).Assemble(jpegItem())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(out), "data:image/png;base64,") {
		t.Error("legacy mode should always use image/png")
	}
}

func TestDataURIType(t *testing.T) {
	gifHeader := []byte("GIF89a\x01\x00\x01\x00")
	tests := []struct {
		name     string
		declared string
		data     []byte
		want     string
	}{
		{"declared", "image/svg+xml", nil, "image/svg+xml"},
		{"declared with params", "Image/JPEG; q=1", nil, "image/jpeg"},
		{"sniffed", "", gifHeader, "image/gif"},
		{"octet stream sniffed", "application/octet-stream", gifHeader, "image/gif"},
		{"fallback", "", []byte("???"), "image/png"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := dataURIType(tt.declared, tt.data); got != tt.want {
				t.Errorf("dataURIType() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHTMLAssembler_DownscalesImages(t *testing.T) {
	m := newTestManifest()
	img := makeSolidNRGBA(800, 400, color.NRGBA{R: 1, G: 2, B: 3, A: 255})
	m.Media["a.png"] = book.NewResourceItem("", "image/png", "images/a.png", "a.png", book.KindImage, mustEncodePNG(t, img))

	out, err := NewHTMLAssembler(HTMLOptions{Images: NewImageOptimizer(200, 80)}).Assemble(m)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(out), "data:image/jpeg;base64,") {
		t.Error("opaque downscaled image should be embedded as jpeg")
	}
}
