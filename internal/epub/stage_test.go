package epub

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/yuanying/epubfetch/internal/book"
)

func item(remotePath string, kind book.Kind, content string) *book.ResourceItem {
	return book.NewResourceItem("https://example.test/"+remotePath, "", remotePath, filepath.Base(remotePath), kind, []byte(content))
}

func TestStage(t *testing.T) {
	m := book.NewManifest("42")
	m.CoverPage = item("OEBPS/cover.xhtml", book.KindChapter, "cover")
	ch1 := item("OEBPS/html/ch1.xhtml", book.KindChapter, "one")
	m.Chapters = []*book.ResourceItem{ch1, item("OEBPS/html/ch2.xhtml", book.KindChapter, "two"), ch1}
	m.CSS = item("OEBPS/styles/book.css", book.KindStylesheet, "p{}")
	m.Media["a.png"] = item("OEBPS/images/a.png", book.KindImage, "png")
	m.Others = []*book.ResourceItem{item("OEBPS/fonts/f.woff", book.KindOtherAsset, "font")}
	m.OPF = item("OEBPS/content.opf", book.KindOPF, "<package/>")
	m.NCX = item("OEBPS/toc.ncx", book.KindNCX, "<ncx/>")

	dir := t.TempDir()
	spine, err := Stage(m, dir)
	if err != nil {
		t.Fatalf("Stage() error = %v", err)
	}

	want := []string{"OEBPS/cover.xhtml", "OEBPS/html/ch1.xhtml", "OEBPS/html/ch2.xhtml"}
	if !reflect.DeepEqual(spine, want) {
		t.Errorf("spine = %v, want %v", spine, want)
	}
	for _, rel := range []string{"OEBPS/styles/book.css", "OEBPS/images/a.png", "OEBPS/fonts/f.woff", "OEBPS/html/ch2.xhtml"} {
		if _, err := os.Stat(filepath.Join(dir, filepath.FromSlash(rel))); err != nil {
			t.Errorf("%s not staged: %v", rel, err)
		}
	}
	for _, rel := range []string{"OEBPS/content.opf", "OEBPS/toc.ncx"} {
		if _, err := os.Stat(filepath.Join(dir, filepath.FromSlash(rel))); !os.IsNotExist(err) {
			t.Errorf("%s should not be staged", rel)
		}
	}
	got, _ := os.ReadFile(filepath.Join(dir, "OEBPS", "html", "ch1.xhtml"))
	if string(got) != "one" {
		t.Errorf("ch1 content = %q", got)
	}
}

func TestStage_UnsafePath(t *testing.T) {
	m := book.NewManifest("1")
	m.Chapters = []*book.ResourceItem{item("../../etc/passwd", book.KindChapter, "x")}
	if _, err := Stage(m, t.TempDir()); err == nil {
		t.Fatal("Stage() should reject paths escaping the staging directory")
	}
}

func TestStagePath(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"OEBPS/a.xhtml", "OEBPS/a.xhtml", false},
		{"/abs/a.xhtml", "abs/a.xhtml", false},
		{"https://host/a:b.png", "host/ab.png", false},
		{`dir\file.css`, "dir/file.css", false},
		{"a/../../b", "", true},
		{"..", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := StagePath(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("StagePath(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("StagePath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
