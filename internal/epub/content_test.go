package epub

import (
	"reflect"
	"testing"
)

func TestLoadContent(t *testing.T) {
	xhtml := `<?xml version="1.0" encoding="UTF-8"?>
<html xmlns="http://www.w3.org/1999/xhtml">
<head>
  <title> Chapter 3 </title>
  <link rel="stylesheet" href="../css/book.css"/>
  <link rel="stylesheet" href="https://cdn.test/x.css"/>
</head>
<body>
  <img src="../images/fig%201.png"/>
  <img src="data:image/png;base64,AAAA"/>
  <img src="figs/b.jpg?v=2"/>
  <svg xmlns="http://www.w3.org/2000/svg" xmlns:xlink="http://www.w3.org/1999/xlink"><image xlink:href="../images/c.png"/></svg>
</body>
</html>`

	c, err := LoadContent("OEBPS/text/ch3.xhtml", []byte(xhtml))
	if err != nil {
		t.Fatalf("LoadContent() error = %v", err)
	}
	if c.Title != "Chapter 3" {
		t.Errorf("Title = %q", c.Title)
	}
	if want := []string{"OEBPS/css/book.css"}; !reflect.DeepEqual(c.CSSLinks, want) {
		t.Errorf("CSSLinks = %v, want %v", c.CSSLinks, want)
	}
	want := []string{"OEBPS/images/fig 1.png", "OEBPS/text/figs/b.jpg", "OEBPS/images/c.png"}
	if !reflect.DeepEqual(c.ImageRefs, want) {
		t.Errorf("ImageRefs = %v, want %v", c.ImageRefs, want)
	}
}

func TestResolvePath(t *testing.T) {
	tests := []struct {
		base, rel, want string
	}{
		{"text", "../images/photo.jpg", "images/photo.jpg"},
		{".", "a.png", "a.png"},
		{"a/b", "./c.png#x", "a/b/c.png"},
	}
	for _, tt := range tests {
		if got := resolvePath(tt.base, tt.rel); got != tt.want {
			t.Errorf("resolvePath(%q, %q) = %q, want %q", tt.base, tt.rel, got, tt.want)
		}
	}
}
