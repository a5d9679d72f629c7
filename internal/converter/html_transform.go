package converter

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// cleanAttributes removes every epub: namespaced attribute and truncates each
// href that carries a fragment to just the fragment, since all chapters now
// live in one document.
func cleanAttributes(doc *goquery.Document) {
	doc.Find("*").Each(func(_ int, s *goquery.Selection) {
		node := s.Get(0)
		kept := node.Attr[:0]
		for _, attr := range node.Attr {
			if attr.Namespace == "epub" || strings.HasPrefix(attr.Key, "epub:") {
				continue
			}
			if attr.Key == "href" && attr.Namespace == "" {
				if i := strings.IndexByte(attr.Val, '#'); i > 0 {
					attr.Val = attr.Val[i:]
				}
			}
			kept = append(kept, attr)
		}
		node.Attr = kept
	})
}
