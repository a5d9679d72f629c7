package links

import "strings"

// Ref is one attribute value found in a document.
type Ref struct {
	Attr  string // lower-cased attribute name
	Value string
	Start int // byte offset of Value
	End   int
}

// Embedded reports whether the attribute pulls a resource into the page,
// as opposed to navigating away from it.
func (r Ref) Embedded() bool {
	return r.Attr != "href"
}

var refAttrs = []string{"xlink:href", "poster", "href", "src"}

// Scan returns every src/href/xlink:href/poster value in content, in order.
// Empty values, fragment-only values and data: URIs are skipped.
func Scan(content string) []Ref {
	var refs []Ref
	for i := 0; i < len(content); i++ {
		if !isSpace(content[i]) {
			continue
		}
		nameStart := i + 1
		attr := matchAttr(content, nameStart)
		if attr == "" {
			continue
		}
		j := nameStart + len(attr)
		j = skipSpace(content, j)
		if j >= len(content) || content[j] != '=' {
			continue
		}
		j = skipSpace(content, j+1)
		if j >= len(content) || (content[j] != '"' && content[j] != '\'') {
			continue
		}
		quote := content[j]
		valStart := j + 1
		end := strings.IndexByte(content[valStart:], quote)
		if end < 0 {
			break
		}
		valEnd := valStart + end
		value := content[valStart:valEnd]
		i = valEnd

		if skipValue(value) {
			continue
		}
		refs = append(refs, Ref{Attr: attr, Value: value, Start: valStart, End: valEnd})
	}
	return refs
}

func matchAttr(content string, at int) string {
	for _, name := range refAttrs {
		end := at + len(name)
		if end > len(content) || !strings.EqualFold(content[at:end], name) {
			continue
		}
		// the name must end here: "srcset" is not "src"
		if end < len(content) && !isSpace(content[end]) && content[end] != '=' {
			continue
		}
		return name
	}
	return ""
}

func skipValue(v string) bool {
	t := strings.TrimSpace(v)
	return t == "" || strings.HasPrefix(t, "#") || hasPrefixFold(t, "data:")
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

func skipSpace(s string, i int) int {
	for i < len(s) && isSpace(s[i]) {
		i++
	}
	return i
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f'
}

// splitKey returns the lookup key of a reference value (last path segment
// without query or fragment) and the stripped suffix.
func splitKey(value string) (key, suffix string) {
	cut := len(value)
	if i := strings.IndexAny(value, "?#"); i >= 0 {
		cut = i
	}
	p := value[:cut]
	suffix = value[cut:]
	if i := strings.LastIndex(p, "/"); i >= 0 {
		p = p[i+1:]
	}
	return p, suffix
}
