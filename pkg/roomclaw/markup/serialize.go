// Package markup – serialize.go emits a node tree as deterministic,
// whitespace-significant text: attributes in insertion order, flag
// attributes as bare names, one child per line indented one space per
// nesting level.
package markup

import "strings"

var (
	escaper   = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")
	unescaper = strings.NewReplacer("&lt;", "<", "&gt;", ">", "&quot;", `"`, "&amp;", "&")
)

// Escape entity-escapes the characters & < > " in s.
func Escape(s string) string {
	return escaper.Replace(s)
}

// Unescape reverses Escape.
func Unescape(s string) string {
	return unescaper.Replace(s)
}

// Serialize renders the tree rooted at n at nesting level 0.
func Serialize(n *Node) string {
	return SerializeAt(n, 0)
}

// SerializeAt renders the tree rooted at n, indenting nested children
// relative to the given nesting level. The opening tag itself carries no
// indentation; the caller controls its position.
func SerializeAt(n *Node, level int) string {
	var b strings.Builder
	writeNode(&b, n, level)
	return b.String()
}

// SerializeList renders sibling nodes one per line at level 0.
func SerializeList(nodes []*Node) string {
	parts := make([]string, len(nodes))
	for i, n := range nodes {
		parts[i] = Serialize(n)
	}
	return strings.Join(parts, "\n")
}

func writeNode(b *strings.Builder, n *Node, level int) {
	b.WriteByte('<')
	b.WriteString(n.Tag)
	for _, a := range n.attrs {
		b.WriteByte(' ')
		b.WriteString(a.Name)
		if a.Value == Flag {
			continue
		}
		b.WriteString(`="`)
		b.WriteString(Escape(a.Value))
		b.WriteByte('"')
	}
	if n.IsEmpty() {
		b.WriteString("/>")
		return
	}
	b.WriteByte('>')
	if text, ok := n.Text(); ok {
		if n.IsRaw() {
			b.WriteString(text)
		} else {
			b.WriteString(Escape(text))
		}
	} else {
		for _, c := range n.children {
			b.WriteByte('\n')
			writeIndent(b, level+1)
			writeNode(b, c, level+1)
		}
		b.WriteByte('\n')
		writeIndent(b, level)
	}
	b.WriteString("</")
	b.WriteString(n.Tag)
	b.WriteByte('>')
}

func writeIndent(b *strings.Builder, level int) {
	for i := 0; i < level; i++ {
		b.WriteByte(' ')
	}
}
