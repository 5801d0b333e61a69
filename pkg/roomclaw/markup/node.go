// Package markup – node.go defines the tree data model for the agent's
// interchange format: tagged nodes with an ordered attribute map and either
// empty, text, or child-list content. The serializer and parser in this
// package round-trip the model losslessly.
package markup

import (
	"fmt"
	"strconv"
	"time"
)

// Flag is the reserved attribute value marking a boolean ("bare") attribute.
// It contains a NUL byte so it can never collide with a legal attribute
// value, which is always escaped printable text. Serialization emits a
// flag-valued attribute as its bare name, never as name="...".
const Flag = "\x00"

// Attr is a single name/value attribute pair.
type Attr struct {
	Name  string
	Value string
}

// Node is one element in a markup tree. Attribute insertion order is
// preserved for serialization and attribute names are unique. Content is
// exactly one of: empty, text, or children.
type Node struct {
	Tag string

	attrs     []Attr
	protected map[string]bool

	text    string
	raw     bool
	hasText bool

	children []*Node
}

// New creates an empty node with the given tag.
func New(tag string) *Node {
	return &Node{Tag: tag}
}

// NewText creates a node with escaped text content.
func NewText(tag, text string) *Node {
	n := New(tag)
	n.SetText(text, false)
	return n
}

// NewEvent creates a timestamped event node. The timestamp attribute is
// protected: once set it cannot be overwritten.
func NewEvent(kind string, ts time.Time) *Node {
	n := New("event")
	n.Attr("kind", kind)
	n.Attr("timestamp", ts.UTC().Format(time.RFC3339))
	n.Protect("timestamp")
	return n
}

// NewMessage creates a chat-message event node. The sender and timestamp
// attributes are protected.
func NewMessage(from, text string, ts time.Time) *Node {
	n := New("message")
	n.Attr("from", from)
	n.Attr("timestamp", ts.UTC().Format(time.RFC3339))
	n.Protect("from")
	n.Protect("timestamp")
	n.SetText(text, false)
	return n
}

// Protect marks an attribute name as immutable. Subsequent writes to the
// name are rejected while the existing value is kept.
func (n *Node) Protect(name string) {
	if n.protected == nil {
		n.protected = make(map[string]bool)
	}
	n.protected[name] = true
}

// IsProtected reports whether the attribute name is write-protected.
func (n *Node) IsProtected(name string) bool {
	return n.protected[name]
}

// Set sets or replaces an attribute, preserving insertion order. Writing to
// a protected name that already has a value is rejected and the stored value
// is left untouched.
func (n *Node) Set(name, value string) error {
	for i, a := range n.attrs {
		if a.Name == name {
			if n.protected[name] {
				return fmt.Errorf("attribute %q is protected and cannot be overwritten", name)
			}
			n.attrs[i].Value = value
			return nil
		}
	}
	n.attrs = append(n.attrs, Attr{Name: name, Value: value})
	return nil
}

// Attr is the chainable form of Set for building fresh nodes. A rejected
// protected write leaves the existing value in place.
func (n *Node) Attr(name, value string) *Node {
	_ = n.Set(name, value)
	return n
}

// AttrInt sets an integer-valued attribute.
func (n *Node) AttrInt(name string, value int) *Node {
	return n.Attr(name, strconv.Itoa(value))
}

// SetFlag sets a boolean attribute, emitted as a bare name.
func (n *Node) SetFlag(name string) *Node {
	return n.Attr(name, Flag)
}

// Get returns the attribute value and whether it is present.
func (n *Node) Get(name string) (string, bool) {
	for _, a := range n.attrs {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

// HasFlag reports whether the attribute is present with the boolean sentinel.
func (n *Node) HasFlag(name string) bool {
	v, ok := n.Get(name)
	return ok && v == Flag
}

// Del removes an attribute. Protected attributes cannot be removed.
func (n *Node) Del(name string) {
	if n.protected[name] {
		return
	}
	for i, a := range n.attrs {
		if a.Name == name {
			n.attrs = append(n.attrs[:i], n.attrs[i+1:]...)
			return
		}
	}
}

// Attrs returns a copy of the attribute list in insertion order.
func (n *Node) Attrs() []Attr {
	out := make([]Attr, len(n.attrs))
	copy(out, n.attrs)
	return out
}

// Merge applies the given attributes in order. Writes that would clobber a
// protected key are rejected (reported in the returned error); all other
// entries are merged.
func (n *Node) Merge(attrs []Attr) error {
	var rejected []string
	for _, a := range attrs {
		if err := n.Set(a.Name, a.Value); err != nil {
			rejected = append(rejected, a.Name)
		}
	}
	if len(rejected) > 0 {
		return fmt.Errorf("protected attributes not overwritten: %v", rejected)
	}
	return nil
}

// SetText replaces the node content with text. Raw text is serialized
// byte-for-byte without entity escaping.
func (n *Node) SetText(text string, raw bool) *Node {
	n.text = text
	n.raw = raw
	n.hasText = true
	n.children = nil
	return n
}

// Text returns the text content and whether the node holds text.
func (n *Node) Text() (string, bool) {
	return n.text, n.hasText
}

// IsRaw reports whether the text content is raw (unescaped).
func (n *Node) IsRaw() bool {
	return n.hasText && n.raw
}

// Add appends child nodes, replacing any text content.
func (n *Node) Add(children ...*Node) *Node {
	n.hasText = false
	n.text = ""
	n.raw = false
	n.children = append(n.children, children...)
	return n
}

// Children returns the child list (shared, not copied).
func (n *Node) Children() []*Node {
	return n.children
}

// IsEmpty reports whether the node serializes self-closing: no content,
// empty text, or zero children.
func (n *Node) IsEmpty() bool {
	if n.hasText {
		return n.text == ""
	}
	return len(n.children) == 0
}

// Equal reports structural equality of two trees. The boolean sentinel is
// compared like any other value, so parse(serialize(x)) compares equal to x.
func Equal(a, b *Node) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Tag != b.Tag || len(a.attrs) != len(b.attrs) {
		return false
	}
	for i := range a.attrs {
		if a.attrs[i] != b.attrs[i] {
			return false
		}
	}
	// Empty content compares equal regardless of representation (text ""
	// vs no children), matching the serialized form.
	if a.IsEmpty() != b.IsEmpty() {
		return false
	}
	if a.IsEmpty() {
		return true
	}
	if a.hasText != b.hasText {
		return false
	}
	if a.hasText {
		return a.text == b.text
	}
	if len(a.children) != len(b.children) {
		return false
	}
	for i := range a.children {
		if !Equal(a.children[i], b.children[i]) {
			return false
		}
	}
	return true
}
