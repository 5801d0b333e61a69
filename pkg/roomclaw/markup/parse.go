// Package markup – parse.go turns interchange-format text back into a node
// tree. The matching closing tag is located with a depth-counting scan over
// same-named open/close pairs, so repeated sibling elements sharing a tag
// name inside one parent parse correctly.
package markup

import (
	"fmt"
	"strings"
)

// ParseError reports structurally malformed markup. It is fatal to the
// parse call that produced it and nothing else.
type ParseError struct {
	Msg string
}

func (e *ParseError) Error() string {
	return "markup: " + e.Msg
}

func parseErrorf(format string, args ...any) *ParseError {
	return &ParseError{Msg: fmt.Sprintf(format, args...)}
}

// Parse parses a single element. Leading and trailing whitespace is
// ignored; any other trailing content is an error.
func Parse(text string) (*Node, error) {
	node, rest, err := parseElement(strings.TrimSpace(text))
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(rest) != "" {
		return nil, parseErrorf("trailing content after element <%s>: %s", node.Tag, snippet(rest))
	}
	return node, nil
}

// ParseList parses a whitespace-separated sequence of sibling elements.
func ParseList(text string) ([]*Node, error) {
	var nodes []*Node
	rest := strings.TrimSpace(text)
	for rest != "" {
		node, r, err := parseElement(rest)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
		rest = strings.TrimSpace(r)
	}
	return nodes, nil
}

// parseElement parses one element at the start of s and returns the
// unconsumed remainder.
func parseElement(s string) (*Node, string, error) {
	if s == "" || s[0] != '<' {
		return nil, "", parseErrorf("element is not bracket-delimited: %s", snippet(s))
	}
	gt, selfClosing, err := scanTagEnd(s, 0)
	if err != nil {
		return nil, "", err
	}
	header := s[1:gt]
	if selfClosing {
		header = header[:len(header)-1]
	}
	node, err := parseHeader(header)
	if err != nil {
		return nil, "", err
	}
	if selfClosing {
		return node, s[gt+1:], nil
	}

	body := s[gt+1:]
	closeAt, err := findMatchingClose(body, node.Tag)
	if err != nil {
		return nil, "", err
	}
	content := body[:closeAt]
	rest := body[closeAt+len(node.Tag)+3:] // past "</tag>"

	trimmed := strings.TrimSpace(content)
	switch {
	case trimmed == "":
		// Empty content; stays self-closing on the way back out.
	case trimmed[0] == '<':
		children, err := ParseList(trimmed)
		if err != nil {
			return nil, "", err
		}
		node.Add(children...)
	default:
		node.SetText(Unescape(content), false)
	}
	return node, rest, nil
}

// parseHeader parses "tag" or "tag name=\"value\" flag ..." into a node.
func parseHeader(header string) (*Node, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, parseErrorf("empty tag")
	}
	nameEnd := strings.IndexAny(header, " \t\n")
	if nameEnd < 0 {
		return New(header), nil
	}
	node := New(header[:nameEnd])
	rest := header[nameEnd:]
	for {
		rest = strings.TrimLeft(rest, " \t\n")
		if rest == "" {
			return node, nil
		}
		// Attribute name runs to '=', whitespace, or end of header.
		end := strings.IndexAny(rest, "= \t\n")
		if end < 0 {
			node.SetFlag(rest)
			return node, nil
		}
		name := rest[:end]
		if name == "" {
			return nil, parseErrorf("malformed attribute in <%s>: %s", node.Tag, snippet(rest))
		}
		if rest[end] != '=' {
			// Bare attribute token: boolean flag.
			node.SetFlag(name)
			rest = rest[end:]
			continue
		}
		rest = rest[end+1:]
		if rest == "" || rest[0] != '"' {
			return nil, parseErrorf("attribute %q in <%s> has an unquoted value", name, node.Tag)
		}
		closeQuote := strings.IndexByte(rest[1:], '"')
		if closeQuote < 0 {
			return nil, parseErrorf("attribute %q in <%s> has an unterminated value", name, node.Tag)
		}
		node.Attr(name, Unescape(rest[1:1+closeQuote]))
		rest = rest[closeQuote+2:]
	}
}

// scanTagEnd locates the '>' that closes the tag opening at s[start],
// skipping '>' inside quoted attribute values. Reports whether the tag is
// self-closing.
func scanTagEnd(s string, start int) (gt int, selfClosing bool, err error) {
	inQuote := false
	for i := start + 1; i < len(s); i++ {
		switch s[i] {
		case '"':
			inQuote = !inQuote
		case '>':
			if !inQuote {
				return i, s[i-1] == '/', nil
			}
		}
	}
	return 0, false, parseErrorf("opening tag is missing its closing bracket: %s", snippet(s[start:]))
}

// findMatchingClose returns the index in body of the closing tag that
// matches an already-consumed opening <tag>, counting nested same-named
// open/close pairs. A naive last-occurrence search would mispair repeated
// sibling elements sharing the tag name.
func findMatchingClose(body, tag string) (int, error) {
	closeTok := "</" + tag + ">"
	openTok := "<" + tag
	depth := 1
	i := 0
	for i < len(body) {
		lt := strings.IndexByte(body[i:], '<')
		if lt < 0 {
			break
		}
		i += lt
		if strings.HasPrefix(body[i:], closeTok) {
			depth--
			if depth == 0 {
				return i, nil
			}
			i += len(closeTok)
			continue
		}
		if strings.HasPrefix(body[i:], openTok) && isTagBoundary(body, i+len(openTok)) {
			gt, selfClosing, err := scanTagEnd(body, i)
			if err != nil {
				return 0, err
			}
			if !selfClosing {
				depth++
			}
			i = gt + 1
			continue
		}
		i++
	}
	// Distinguish a mismatched pair from a missing close for the error.
	if at := strings.Index(body, "</"); at >= 0 {
		if end := strings.IndexByte(body[at:], '>'); end > 0 {
			found := body[at+2 : at+end]
			if found != tag {
				return 0, parseErrorf("opening tag <%s> closed by </%s>", tag, found)
			}
		}
	}
	return 0, parseErrorf("no matching closing tag for <%s>", tag)
}

// isTagBoundary reports whether position i in s ends a tag name (the next
// character starts attributes or closes the tag).
func isTagBoundary(s string, i int) bool {
	if i >= len(s) {
		return true
	}
	switch s[i] {
	case ' ', '\t', '\n', '>', '/':
		return true
	}
	return false
}

// snippet trims s to a short preview for error messages.
func snippet(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 40 {
		return s[:40] + "..."
	}
	if s == "" {
		return "(empty)"
	}
	return s
}
