package markup

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestSerializeSelfClosing(t *testing.T) {
	t.Run("empty node", func(t *testing.T) {
		got := Serialize(New("status"))
		if got != "<status/>" {
			t.Errorf("expected <status/>, got %q", got)
		}
	})

	t.Run("empty text collapses to self-closing", func(t *testing.T) {
		n := New("status")
		n.SetText("", false)
		if got := Serialize(n); got != "<status/>" {
			t.Errorf("expected <status/>, got %q", got)
		}
	})

	t.Run("attributes in insertion order", func(t *testing.T) {
		n := New("w").Attr("b", "2").Attr("a", "1").AttrInt("c", 3)
		if got := Serialize(n); got != `<w b="2" a="1" c="3"/>` {
			t.Errorf("unexpected order: %q", got)
		}
	})

	t.Run("flag attribute is bare", func(t *testing.T) {
		n := New("w").Attr("x", "1").SetFlag("pinned")
		got := Serialize(n)
		if got != `<w x="1" pinned/>` {
			t.Errorf("expected bare flag, got %q", got)
		}
		if strings.Contains(got, "true") {
			t.Errorf("flag must never serialize as =\"true\": %q", got)
		}
	})
}

func TestSerializeText(t *testing.T) {
	t.Run("escaped by default", func(t *testing.T) {
		n := NewText("msg", `a < b & "c"`)
		want := `<msg>a &lt; b &amp; &quot;c&quot;</msg>`
		if got := Serialize(n); got != want {
			t.Errorf("got %q, want %q", got, want)
		}
	})

	t.Run("raw text byte-for-byte", func(t *testing.T) {
		n := New("blob")
		n.SetText(`<x y="1"/>`, true)
		want := `<blob><x y="1"/></blob>`
		if got := Serialize(n); got != want {
			t.Errorf("got %q, want %q", got, want)
		}
	})

	t.Run("escaped attribute value", func(t *testing.T) {
		n := New("m").Attr("q", `say "<hi>"`)
		want := `<m q="say &quot;&lt;hi&gt;&quot;"/>`
		if got := Serialize(n); got != want {
			t.Errorf("got %q, want %q", got, want)
		}
	})
}

func TestSerializeChildren(t *testing.T) {
	root := New("room").Attr("id", "r1")
	inner := New("members").Add(New("member").Attr("id", "u1"), New("member").Attr("id", "u2"))
	root.Add(inner, NewText("note", "hi"))

	want := strings.Join([]string{
		`<room id="r1">`,
		` <members>`,
		`  <member id="u1"/>`,
		`  <member id="u2"/>`,
		` </members>`,
		` <note>hi</note>`,
		`</room>`,
	}, "\n")
	if got := Serialize(root); got != want {
		t.Errorf("got:\n%s\nwant:\n%s", got, want)
	}
}

func TestParseScenario(t *testing.T) {
	// <a x="1" y/> yields tag a, x="1", boolean y, no content.
	n, err := Parse(`<a x="1" y/>`)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if n.Tag != "a" {
		t.Errorf("tag = %q, want a", n.Tag)
	}
	if v, ok := n.Get("x"); !ok || v != "1" {
		t.Errorf("x = %q,%v", v, ok)
	}
	if !n.HasFlag("y") {
		t.Error("y should be a boolean flag")
	}
	if !n.IsEmpty() {
		t.Error("expected no content")
	}
}

func TestParseErrors(t *testing.T) {
	cases := []struct {
		name string
		in   string
	}{
		{"not bracket delimited", `hello`},
		{"missing closing bracket", `<a x="1"`},
		{"unquoted attribute value", `<a x=1/>`},
		{"mismatched tag pair", `<a>x</b>`},
		{"missing closing tag", `<a><b/>`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.in)
			if err == nil {
				t.Fatalf("expected error for %q", tc.in)
			}
			var pe *ParseError
			if !errors.As(err, &pe) {
				t.Errorf("expected *ParseError, got %T", err)
			}
		})
	}
}

func TestParseNestedSameTagSiblings(t *testing.T) {
	// Repeated same-named siblings inside one parent: a last-occurrence
	// close search would swallow the first sibling's subtree.
	in := strings.Join([]string{
		`<list>`,
		` <item>`,
		`  <item k="inner"/>`,
		` </item>`,
		` <item k="second"/>`,
		`</list>`,
	}, "\n")
	n, err := Parse(in)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	kids := n.Children()
	if len(kids) != 2 {
		t.Fatalf("expected 2 items, got %d", len(kids))
	}
	if len(kids[0].Children()) != 1 {
		t.Errorf("first item should hold the nested item, got %d children", len(kids[0].Children()))
	}
	if v, _ := kids[1].Get("k"); v != "second" {
		t.Errorf("second sibling k = %q", v)
	}
}

func TestRoundTrip(t *testing.T) {
	docs := []*Node{
		New("empty"),
		New("flags").SetFlag("a").Attr("b", "x & y").SetFlag("c"),
		NewText("txt", "line with <angle> & \"quotes\""),
		New("deep").Add(
			New("a").Add(New("a").Add(New("a").Attr("depth", "3"))),
			New("a").Attr("sibling", "yes"),
		),
		New("mixed").Attr("id", "42").Add(
			NewText("t", "hello"),
			New("e").SetFlag("on"),
		),
	}
	for _, d := range docs {
		t.Run(d.Tag, func(t *testing.T) {
			out := Serialize(d)
			back, err := Parse(out)
			if err != nil {
				t.Fatalf("round-trip parse failed: %v\n%s", err, out)
			}
			if !Equal(d, back) {
				t.Errorf("round trip mismatch:\noriginal: %s\nreparsed: %s", out, Serialize(back))
			}
		})
	}
}

func TestParseList(t *testing.T) {
	nodes, err := ParseList("<a/>\n<b x=\"1\"/>\n<c>t</c>")
	if err != nil {
		t.Fatalf("parse list: %v", err)
	}
	if len(nodes) != 3 {
		t.Fatalf("expected 3 nodes, got %d", len(nodes))
	}
	if nodes[2].Tag != "c" {
		t.Errorf("third tag = %q", nodes[2].Tag)
	}
}

func TestProtectedAttributes(t *testing.T) {
	t.Run("event timestamp is immutable", func(t *testing.T) {
		ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		ev := NewEvent("wakeup", ts)
		if err := ev.Set("timestamp", "overwritten"); err == nil {
			t.Fatal("expected protected-write rejection")
		}
		if v, _ := ev.Get("timestamp"); v != "2026-03-01T12:00:00Z" {
			t.Errorf("timestamp changed to %q", v)
		}
	})

	t.Run("merge rejects protected keys and applies the rest", func(t *testing.T) {
		msg := NewMessage("user1", "hi", time.Now())
		err := msg.Merge([]Attr{{Name: "from", Value: "evil"}, {Name: "threadId", Value: "t9"}})
		if err == nil {
			t.Fatal("expected merge rejection for protected key")
		}
		if v, _ := msg.Get("from"); v != "user1" {
			t.Errorf("from clobbered: %q", v)
		}
		if v, _ := msg.Get("threadId"); v != "t9" {
			t.Errorf("non-protected merge not applied: %q", v)
		}
	})

	t.Run("del keeps protected attributes", func(t *testing.T) {
		ev := NewEvent("x", time.Now())
		ev.Del("timestamp")
		if _, ok := ev.Get("timestamp"); !ok {
			t.Error("protected attribute removed")
		}
	})
}
