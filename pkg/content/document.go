// Package content builds the Starlark script the renderer turns into the
// display image. Layouts are assembled as a small node tree and written out
// by a single serializer, so escaping happens in exactly one place.
package content

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// Node is one element of the render tree.
type Node interface {
	node()
}

// Root is the top-level render.Root.
type Root struct {
	Child Node
}

// Column stacks children vertically.
type Column struct {
	MainAlign  string
	CrossAlign string
	Children   []Node
}

// Row lays children out horizontally.
type Row struct {
	MainAlign  string
	CrossAlign string
	Children   []Node
}

// Text is a line of text.
type Text struct {
	Content string
	Font    string
	Color   string
}

// Box is an empty spacer. Zero dimensions are omitted.
type Box struct {
	Width  int
	Height int
}

// Image references an icon declared on the Document by name.
type Image struct {
	Icon   string
	Width  int
	Height int
}

func (Root) node()   {}
func (Column) node() {}
func (Row) node()    {}
func (Text) node()   {}
func (Box) node()    {}
func (Image) node()  {}

// Icon is image data embedded in the script as a base64 constant.
type Icon struct {
	Name string
	Data []byte
}

// Document is a complete render script.
type Document struct {
	Root  Root
	Icons []Icon
}

// Serialize writes doc as a Starlark render script.
func Serialize(doc Document) string {
	var b strings.Builder

	b.WriteString(`load("render.star", "render")` + "\n")
	if len(doc.Icons) > 0 {
		b.WriteString(`load("encoding/base64.star", "base64")` + "\n")
	}
	b.WriteString("\n")

	for _, icon := range doc.Icons {
		fmt.Fprintf(&b, "%s = base64.decode(%s)\n", iconConst(icon.Name), quote(base64.StdEncoding.EncodeToString(icon.Data)))
	}
	if len(doc.Icons) > 0 {
		b.WriteString("\n")
	}

	b.WriteString("def main(ctx):\n")
	b.WriteString("    return ")
	writeNode(&b, doc.Root, 1)
	b.WriteString("\n")
	return b.String()
}

func writeNode(b *strings.Builder, n Node, depth int) {
	switch n := n.(type) {
	case Root:
		b.WriteString("render.Root(\n")
		field(b, depth+1, "child")
		writeNode(b, n.Child, depth+1)
		b.WriteString(",\n")
		closeCall(b, depth)
	case Column:
		writeContainer(b, "render.Column", n.MainAlign, n.CrossAlign, n.Children, depth)
	case Row:
		writeContainer(b, "render.Row", n.MainAlign, n.CrossAlign, n.Children, depth)
	case Text:
		b.WriteString("render.Text(\n")
		attr(b, depth+1, "content", quote(n.Content))
		if n.Font != "" {
			attr(b, depth+1, "font", quote(n.Font))
		}
		if n.Color != "" {
			attr(b, depth+1, "color", quote(n.Color))
		}
		closeCall(b, depth)
	case Box:
		var args []string
		if n.Width > 0 {
			args = append(args, fmt.Sprintf("width = %d", n.Width))
		}
		if n.Height > 0 {
			args = append(args, fmt.Sprintf("height = %d", n.Height))
		}
		b.WriteString("render.Box(" + strings.Join(args, ", ") + ")")
	case Image:
		b.WriteString("render.Image(\n")
		attr(b, depth+1, "src", iconConst(n.Icon))
		attr(b, depth+1, "width", fmt.Sprint(n.Width))
		attr(b, depth+1, "height", fmt.Sprint(n.Height))
		closeCall(b, depth)
	default:
		panic(fmt.Sprintf("content: unknown node %T", n))
	}
}

func writeContainer(b *strings.Builder, call, mainAlign, crossAlign string, children []Node, depth int) {
	b.WriteString(call + "(\n")
	if mainAlign != "" {
		attr(b, depth+1, "main_align", quote(mainAlign))
	}
	if crossAlign != "" {
		attr(b, depth+1, "cross_align", quote(crossAlign))
	}
	field(b, depth+1, "children")
	b.WriteString("[\n")
	for _, child := range children {
		indent(b, depth+2)
		writeNode(b, child, depth+2)
		b.WriteString(",\n")
	}
	indent(b, depth+1)
	b.WriteString("],\n")
	closeCall(b, depth)
}

func attr(b *strings.Builder, depth int, name, value string) {
	field(b, depth, name)
	b.WriteString(value + ",\n")
}

func field(b *strings.Builder, depth int, name string) {
	indent(b, depth)
	b.WriteString(name + " = ")
}

func closeCall(b *strings.Builder, depth int) {
	indent(b, depth)
	b.WriteString(")")
}

func indent(b *strings.Builder, depth int) {
	b.WriteString(strings.Repeat("    ", depth))
}

func iconConst(name string) string {
	return "ICON_" + strings.ToUpper(name)
}

// quote renders s as a double-quoted Starlark string literal. Line breaks
// and tabs become spaces; other control characters are dropped.
func quote(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for _, r := range s {
		switch {
		case r == '\\':
			b.WriteString(`\\`)
		case r == '"':
			b.WriteString(`\"`)
		case r == '\n' || r == '\r' || r == '\t':
			b.WriteByte(' ')
		case r < 0x20 || r == 0x7f:
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}
