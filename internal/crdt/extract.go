package crdt

import "strings"

// Visitor receives a note's content nodes in reading order. The node set
// is closed: elements and text leaves are all a note contains.
type Visitor interface {
	// VisitElement is called for each live element node. depth is 0 for
	// top-level blocks.
	VisitElement(n Node, depth int)
	// VisitText is called for each live text leaf.
	VisitText(n Node)
}

// Walk drives a Visitor over the live nodes in reading order.
func (d *NoteDoc) Walk(v Visitor) {
	d.walk(ItemID{}, 0, v)
}

func (d *NoteDoc) walk(parent ItemID, depth int, v Visitor) {
	for _, id := range d.childrenOf(parent) {
		n := d.nodes[id]
		switch n.Kind {
		case NodeElement:
			v.VisitElement(n, depth)
			d.walk(id, depth+1, v)
		case NodeText:
			v.VisitText(n)
		}
	}
}

// textExtractor accumulates block texts; a new block starts at each
// top-level element.
type textExtractor struct {
	blocks  []string
	current strings.Builder
	started bool
}

func (x *textExtractor) VisitElement(_ Node, depth int) {
	if depth != 0 {
		return
	}
	x.flush()
	x.started = true
}

func (x *textExtractor) VisitText(n Node) {
	x.current.WriteString(n.Text)
}

func (x *textExtractor) flush() {
	if x.started {
		x.blocks = append(x.blocks, x.current.String())
		x.current.Reset()
	}
}

// Text returns the note's plain text: block texts concatenated with a
// space at each block boundary.
func (d *NoteDoc) Text() string {
	var x textExtractor
	d.Walk(&x)
	x.flush()
	var parts []string
	for _, b := range x.blocks {
		if b != "" {
			parts = append(parts, b)
		}
	}
	return strings.Join(parts, " ")
}

// Title returns the first line of the note's text.
func (d *NoteDoc) Title() string {
	var x textExtractor
	d.Walk(&x)
	x.flush()
	for _, b := range x.blocks {
		if b == "" {
			continue
		}
		if i := strings.IndexByte(b, '\n'); i >= 0 {
			return b[:i]
		}
		return b
	}
	return ""
}
