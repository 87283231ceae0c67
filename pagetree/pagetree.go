// Package pagetree locates pages in a page tree whose objects may not all have
// been received yet. The tree is built lazily: a kid starts out Unknown and is
// classified once its object can be loaded, so a walk that runs out of data
// resumes from where it stopped on the next call.
package pagetree

import (
	"errors"
	"fmt"

	"github.com/wudi/pdfavail/ir/raw"
	"github.com/wudi/pdfavail/observability"
	"github.com/wudi/pdfavail/security"
)

var (
	// ErrTooDeep is returned when a branch is nested deeper than
	// Limits.MaxPageTreeDepth.
	ErrTooDeep = errors.New("page tree too deep")
	// ErrPageNotFound is returned for an index beyond the counted leaves.
	ErrPageNotFound = errors.New("page index beyond the page tree")
)

type NodeType int

const (
	Unknown NodeType = iota
	Page
	Pages
	// Array is a kid that resolves to an array of page references instead of
	// a page tree node.
	Array
)

func (t NodeType) String() string {
	switch t {
	case Unknown:
		return "unknown"
	case Page:
		return "page"
	case Pages:
		return "pages"
	case Array:
		return "array"
	}
	return fmt.Sprintf("NodeType(%d)", int(t))
}

type Node struct {
	Type   NodeType
	ObjNum int
	// Count is the declared /Count of a Pages node, or -1.
	Count    int
	Children []*Node
}

// Resolver loads objects by number. Missing data is reported with an error
// matching source.ErrNotAvailable.
type Resolver interface {
	Object(num int) (raw.Object, error)
}

type Config struct {
	Limits security.Limits
	Logger observability.Logger
	// OnPage is called with every page found by Resolve.
	OnPage func(index, objNum int)
}

type Walker struct {
	root   *Node
	res    Resolver
	limits security.Limits
	log    observability.Logger
	onPage func(index, objNum int)
	// known holds every object number placed in the tree; a kid naming one
	// of them again is skipped.
	known map[int]bool
}

// NewWalker returns a walker for the tree rooted at the Pages object rootNum.
func NewWalker(rootNum int, res Resolver, cfg Config) *Walker {
	if cfg.Logger == nil {
		cfg.Logger = observability.NopLogger{}
	}
	return &Walker{
		root:   &Node{Type: Unknown, ObjNum: rootNum, Count: -1},
		res:    res,
		limits: cfg.Limits.OrDefault(),
		log:    cfg.Logger,
		onPage: cfg.OnPage,
		known:  map[int]bool{rootNum: true},
	}
}

func (w *Walker) Root() *Node { return w.root }

// Resolve returns the object number of the page at index, counting leaves in
// document order.
func (w *Walker) Resolve(index int) (int, error) {
	if index < 0 {
		return 0, fmt.Errorf("page %d: %w", index, ErrPageNotFound)
	}
	count := 0
	num, found, err := w.walk(w.root, index, &count, 0)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, fmt.Errorf("page %d of %d: %w", index, count, ErrPageNotFound)
	}
	return num, nil
}

// CountLeaves loads the whole tree and returns the number of pages in it.
func (w *Walker) CountLeaves() (int, error) {
	count := 0
	if _, _, err := w.walk(w.root, -1, &count, 0); err != nil {
		return 0, err
	}
	if w.root.Count >= 0 && w.root.Count != count {
		w.log.Warn("page tree /Count disagrees with its leaves",
			observability.Int("declared", w.root.Count), observability.Int("counted", count))
	}
	return count, nil
}

func (w *Walker) walk(n *Node, index int, count *int, depth int) (int, bool, error) {
	if depth > w.limits.MaxPageTreeDepth {
		return 0, false, fmt.Errorf("object %d at depth %d: %w", n.ObjNum, depth, ErrTooDeep)
	}
	if n.Type == Unknown {
		if err := w.ClassifyUnknown(n); err != nil {
			return 0, false, err
		}
	}
	if n.Type == Page {
		if *count == index {
			if w.onPage != nil {
				w.onPage(index, n.ObjNum)
			}
			return n.ObjNum, true, nil
		}
		*count++
		return 0, false, nil
	}
	for _, kid := range n.Children {
		num, found, err := w.walk(kid, index, count, depth+1)
		if err != nil || found {
			return num, found, err
		}
	}
	return 0, false, nil
}

// ClassifyUnknown loads the object of n and turns it into a Page, Pages or
// Array node. A dictionary without /Type is a Pages node when it has /Kids and
// a Page otherwise.
func (w *Walker) ClassifyUnknown(n *Node) error {
	obj, err := w.res.Object(n.ObjNum)
	if err != nil {
		return err
	}
	if arr, ok := obj.(*raw.ArrayObj); ok {
		w.ExpandArray(n, arr)
		return nil
	}
	dict := raw.DictOf(obj)
	if dict == nil {
		return raw.Malformed(0, "page tree node %d is a %s", n.ObjNum, typeOf(obj))
	}
	typ := dict.Name("Type")
	if typ == "" {
		if dict.Has("Kids") {
			typ = "Pages"
		} else {
			typ = "Page"
		}
		w.log.Debug("page tree node without /Type", observability.Int("obj", n.ObjNum), observability.String("as", typ))
	}
	switch typ {
	case "Page":
		n.Type = Page
	case "Pages":
		n.Count = -1
		if c, ok := dict.Int("Count"); ok {
			n.Count = int(c)
		}
		kids, _ := dict.Get("Kids")
		switch k := kids.(type) {
		case raw.RefObj:
			n.Children = w.addKids(n, []raw.Object{k})
		case *raw.ArrayObj:
			n.Children = w.addKids(n, k.Items)
		}
		n.Type = Pages
	default:
		return raw.Malformed(0, "page tree node %d has /Type /%s", n.ObjNum, typ)
	}
	return nil
}

// ExpandArray makes n an Array node whose children are the references in arr.
func (w *Walker) ExpandArray(n *Node, arr *raw.ArrayObj) {
	n.Children = w.addKids(n, arr.Items)
	n.Type = Array
}

func (w *Walker) addKids(parent *Node, items []raw.Object) []*Node {
	kids := make([]*Node, 0, len(items))
	for _, item := range items {
		ref, ok := raw.RefOf(item)
		if !ok {
			continue
		}
		if w.known[ref.Num] {
			w.log.Warn("page tree node listed twice",
				observability.Int("obj", ref.Num), observability.Int("parent", parent.ObjNum))
			continue
		}
		w.known[ref.Num] = true
		kids = append(kids, &Node{Type: Unknown, ObjNum: ref.Num, Count: -1})
	}
	return kids
}

func typeOf(o raw.Object) string {
	if o == nil {
		return "null"
	}
	return o.Type()
}
