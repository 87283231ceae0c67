package pagetree

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/wudi/pdfavail/ir/raw"
	"github.com/wudi/pdfavail/source"
)

// objects is a Resolver over a fixed set; numbers in pending are not yet
// received.
type objects struct {
	m       map[int]raw.Object
	pending map[int]bool
	loads   int
}

func (o *objects) Object(num int) (raw.Object, error) {
	o.loads++
	if o.pending[num] {
		return nil, &source.NotAvailableError{Offset: int64(num), Size: 1}
	}
	obj, ok := o.m[num]
	if !ok {
		return nil, fmt.Errorf("object %d missing", num)
	}
	return obj, nil
}

func pagesNode(count int, kids ...int) *raw.DictObj {
	d := raw.Dict()
	d.Set("Type", raw.NameLiteral("Pages"))
	d.Set("Count", raw.NumberInt(int64(count)))
	arr := raw.NewArray()
	for _, k := range kids {
		arr.Append(raw.Ref(k, 0))
	}
	d.Set("Kids", arr)
	return d
}

func pageNode() *raw.DictObj {
	d := raw.Dict()
	d.Set("Type", raw.NameLiteral("Page"))
	return d
}

// tree: 1 -> [2, 3]; 2 -> [10, 11]; 3 -> 20 (array [12, 13]) and 14 without /Type
func sampleTree() *objects {
	untyped := raw.Dict()
	untyped.Set("MediaBox", raw.NewArray(raw.NumberInt(0), raw.NumberInt(0), raw.NumberInt(1), raw.NumberInt(1)))
	kidsArray := raw.NewArray(raw.Ref(12, 0), raw.Ref(13, 0))
	return &objects{m: map[int]raw.Object{
		1:  pagesNode(5, 2, 3),
		2:  pagesNode(2, 10, 11),
		3:  pagesNode(3, 20, 14),
		10: pageNode(),
		11: pageNode(),
		12: pageNode(),
		13: pageNode(),
		14: untyped,
		20: kidsArray,
	}, pending: map[int]bool{}}
}

func TestResolve(t *testing.T) {
	objs := sampleTree()
	found := map[int]int{}
	w := NewWalker(1, objs, Config{OnPage: func(i, num int) { found[i] = num }})
	for i, want := range []int{10, 11, 12, 13, 14} {
		got, err := w.Resolve(i)
		if err != nil {
			t.Fatalf("Resolve(%d): %v", i, err)
		}
		if got != want {
			t.Fatalf("Resolve(%d) = %d, want %d", i, got, want)
		}
	}
	if diff := cmp.Diff(map[int]int{0: 10, 1: 11, 2: 12, 3: 13, 4: 14}, found); diff != "" {
		t.Fatalf("callback mismatch (-want +got):\n%s", diff)
	}
	if _, err := w.Resolve(5); !errors.Is(err, ErrPageNotFound) {
		t.Fatalf("expected out of range, got %v", err)
	}
	if n := w.Root().Children[1].Children[0]; n.Type != Array || len(n.Children) != 2 {
		t.Fatalf("array kid not expanded: %+v", n)
	}
}

func TestResolvePendingResumes(t *testing.T) {
	objs := sampleTree()
	objs.pending[3] = true
	w := NewWalker(1, objs, Config{})
	if num, err := w.Resolve(1); err != nil || num != 11 {
		t.Fatalf("page before the missing branch: %d %v", num, err)
	}
	if _, err := w.Resolve(2); !errors.Is(err, source.ErrNotAvailable) {
		t.Fatalf("expected pending, got %v", err)
	}
	objs.pending[3] = false
	before := objs.loads
	if num, err := w.Resolve(2); err != nil || num != 12 {
		t.Fatalf("after arrival: %d %v", num, err)
	}
	// only 3, 20, 12 are new; 1, 2, 10, 11 are already classified
	if got := objs.loads - before; got != 3 {
		t.Fatalf("reloaded %d objects, want 3", got)
	}
}

func TestCountLeaves(t *testing.T) {
	objs := sampleTree()
	objs.m[1] = pagesNode(99, 2, 3)
	n, err := NewWalker(1, objs, Config{}).CountLeaves()
	if err != nil || n != 5 {
		t.Fatalf("CountLeaves = %d, %v", n, err)
	}

	empty := &objects{m: map[int]raw.Object{1: pagesNode(0)}}
	if n, err := NewWalker(1, empty, Config{}).CountLeaves(); err != nil || n != 0 {
		t.Fatalf("empty tree: %d %v", n, err)
	}
}

func TestDeepChain(t *testing.T) {
	objs := &objects{m: map[int]raw.Object{}}
	const depth = 2000
	for i := 1; i < depth; i++ {
		objs.m[i] = pagesNode(1, i+1)
	}
	objs.m[depth] = pageNode()
	if _, err := NewWalker(1, objs, Config{}).Resolve(0); !errors.Is(err, ErrTooDeep) {
		t.Fatalf("expected depth error, got %v", err)
	}
}

func TestCyclicKidsAreSkipped(t *testing.T) {
	objs := &objects{m: map[int]raw.Object{
		1: pagesNode(2, 2, 1),
		2: pagesNode(1, 3, 1),
		3: pageNode(),
	}}
	w := NewWalker(1, objs, Config{})
	if num, err := w.Resolve(0); err != nil || num != 3 {
		t.Fatalf("Resolve(0) = %d, %v", num, err)
	}
	if _, err := w.Resolve(1); !errors.Is(err, ErrPageNotFound) {
		t.Fatalf("expected out of range, got %v", err)
	}
}

func TestBadNodes(t *testing.T) {
	font := raw.Dict()
	font.Set("Type", raw.NameLiteral("Font"))
	objs := &objects{m: map[int]raw.Object{
		1: pagesNode(2, 2, 3),
		2: font,
		3: raw.NumberInt(7),
	}}
	if _, err := NewWalker(1, objs, Config{}).Resolve(0); !raw.IsMalformed(err) {
		t.Fatalf("expected malformed, got %v", err)
	}
}
