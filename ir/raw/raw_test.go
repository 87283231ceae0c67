package raw

import (
	"errors"
	"fmt"
	"testing"
)

func TestHintsOffsetToFileOffset(t *testing.T) {
	lin := &Linearization{HintOffset: 1000, HintLength: 200}
	cases := []struct{ in, want int64 }{
		{0, 0},
		{999, 999},
		{1000, 1000},
		{1001, 1201},
		{5000, 5200},
	}
	for _, c := range cases {
		if got := lin.HintsOffsetToFileOffset(c.in); got != c.want {
			t.Fatalf("HintsOffsetToFileOffset(%d) = %d, want %d", c.in, got, c.want)
		}
	}
	// a position past the hint start never lands inside the hint stream
	if got := lin.HintsOffsetToFileOffset(1001); got < lin.HintOffset+lin.HintLength {
		t.Fatalf("position inside the hint stream: %d", got)
	}
}

func TestHasHintTable(t *testing.T) {
	cases := []struct {
		lin  Linearization
		want bool
	}{
		{Linearization{PageCount: 2, HintOffset: 10, HintLength: 5}, true},
		{Linearization{PageCount: 1, HintOffset: 10, HintLength: 5}, false},
		{Linearization{PageCount: 2, HintOffset: 0, HintLength: 5}, false},
		{Linearization{PageCount: 2, HintOffset: 10, HintLength: 0}, false},
	}
	for i, c := range cases {
		if got := c.lin.HasHintTable(); got != c.want {
			t.Fatalf("case %d: HasHintTable = %v", i, got)
		}
	}
}

func TestHintTableQueries(t *testing.T) {
	h := &HintTable{
		Pages: []PageHint{
			{ObjNum: 7, ObjectCount: 3, SharedIDs: []int{0}},
			{ObjNum: 1, ObjectCount: 2, SharedIDs: []int{0, 2}},
		},
		PageOffsets:          []int64{100, 400, 480},
		FirstPageSharedCount: 1,
		Shared: []SharedGroup{
			{ObjNum: 8, ObjectCount: 1},
			{ObjNum: 20, ObjectCount: 1},
			{ObjNum: 21, ObjectCount: 1},
		},
		SharedOffsets: []int64{130, 600, 630, 660},
	}
	if h.PageCount() != 2 {
		t.Fatalf("PageCount = %d", h.PageCount())
	}
	off, length, num, ok := h.PagePos(1)
	if !ok || off != 400 || length != 80 || num != 1 {
		t.Fatalf("PagePos(1) = %d %d %d %v", off, length, num, ok)
	}
	if _, _, _, ok := h.PagePos(2); ok {
		t.Fatalf("PagePos past the end succeeded")
	}
	if _, _, _, ok := h.PagePos(-1); ok {
		t.Fatalf("PagePos(-1) succeeded")
	}
	if ids := h.SharedIDs(1); len(ids) != 2 || ids[1] != 2 {
		t.Fatalf("SharedIDs(1) = %v", ids)
	}
	if h.SharedIDs(5) != nil {
		t.Fatalf("SharedIDs out of range not nil")
	}
	num, off, length, ok = h.SharedRange(2)
	if !ok || num != 21 || off != 630 || length != 30 {
		t.Fatalf("SharedRange(2) = %d %d %d %v", num, off, length, ok)
	}
	if _, _, _, ok := h.SharedRange(3); ok {
		t.Fatalf("SharedRange past the end succeeded")
	}
	if !h.InFirstPageSection(0) || h.InFirstPageSection(1) || h.InFirstPageSection(-1) {
		t.Fatalf("InFirstPageSection wrong")
	}
}

func TestItemLength(t *testing.T) {
	offsets := []int64{100, 400, 400, 300, 500}
	cases := []struct {
		i    int
		want int64
	}{
		{0, 300},
		{1, 0}, // same offset twice
		{2, 0}, // decreasing
		{3, 200},
		{4, 0}, // no successor
		{-1, 0},
	}
	for _, c := range cases {
		if got := ItemLength(offsets, c.i); got != c.want {
			t.Fatalf("ItemLength(%d) = %d, want %d", c.i, got, c.want)
		}
	}
	h := &HintTable{Pages: make([]PageHint, 2), PageOffsets: []int64{900, 300, 500}}
	if _, length, _, ok := h.PagePos(0); !ok || length != 0 {
		t.Fatalf("PagePos(0) length %d, want 0 for a page ending before it starts", length)
	}
}

func TestDocumentIsAppendOnly(t *testing.T) {
	d := NewDocument()
	first := Dict()
	first.Set("Type", NameLiteral("Catalog"))
	if got := d.Add(1, first); got != first {
		t.Fatalf("Add returned a different object")
	}
	if got := d.Add(1, Dict()); got != first {
		t.Fatalf("second Add replaced the stored object")
	}
	if d.Len() != 1 {
		t.Fatalf("Len = %d", d.Len())
	}
	if d.Resolve(Ref(1, 0)) != first {
		t.Fatalf("Resolve did not follow the reference")
	}
	if d.Resolve(Ref(9, 0)) != nil {
		t.Fatalf("unknown reference resolved")
	}
	if d.RootDict() != nil {
		t.Fatalf("root without reference")
	}
	d.Root = ObjectRef{Num: 1}
	if d.RootDict() != first {
		t.Fatalf("RootDict mismatch")
	}

	page := Dict()
	page.Set("Type", NameLiteral("Page"))
	d.Add(4, page)
	d.SetPageObjNum(0, 4)
	d.SetPageObjNum(0, 9)
	if n, _ := d.PageObjNum(0); n != 4 {
		t.Fatalf("page number overwritten: %d", n)
	}
	if d.Page(0) != page || d.Page(1) != nil {
		t.Fatalf("Page lookup wrong")
	}
}

func TestDecodeTextString(t *testing.T) {
	cases := []struct {
		in   []byte
		want string
	}{
		{[]byte("Ten pages"), "Ten pages"},
		{[]byte{0xfe, 0xff, 0x00, 'H', 0x00, 'i', 0x04, 0x16}, "HiЖ"},
		{[]byte{0xff, 0xfe, 'H', 0x00, 'i', 0x00}, "Hi"},
		{[]byte{0xef, 0xbb, 0xbf, 0xc3, 0xa9}, "é"},
		{[]byte{'A', 0x92, 0xe9}, "A™é"},
	}
	for _, c := range cases {
		if got := DecodeTextString(c.in); got != c.want {
			t.Fatalf("DecodeTextString(% x) = %q, want %q", c.in, got, c.want)
		}
	}
	if _, ok := TextOf(NameLiteral("x")); ok {
		t.Fatalf("TextOf accepted a name")
	}
	if s, ok := TextOf(Str([]byte("abc"))); !ok || s != "abc" {
		t.Fatalf("TextOf = %q %v", s, ok)
	}
}

func TestMalformed(t *testing.T) {
	err := Malformed(42, "bad %s", "token")
	if !IsMalformed(err) || !IsMalformed(fmt.Errorf("load: %w", err)) {
		t.Fatalf("IsMalformed false for %v", err)
	}
	if IsMalformed(errors.New("other")) {
		t.Fatalf("IsMalformed true for a plain error")
	}
	if err.Error() != "malformed PDF: bad token (at byte 42)" {
		t.Fatalf("message = %q", err.Error())
	}
}
