package writer

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/wudi/pdfavail/ir/raw"
)

// Range is a byte range of the produced file.
type Range struct {
	Offset int64
	Length int64
}

func (r Range) End() int64 { return r.Offset + r.Length }

// Layout records where Linearize put things.
type Layout struct {
	FirstPageXRef int64
	// FirstPageEnd is /E: everything the first page needs lies before it.
	FirstPageEnd int64
	Hint         Range
	MainXRef     int64
	// Pages[0] runs from the first page's page object to FirstPageEnd.
	Pages []Range
	// Shared holds the shared object section, one font per entry.
	Shared []Range
	// PageShared lists, per page, the Shared entries the page uses.
	PageShared  [][]int
	PageObjNums []int
	// Others holds the form fields and unused fonts.
	Others Range
}

// linearizer assigns the object numbers and file order of a linearized file.
// Pages other than the first come first in numbering, each page object
// followed by its content stream; then the shared section and the remaining
// objects; then the first page part, starting with the parameter dictionary.
type linearizer struct {
	doc Document
	pl  plan
	lin int
	// hint is the hint stream's object number.
	hint int
	// main is the highest object number in the main cross-reference section.
	main int
	size int

	firstFonts  []int // fonts of page 0, stored with it
	sharedFonts []int // fonts only other pages use
	otherFonts  []int // fonts no page uses

	objs map[int]raw.Object
	body map[int][]byte
}

func newLinearizer(d Document) (*linearizer, error) {
	if err := d.validate(); err != nil {
		return nil, err
	}
	l := &linearizer{doc: d, pl: newPlan(d)}
	l.classify()
	l.renumberObjects()
	objs, err := d.objects(l.pl)
	if err != nil {
		return nil, err
	}
	l.objs = objs
	l.body = make(map[int][]byte, len(objs))
	for num, o := range objs {
		l.body[num] = indirect(num, o)
	}
	return l, nil
}

func (l *linearizer) classify() {
	onFirst := make(map[int]bool)
	for _, f := range l.doc.Pages[0].Fonts {
		onFirst[f] = true
	}
	used := make(map[int]bool)
	for _, p := range l.doc.Pages[1:] {
		for _, f := range p.Fonts {
			used[f] = true
		}
	}
	for f := range l.doc.Fonts {
		switch {
		case onFirst[f]:
			l.firstFonts = append(l.firstFonts, f)
		case used[f]:
			l.sharedFonts = append(l.sharedFonts, f)
		default:
			l.otherFonts = append(l.otherFonts, f)
		}
	}
}

func (l *linearizer) renumberObjects() {
	pl := &l.pl
	next := 1
	alloc := func() int { n := next; next++; return n }
	for i := 1; i < len(l.doc.Pages); i++ {
		pl.pageObj[i] = alloc()
		pl.content[i] = alloc()
	}
	for _, f := range l.sharedFonts {
		pl.fonts[f] = alloc()
	}
	if len(l.doc.FormFields) > 0 {
		for i := range pl.fields {
			pl.fields[i] = alloc()
		}
	}
	for _, f := range l.otherFonts {
		pl.fonts[f] = alloc()
	}
	l.main = next - 1

	l.lin = alloc()
	pl.catalog = alloc()
	pl.pages = alloc()
	if len(l.doc.Info) > 0 {
		pl.info = alloc()
	}
	if len(l.doc.FormFields) > 0 {
		pl.form = alloc()
	}
	if len(l.doc.Pages) > 1 {
		l.hint = alloc()
	}
	pl.pageObj[0] = alloc()
	pl.content[0] = alloc()
	for _, f := range l.firstFonts {
		pl.fonts[f] = alloc()
	}
	l.size = next
}

// part lists the objects of each file section in file order.
func (l *linearizer) firstPart() []int {
	nums := []int{l.pl.catalog, l.pl.pages}
	if l.pl.info != 0 {
		nums = append(nums, l.pl.info)
	}
	if l.pl.form != 0 {
		nums = append(nums, l.pl.form)
	}
	return nums
}

func (l *linearizer) firstPageGroup() []int {
	nums := []int{l.pl.pageObj[0], l.pl.content[0]}
	for _, f := range l.firstFonts {
		nums = append(nums, l.pl.fonts[f])
	}
	return nums
}

func (l *linearizer) others() []int {
	var nums []int
	nums = append(nums, l.pl.fields...)
	for _, f := range l.otherFonts {
		nums = append(nums, l.pl.fonts[f])
	}
	return nums
}

// emitter writes objects in order and records their offsets.
type emitter struct {
	buf     bytes.Buffer
	offsets map[int]int64
}

func (e *emitter) pos() int64 { return int64(e.buf.Len()) }

func (e *emitter) object(num int, body []byte) {
	e.offsets[num] = e.pos()
	e.buf.Write(body)
}

// params are the values that depend on the final layout; they are printed
// with fixed widths so every pass produces the same lengths.
type params struct {
	fileLen, hintOff, hintLen, firstPageEnd, mainXRef int64
}

// render lays out the whole file. hint is the complete hint stream object,
// or nil for the pass that measures positions as if it were absent.
func (l *linearizer) render(hint []byte, p params) (*emitter, *Layout) {
	e := &emitter{offsets: make(map[int]int64)}
	lay := &Layout{}
	e.buf.WriteString(header)

	e.offsets[l.lin] = e.pos()
	fmt.Fprintf(&e.buf, "%d 0 obj\n<</Linearized 1/L %010d/H [%010d %010d]/O %d/E %010d/N %d/T %010d>>\nendobj\n",
		l.lin, p.fileLen, p.hintOff, p.hintLen, l.pl.pageObj[0], p.firstPageEnd, len(l.doc.Pages), p.mainXRef)

	first := l.firstPart()
	group := l.firstPageGroup()

	// the first page cross-reference section is filled in on the next pass
	lay.FirstPageXRef = e.pos()
	xrefStart := e.buf.Len()
	l.writeFirstXRef(&e.buf, nil, p)
	xrefLen := e.buf.Len() - xrefStart

	// the hint stream precedes every object whose position the hint tables
	// record, so all of them lie past its start
	if hint != nil {
		lay.Hint.Offset = e.pos()
		e.object(l.hint, hint)
		lay.Hint.Length = e.pos() - lay.Hint.Offset
	}
	for _, num := range first {
		e.object(num, l.body[num])
	}
	pageStart := e.pos()
	for _, num := range group {
		e.object(num, l.body[num])
	}
	lay.FirstPageEnd = e.pos()
	lay.Pages = append(lay.Pages, Range{Offset: pageStart, Length: lay.FirstPageEnd - pageStart})

	for i := 1; i < len(l.doc.Pages); i++ {
		start := e.pos()
		e.object(l.pl.pageObj[i], l.body[l.pl.pageObj[i]])
		e.object(l.pl.content[i], l.body[l.pl.content[i]])
		lay.Pages = append(lay.Pages, Range{Offset: start, Length: e.pos() - start})
	}
	for _, f := range l.sharedFonts {
		start := e.pos()
		e.object(l.pl.fonts[f], l.body[l.pl.fonts[f]])
		lay.Shared = append(lay.Shared, Range{Offset: start, Length: e.pos() - start})
	}
	othersStart := e.pos()
	for _, num := range l.others() {
		e.object(num, l.body[num])
	}
	lay.Others = Range{Offset: othersStart, Length: e.pos() - othersStart}

	lay.MainXRef = e.pos()
	fmt.Fprintf(&e.buf, "xref\n0 %d\n", l.main+1)
	e.buf.WriteString("0000000000 65535 f \n")
	for num := 1; num <= l.main; num++ {
		fmt.Fprintf(&e.buf, "%010d 00000 n \n", e.offsets[num])
	}
	e.buf.WriteString("trailer\n")
	e.buf.Write(serializePrimitive(l.doc.trailer(l.pl, l.size)))
	fmt.Fprintf(&e.buf, "\nstartxref\n%d\n%%%%EOF\n", lay.FirstPageXRef)

	// now every offset of the first part is known
	var xref bytes.Buffer
	l.writeFirstXRef(&xref, e.offsets, p)
	if xref.Len() != xrefLen {
		panic("writer: first page cross-reference changed size")
	}
	copy(e.buf.Bytes()[xrefStart:], xref.Bytes())

	lay.PageObjNums = append([]int(nil), l.pl.pageObj...)
	shared := make(map[int]int, len(l.sharedFonts))
	for i, f := range l.sharedFonts {
		shared[f] = i
	}
	for _, pg := range l.doc.Pages {
		var ids []int
		for _, f := range uniqueSorted(pg.Fonts) {
			if i, ok := shared[f]; ok {
				ids = append(ids, i)
			}
		}
		lay.PageShared = append(lay.PageShared, ids)
	}
	return e, lay
}

func (l *linearizer) writeFirstXRef(buf *bytes.Buffer, offsets map[int]int64, p params) {
	fmt.Fprintf(buf, "xref\n%d %d\n", l.main+1, l.size-l.main-1)
	for num := l.main + 1; num < l.size; num++ {
		fmt.Fprintf(buf, "%010d 00000 n \n", offsets[num])
	}
	fmt.Fprintf(buf, "trailer\n<</Size %d/Root %d 0 R", l.size, l.pl.catalog)
	if l.pl.info != 0 {
		fmt.Fprintf(buf, "/Info %d 0 R", l.pl.info)
	}
	fmt.Fprintf(buf, "/Prev %010d>>\n", p.mainXRef)
}

func uniqueSorted(v []int) []int {
	out := append([]int(nil), v...)
	sort.Ints(out)
	n := 0
	for i, x := range out {
		if i == 0 || x != out[n-1] {
			out[n] = x
			n++
		}
	}
	return out[:n]
}

// Linearize returns d as a linearized file. Documents with more than one page
// carry a primary hint stream.
func Linearize(d Document) ([]byte, *Layout, error) {
	l, err := newLinearizer(d)
	if err != nil {
		return nil, nil, err
	}
	// positions without the hint stream are what the hint tables record
	bare, bareLay := l.render(nil, params{})
	var hint []byte
	if l.hint != 0 {
		data, sharedOff := l.generateHintStream(bare, bareLay)
		dict := raw.Dict()
		dict.Set("S", raw.NumberInt(sharedOff))
		if d.Compress {
			enc, err := flateEncode(data)
			if err != nil {
				return nil, nil, err
			}
			dict.Set("Filter", raw.NameLiteral("FlateDecode"))
			data = enc
		}
		hint = indirect(l.hint, raw.NewStream(dict, data))
	}
	e, lay := l.render(hint, params{})
	p := params{
		fileLen:      int64(e.buf.Len()),
		hintOff:      lay.Hint.Offset,
		hintLen:      lay.Hint.Length,
		firstPageEnd: lay.FirstPageEnd,
		mainXRef:     lay.MainXRef,
	}
	e, lay = l.render(hint, p)
	return e.buf.Bytes(), lay, nil
}

// generateHintStream encodes the page offset and shared object hint tables
// from the positions of a rendering without the hint stream. It returns the
// data and the byte offset of the shared object table.
func (l *linearizer) generateHintStream(bare *emitter, lay *Layout) ([]byte, int64) {
	pages := l.doc.Pages
	n := len(pages)
	group := l.firstPageGroup()

	counts := make([]int64, n)
	lengths := make([]int64, n)
	for i := range pages {
		counts[i] = 2
		lengths[i] = lay.Pages[i].Length
	}
	counts[0] = int64(len(group))

	// shared group ids: the first page objects, then the shared section
	nFirst := len(group)
	firstID := make(map[int]int)
	for i, f := range l.firstFonts {
		firstID[f] = 2 + i
	}
	sharedID := make(map[int]int)
	for i, f := range l.sharedFonts {
		sharedID[f] = nFirst + i
	}
	ids := make([][]int64, n)
	for i, pg := range pages {
		for _, f := range uniqueSorted(pg.Fonts) {
			if id, ok := firstID[f]; ok {
				ids[i] = append(ids[i], int64(id))
			} else {
				ids[i] = append(ids[i], int64(sharedID[f]))
			}
		}
	}
	total := nFirst + len(l.sharedFonts)

	leastObjs, maxObjs := minMax(counts)
	leastLen, maxLen := minMax(lengths)
	var maxShared int64
	for _, s := range ids {
		if int64(len(s)) > maxShared {
			maxShared = int64(len(s))
		}
	}
	objBits := width(maxObjs - leastObjs)
	lenBits := width(maxLen - leastLen)
	countBits := width(maxShared)
	idBits := width(int64(total - 1))
	const numeratorBits = 1

	var buf bytes.Buffer
	bw := newBitWriter(&buf)
	bw.write(uint64(leastObjs), 32)
	bw.write(uint64(bare.offsets[l.pl.pageObj[0]]), 32)
	bw.write(uint64(objBits), 16)
	bw.write(uint64(leastLen), 32)
	bw.write(uint64(lenBits), 16)
	bw.write(0, 32) // content stream offsets
	bw.write(0, 16)
	bw.write(0, 32) // content stream lengths
	bw.write(0, 16)
	bw.write(uint64(countBits), 16)
	bw.write(uint64(idBits), 16)
	bw.write(numeratorBits, 16)
	bw.write(1, 16) // denominator

	for _, c := range counts {
		bw.write(uint64(c-leastObjs), objBits)
	}
	bw.flush()
	for _, ln := range lengths {
		bw.write(uint64(ln-leastLen), lenBits)
	}
	bw.flush()
	for _, s := range ids {
		bw.write(uint64(len(s)), countBits)
	}
	bw.flush()
	for _, s := range ids {
		for _, id := range s {
			bw.write(uint64(id), idBits)
		}
	}
	bw.flush()
	for _, s := range ids {
		for range s {
			bw.write(0, numeratorBits)
		}
	}
	bw.flush()
	for range pages {
		bw.write(0, lenBits)
	}
	bw.flush()

	sharedOff := int64(buf.Len())
	groupLens := make([]int64, 0, total)
	for _, num := range group {
		groupLens = append(groupLens, int64(len(l.body[num])))
	}
	for _, r := range lay.Shared {
		groupLens = append(groupLens, r.Length)
	}
	firstSharedNum := l.pl.content[n-1] + 1
	firstSharedLoc := lay.Others.Offset
	if len(l.sharedFonts) > 0 {
		firstSharedNum = l.pl.fonts[l.sharedFonts[0]]
		firstSharedLoc = lay.Shared[0].Offset
	}
	leastGroup, maxGroup := minMax(groupLens)
	groupBits := width(maxGroup - leastGroup)

	bw.write(uint64(firstSharedNum), 32)
	bw.write(uint64(firstSharedLoc), 32)
	bw.write(uint64(nFirst), 32)
	bw.write(uint64(total), 32)
	bw.write(0, 16) // every group is one object
	bw.write(uint64(leastGroup), 32)
	bw.write(uint64(groupBits), 16)
	for _, g := range groupLens {
		bw.write(uint64(g-leastGroup), groupBits)
	}
	bw.flush()
	for range groupLens {
		bw.write(0, 1) // no signatures
	}
	bw.flush()
	return buf.Bytes(), sharedOff
}

func minMax(v []int64) (lo, hi int64) {
	lo, hi = v[0], v[0]
	for _, x := range v[1:] {
		lo = min(lo, x)
		hi = max(hi, x)
	}
	return lo, hi
}
