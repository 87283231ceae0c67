package dataavail

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wudi/pdfavail/ir/raw"
	"github.com/wudi/pdfavail/observability"
	"github.com/wudi/pdfavail/recovery"
	"github.com/wudi/pdfavail/security"
	"github.com/wudi/pdfavail/source"
	"github.com/wudi/pdfavail/writer"
)

type session struct {
	t    *testing.T
	prog *source.Progressive
	e    *Engine
}

func newSession(t *testing.T, data []byte, cfg Config) *session {
	t.Helper()
	prog := source.NewProgressive(data, 1)
	return &session{t: t, prog: prog, e: New(prog, prog, int64(len(data)), cfg)}
}

// drive calls check, supplying whatever it asks for, until it stops returning
// DataNotAvailable.
func (s *session) drive(check func(source.DownloadHints) DocAvailStatus) DocAvailStatus {
	s.t.Helper()
	var hints source.Segments
	for i := 0; i < 100; i++ {
		hints.Reset()
		st := check(&hints)
		if st != DataNotAvailable {
			return st
		}
		require.NotEmpty(s.t, hints, "not available without a request")
		s.prog.AddSegments(hints)
	}
	s.t.Fatalf("no answer after 100 rounds")
	return DataError
}

func tenPages(t *testing.T, mutate func(*writer.Document)) ([]byte, *writer.Layout) {
	t.Helper()
	doc := writer.Document{
		Fonts: []string{"Helvetica", "Times-Roman", "Courier", "Symbol"},
		Info:  map[string]string{"Title": "Ten pages"},
	}
	for i := 0; i < 10; i++ {
		p := writer.Page{Content: bytes.Repeat([]byte(fmt.Sprintf("BT /F0 12 Tf 72 700 Td (page %d) Tj ET\n", i)), 40)}
		switch {
		case i == 0:
			p.Fonts = []int{0}
		case i%2 == 1:
			p.Fonts = []int{0, 1}
		default:
			p.Fonts = []int{2}
		}
		doc.Pages = append(doc.Pages, p)
	}
	if mutate != nil {
		mutate(&doc)
	}
	data, lay, err := writer.Linearize(doc)
	require.NoError(t, err)
	require.Greater(t, lay.FirstPageEnd, int64(1024), "first page must cover the header window")
	return data, lay
}

func TestLinearizedFirstPage(t *testing.T) {
	data, lay := tenPages(t, nil)
	s := newSession(t, data, Config{})

	var hints source.Segments
	require.Equal(t, DataNotAvailable, s.e.IsDocAvail(&hints))
	require.Equal(t, source.Segments{{Offset: 0, Size: 1024}}, hints.Normalize())

	s.prog.Add(0, lay.FirstPageEnd)
	hints.Reset()
	require.Equal(t, DataAvailable, s.e.IsDocAvail(&hints))
	require.Empty(t, hints)
	require.Equal(t, Linearized, s.e.IsLinearized())
	require.Equal(t, 10, s.e.PageCount())
	require.NotNil(t, s.e.HintTables())
	title, ok := raw.TextOf(s.e.Info().KV["Title"])
	require.True(t, ok)
	require.Equal(t, "Ten pages", title)

	require.Equal(t, DataAvailable, s.e.IsPageAvail(0, &hints))
	require.Empty(t, hints, "the first page needs nothing past /E")
	require.NotNil(t, s.e.Page(0))
}

func TestLinearizedPageFromHints(t *testing.T) {
	data, lay := tenPages(t, nil)
	s := newSession(t, data, Config{})
	s.prog.Add(0, lay.FirstPageEnd)
	s.prog.Add(lay.MainXRef, int64(len(data))-lay.MainXRef)
	require.Equal(t, DataAvailable, s.e.IsDocAvail(nil))

	var hints source.Segments
	require.Equal(t, DataNotAvailable, s.e.IsPageAvail(5, &hints))
	want := source.Segments{{Offset: lay.Pages[5].Offset, Size: lay.Pages[5].Length}}
	for _, idx := range lay.PageShared[5] {
		want = append(want, source.Segment{Offset: lay.Shared[idx].Offset, Size: lay.Shared[idx].Length})
	}
	require.Equal(t, want.Normalize(), hints.Normalize())

	// nothing arrived: the same answer and the same request
	var again source.Segments
	require.Equal(t, DataNotAvailable, s.e.IsPageAvail(5, &again))
	require.Equal(t, hints.Normalize(), again.Normalize())

	s.prog.AddSegments(hints)
	require.Equal(t, DataAvailable, s.e.IsPageAvail(5, nil))
	page := s.e.Page(5)
	require.NotNil(t, page)
	require.Equal(t, "Page", page.Name("Type"))
	num, ok := s.e.Document().PageObjNum(5)
	require.True(t, ok)
	require.Equal(t, lay.PageObjNums[5], num)

	// answers never go back, and settled answers ask the oracle nothing
	queries := s.prog.Queries()
	require.Equal(t, DataAvailable, s.e.IsPageAvail(5, nil))
	require.Equal(t, DataAvailable, s.e.IsDocAvail(nil))
	require.Equal(t, queries, s.prog.Queries())
}

func TestLinearizedRequestsOnlyMissingRanges(t *testing.T) {
	data, lay := tenPages(t, nil)
	s := newSession(t, data, Config{})
	s.prog.Add(0, lay.FirstPageEnd)
	s.prog.Add(lay.MainXRef, int64(len(data))-lay.MainXRef)
	require.Equal(t, DataAvailable, s.e.IsDocAvail(nil))

	// page 4 only uses a font of the shared section, page 2 too
	require.Len(t, lay.PageShared[4], 1)
	s.prog.Add(lay.Pages[4].Offset, lay.Pages[4].Length)
	var hints source.Segments
	require.Equal(t, DataNotAvailable, s.e.IsPageAvail(4, &hints))
	shared := lay.Shared[lay.PageShared[4][0]]
	require.Equal(t, source.Segments{{Offset: shared.Offset, Size: shared.Length}}, hints.Normalize())
}

func TestLinearizedEmptyHintRange(t *testing.T) {
	data, _ := tenPages(t, nil)
	s := newSession(t, data, Config{})
	s.prog.AddAll()
	require.Equal(t, DataAvailable, s.e.IsDocAvail(nil))

	// two pages starting at the same offset leave page 5 without bytes
	h := s.e.HintTables()
	require.NotNil(t, h)
	h.PageOffsets[6] = h.PageOffsets[5]
	require.Equal(t, DataError, s.e.IsPageAvail(5, nil))
	require.True(t, raw.IsMalformed(s.e.Err()), "err = %v", s.e.Err())
	require.Equal(t, DataError, s.e.IsPageAvail(4, nil))
}

func TestWrongHintObjectFallsBackToPageTree(t *testing.T) {
	data, lay := tenPages(t, nil)
	s := newSession(t, data, Config{})
	s.prog.AddAll()
	require.Equal(t, DataAvailable, s.e.IsDocAvail(nil))
	require.Same(t, s.e.HintTables(), s.e.Document().Hints)

	// point page 5 at its content stream
	s.e.HintTables().Pages[5].ObjNum = lay.PageObjNums[5] + 1
	require.Equal(t, DataAvailable, s.e.IsPageAvail(5, nil))
	num, _ := s.e.Document().PageObjNum(5)
	require.Equal(t, lay.PageObjNums[5], num)
	require.Nil(t, s.e.HintTables())
	require.Nil(t, s.e.Document().Hints)
}

func TestLinearizedWithoutHints(t *testing.T) {
	data, lay := tenPages(t, nil)
	s := newSession(t, data, Config{DisableHintTables: true})
	s.prog.Add(0, lay.FirstPageEnd)
	require.Equal(t, DataAvailable, s.e.IsDocAvail(nil))
	require.Nil(t, s.e.HintTables())

	require.Equal(t, DataAvailable, s.drive(func(h source.DownloadHints) DocAvailStatus { return s.e.IsPageAvail(7, h) }))
	num, _ := s.e.Document().PageObjNum(7)
	require.Equal(t, lay.PageObjNums[7], num)
}

func corruptHintWidth(t *testing.T, data []byte, lay *writer.Layout) []byte {
	t.Helper()
	out := append([]byte(nil), data...)
	i := bytes.Index(out[lay.Hint.Offset:], []byte("stream\n"))
	require.GreaterOrEqual(t, i, 0)
	start := lay.Hint.Offset + int64(i) + int64(len("stream\n"))
	// page table item 3, the object count delta width
	out[start+8], out[start+9] = 0, 0
	return out
}

func TestBadHintTablesFallBack(t *testing.T) {
	data, lay := tenPages(t, nil)
	data = corruptHintWidth(t, data, lay)

	s := newSession(t, data, Config{})
	s.prog.Add(0, lay.FirstPageEnd)
	require.Equal(t, DataAvailable, s.e.IsDocAvail(nil))
	require.Nil(t, s.e.HintTables())
	require.Equal(t, DataAvailable, s.drive(func(h source.DownloadHints) DocAvailStatus { return s.e.IsPageAvail(5, h) }))
	num, _ := s.e.Document().PageObjNum(5)
	require.Equal(t, lay.PageObjNums[5], num)

	strict := newSession(t, data, Config{Recovery: recovery.NewStrictStrategy()})
	strict.prog.Add(0, lay.FirstPageEnd)
	require.Equal(t, DataError, strict.e.IsDocAvail(nil))
	require.Error(t, strict.e.Err())
	require.Equal(t, DataError, strict.e.IsPageAvail(0, nil))
	require.Equal(t, FormError, strict.e.IsFormAvail(nil))
}

func TestForms(t *testing.T) {
	data, _ := tenPages(t, nil)
	s := newSession(t, data, Config{})
	s.prog.AddAll()
	require.Equal(t, FormNotExist, s.e.IsFormAvail(nil))

	data, lay := tenPages(t, func(d *writer.Document) { d.FormFields = []string{"name", "city"} })
	s = newSession(t, data, Config{})
	s.prog.Add(0, lay.FirstPageEnd)
	s.prog.Add(lay.MainXRef, int64(len(data))-lay.MainXRef)
	var hints source.Segments
	require.Equal(t, FormNotAvailable, s.e.IsFormAvail(&hints))
	require.NotEmpty(t, hints)
	for _, seg := range hints.Normalize() {
		require.True(t, seg.Offset >= lay.Others.Offset && seg.Offset < lay.Others.End(),
			"request %+v outside the form fields %+v", seg, lay.Others)
	}
	s.prog.Add(lay.Others.Offset, lay.Others.Length)
	require.Equal(t, FormAvailable, s.e.IsFormAvail(nil))
	require.Equal(t, FormAvailable, s.e.IsFormAvail(nil))
}

func TestPageOutOfRange(t *testing.T) {
	data, _ := tenPages(t, nil)
	s := newSession(t, data, Config{})
	s.prog.AddAll()
	require.Equal(t, DataError, s.e.IsPageAvail(10, nil))
	require.Equal(t, DataError, s.e.IsPageAvail(-1, nil))
	require.NoError(t, s.e.Err())
	require.Equal(t, DataAvailable, s.e.IsPageAvail(9, nil))
}

func TestIsLinearizedWaitsForHeader(t *testing.T) {
	data, _ := tenPages(t, nil)
	s := newSession(t, data, Config{})
	require.Equal(t, LinearizationUnknown, s.e.IsLinearized())
	s.prog.Add(0, 1024)
	require.Equal(t, Linearized, s.e.IsLinearized())

	plain, err := writer.WritePlain(writer.Document{Pages: []writer.Page{{Content: []byte("q Q")}}})
	require.NoError(t, err)
	s = newSession(t, plain, Config{})
	s.prog.AddAll()
	require.Equal(t, NotLinearized, s.e.IsLinearized())
}

func plainDoc(t *testing.T, xrefStream bool) []byte {
	t.Helper()
	doc := writer.Document{
		Fonts:      []string{"Helvetica", "Courier"},
		Info:       map[string]string{"Title": "Plain"},
		FormFields: []string{"signature"},
		XRefStream: xrefStream,
		Compress:   xrefStream,
	}
	for i := 0; i < 6; i++ {
		doc.Pages = append(doc.Pages, writer.Page{
			Content: bytes.Repeat([]byte("0 0 m 100 100 l S\n"), 50),
			Fonts:   []int{i % 2},
		})
	}
	data, err := writer.WritePlain(doc)
	require.NoError(t, err)
	return data
}

func TestPlainProgressive(t *testing.T) {
	for _, xrefStream := range []bool{false, true} {
		t.Run(fmt.Sprintf("xrefstream=%v", xrefStream), func(t *testing.T) {
			s := newSession(t, plainDoc(t, xrefStream), Config{SegmentAlignment: 256})
			require.Equal(t, DataAvailable, s.drive(s.e.IsDocAvail))
			require.Equal(t, NotLinearized, s.e.IsLinearized())
			require.Equal(t, 6, s.e.PageCount())
			require.Equal(t, StatusDone, s.e.Status())
			for i := 5; i >= 0; i-- {
				require.Equal(t, DataAvailable, s.drive(func(h source.DownloadHints) DocAvailStatus { return s.e.IsPageAvail(i, h) }), "page %d", i)
				require.NotNil(t, s.e.Page(i))
			}
			require.Equal(t, DataAvailable, s.drive(func(h source.DownloadHints) DocAvailStatus {
				switch s.e.IsFormAvail(h) {
				case FormAvailable:
					return DataAvailable
				case FormNotAvailable:
					return DataNotAvailable
				}
				return DataError
			}))
		})
	}
}

func TestRepairWhenCrossReferenceIsBroken(t *testing.T) {
	data := plainDoc(t, false)
	data = bytes.Replace(data, []byte("\nxref\n"), []byte("\nxxxx\n"), 1)
	s := newSession(t, data, Config{})
	require.Equal(t, DataAvailable, s.drive(s.e.IsDocAvail))
	require.True(t, s.prog.Complete(), "rebuilding needs the whole file")
	require.NoError(t, s.e.Err())
	require.Equal(t, 6, s.e.PageCount())
	require.Equal(t, DataAvailable, s.e.IsPageAvail(3, nil))

	strict := newSession(t, data, Config{Recovery: recovery.NewStrictStrategy()})
	require.Equal(t, DataError, strict.drive(strict.e.IsDocAvail))
}

// appendUpdate adds a classic section with an empty table and the given
// trailer entries. %d in extra is replaced with the section's own offset.
func appendUpdate(data []byte, extra string) []byte {
	prev := bytes.LastIndex(data, []byte("startxref\n"))
	var start int
	fmt.Sscanf(string(data[prev+len("startxref\n"):]), "%d", &start)
	off := len(data)
	extra = strings.ReplaceAll(extra, "SELF", fmt.Sprint(off))
	upd := fmt.Sprintf("xref\n0 0\ntrailer\n<</Size 20/Root 1 0 R/Prev %d%s>>\nstartxref\n%d\n%%%%EOF\n", start, extra, off)
	return append(append([]byte(nil), data...), upd...)
}

func TestHardErrors(t *testing.T) {
	for _, tc := range []struct {
		name  string
		extra string
	}{
		{"encrypted", "/Encrypt 40 0 R"},
		{"cycle", "/XRefStm SELF"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			data := appendUpdate(plainDoc(t, false), tc.extra)
			s := newSession(t, data, Config{})
			require.Equal(t, DataError, s.drive(s.e.IsDocAvail))
			require.Error(t, s.e.Err())
			require.Equal(t, StatusError, s.e.Status())

			// terminal: nothing is retried
			queries := s.prog.Queries()
			s.prog.AddAll()
			require.Equal(t, DataError, s.e.IsDocAvail(nil))
			require.Equal(t, DataError, s.e.IsPageAvail(0, nil))
			require.Equal(t, FormError, s.e.IsFormAvail(nil))
			require.Equal(t, queries, s.prog.Queries())
		})
	}
}

// buildPDF numbers objs from 1 and writes a classic table; object 1 is the
// catalog.
func buildPDF(objs ...string) []byte {
	var b bytes.Buffer
	b.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objs))
	for i, o := range objs {
		offsets[i] = b.Len()
		fmt.Fprintf(&b, "%d 0 obj\n%s\nendobj\n", i+1, o)
	}
	xref := b.Len()
	fmt.Fprintf(&b, "xref\n0 %d\n0000000000 65535 f \n", len(objs)+1)
	for _, off := range offsets {
		fmt.Fprintf(&b, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&b, "trailer\n<</Size %d/Root 1 0 R>>\nstartxref\n%d\n%%%%EOF\n", len(objs)+1, xref)
	return b.Bytes()
}

func TestDeepPageTree(t *testing.T) {
	objs := []string{"<</Type/Catalog/Pages 2 0 R>>"}
	const depth = 30
	for i := 0; i < depth; i++ {
		objs = append(objs, fmt.Sprintf("<</Type/Pages/Kids[%d 0 R]/Count 1>>", i+3))
	}
	objs = append(objs, "<</Type/Page/MediaBox[0 0 10 10]>>")
	data := buildPDF(objs...)

	s := newSession(t, data, Config{Limits: security.Limits{MaxPageTreeDepth: 8}})
	s.prog.AddAll()
	require.Equal(t, DataError, s.e.IsDocAvail(nil))
	require.Error(t, s.e.Err())

	s = newSession(t, data, Config{})
	s.prog.AddAll()
	require.Equal(t, DataAvailable, s.e.IsDocAvail(nil))
	require.Equal(t, DataAvailable, s.e.IsPageAvail(0, nil))
}

func TestInheritedResources(t *testing.T) {
	data := buildPDF(
		"<</Type/Catalog/Pages 2 0 R>>",
		"<</Type/Pages/Kids[3 0 R]/Count 1/Resources 4 0 R>>",
		"<</Type/Page/Parent 2 0 R/Contents 5 0 R>>",
		"<</Font<</F1 6 0 R>>>>",
		"<</Length 3>>\nstream\nq Q\nendstream",
		"<</Type/Font/Subtype/Type1/BaseFont/Helvetica>>",
	)
	s := newSession(t, data, Config{})
	require.Equal(t, DataAvailable, s.drive(s.e.IsDocAvail))
	require.Equal(t, DataAvailable, s.drive(func(h source.DownloadHints) DocAvailStatus { return s.e.IsPageAvail(0, h) }))
	for _, num := range []int{4, 5, 6} {
		_, ok := s.e.Document().Object(num)
		require.True(t, ok, "object %d not loaded", num)
	}
}

func TestStreamLengthCycles(t *testing.T) {
	cases := map[string][]string{
		"self": {
			"<</Type/Catalog/Pages 2 0 R>>",
			"<</Type/Pages/Kids[4 0 R]/Count 1>>",
			"<</Length 3 0 R>>\nstream\nq Q\nendstream",
			"<</Type/Page/Parent 2 0 R/Contents 3 0 R>>",
		},
		"mutual": {
			"<</Type/Catalog/Pages 2 0 R>>",
			"<</Type/Pages/Kids[4 0 R]/Count 1>>",
			"<</Length 5 0 R>>\nstream\nq Q\nendstream",
			"<</Type/Page/Parent 2 0 R/Contents[3 0 R 5 0 R]>>",
			"<</Length 3 0 R>>\nstream\n0 g\nendstream",
		},
	}
	for name, objs := range cases {
		t.Run(name, func(t *testing.T) {
			s := newSession(t, buildPDF(objs...), Config{})
			s.prog.AddAll()
			require.Equal(t, DataAvailable, s.e.IsDocAvail(nil))
			require.Equal(t, DataAvailable, s.e.IsPageAvail(0, nil))
			require.NoError(t, s.e.Err())
			obj, ok := s.e.Document().Object(3)
			require.True(t, ok)
			st, ok := obj.(*raw.StreamObj)
			require.True(t, ok, "object 3 is a %T", obj)
			require.Equal(t, "q Q", string(st.Data))
		})
	}
}

func TestMissingCountLoadsWholeTree(t *testing.T) {
	data := buildPDF(
		"<</Type/Catalog/Pages 2 0 R>>",
		"<</Type/Pages/Kids[3 0 R 4 0 R]>>",
		"<</Type/Pages/Kids[5 0 R 6 0 R]/Count 2>>",
		"<</Type/Page/Parent 2 0 R>>",
		"<</Type/Page/Parent 3 0 R>>",
		"<</Type/Page/Parent 3 0 R>>",
	)
	s := newSession(t, data, Config{})
	require.Equal(t, DataAvailable, s.drive(s.e.IsDocAvail))
	require.Equal(t, 3, s.e.PageCount())
	require.Equal(t, DataAvailable, s.e.IsPageAvail(2, nil))
	num, _ := s.e.Document().PageObjNum(2)
	require.Equal(t, 4, num)
}

type recordingTracer struct{ names []string }

func (r *recordingTracer) StartSpan(ctx context.Context, name string) (context.Context, observability.Span) {
	r.names = append(r.names, name)
	_, span := observability.NopTracer().StartSpan(ctx, name)
	return ctx, span
}

func TestSpans(t *testing.T) {
	data, _ := tenPages(t, func(d *writer.Document) { d.FormFields = []string{"name"} })
	tr := &recordingTracer{}
	s := newSession(t, data, Config{Tracer: tr})
	require.Equal(t, LinearizationUnknown, s.e.IsLinearized())
	s.prog.AddAll()
	require.Equal(t, Linearized, s.e.IsLinearized())
	require.Equal(t, DataAvailable, s.e.IsDocAvail(nil))
	require.Equal(t, DataAvailable, s.e.IsPageAvail(3, nil))
	require.Equal(t, FormAvailable, s.e.IsFormAvail(nil))
	require.Equal(t, []string{
		observability.SpanLinearized,
		observability.SpanLinearized,
		observability.SpanDocAvail,
		observability.SpanPageAvail,
		observability.SpanFormAvail,
	}, tr.names)
}

func TestStatusStrings(t *testing.T) {
	require.Equal(t, "page later load", StatusPageLaterLoad.String())
	require.Equal(t, "Status(99)", Status(99).String())
	require.Equal(t, "no form", FormNotExist.String())
	require.Equal(t, "not available", DataNotAvailable.String())
	require.Equal(t, "linearized", Linearized.String())
}
