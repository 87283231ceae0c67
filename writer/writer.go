// Package writer produces small but complete PDF files, plain or linearized
// with hint tables, for exercising availability checks and the availcheck
// tool.
package writer

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"github.com/wudi/pdfavail/ir/raw"
)

// Document describes the file to produce.
type Document struct {
	Pages []Page
	// Fonts are BaseFont names of Type1 fonts pages may share.
	Fonts []string
	// Info entries go into the document information dictionary.
	Info map[string]string
	// FormFields are names of text fields; any field gives the catalog an
	// /AcroForm.
	FormFields []string
	// Compress Flate-encodes content streams and, in linearized output, the
	// hint stream.
	Compress bool
	// XRefStream makes WritePlain emit a cross-reference stream instead of a
	// classic table.
	XRefStream bool
}

type Page struct {
	Content []byte
	// Fonts are indexes into Document.Fonts.
	Fonts []int
}

var errNoPages = errors.New("writer: document has no pages")

func (d Document) validate() error {
	if len(d.Pages) == 0 {
		return errNoPages
	}
	for i, p := range d.Pages {
		for _, f := range p.Fonts {
			if f < 0 || f >= len(d.Fonts) {
				return fmt.Errorf("writer: page %d uses font %d of %d", i, f, len(d.Fonts))
			}
		}
	}
	return nil
}

// plan holds the object number of everything in a document; 0 means absent.
type plan struct {
	catalog, pages, info, form int
	fields                     []int
	fonts                      []int
	pageObj                    []int
	content                    []int
}

func newPlan(d Document) plan {
	return plan{
		fields:  make([]int, len(d.FormFields)),
		fonts:   make([]int, len(d.Fonts)),
		pageObj: make([]int, len(d.Pages)),
		content: make([]int, len(d.Pages)),
	}
}

// objects builds every object of d under the numbers of pl.
func (d Document) objects(pl plan) (map[int]raw.Object, error) {
	objs := make(map[int]raw.Object)

	cat := raw.Dict()
	cat.Set("Type", raw.NameLiteral("Catalog"))
	cat.Set("Pages", raw.Ref(pl.pages, 0))
	if pl.form != 0 {
		cat.Set("AcroForm", raw.Ref(pl.form, 0))
		form := raw.Dict()
		fields := raw.NewArray()
		for i, name := range d.FormFields {
			f := raw.Dict()
			f.Set("FT", raw.NameLiteral("Tx"))
			f.Set("T", raw.Str([]byte(name)))
			objs[pl.fields[i]] = f
			fields.Append(raw.Ref(pl.fields[i], 0))
		}
		form.Set("Fields", fields)
		objs[pl.form] = form
	}
	objs[pl.catalog] = cat

	if pl.info != 0 {
		info := raw.Dict()
		for k, v := range d.Info {
			info.Set(k, raw.Str([]byte(v)))
		}
		objs[pl.info] = info
	}

	for i, name := range d.Fonts {
		f := raw.Dict()
		f.Set("Type", raw.NameLiteral("Font"))
		f.Set("Subtype", raw.NameLiteral("Type1"))
		f.Set("BaseFont", raw.NameLiteral(name))
		objs[pl.fonts[i]] = f
	}

	kids := raw.NewArray()
	for i, p := range d.Pages {
		fonts := raw.Dict()
		for _, f := range p.Fonts {
			fonts.Set(fmt.Sprintf("F%d", f), raw.Ref(pl.fonts[f], 0))
		}
		res := raw.Dict()
		res.Set("Font", fonts)
		page := raw.Dict()
		page.Set("Type", raw.NameLiteral("Page"))
		page.Set("Parent", raw.Ref(pl.pages, 0))
		page.Set("MediaBox", raw.NewArray(raw.NumberInt(0), raw.NumberInt(0), raw.NumberInt(612), raw.NumberInt(792)))
		page.Set("Resources", res)
		page.Set("Contents", raw.Ref(pl.content[i], 0))
		objs[pl.pageObj[i]] = page
		kids.Append(raw.Ref(pl.pageObj[i], 0))

		content, err := d.stream(p.Content)
		if err != nil {
			return nil, fmt.Errorf("writer: page %d content: %w", i, err)
		}
		objs[pl.content[i]] = content
	}
	pages := raw.Dict()
	pages.Set("Type", raw.NameLiteral("Pages"))
	pages.Set("Kids", kids)
	pages.Set("Count", raw.NumberInt(int64(len(d.Pages))))
	objs[pl.pages] = pages
	return objs, nil
}

func (d Document) stream(data []byte) (*raw.StreamObj, error) {
	dict := raw.Dict()
	if d.Compress {
		enc, err := flateEncode(data)
		if err != nil {
			return nil, err
		}
		dict.Set("Filter", raw.NameLiteral("FlateDecode"))
		data = enc
	}
	return raw.NewStream(dict, data), nil
}

func (d Document) trailer(pl plan, size int) *raw.DictObj {
	t := raw.Dict()
	t.Set("Size", raw.NumberInt(int64(size)))
	t.Set("Root", raw.Ref(pl.catalog, 0))
	if pl.info != 0 {
		t.Set("Info", raw.Ref(pl.info, 0))
	}
	return t
}

const header = "%PDF-1.7\n%\xe2\xe3\xcf\xd3\n"

// WritePlain returns d as a non-linearized file with a single
// cross-reference section.
func WritePlain(d Document) ([]byte, error) {
	if err := d.validate(); err != nil {
		return nil, err
	}
	pl := newPlan(d)
	next := 1
	alloc := func() int { n := next; next++; return n }
	pl.catalog = alloc()
	pl.pages = alloc()
	if len(d.Info) > 0 {
		pl.info = alloc()
	}
	if len(d.FormFields) > 0 {
		pl.form = alloc()
		for i := range pl.fields {
			pl.fields[i] = alloc()
		}
	}
	for i := range pl.fonts {
		pl.fonts[i] = alloc()
	}
	for i := range d.Pages {
		pl.pageObj[i] = alloc()
		pl.content[i] = alloc()
	}
	objs, err := d.objects(pl)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteString(header)
	offsets := make([]int64, next)
	for _, num := range sortedNums(objs) {
		offsets[num] = int64(buf.Len())
		buf.Write(indirect(num, objs[num]))
	}

	if !d.XRefStream {
		xref := int64(buf.Len())
		fmt.Fprintf(&buf, "xref\n0 %d\n", next)
		buf.WriteString("0000000000 65535 f \n")
		for num := 1; num < next; num++ {
			fmt.Fprintf(&buf, "%010d 00000 n \n", offsets[num])
		}
		buf.WriteString("trailer\n")
		buf.Write(serializePrimitive(d.trailer(pl, next)))
		fmt.Fprintf(&buf, "\nstartxref\n%d\n%%%%EOF\n", xref)
		return buf.Bytes(), nil
	}

	// the stream describes itself, so it takes the next number
	xrefNum := next
	xref := int64(buf.Len())
	offsets = append(offsets, xref)
	rows := make([]byte, 0, 7*(xrefNum+1))
	row := make([]byte, 7)
	for num := 0; num <= xrefNum; num++ {
		clear(row)
		if num == 0 {
			binary.BigEndian.PutUint16(row[5:], 65535)
		} else {
			row[0] = 1
			binary.BigEndian.PutUint32(row[1:5], uint32(offsets[num]))
		}
		rows = append(rows, row...)
	}
	dict := d.trailer(pl, xrefNum+1)
	dict.Set("Type", raw.NameLiteral("XRef"))
	dict.Set("W", raw.NewArray(raw.NumberInt(1), raw.NumberInt(4), raw.NumberInt(2)))
	if d.Compress {
		enc, err := flateEncode(rows)
		if err != nil {
			return nil, err
		}
		dict.Set("Filter", raw.NameLiteral("FlateDecode"))
		rows = enc
	}
	buf.Write(indirect(xrefNum, raw.NewStream(dict, rows)))
	fmt.Fprintf(&buf, "startxref\n%d\n%%%%EOF\n", xref)
	return buf.Bytes(), nil
}

func sortedNums(objs map[int]raw.Object) []int {
	nums := make([]int, 0, len(objs))
	for n := range objs {
		nums = append(nums, n)
	}
	sort.Ints(nums)
	return nums
}
