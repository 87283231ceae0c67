package parser

import (
	"bytes"
	"errors"
	"io"

	"github.com/wudi/pdfavail/ir/raw"
	"github.com/wudi/pdfavail/scanner"
	"github.com/wudi/pdfavail/source"
)

// HeaderSearchWindow is how far into the file the %PDF- marker may start.
const HeaderSearchWindow = 1024

var pdfHeader = []byte("%PDF-")

// FindHeader returns the file offset of the %PDF- marker. The first
// HeaderSearchWindow bytes (or the whole file, if shorter) must be available.
func FindHeader(src scanner.Source) (int64, error) {
	n := int64(HeaderSearchWindow)
	if size := src.Size(); size < n {
		n = size
	}
	if n < int64(len(pdfHeader)) {
		return -1, raw.Malformed(0, "file too short for a PDF header")
	}
	if !src.IsDataAvail(0, n) {
		src.ScheduleDownload(0, n)
		return -1, &source.NotAvailableError{Offset: 0, Size: n}
	}
	buf := make([]byte, n)
	if got, err := src.ReadAt(buf, 0); err != nil && !(errors.Is(err, io.EOF) && int64(got) == n) {
		return -1, err
	}
	i := bytes.Index(buf, pdfHeader)
	if i < 0 {
		return -1, raw.Malformed(0, "no %%PDF- header in the first %d bytes", n)
	}
	return int64(i), nil
}

// ReadLinearized parses the first object of the document and returns its
// linearization parameters. It returns nil, nil when the file is not
// linearized or the parameter dictionary fails validation; missing data is
// reported as source.ErrNotAvailable.
func ReadLinearized(p *Parser) (*raw.Linearization, error) {
	if err := p.Seek(0); err != nil {
		return nil, err
	}
	// the header line is a comment, so the first token is the object number
	ref, err := p.parseObjectHeader(0)
	if err != nil {
		return absent(err)
	}
	obj, err := p.parseObject(0)
	if err != nil {
		return absent(err)
	}
	dict, ok := obj.(*raw.DictObj)
	if !ok || !dict.Has("Linearized") {
		return nil, nil
	}
	tok, err := p.s.Next()
	if err != nil {
		return absent(err)
	}
	if !tok.IsKeyword("endobj") {
		return nil, nil
	}
	lin := &raw.Linearization{ObjNum: ref.Num, FirstPageXRefOffset: p.Position()}
	if !fillLinearization(lin, dict, p.DocumentSize(), p.cfg.Limits.MaxPages, p.cfg.Limits.MaxObjectNumber) {
		return nil, nil
	}
	return lin, nil
}

func absent(err error) (*raw.Linearization, error) {
	if source.IsNotAvailable(err) {
		return nil, err
	}
	return nil, nil
}

func fillLinearization(lin *raw.Linearization, d *raw.DictObj, size int64, maxPages, maxObjNum int) bool {
	l, ok := d.Int("L")
	if !ok || l != size {
		return false
	}
	lin.FileLength = l

	n, ok := d.Int("N")
	if !ok || n < 1 || n >= int64(maxPages) {
		return false
	}
	lin.PageCount = int(n)

	o, ok := d.Int("O")
	if !ok || o < 1 || o >= int64(maxObjNum) {
		return false
	}
	lin.FirstPageObjNum = int(o)

	e, ok := d.Int("E")
	if !ok || e <= 0 || e >= size {
		return false
	}
	lin.FirstPageEndOffset = e

	t, ok := d.Int("T")
	if !ok || t < 0 || t >= size {
		return false
	}
	lin.MainXRefOffset = t

	if v, ok := d.Get("P"); ok {
		pn, isInt := raw.IntOf(v)
		if !isInt || pn < 0 || pn >= n {
			return false
		}
		lin.FirstPageNo = int(pn)
	}

	h := d.Array("H")
	if h == nil || (h.Len() != 2 && h.Len() != 4) {
		return false
	}
	var vals [2]int64
	for i := range vals {
		item, _ := h.Get(i)
		v, ok := raw.IntOf(item)
		if !ok || v < 0 {
			return false
		}
		vals[i] = v
	}
	if vals[0]+vals[1] > size {
		return false
	}
	lin.HintOffset, lin.HintLength = vals[0], vals[1]
	return true
}
