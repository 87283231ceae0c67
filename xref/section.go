package xref

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/wudi/pdfavail/ir/raw"
	"github.com/wudi/pdfavail/parser"
	"github.com/wudi/pdfavail/scanner"
	"github.com/wudi/pdfavail/source"
)

// ErrNoStartXRef means the file tail carries no usable startxref; the caller
// falls back to rebuilding the table from the whole file.
var ErrNoStartXRef = errors.New("no usable startxref")

// ErrCycle is returned when a cross-reference offset is reached twice.
var ErrCycle = errors.New("cyclic cross-reference chain")

// TailSize is how much of the end of the file is searched for startxref.
const TailSize = 1024

// FindStartXRef returns the offset named by the last startxref keyword in the
// final TailSize bytes of the file.
func FindStartXRef(p *parser.Parser) (int64, error) {
	src := p.Source()
	size := src.Size()
	start := size - TailSize
	if start < 0 {
		start = 0
	}
	n := size - start
	if !src.IsDataAvail(start, n) {
		src.ScheduleDownload(start, n)
		return -1, &source.NotAvailableError{Offset: start, Size: n}
	}
	buf := make([]byte, n)
	if got, err := src.ReadAt(buf, start); err != nil && !(errors.Is(err, io.EOF) && int64(got) == n) {
		return -1, err
	}
	kw := []byte("startxref")
	i := bytes.LastIndex(buf, kw)
	if i < 0 {
		return -1, ErrNoStartXRef
	}
	s := scanner.New(source.FromBytes(buf[i+len(kw):]), scanner.Config{})
	tok, err := s.Next()
	if err != nil || tok.Type != scanner.TokenNumber || !tok.IsInt {
		return -1, raw.Malformed(start+int64(i), "startxref not followed by an offset")
	}
	if tok.Int <= 0 || tok.Int > p.DocumentSize() {
		return -1, ErrNoStartXRef
	}
	return tok.Int, nil
}

// ReadSection parses the cross-reference section at offset, either a classic
// table with its trailer or a cross-reference stream.
func ReadSection(ctx context.Context, p *parser.Parser, offset int64) (*Section, error) {
	if err := p.Seek(offset); err != nil {
		return nil, err
	}
	tok, err := p.Scanner().Peek()
	if err != nil {
		return nil, eofMalformed(err, offset)
	}
	if tok.IsKeyword("xref") {
		return readTable(p, offset)
	}
	return readStream(ctx, p, offset)
}

func eofMalformed(err error, offset int64) error {
	if errors.Is(err, io.EOF) {
		return raw.Malformed(offset, "cross-reference section truncated")
	}
	return err
}

func readTable(p *parser.Parser, offset int64) (*Section, error) {
	s := p.Scanner()
	maxObj := int64(p.Limits().MaxObjectNumber)
	if _, err := s.Next(); err != nil { // xref
		return nil, eofMalformed(err, offset)
	}
	sec := &Section{Offset: offset, Entries: make(map[int]Entry), Prev: -1, XRefStm: -1}
	nextInt := func() (int64, error) {
		tok, err := s.Next()
		if err != nil {
			return 0, eofMalformed(err, offset)
		}
		if tok.Type != scanner.TokenNumber || !tok.IsInt || tok.Int < 0 {
			return 0, raw.Malformed(tok.Pos, "expected integer in cross-reference table")
		}
		return tok.Int, nil
	}
	for {
		tok, err := s.Peek()
		if err != nil {
			return nil, eofMalformed(err, offset)
		}
		if tok.IsKeyword("trailer") {
			s.Next()
			break
		}
		start, err := nextInt()
		if err != nil {
			return nil, err
		}
		count, err := nextInt()
		if err != nil {
			return nil, err
		}
		if start+count > maxObj {
			return nil, raw.Malformed(tok.Pos, "subsection %d+%d exceeds object limit", start, count)
		}
		for i := int64(0); i < count; i++ {
			off, err := nextInt()
			if err != nil {
				return nil, err
			}
			gen, err := nextInt()
			if err != nil {
				return nil, err
			}
			kind, err := s.Next()
			if err != nil {
				return nil, eofMalformed(err, offset)
			}
			num := int(start + i)
			switch {
			case kind.IsKeyword("n"):
				sec.Entries[num] = Entry{Type: EntryInUse, Offset: off, Gen: int(gen)}
			case kind.IsKeyword("f"):
				sec.Entries[num] = Entry{Type: EntryFree, Gen: int(gen)}
			default:
				return nil, raw.Malformed(kind.Pos, "bad cross-reference entry type %q", kind.Str)
			}
		}
	}
	obj, err := p.ParseObject()
	if err != nil {
		return nil, err
	}
	trailer, ok := obj.(*raw.DictObj)
	if !ok {
		return nil, raw.Malformed(offset, "trailer is not a dictionary")
	}
	sec.Trailer = trailer
	sec.Prev = intOr(trailer, "Prev", -1)
	sec.XRefStm = intOr(trailer, "XRefStm", -1)
	return sec, nil
}

func intOr(d *raw.DictObj, key string, def int64) int64 {
	if v, ok := d.Int(key); ok {
		return v
	}
	return def
}

func readStream(ctx context.Context, p *parser.Parser, offset int64) (*Section, error) {
	obj, err := p.ParseIndirectObjectAt(offset, 0)
	if err != nil {
		return nil, err
	}
	st, ok := obj.(*raw.StreamObj)
	if !ok || st.Dict.Name("Type") != "XRef" {
		return nil, raw.Malformed(offset, "no cross-reference stream at offset")
	}
	data, err := parser.DecodeStream(ctx, st, p.Limits())
	if err != nil {
		return nil, raw.Malformed(offset, "cross-reference stream: %w", err)
	}

	var w [3]int
	warr := st.Dict.Array("W")
	if warr == nil || warr.Len() < 3 {
		return nil, raw.Malformed(offset, "cross-reference stream /W missing")
	}
	row := 0
	for i := range w {
		item, _ := warr.Get(i)
		v, ok := raw.IntOf(item)
		if !ok || v < 0 || v > 8 {
			return nil, raw.Malformed(offset, "bad /W entry %v", item)
		}
		w[i] = int(v)
		row += w[i]
	}
	if row == 0 {
		return nil, raw.Malformed(offset, "cross-reference stream rows are empty")
	}

	size, _ := st.Dict.Int("Size")
	index := []int64{0, size}
	if arr := st.Dict.Array("Index"); arr != nil {
		index = index[:0]
		for _, item := range arr.Items {
			v, ok := raw.IntOf(item)
			if !ok {
				return nil, raw.Malformed(offset, "bad /Index entry %v", item)
			}
			index = append(index, v)
		}
		if len(index)%2 != 0 {
			return nil, raw.Malformed(offset, "odd /Index length")
		}
	}

	sec := &Section{Offset: offset, Stream: true, Entries: make(map[int]Entry), Trailer: st.Dict, Prev: intOr(st.Dict, "Prev", -1), XRefStm: -1}
	maxObj := int64(p.Limits().MaxObjectNumber)
	pos := 0
	for k := 0; k < len(index); k += 2 {
		start, count := index[k], index[k+1]
		if start < 0 || count < 0 || start+count > maxObj {
			return nil, raw.Malformed(offset, "/Index range %d+%d out of bounds", start, count)
		}
		for i := int64(0); i < count; i++ {
			if pos+row > len(data) {
				return nil, raw.Malformed(offset, "cross-reference stream truncated at object %d", start+i)
			}
			f1 := int64(1)
			if w[0] > 0 {
				f1 = field(data[pos : pos+w[0]])
			}
			f2 := field(data[pos+w[0] : pos+w[0]+w[1]])
			f3 := field(data[pos+w[0]+w[1] : pos+row])
			pos += row
			num := int(start + i)
			switch f1 {
			case 0:
				sec.Entries[num] = Entry{Type: EntryFree, Gen: int(f3)}
			case 1:
				sec.Entries[num] = Entry{Type: EntryInUse, Offset: f2, Gen: int(f3)}
			case 2:
				sec.Entries[num] = Entry{Type: EntryCompressed, StreamNum: int(f2), Index: int(f3)}
			}
		}
	}
	return sec, nil
}

func field(b []byte) int64 {
	var v int64
	for _, c := range b {
		v = v<<8 | int64(c)
	}
	return v
}

// Load reads the chain of sections starting at offset and merges them into one
// table. Entries of a hybrid file's /XRefStm take precedence over its classic
// table.
func Load(ctx context.Context, p *parser.Parser, offset int64) (*Table, error) {
	t := NewTable()
	seen := make(map[int64]bool)
	maxDepth := p.Limits().MaxXRefDepth
	for next := offset; next >= 0; {
		if seen[next] {
			return nil, fmt.Errorf("section at %d: %w", next, ErrCycle)
		}
		if len(seen) >= maxDepth {
			return nil, raw.Malformed(next, "more than %d cross-reference sections", maxDepth)
		}
		seen[next] = true
		sec, err := ReadSection(ctx, p, next)
		if err != nil {
			return nil, err
		}
		if t.trailer == nil {
			t.trailer = sec.Trailer
		}
		if sec.XRefStm > 0 && !seen[sec.XRefStm] {
			seen[sec.XRefStm] = true
			stm, err := ReadSection(ctx, p, sec.XRefStm)
			if err != nil && source.IsNotAvailable(err) {
				return nil, err
			}
			if err == nil {
				t.merge(stm.Entries)
			}
		}
		t.merge(sec.Entries)
		next = sec.Prev
		if next == 0 {
			break
		}
	}
	return t, nil
}
