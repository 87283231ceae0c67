package xref

import (
	"context"
	"errors"
	"io"

	"github.com/wudi/pdfavail/ir/raw"
	"github.com/wudi/pdfavail/parser"
	"github.com/wudi/pdfavail/scanner"
	"github.com/wudi/pdfavail/source"
)

// Repair rebuilds a table by scanning the whole document for "N G obj"
// definitions. When an object number is defined more than once the last
// definition wins. The trailer is the last trailer dictionary found, or one
// built around the first catalog when none names a /Root.
//
// Repair reads every byte; callers make sure the whole file is present first.
func Repair(ctx context.Context, p *parser.Parser) (*Table, error) {
	if err := p.Seek(0); err != nil {
		return nil, err
	}
	s := p.Scanner()
	base := p.HeaderOffset()
	entries := make(map[int]Entry)
	var (
		trailer *raw.DictObj
		objStms []int
		catalog = -1
		maxNum  int
		prev    [2]scanner.Token
	)
	isInt := func(t scanner.Token) bool { return t.Type == scanner.TokenNumber && t.IsInt && t.Int >= 0 }

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		tok, err := s.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if source.IsNotAvailable(err) {
				return nil, err
			}
			// unreadable token, resync on the next byte
			if serr := s.Seek(s.Position() + 1); serr != nil {
				break
			}
			prev = [2]scanner.Token{}
			continue
		}

		switch {
		case tok.IsKeyword("obj") && isInt(prev[0]) && isInt(prev[1]):
			num, gen := int(prev[0].Int), int(prev[1].Int)
			offset := prev[0].Pos - base
			prev = [2]scanner.Token{}
			obj, err := p.ParseIndirectObjectAt(offset, num)
			if err != nil {
				if source.IsNotAvailable(err) {
					return nil, err
				}
				if serr := s.Seek(tok.Pos + int64(len("obj"))); serr != nil {
					return nil, serr
				}
				continue
			}
			entries[num] = Entry{Type: EntryInUse, Offset: offset, Gen: gen}
			if num > maxNum {
				maxNum = num
			}
			switch o := obj.(type) {
			case *raw.DictObj:
				if o.Name("Type") == "Catalog" && catalog < 0 {
					catalog = num
				}
			case *raw.StreamObj:
				switch o.Dict.Name("Type") {
				case "ObjStm":
					objStms = append(objStms, num)
				case "XRef":
					if o.Dict.Has("Root") {
						trailer = o.Dict
					}
				}
			}
			continue
		case tok.IsKeyword("trailer"):
			obj, err := p.ParseObject()
			if err != nil && source.IsNotAvailable(err) {
				return nil, err
			}
			if d, ok := obj.(*raw.DictObj); ok && err == nil {
				trailer = d
			}
			prev = [2]scanner.Token{}
			continue
		}
		prev[0], prev[1] = prev[1], tok
	}

	t := NewTable()
	for num, e := range entries {
		t.entries[num] = e
	}
	cfg := parser.Config{Limits: p.Limits()}
	for _, stmNum := range objStms {
		e := entries[stmNum]
		obj, err := p.ParseIndirectObjectAt(e.Offset, stmNum)
		if err != nil {
			continue
		}
		st, _ := obj.(*raw.StreamObj)
		nums, err := parser.ObjectStreamNumbers(ctx, st, cfg)
		if err != nil {
			continue
		}
		for i, num := range nums {
			t.Add(num, Entry{Type: EntryCompressed, StreamNum: stmNum, Index: i})
			if num > maxNum {
				maxNum = num
			}
		}
	}

	if t.Len() == 0 {
		return nil, raw.Malformed(0, "no objects found while rebuilding the cross-reference table")
	}
	if trailer == nil || !trailer.Has("Root") {
		if catalog < 0 {
			return nil, raw.Malformed(0, "no document catalog found")
		}
		trailer = raw.Dict()
		trailer.Set("Root", raw.Ref(catalog, entries[catalog].Gen))
		trailer.Set("Size", raw.NumberInt(int64(maxNum+1)))
	}
	t.trailer = trailer
	return t, nil
}
