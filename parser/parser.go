package parser

import (
	"errors"
	"io"

	"github.com/wudi/pdfavail/ir/raw"
	"github.com/wudi/pdfavail/recovery"
	"github.com/wudi/pdfavail/scanner"
	"github.com/wudi/pdfavail/security"
	"github.com/wudi/pdfavail/source"
)

// Config controls object parsing.
type Config struct {
	Limits   security.Limits
	Recovery recovery.Strategy
	// ResolveLength returns the value of an indirect stream /Length. When it is
	// nil, or fails with anything but missing data, the stream data extends to
	// the next endstream keyword.
	ResolveLength func(ref raw.ObjectRef) (int64, error)
}

// Parser reads PDF objects at given offsets of a partially received file.
// Offsets are relative to the PDF header, which need not be at byte 0.
//
// Every method that needs bytes which have not been received returns an error
// matching source.ErrNotAvailable; nothing is cached, so the call can simply be
// repeated once more data is present.
type Parser struct {
	src  scanner.Source
	s    *scanner.Scanner
	cfg  Config
	base int64
}

func New(src scanner.Source, cfg Config) *Parser {
	cfg.Limits = cfg.Limits.OrDefault()
	return &Parser{
		src: src,
		cfg: cfg,
		s: scanner.New(src, scanner.Config{
			MaxStringLength: cfg.Limits.MaxStringLength,
			Recovery:        cfg.Recovery,
		}),
	}
}

// SetHeaderOffset records where the %PDF- header starts in the file.
func (p *Parser) SetHeaderOffset(off int64) { p.base = off }
func (p *Parser) HeaderOffset() int64      { return p.base }

// DocumentSize is the file size minus the header offset.
func (p *Parser) DocumentSize() int64 { return p.src.Size() - p.base }

func (p *Parser) SetLengthResolver(fn func(raw.ObjectRef) (int64, error)) { p.cfg.ResolveLength = fn }

func (p *Parser) Limits() security.Limits { return p.cfg.Limits }

// Source returns the guarded byte source the parser reads from.
func (p *Parser) Source() scanner.Source { return p.src }

// Scanner exposes the underlying tokenizer for keyword-level parsing such as
// classic cross-reference tables.
func (p *Parser) Scanner() *scanner.Scanner { return p.s }

func (p *Parser) Position() int64 { return p.s.Position() - p.base }

func (p *Parser) Seek(offset int64) error {
	if offset < 0 || offset > p.DocumentSize() {
		return raw.Malformed(offset, "offset %d outside the document", offset)
	}
	return p.s.Seek(offset + p.base)
}

// ParseIndirectObjectAt parses "objNum gen obj ... endobj" at offset. An objNum
// of 0 accepts whatever number is found.
func (p *Parser) ParseIndirectObjectAt(offset int64, objNum int) (raw.Object, error) {
	if err := p.Seek(offset); err != nil {
		return nil, err
	}
	obj, _, err := p.ParseIndirectObject(objNum)
	return obj, err
}

// ParseIndirectObject parses an indirect object at the current position and
// returns it with its reference.
func (p *Parser) ParseIndirectObject(objNum int) (raw.Object, raw.ObjectRef, error) {
	ref, err := p.parseObjectHeader(objNum)
	if err != nil {
		return nil, ref, err
	}
	obj, err := p.parseObject(0)
	if err != nil {
		return nil, ref, err
	}
	if dict, ok := obj.(*raw.DictObj); ok {
		tok, err := p.s.Peek()
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, ref, err
		}
		if err == nil && tok.IsKeyword("stream") {
			if _, err := p.s.Next(); err != nil {
				return nil, ref, err
			}
			obj, err = p.readStream(dict)
			if err != nil {
				return nil, ref, err
			}
		}
	}
	tok, err := p.s.Peek()
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, ref, err
	}
	if err == nil && tok.IsKeyword("endobj") {
		if _, err := p.s.Next(); err != nil {
			return nil, ref, err
		}
		return obj, ref, nil
	}
	if rerr := p.recover(raw.Malformed(p.Position(), "object %d missing endobj", ref.Num), "endobj"); rerr != nil {
		return nil, ref, rerr
	}
	return obj, ref, nil
}

func (p *Parser) parseObjectHeader(objNum int) (raw.ObjectRef, error) {
	var ref raw.ObjectRef
	tok, err := p.next()
	if err != nil {
		return ref, err
	}
	if tok.Type != scanner.TokenNumber || !tok.IsInt || tok.Int < 0 {
		return ref, raw.Malformed(tok.Pos-p.base, "expected object number")
	}
	if objNum != 0 && tok.Int != int64(objNum) {
		return ref, raw.Malformed(tok.Pos-p.base, "object number mismatch: want %d, found %d", objNum, tok.Int)
	}
	if tok.Int >= int64(p.cfg.Limits.MaxObjectNumber) {
		return ref, raw.Malformed(tok.Pos-p.base, "object number %d out of range", tok.Int)
	}
	ref.Num = int(tok.Int)
	gen, err := p.next()
	if err != nil {
		return ref, err
	}
	if gen.Type != scanner.TokenNumber || !gen.IsInt || gen.Int < 0 || gen.Int > 65535 {
		return ref, raw.Malformed(gen.Pos-p.base, "expected generation number")
	}
	ref.Gen = int(gen.Int)
	kw, err := p.next()
	if err != nil {
		return ref, err
	}
	if !kw.IsKeyword("obj") {
		return ref, raw.Malformed(kw.Pos-p.base, "expected obj keyword")
	}
	return ref, nil
}

// ParseObjectAt parses a direct object, such as a trailer dictionary, at offset.
func (p *Parser) ParseObjectAt(offset int64) (raw.Object, error) {
	if err := p.Seek(offset); err != nil {
		return nil, err
	}
	return p.ParseObject()
}

// ParseObject parses a direct object at the current position.
func (p *Parser) ParseObject() (raw.Object, error) { return p.parseObject(0) }

// next returns the next token; the end of the file inside an object is malformed.
func (p *Parser) next() (scanner.Token, error) {
	tok, err := p.s.Next()
	if errors.Is(err, io.EOF) {
		return tok, raw.Malformed(p.Position(), "unexpected end of file")
	}
	return tok, err
}

func (p *Parser) parseObject(depth int) (raw.Object, error) {
	tok, err := p.next()
	if err != nil {
		return nil, err
	}
	switch tok.Type {
	case scanner.TokenName:
		return raw.NameObj{Val: tok.Str}, nil
	case scanner.TokenNumber:
		if !tok.IsInt {
			return raw.NumberFloat(tok.Float), nil
		}
		ref, ok, err := p.tryRef(tok)
		if err != nil {
			return nil, err
		}
		if ok {
			return ref, nil
		}
		return raw.NumberInt(tok.Int), nil
	case scanner.TokenBoolean:
		return raw.BoolObj{V: tok.Bool}, nil
	case scanner.TokenNull:
		return raw.NullObj{}, nil
	case scanner.TokenString:
		return raw.StringObj{Bytes: tok.Bytes, Hex: tok.Hex}, nil
	case scanner.TokenArray:
		if depth >= p.cfg.Limits.MaxNestingDepth {
			return nil, raw.Malformed(tok.Pos-p.base, "nesting deeper than %d", p.cfg.Limits.MaxNestingDepth)
		}
		return p.parseArray(depth + 1)
	case scanner.TokenDict:
		if depth >= p.cfg.Limits.MaxNestingDepth {
			return nil, raw.Malformed(tok.Pos-p.base, "nesting deeper than %d", p.cfg.Limits.MaxNestingDepth)
		}
		return p.parseDict(depth + 1)
	}
	return nil, raw.Malformed(tok.Pos-p.base, "unexpected token %q", tok.Str)
}

// tryRef looks ahead for "gen R" after an integer.
func (p *Parser) tryRef(num scanner.Token) (raw.Object, bool, error) {
	if num.Int < 0 || num.Int >= int64(p.cfg.Limits.MaxObjectNumber) {
		return nil, false, nil
	}
	save := p.s.Position()
	gen, err := p.s.Next()
	if err != nil {
		p.s.Seek(save)
		if errors.Is(err, io.EOF) {
			return nil, false, nil
		}
		return nil, false, err
	}
	if gen.Type != scanner.TokenNumber || !gen.IsInt || gen.Int < 0 {
		p.s.Seek(save)
		return nil, false, nil
	}
	r, err := p.s.Next()
	if err != nil {
		p.s.Seek(save)
		if errors.Is(err, io.EOF) {
			return nil, false, nil
		}
		return nil, false, err
	}
	if !r.IsKeyword("R") {
		p.s.Seek(save)
		return nil, false, nil
	}
	return raw.Ref(int(num.Int), int(gen.Int)), true, nil
}

func (p *Parser) parseArray(depth int) (raw.Object, error) {
	arr := &raw.ArrayObj{}
	for {
		tok, err := p.s.Peek()
		if errors.Is(err, io.EOF) {
			return nil, raw.Malformed(p.Position(), "unterminated array")
		}
		if err != nil {
			return nil, err
		}
		if tok.IsKeyword("]") {
			p.s.Next()
			return arr, nil
		}
		if tok.IsKeyword("endobj") {
			if rerr := p.recover(raw.Malformed(tok.Pos-p.base, "unexpected endobj in array (missing ]?)"), "array"); rerr != nil {
				return nil, rerr
			}
			return arr, nil
		}
		item, err := p.parseObject(depth)
		if err != nil {
			return nil, err
		}
		arr.Append(item)
		if arr.Len() > p.cfg.Limits.MaxArraySize {
			return nil, raw.Malformed(tok.Pos-p.base, "array larger than %d", p.cfg.Limits.MaxArraySize)
		}
	}
}

func (p *Parser) parseDict(depth int) (raw.Object, error) {
	d := raw.Dict()
	for {
		tok, err := p.next()
		if err != nil {
			return nil, err
		}
		if tok.IsKeyword(">>") {
			return d, nil
		}
		if tok.Type != scanner.TokenName {
			if tok.IsKeyword("endobj") {
				// Recovery logic for missing ">>"
				if rerr := p.recover(raw.Malformed(tok.Pos-p.base, "unexpected endobj in dict (missing >>?)"), "dict"); rerr != nil {
					return nil, rerr
				}
				p.s.Seek(tok.Pos)
				return d, nil
			}
			return nil, raw.Malformed(tok.Pos-p.base, "expected name in dict")
		}
		key := tok.Str
		val, err := p.s.Peek()
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		if err == nil && val.IsKeyword(">>") {
			if rerr := p.recover(raw.Malformed(val.Pos-p.base, "dict key /%s has no value", key), "dict"); rerr != nil {
				return nil, rerr
			}
			continue
		}
		obj, err := p.parseObject(depth)
		if err != nil {
			return nil, err
		}
		// a null value is the same as an absent entry
		if _, isNull := obj.(raw.NullObj); !isNull {
			d.Set(key, obj)
		}
		if d.Len() > p.cfg.Limits.MaxDictSize {
			return nil, raw.Malformed(tok.Pos-p.base, "dictionary larger than %d", p.cfg.Limits.MaxDictSize)
		}
	}
}

var endstream = []byte("endstream")

func (p *Parser) readStream(dict *raw.DictObj) (raw.Object, error) {
	if err := p.s.SkipStreamEOL(); err != nil {
		return nil, err
	}
	dataStart := p.s.Position()
	length, known, err := p.streamLength(dict)
	if err != nil {
		return nil, err
	}
	if known && length >= 0 && length <= p.cfg.Limits.MaxStreamLength {
		data, err := p.s.ReadRaw(length)
		switch {
		case err == nil:
			tok, perr := p.s.Peek()
			if perr != nil && !errors.Is(perr, io.EOF) {
				return nil, perr
			}
			if perr == nil && tok.IsKeyword("endstream") {
				p.s.Next()
				return raw.NewStream(dict, data), nil
			}
		case !errors.Is(err, io.ErrUnexpectedEOF):
			return nil, err
		}
		// /Length is wrong; look for the keyword instead
		p.s.Seek(dataStart)
	}
	end, err := p.s.Search(endstream, p.cfg.Limits.MaxStreamLength)
	if err != nil {
		if source.IsNotAvailable(err) {
			return nil, err
		}
		return nil, raw.Malformed(dataStart-p.base, "stream without endstream")
	}
	data, err := p.s.ReadRaw(end - dataStart)
	if err != nil {
		return nil, err
	}
	data = trimEOL(data)
	if _, err := p.s.Next(); err != nil {
		return nil, err
	}
	return raw.NewStream(dict, data), nil
}

func (p *Parser) streamLength(dict *raw.DictObj) (int64, bool, error) {
	v, ok := dict.Get("Length")
	if !ok {
		return 0, false, nil
	}
	switch l := v.(type) {
	case raw.NumberObj:
		if l.IsInt {
			return l.I, true, nil
		}
	case raw.RefObj:
		if p.cfg.ResolveLength == nil {
			return 0, false, nil
		}
		// the resolver may parse other objects with this parser
		save := p.s.Position()
		n, err := p.cfg.ResolveLength(l.R)
		if serr := p.s.Seek(save); serr != nil {
			return 0, false, serr
		}
		if err != nil {
			if source.IsNotAvailable(err) {
				return 0, false, err
			}
			return 0, false, nil
		}
		return n, true, nil
	}
	return 0, false, nil
}

func trimEOL(b []byte) []byte {
	if n := len(b); n > 0 && b[n-1] == '\n' {
		b = b[:n-1]
	}
	if n := len(b); n > 0 && b[n-1] == '\r' {
		b = b[:n-1]
	}
	return b
}

func (p *Parser) recover(err error, component string) error {
	action := recovery.Decide(p.cfg.Recovery, err, recovery.Location{
		ByteOffset: p.Position(),
		Component:  "parser:" + component,
	})
	if action.Tolerated() {
		return nil
	}
	return err
}
