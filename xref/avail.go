package xref

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/wudi/pdfavail/ir/raw"
	"github.com/wudi/pdfavail/parser"
	"github.com/wudi/pdfavail/source"
)

// ErrEncrypted is returned for any section whose trailer names /Encrypt.
var ErrEncrypted = errors.New("encrypted documents are not supported")

type availState int

const (
	stateCrossRefCheck availState = iota
	stateV4ItemCheck
	stateV4TrailerCheck
	stateDone
)

// Avail checks, without building a table, that every section of a
// cross-reference chain has been received. It keeps its progress between
// calls, so each Check resumes where the previous one ran out of data. Classic
// tables are consumed a token at a time.
type Avail struct {
	p     *parser.Parser
	state availState
	queue []int64
	seen  map[int64]bool
	// pos is the resume position inside the classic table being read.
	pos int64
	err error
}

// NewAvail starts a check of the chain whose newest section is at offset.
func NewAvail(p *parser.Parser, offset int64) *Avail {
	a := &Avail{p: p, seen: make(map[int64]bool)}
	a.err = a.add(offset)
	return a
}

func (a *Avail) add(offset int64) error {
	if a.seen[offset] {
		return fmt.Errorf("section at %d: %w", offset, ErrCycle)
	}
	if max := a.p.Limits().MaxXRefDepth; len(a.seen) >= max {
		return raw.Malformed(offset, "more than %d cross-reference sections", max)
	}
	a.seen[offset] = true
	a.queue = append(a.queue, offset)
	return nil
}

// Done reports whether the whole chain has been checked.
func (a *Avail) Done() bool { return a.state == stateDone }

// Check advances as far as the received data allows. It returns nil once
// every section is available, an error matching source.ErrNotAvailable while
// data is missing, and any other error when the chain is broken. Broken
// chains stay broken.
func (a *Avail) Check(ctx context.Context) error {
	for a.err == nil {
		var err error
		switch a.state {
		case stateDone:
			return nil
		case stateCrossRefCheck:
			err = a.checkCrossRef(ctx)
		case stateV4ItemCheck:
			err = a.checkV4Item()
		case stateV4TrailerCheck:
			err = a.checkV4Trailer()
		}
		if err != nil {
			if source.IsNotAvailable(err) {
				return err
			}
			a.err = err
		}
	}
	return a.err
}

func (a *Avail) checkCrossRef(ctx context.Context) error {
	if len(a.queue) == 0 {
		a.state = stateDone
		return nil
	}
	offset := a.queue[0]
	if err := a.p.Seek(offset); err != nil {
		return err
	}
	s := a.p.Scanner()
	tok, err := s.Peek()
	if err != nil {
		return eofMalformed(err, offset)
	}
	if tok.IsKeyword("xref") {
		s.Next()
		a.pos = a.p.Position()
		a.state = stateV4ItemCheck
		return nil
	}
	return a.checkStream(ctx, offset)
}

func (a *Avail) checkStream(ctx context.Context, offset int64) error {
	obj, err := a.p.ParseIndirectObjectAt(offset, 0)
	if err != nil {
		return err
	}
	st, ok := obj.(*raw.StreamObj)
	if !ok {
		return raw.Malformed(offset, "no cross-reference section at offset")
	}
	if st.Dict.Has("Encrypt") {
		return ErrEncrypted
	}
	if st.Dict.Name("Type") == "XRef" {
		if prev, ok := st.Dict.Int("Prev"); ok && prev > 0 {
			if err := a.add(prev); err != nil {
				return err
			}
		}
	}
	a.queue = a.queue[1:]
	return nil
}

func (a *Avail) checkV4Item() error {
	if err := a.p.Seek(a.pos); err != nil {
		return err
	}
	tok, err := a.p.Scanner().Next()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return raw.Malformed(a.pos, "cross-reference table has no trailer")
		}
		return err
	}
	a.pos = a.p.Position()
	if tok.IsKeyword("trailer") {
		a.state = stateV4TrailerCheck
	}
	return nil
}

func (a *Avail) checkV4Trailer() error {
	obj, err := a.p.ParseObjectAt(a.pos)
	if err != nil {
		return err
	}
	trailer, ok := obj.(*raw.DictObj)
	if !ok {
		return raw.Malformed(a.pos, "trailer is not a dictionary")
	}
	if trailer.Has("Encrypt") {
		return ErrEncrypted
	}
	for _, key := range []string{"Prev", "XRefStm"} {
		if off, ok := trailer.Int(key); ok && off > 0 {
			if err := a.add(off); err != nil {
				return err
			}
		}
	}
	a.queue = a.queue[1:]
	a.state = stateCrossRefCheck
	return nil
}
