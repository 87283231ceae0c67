package parser

import (
	"context"

	"github.com/wudi/pdfavail/filters"
	"github.com/wudi/pdfavail/ir/raw"
	"github.com/wudi/pdfavail/scanner"
	"github.com/wudi/pdfavail/security"
	"github.com/wudi/pdfavail/source"
)

// DecodeStream returns the decoded data of a stream, bounded by the
// decompression limit.
func DecodeStream(ctx context.Context, st *raw.StreamObj, limits security.Limits) ([]byte, error) {
	limits = limits.OrDefault()
	p := filters.NewDefaultPipeline(filters.Limits{MaxDecompressedSize: limits.MaxDecompressedSize})
	return p.DecodeStream(ctx, st)
}

// LoadObjectStream decodes an object stream (/Type /ObjStm) and returns its
// objects keyed by object number.
func LoadObjectStream(ctx context.Context, st *raw.StreamObj, cfg Config) (map[int]raw.Object, error) {
	if st == nil || st.Dict.Name("Type") != "ObjStm" {
		return nil, raw.Malformed(0, "not an object stream")
	}
	n, _ := st.Dict.Int("N")
	first, _ := st.Dict.Int("First")
	data, err := DecodeStream(ctx, st, cfg.Limits)
	if err != nil {
		return nil, raw.Malformed(0, "object stream: %w", err)
	}
	return ParseObjectStream(data, int(n), first, cfg)
}

// ObjectStreamNumbers returns the object numbers an object stream holds, in
// storage order.
func ObjectStreamNumbers(ctx context.Context, st *raw.StreamObj, cfg Config) ([]int, error) {
	if st == nil || st.Dict.Name("Type") != "ObjStm" {
		return nil, raw.Malformed(0, "not an object stream")
	}
	n, _ := st.Dict.Int("N")
	cfg.Limits = cfg.Limits.OrDefault()
	if n < 0 || n >= int64(cfg.Limits.MaxObjectNumber) {
		return nil, raw.Malformed(0, "object stream count %d out of range", n)
	}
	data, err := DecodeStream(ctx, st, cfg.Limits)
	if err != nil {
		return nil, raw.Malformed(0, "object stream: %w", err)
	}
	entries, err := readObjStmHeader(scanner.New(source.FromBytes(data), scanner.Config{}), int(n))
	if err != nil {
		return nil, err
	}
	nums := make([]int, len(entries))
	for i, e := range entries {
		nums[i] = e.num
	}
	return nums, nil
}

type objStmEntry struct {
	num int
	off int64
}

func readObjStmHeader(s *scanner.Scanner, n int) ([]objStmEntry, error) {
	entries := make([]objStmEntry, 0, n)
	for len(entries) < n {
		num, err := s.Next()
		if err != nil {
			return nil, raw.Malformed(s.Position(), "object stream header truncated")
		}
		off, err := s.Next()
		if err != nil {
			return nil, raw.Malformed(s.Position(), "object stream header truncated")
		}
		if num.Type != scanner.TokenNumber || off.Type != scanner.TokenNumber || !num.IsInt || !off.IsInt {
			return nil, raw.Malformed(num.Pos, "object stream header is not numeric")
		}
		entries = append(entries, objStmEntry{num: int(num.Int), off: off.Int})
	}
	return entries, nil
}

// ParseObjectStream parses the decoded contents of an object stream holding n
// objects whose bodies start at first.
func ParseObjectStream(data []byte, n int, first int64, cfg Config) (map[int]raw.Object, error) {
	cfg.Limits = cfg.Limits.OrDefault()
	if n < 0 || n >= cfg.Limits.MaxObjectNumber {
		return nil, raw.Malformed(0, "object stream count %d out of range", n)
	}
	if first < 0 || first > int64(len(data)) {
		return nil, raw.Malformed(0, "object stream First %d exceeds length %d", first, len(data))
	}
	cfg.ResolveLength = nil
	p := New(source.FromBytes(data), cfg)
	entries, err := readObjStmHeader(p.Scanner(), n)
	if err != nil {
		return nil, err
	}

	objs := make(map[int]raw.Object, n)
	for _, e := range entries {
		if _, dup := objs[e.num]; dup {
			continue
		}
		pos := first + e.off
		if e.off < 0 || pos > int64(len(data)) {
			return nil, raw.Malformed(pos, "object %d offset outside object stream", e.num)
		}
		obj, err := p.ParseObjectAt(pos)
		if err != nil {
			return nil, err
		}
		objs[e.num] = obj
	}
	return objs, nil
}
