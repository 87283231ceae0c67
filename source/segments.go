package source

import (
	"cmp"

	"golang.org/x/exp/slices"
)

// Segment is a byte range of the file.
type Segment struct {
	Offset int64
	Size   int64
}

// End returns the first offset past the segment.
func (s Segment) End() int64 { return s.Offset + s.Size }

// Segments is a DownloadHints implementation that keeps every request.
type Segments []Segment

// AddSegment implements DownloadHints.
func (s *Segments) AddSegment(offset, size int64) {
	if size <= 0 {
		return
	}
	*s = append(*s, Segment{Offset: offset, Size: size})
}

// Reset drops all collected segments.
func (s *Segments) Reset() { *s = (*s)[:0] }

// Normalize returns the segments sorted by offset with overlapping and
// adjacent ranges merged.
func (s Segments) Normalize() Segments {
	if len(s) == 0 {
		return nil
	}
	out := slices.Clone(s)
	slices.SortFunc(out, func(a, b Segment) int { return cmp.Compare(a.Offset, b.Offset) })
	merged := out[:1]
	for _, seg := range out[1:] {
		last := &merged[len(merged)-1]
		if seg.Offset <= last.End() {
			if seg.End() > last.End() {
				last.Size = seg.End() - last.Offset
			}
			continue
		}
		merged = append(merged, seg)
	}
	return merged
}

// Total returns the number of bytes covered after normalisation.
func (s Segments) Total() int64 {
	var n int64
	for _, seg := range s.Normalize() {
		n += seg.Size
	}
	return n
}
