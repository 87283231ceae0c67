package source

import (
	"io"

	"github.com/bits-and-blooms/bitset"
)

// Progressive is an in-memory file whose bytes become available piece by
// piece, in blocks of a fixed size. It simulates a download for tests and
// for the command line tool.
type Progressive struct {
	data    []byte
	block   int64
	have    *bitset.BitSet
	queries int
}

// NewProgressive returns a store for data with nothing received yet. A block
// size below 1 is treated as 1.
func NewProgressive(data []byte, blockSize int64) *Progressive {
	if blockSize < 1 {
		blockSize = 1
	}
	n := (int64(len(data)) + blockSize - 1) / blockSize
	return &Progressive{data: data, block: blockSize, have: bitset.New(uint(n))}
}

// Size returns the full file length.
func (p *Progressive) Size() int64 { return int64(len(p.data)) }

// Queries returns how many times IsDataAvail has been called.
func (p *Progressive) Queries() int { return p.queries }

// IsDataAvail implements FileAvail.
func (p *Progressive) IsDataAvail(offset, size int64) bool {
	p.queries++
	if size <= 0 {
		return true
	}
	if offset < 0 || offset+size > int64(len(p.data)) {
		return false
	}
	first := uint(offset / p.block)
	last := uint((offset + size - 1) / p.block)
	idx, ok := p.have.NextClear(first)
	return !ok || idx > last
}

// Add marks the blocks overlapping [offset, offset+size) as received.
func (p *Progressive) Add(offset, size int64) {
	if size <= 0 || offset >= int64(len(p.data)) {
		return
	}
	if offset < 0 {
		size += offset
		offset = 0
	}
	end := offset + size
	if end > int64(len(p.data)) {
		end = int64(len(p.data))
	}
	for b := offset / p.block; b*p.block < end; b++ {
		p.have.Set(uint(b))
	}
}

// AddSegments receives every requested segment.
func (p *Progressive) AddSegments(segs Segments) {
	for _, s := range segs {
		p.Add(s.Offset, s.Size)
	}
}

// AddAll receives the whole file.
func (p *Progressive) AddAll() { p.Add(0, int64(len(p.data))) }

// Received returns the number of bytes available.
func (p *Progressive) Received() int64 {
	n := int64(p.have.Count()) * p.block
	if tail := int64(len(p.data)) % p.block; tail != 0 && p.have.Test(uint(int64(len(p.data))/p.block)) {
		n -= p.block - tail
	}
	return n
}

// Complete reports whether the whole file has been received.
func (p *Progressive) Complete() bool { return p.IsDataAvail(0, int64(len(p.data))) }

// ReadAt implements io.ReaderAt over the full contents. Availability is
// enforced by Validator, not here.
func (p *Progressive) ReadAt(b []byte, off int64) (int, error) {
	if off < 0 {
		return 0, io.ErrUnexpectedEOF
	}
	if off >= int64(len(p.data)) {
		return 0, io.EOF
	}
	n := copy(b, p.data[off:])
	if n < len(b) {
		return n, io.EOF
	}
	return n, nil
}
