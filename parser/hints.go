package parser

import (
	"errors"
	"fmt"

	"github.com/wudi/pdfavail/ir/raw"
	"github.com/wudi/pdfavail/security"
)

// ParseHintStream decodes the page offset and shared object hint tables of a
// primary hint stream (PDF Annex F). data is the decoded stream content and
// sharedOffset its /S entry. Any structural problem yields a
// *raw.MalformedFileError; callers treat the tables as absent then.
func ParseHintStream(data []byte, sharedOffset int64, lin *raw.Linearization, limits security.Limits) (*raw.HintTable, error) {
	if lin == nil {
		return nil, errors.New("hint stream without linearization parameters")
	}
	limits = limits.OrDefault()
	if sharedOffset <= 0 || sharedOffset > int64(len(data)) {
		return nil, raw.Malformed(0, "hint stream /S %d outside %d bytes", sharedOffset, len(data))
	}
	br := &bitReader{data: data}
	h := &raw.HintTable{FirstPageNo: lin.FirstPageNo}
	if err := readPageOffsetTable(br, h, lin, limits); err != nil {
		return nil, err
	}
	if err := readSharedObjectTable(br, h, sharedOffset, lin, limits); err != nil {
		return nil, err
	}
	return h, nil
}

func hintError(br *bitReader, table, format string, args ...interface{}) error {
	return raw.Malformed(br.bit/8, "%s hint table: %s", table, fmt.Sprintf(format, args...))
}

// validWidth reports whether a per-entry bit count can be read as one value.
func validWidth(bits uint32) bool { return bits > 0 && bits <= 32 }

const pageHeaderBits = 288

func readPageOffsetTable(br *bitReader, h *raw.HintTable, lin *raw.Linearization, limits security.Limits) error {
	nPages := lin.PageCount
	if nPages < 1 || nPages >= limits.MaxPages {
		return hintError(br, "page", "page count %d out of range", nPages)
	}
	firstPage := lin.FirstPageNo
	if firstPage < 0 || firstPage >= nPages {
		return hintError(br, "page", "first page %d out of range", firstPage)
	}
	if !br.CanRead(pageHeaderBits) {
		return hintError(br, "page", "header truncated")
	}
	maxObj := uint64(limits.MaxObjectNumber)

	// Item 1: least number of objects in a page.
	leastObjs := br.MustRead(32)
	if leastObjs == 0 || uint64(leastObjs) >= maxObj {
		return hintError(br, "page", "least object count %d", leastObjs)
	}
	// Item 2: location of the first page's page object.
	firstObjLoc := lin.HintsOffsetToFileOffset(int64(br.MustRead(32)))
	if firstObjLoc == 0 {
		return hintError(br, "page", "first page object location is 0")
	}
	h.FirstPageObjOffset = firstObjLoc
	// Item 3: bits for the object count delta.
	deltaObjsBits := br.MustRead(16)
	if !validWidth(deltaObjsBits) {
		return hintError(br, "page", "object count delta width %d", deltaObjsBits)
	}
	// Item 4: least page length.
	leastLen := br.MustRead(32)
	if leastLen == 0 {
		return hintError(br, "page", "least page length is 0")
	}
	// Item 5: bits for the page length delta.
	deltaLenBits := br.MustRead(16)
	if !validWidth(deltaLenBits) {
		return hintError(br, "page", "page length delta width %d", deltaLenBits)
	}
	// Items 6-9 describe content streams.
	br.Skip(96)
	// Item 10: bits for the number of shared object references.
	sharedCountBits := br.MustRead(16)
	if !validWidth(sharedCountBits) {
		return hintError(br, "page", "shared count width %d", sharedCountBits)
	}
	// Item 11: bits for a shared object identifier.
	sharedIDBits := br.MustRead(16)
	if !validWidth(sharedIDBits) {
		return hintError(br, "page", "shared identifier width %d", sharedIDBits)
	}
	// Item 12: bits for the numerator of a fractional position.
	numeratorBits := br.MustRead(16)
	if !validWidth(numeratorBits) {
		return hintError(br, "page", "numerator width %d", numeratorBits)
	}
	// Item 13: denominator, unused.
	br.Skip(16)

	pages := make([]raw.PageHint, nPages)
	if !br.CanReadN(deltaObjsBits, uint64(nPages)) {
		return hintError(br, "page", "object counts truncated")
	}
	pages[firstPage].ObjNum = lin.FirstPageObjNum
	// pages other than the first page are numbered from 1
	startObj := uint64(1)
	for i := range pages {
		count := uint64(br.MustRead(deltaObjsBits)) + uint64(leastObjs)
		if count >= maxObj {
			return hintError(br, "page", "page %d object count %d", i, count)
		}
		pages[i].ObjectCount = int(count)
		if i == firstPage {
			continue
		}
		pages[i].ObjNum = int(startObj)
		startObj += count
		if startObj >= maxObj {
			return hintError(br, "page", "object numbers overflow at page %d", i)
		}
	}
	br.ByteAlign()

	if !br.CanReadN(deltaLenBits, uint64(nPages)) {
		return hintError(br, "page", "page lengths truncated")
	}
	lengths := make([]int64, nPages)
	for i := range lengths {
		lengths[i] = int64(br.MustRead(deltaLenBits)) + int64(leastLen)
	}
	// the first page sits in the first page section; the others follow /E
	// in page order
	offsets := make([]int64, nPages, nPages+1)
	offsets[firstPage] = firstObjLoc
	prevEnd := lin.FirstPageEndOffset
	for i := range offsets {
		if i == firstPage {
			continue
		}
		offsets[i] = prevEnd
		prevEnd += lengths[i]
	}
	offsets = append(offsets, offsets[nPages-1]+lengths[nPages-1])
	h.PageOffsets = offsets
	br.ByteAlign()

	if !br.CanReadN(sharedCountBits, uint64(nPages)) {
		return hintError(br, "page", "shared object counts truncated")
	}
	sharedCounts := make([]uint32, nPages)
	for i := range sharedCounts {
		sharedCounts[i] = br.MustRead(sharedCountBits)
	}
	br.ByteAlign()

	for i := range pages {
		if !br.CanReadN(sharedIDBits, uint64(sharedCounts[i])) {
			return hintError(br, "page", "shared identifiers of page %d truncated", i)
		}
		ids := make([]int, sharedCounts[i])
		for j := range ids {
			ids[j] = int(br.MustRead(sharedIDBits))
		}
		pages[i].SharedIDs = ids
	}
	br.ByteAlign()

	for i := range pages {
		if !br.CanReadN(numeratorBits, uint64(sharedCounts[i])) {
			return hintError(br, "page", "shared numerators of page %d truncated", i)
		}
		br.Skip(uint64(numeratorBits) * uint64(sharedCounts[i]))
	}
	br.ByteAlign()

	// content stream lengths, unused
	if !br.CanReadN(deltaLenBits, uint64(nPages)) {
		return hintError(br, "page", "content stream lengths truncated")
	}
	br.Skip(uint64(deltaLenBits) * uint64(nPages))
	br.ByteAlign()

	h.Pages = pages
	return nil
}

const sharedHeaderBits = 192

func readSharedObjectTable(br *bitReader, h *raw.HintTable, offset int64, lin *raw.Linearization, limits security.Limits) error {
	target := offset * 8
	if br.bit > target {
		return hintError(br, "shared object", "page table overlaps /S at byte %d", offset)
	}
	br.bit = target
	if !br.CanRead(sharedHeaderBits) {
		return hintError(br, "shared object", "header truncated")
	}
	maxObj := uint64(limits.MaxObjectNumber)

	// Item 1: object number of the first object in the shared objects section.
	firstSharedNum := br.MustRead(32)
	// Item 2: location of that object.
	firstSharedLoc := lin.HintsOffsetToFileOffset(int64(br.MustRead(32)))
	if firstSharedLoc == 0 {
		return hintError(br, "shared object", "first shared object location is 0")
	}
	// Item 3: entries for objects in the first page section.
	nFirstPage := br.MustRead(32)
	// Item 4: all entries, including those of item 3.
	total := br.MustRead(32)
	// Item 5: bits for the number of objects in a group.
	groupObjBits := br.MustRead(16)
	if groupObjBits > 32 {
		return hintError(br, "shared object", "group size width %d", groupObjBits)
	}
	// Item 6: least group length.
	leastLen := br.MustRead(32)
	// Item 7: bits for the group length delta.
	deltaLenBits := br.MustRead(16)
	if !validWidth(deltaLenBits) {
		return hintError(br, "shared object", "group length delta width %d", deltaLenBits)
	}
	if uint64(firstSharedNum) >= maxObj || uint64(nFirstPage) >= maxObj || uint64(total) >= maxObj {
		return hintError(br, "shared object", "header value exceeds %d", maxObj)
	}
	if nFirstPage > total {
		return hintError(br, "shared object", "%d first page entries of %d", nFirstPage, total)
	}

	if !br.CanReadN(deltaLenBits, uint64(total)) {
		return hintError(br, "shared object", "group lengths truncated")
	}
	groups := make([]raw.SharedGroup, total)
	firstPageObj := uint64(lin.FirstPageObjNum)
	if lin.FirstPageNo < len(h.Pages) {
		firstPageObj = uint64(h.Pages[lin.FirstPageNo].ObjNum)
	}
	offsets := make([]int64, 0, total+1)
	var length int64
	for i := range groups {
		idx := uint32(i)
		prevLen := length
		length = int64(br.MustRead(deltaLenBits)) + int64(leastLen)
		var num uint64
		if idx < nFirstPage {
			num = firstPageObj + uint64(idx)
		} else {
			num = uint64(firstSharedNum) + uint64(idx-nFirstPage)
		}
		if num >= maxObj {
			return hintError(br, "shared object", "group %d object number %d", i, num)
		}
		groups[i] = raw.SharedGroup{ObjNum: int(num), ObjectCount: 1}
		// groups of each section are stored back to back from the section start
		switch {
		case idx == 0 && nFirstPage > 0:
			offsets = append(offsets, h.FirstPageObjOffset)
		case idx == nFirstPage:
			offsets = append(offsets, firstSharedLoc)
		default:
			offsets = append(offsets, offsets[i-1]+prevLen)
		}
	}
	if total > 0 {
		offsets = append(offsets, offsets[total-1]+length)
	}
	br.ByteAlign()
	br.ByteAlign()

	// Items 2-4 of the group entries are absent in some producers' output.
	if br.Remaining() > 0 {
		if !br.CanReadN(1, uint64(total)) {
			return hintError(br, "shared object", "signature flags truncated")
		}
		signatures := uint64(0)
		for range groups {
			signatures += uint64(br.MustRead(1))
		}
		br.ByteAlign()
		if signatures > 0 {
			if !br.CanReadN(128, signatures) {
				return hintError(br, "shared object", "signatures truncated")
			}
			br.Skip(128 * signatures)
		}
		if groupObjBits > 0 && br.CanReadN(groupObjBits, uint64(total)) {
			for i := range groups {
				groups[i].ObjectCount += int(br.MustRead(groupObjBits))
			}
			br.ByteAlign()
		}
	}

	h.FirstPageSharedCount = int(nFirstPage)
	h.Shared = groups
	h.SharedOffsets = offsets
	return nil
}

// bitReader reads big-endian bit fields.
type bitReader struct {
	data []byte
	bit  int64 // absolute bit position
}

func (r *bitReader) Remaining() uint64 {
	total := int64(len(r.data)) * 8
	if r.bit >= total {
		return 0
	}
	return uint64(total - r.bit)
}

func (r *bitReader) CanRead(n uint64) bool { return n <= r.Remaining() }

// CanReadN reports whether count fields of width bits each remain, without
// overflowing the product.
func (r *bitReader) CanReadN(width uint32, count uint64) bool {
	if width == 0 || count == 0 {
		return true
	}
	rem := r.Remaining()
	if count > rem/uint64(width) {
		return false
	}
	return uint64(width)*count <= rem
}

// MustRead reads n <= 32 bits the caller has checked with CanRead.
func (r *bitReader) MustRead(n uint32) uint32 {
	var val uint32
	for i := uint32(0); i < n; i++ {
		b := (r.data[r.bit/8] >> (7 - uint(r.bit%8))) & 1
		val = val<<1 | uint32(b)
		r.bit++
	}
	return val
}

func (r *bitReader) Skip(n uint64) { r.bit += int64(n) }

func (r *bitReader) ByteAlign() {
	if rem := r.bit % 8; rem != 0 {
		r.bit += 8 - rem
	}
}
