package raw

// HintTable is the decoded primary hint stream of a linearized file: the page
// offset hint table and the shared object hint table.
type HintTable struct {
	FirstPageNo int
	// FirstPageObjOffset is the file offset of the first page's page object.
	FirstPageObjOffset int64

	Pages []PageHint
	// PageOffsets holds the start of every page followed by the end of the
	// last one.
	PageOffsets []int64

	// The first FirstPageSharedCount groups live in the first page section.
	FirstPageSharedCount int
	Shared               []SharedGroup
	// SharedOffsets holds the start of every shared group followed by the
	// end of the last one.
	SharedOffsets []int64
}

// PageHint describes one page. ObjNum is the number of the page dictionary,
// which is the first object of the page's group.
type PageHint struct {
	ObjNum      int
	ObjectCount int
	SharedIDs   []int
}

// SharedGroup describes a group of consecutive shared objects.
type SharedGroup struct {
	ObjNum      int
	ObjectCount int
}

// ItemLength returns offsets[i+1]-offsets[i]. It is 0 when i has no
// successor or the two entries are not in increasing order.
func ItemLength(offsets []int64, i int) int64 {
	if i < 0 || i+1 >= len(offsets) || offsets[i] >= offsets[i+1] {
		return 0
	}
	return offsets[i+1] - offsets[i]
}

// PageCount returns the number of pages described by the table.
func (h *HintTable) PageCount() int { return len(h.Pages) }

// PagePos returns the byte range of a page and the object number of its page
// dictionary. A length of 0 means the table is inconsistent for that page.
func (h *HintTable) PagePos(index int) (offset, length int64, objNum int, ok bool) {
	if index < 0 || index >= len(h.Pages) || index >= len(h.PageOffsets) {
		return 0, 0, 0, false
	}
	return h.PageOffsets[index], ItemLength(h.PageOffsets, index), h.Pages[index].ObjNum, true
}

// SharedIDs returns the shared group identifiers referenced by a page.
func (h *HintTable) SharedIDs(index int) []int {
	if index < 0 || index >= len(h.Pages) {
		return nil
	}
	return h.Pages[index].SharedIDs
}

// SharedRange returns the first object number and byte range of a shared
// group. A length of 0 means the table is inconsistent for that group.
func (h *HintTable) SharedRange(id int) (objNum int, offset, length int64, ok bool) {
	if id < 0 || id >= len(h.Shared) || id >= len(h.SharedOffsets) {
		return 0, 0, 0, false
	}
	return h.Shared[id].ObjNum, h.SharedOffsets[id], ItemLength(h.SharedOffsets, id), true
}

// InFirstPageSection reports whether shared group id is stored in the first
// page section, which is covered by the first page range.
func (h *HintTable) InFirstPageSection(id int) bool {
	return id >= 0 && id < h.FirstPageSharedCount
}
