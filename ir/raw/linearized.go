package raw

// Linearization holds the values of a linearization parameter dictionary.
type Linearization struct {
	ObjNum              int   // object number of the dictionary itself
	FileLength          int64 // /L
	FirstPageObjNum     int   // /O
	FirstPageEndOffset  int64 // /E
	PageCount           int   // /N
	MainXRefOffset      int64 // /T
	FirstPageNo         int   // /P
	HintOffset          int64 // /H[0]
	HintLength          int64 // /H[1]
	FirstPageXRefOffset int64 // first byte after the dictionary's endobj
}

// HasHintTable reports whether the dictionary points at a usable primary hint stream.
func (l *Linearization) HasHintTable() bool {
	return l.PageCount > 1 && l.HintOffset > 0 && l.HintLength > 0
}

// HintsOffsetToFileOffset converts a position stored in the hint tables into a
// file offset. Hint positions are recorded as if the primary hint stream were
// absent, so positions past its start are shifted by its length.
func (l *Linearization) HintsOffsetToFileOffset(offset int64) int64 {
	if offset > l.HintOffset {
		return offset + l.HintLength
	}
	return offset
}
