// Package xref reads cross-reference data: classic tables, cross-reference
// streams, the resumable availability check of a whole chain and the
// scan-based rebuild used when the chain is unusable.
package xref

import (
	"golang.org/x/exp/slices"

	"github.com/wudi/pdfavail/ir/raw"
)

type EntryType int

const (
	EntryFree EntryType = iota
	EntryInUse
	EntryCompressed
)

func (t EntryType) String() string {
	switch t {
	case EntryFree:
		return "free"
	case EntryInUse:
		return "in use"
	case EntryCompressed:
		return "compressed"
	}
	return "unknown"
}

// Entry locates one object. InUse entries carry a byte offset and generation;
// Compressed entries the object stream number and the index inside it.
type Entry struct {
	Type      EntryType
	Offset    int64
	Gen       int
	StreamNum int
	Index     int
}

// Table is the merged view of a cross-reference chain. Entries are added from
// the newest section to the oldest, so the first entry recorded for an object
// number wins.
type Table struct {
	entries map[int]Entry
	trailer *raw.DictObj
}

func NewTable() *Table {
	return &Table{entries: make(map[int]Entry)}
}

func (t *Table) Lookup(objNum int) (Entry, bool) {
	e, ok := t.entries[objNum]
	return e, ok
}

// Add records e unless objNum already has an entry.
func (t *Table) Add(objNum int, e Entry) {
	if _, ok := t.entries[objNum]; ok {
		return
	}
	t.entries[objNum] = e
}

func (t *Table) merge(entries map[int]Entry) {
	for num, e := range entries {
		t.Add(num, e)
	}
}

// Objects returns the object numbers with an entry, in ascending order.
func (t *Table) Objects() []int {
	out := make([]int, 0, len(t.entries))
	for k := range t.entries {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

func (t *Table) Len() int { return len(t.entries) }

// Trailer returns the trailer dictionary of the newest section.
func (t *Table) Trailer() *raw.DictObj { return t.trailer }

func (t *Table) SetTrailer(d *raw.DictObj) { t.trailer = d }

// Section is one cross-reference section as found in the file.
type Section struct {
	Offset  int64
	Stream  bool
	Entries map[int]Entry
	Trailer *raw.DictObj
	// Prev and XRefStm are -1 when absent.
	Prev    int64
	XRefStm int64
}
