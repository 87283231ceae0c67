package raw

// Document is the indirect-object space assembled during an availability
// session. Objects are added once and never replaced.
type Document struct {
	objects map[int]Object
	pages   map[int]int

	Trailer       *DictObj
	Root          ObjectRef
	Info          ObjectRef
	Linearization *Linearization
	Hints         *HintTable
}

// NewDocument returns an empty document.
func NewDocument() *Document {
	return &Document{
		objects: make(map[int]Object),
		pages:   make(map[int]int),
	}
}

// Object returns a previously stored object.
func (d *Document) Object(num int) (Object, bool) {
	o, ok := d.objects[num]
	return o, ok
}

// Add stores obj under num unless an object is already present, and returns
// the stored object.
func (d *Document) Add(num int, obj Object) Object {
	if prev, ok := d.objects[num]; ok {
		return prev
	}
	d.objects[num] = obj
	return obj
}

// Len returns the number of stored objects.
func (d *Document) Len() int { return len(d.objects) }

// Resolve follows a reference to an already stored object. Other objects are
// returned unchanged; unknown references resolve to nil.
func (d *Document) Resolve(o Object) Object {
	ref, ok := o.(RefObj)
	if !ok {
		return o
	}
	return d.objects[ref.R.Num]
}

// SetPageObjNum records the object number of the page dictionary for index.
func (d *Document) SetPageObjNum(index, num int) {
	if _, ok := d.pages[index]; !ok {
		d.pages[index] = num
	}
}

// PageObjNum returns the recorded page dictionary object number for index.
func (d *Document) PageObjNum(index int) (int, bool) {
	n, ok := d.pages[index]
	return n, ok
}

// Page returns the page dictionary for index when it has been located and loaded.
func (d *Document) Page(index int) *DictObj {
	num, ok := d.pages[index]
	if !ok {
		return nil
	}
	o, ok := d.objects[num]
	if !ok {
		return nil
	}
	page, _ := o.(*DictObj)
	return page
}

// RootDict returns the loaded document catalog.
func (d *Document) RootDict() *DictObj {
	if d.Root.Num == 0 {
		return nil
	}
	return DictOf(d.objects[d.Root.Num])
}

// InfoDict returns the loaded document information dictionary.
func (d *Document) InfoDict() *DictObj {
	if d.Info.Num == 0 {
		return nil
	}
	return DictOf(d.objects[d.Info.Num])
}
