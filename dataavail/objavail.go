package dataavail

import (
	"github.com/bits-and-blooms/bitset"

	"github.com/wudi/pdfavail/ir/raw"
	"github.com/wudi/pdfavail/source"
)

// objectAvail checks that every indirect object reachable from a root has
// been received. /Parent links are not followed and other page dictionaries
// are not descended into, so checking one page never pulls in the rest of the
// document. Objects that are missing stay queued for the next call.
type objectAvail struct {
	e       *Engine
	rootNum int
	queue   []int
	checked *bitset.BitSet
	done    bool
}

// newObjectAvail starts a check at root. rootNum is the object number root
// was loaded from, or 0 for a direct object. A reference root is itself
// loaded by the check.
func (e *Engine) newObjectAvail(root raw.Object, rootNum int) *objectAvail {
	a := &objectAvail{e: e, rootNum: rootNum, checked: bitset.New(64)}
	if ref, ok := raw.RefOf(root); ok {
		a.rootNum = ref.Num
		a.checked.Set(uint(ref.Num))
		a.queue = append(a.queue, ref.Num)
		return a
	}
	if rootNum > 0 {
		a.checked.Set(uint(rootNum))
	}
	a.push(root)
	return a
}

// check loads as many queued objects as possible. Every missing object is
// requested before the first one is reported.
func (a *objectAvail) check() error {
	if a.done {
		return nil
	}
	var missing []int
	var pending error
	for len(a.queue) > 0 {
		num := a.queue[len(a.queue)-1]
		a.queue = a.queue[:len(a.queue)-1]
		obj, err := a.e.object(num)
		if err != nil {
			if !source.IsNotAvailable(err) {
				return err
			}
			if pending == nil {
				pending = err
			}
			missing = append(missing, num)
			continue
		}
		if num != a.rootNum && isPage(obj) {
			continue
		}
		a.push(obj)
	}
	if len(missing) > 0 {
		a.queue = missing
		return pending
	}
	a.done = true
	return nil
}

func (a *objectAvail) push(obj raw.Object) {
	switch o := obj.(type) {
	case raw.RefObj:
		if n := o.R.Num; n > 0 && !a.checked.Test(uint(n)) {
			a.checked.Set(uint(n))
			a.queue = append(a.queue, n)
		}
	case *raw.DictObj, *raw.ArrayObj, *raw.StreamObj:
		raw.Walk(o, func(key string, child raw.Object) {
			if key != "Parent" {
				a.push(child)
			}
		})
	}
}

func isPage(obj raw.Object) bool {
	d, ok := obj.(*raw.DictObj)
	return ok && d.Name("Type") == "Page"
}
