package raw

import "fmt"

// ObjectRef uniquely identifies an indirect PDF object.
type ObjectRef struct {
	Num int
	Gen int
}

func (r ObjectRef) String() string { return fmt.Sprintf("%d %d R", r.Num, r.Gen) }

// Object is a parsed PDF object.
//
// The set of implementations is closed: NameObj, NumberObj, BoolObj, NullObj,
// StringObj, *ArrayObj, *DictObj, *StreamObj and RefObj. Code that inspects an
// object switches over these concrete types.
type Object interface {
	Type() string
	isObject()
}

// DictOf returns the dictionary of a dictionary or stream object, nil otherwise.
func DictOf(o Object) *DictObj {
	switch v := o.(type) {
	case *DictObj:
		return v
	case *StreamObj:
		return v.Dict
	default:
		return nil
	}
}

// IntOf returns the value of an integer number object.
func IntOf(o Object) (int64, bool) {
	n, ok := o.(NumberObj)
	if !ok || !n.IsInt {
		return 0, false
	}
	return n.I, true
}

// RefOf returns the reference held by o, if o is a reference.
func RefOf(o Object) (ObjectRef, bool) {
	r, ok := o.(RefObj)
	if !ok {
		return ObjectRef{}, false
	}
	return r.R, true
}

// Walk calls fn for every object directly contained in o: dictionary values
// (with their key), array items and the dictionary of a stream. Contained
// objects are not descended into; fn decides whether to recurse.
func Walk(o Object, fn func(key string, child Object)) {
	switch v := o.(type) {
	case *DictObj:
		for _, k := range v.Keys() {
			fn(k, v.KV[k])
		}
	case *ArrayObj:
		for _, it := range v.Items {
			fn("", it)
		}
	case *StreamObj:
		if v.Dict != nil {
			Walk(v.Dict, fn)
		}
	case NameObj, NumberObj, BoolObj, NullObj, StringObj, RefObj:
	}
}
