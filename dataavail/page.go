package dataavail

import (
	"fmt"

	"github.com/wudi/pdfavail/ir/raw"
	"github.com/wudi/pdfavail/observability"
	"github.com/wudi/pdfavail/recovery"
	"github.com/wudi/pdfavail/source"
	"github.com/wudi/pdfavail/xref"
)

// IsPageAvail reports whether page index (counted from 0) and every object it
// needs have been received. The document check runs first. An index outside
// the document returns DataError without ending the session.
func (e *Engine) IsPageAvail(index int, hints source.DownloadHints) DocAvailStatus {
	if e.err != nil {
		return DataError
	}
	if index >= 0 && e.loaded.Test(uint(index)) {
		return DataAvailable
	}
	defer e.v.WithHints(hints)()
	_, span := e.cfg.Tracer.StartSpan(e.ctx, observability.SpanPageAvail)
	defer span.Finish()
	span.SetTag("page", index)

	if st := e.checkDoc(); st != DataAvailable {
		return st
	}
	if n := e.PageCount(); index < 0 || index >= n {
		e.log.Warn("page index out of range", observability.Int("page", index), observability.Int("count", n))
		return DataError
	}
	err := e.checkPage(index)
	switch {
	case err == nil:
		e.loaded.Set(uint(index))
		return DataAvailable
	case source.IsNotAvailable(err):
		return DataNotAvailable
	}
	span.SetError(err)
	e.fail(fmt.Errorf("page %d: %w", index, err))
	return DataError
}

func (e *Engine) checkPage(index int) error {
	pc := e.pages[index]
	if pc == nil {
		pc = &pageCheck{phase: StatusPage}
		e.pages[index] = pc
	}
	for {
		switch pc.phase {
		case StatusPage:
			num, err := e.locatePage(index)
			if err != nil {
				return err
			}
			obj, err := e.object(num)
			if err != nil {
				return err
			}
			page, ok := obj.(*raw.DictObj)
			if !ok || page.Name("Type") == "Pages" {
				return raw.Malformed(0, "page %d: object %d is not a page", index, num)
			}
			e.doc.SetPageObjNum(index, num)
			pc.objNum = num
			pc.graph = e.newObjectAvail(page, num)
			pc.phase = StatusPageLaterLoad
		case StatusPageLaterLoad:
			if err := pc.graph.check(); err != nil {
				return err
			}
			pc.phase = StatusResources
		case StatusResources:
			if pc.res == nil {
				res, err := e.inheritedResources(pc.objNum)
				if err != nil {
					return err
				}
				if res == nil {
					pc.phase = StatusDone
					continue
				}
				pc.res = e.newObjectAvail(res, 0)
			}
			if err := pc.res.check(); err != nil {
				return err
			}
			pc.phase = StatusDone
		default:
			return nil
		}
	}
}

// locatePage returns the object number of the page dictionary for index.
func (e *Engine) locatePage(index int) (int, error) {
	if num, ok := e.doc.PageObjNum(index); ok {
		return num, nil
	}
	if e.lin != nil {
		if index == e.lin.FirstPageNo {
			return e.lin.FirstPageObjNum, nil
		}
		if err := e.checkLinearizedData(); err != nil {
			return 0, err
		}
		if e.hints != nil {
			if err := e.checkHintPage(index); err != nil {
				return 0, err
			}
			if _, _, num, ok := e.hints.PagePos(index); ok {
				obj, err := e.object(num)
				if source.IsNotAvailable(err) {
					return 0, err
				}
				if err == nil && isPage(obj) {
					return num, nil
				}
			}
			e.log.Warn("hint tables disagree with the file, walking the page tree", observability.Int("page", index))
			e.dropHints()
		}
	}
	return e.pageWalker().Resolve(index)
}

// checkLinearizedData makes sure the main cross-reference section at the end
// of a linearized file has been received and loaded. Objects outside the first
// page can only be found through it.
func (e *Engine) checkLinearizedData() error {
	if e.mainXRefOK {
		return nil
	}
	t := e.lin.MainXRefOffset
	size := e.p.DocumentSize() - t
	if !e.checkRange(t, size) {
		return e.notAvailable(t, size)
	}
	table, err := xref.Load(e.ctx, e.p, e.lin.FirstPageXRefOffset)
	if err != nil {
		if source.IsNotAvailable(err) || hardXRefError(err) {
			return err
		}
		return e.repairMainXRef(err)
	}
	e.table = table
	e.mainXRefOK = true
	return nil
}

func (e *Engine) repairMainXRef(cause error) error {
	if !recovery.Decide(e.cfg.Recovery, cause, recovery.Location{Component: "main cross-reference"}).Tolerated() {
		return cause
	}
	if !e.v.CheckWholeFile() {
		return &source.NotAvailableError{Offset: 0, Size: e.v.Size()}
	}
	t, err := xref.Repair(e.ctx, e.p)
	if err != nil {
		return err
	}
	e.log.Warn("main cross-reference unusable, rebuilt from the whole file", observability.Error("cause", cause))
	e.table = t
	e.repaired = true
	e.mainXRefOK = true
	e.dropHints()
	return nil
}

// dropHints forgets hint tables that turned out not to describe the file.
func (e *Engine) dropHints() {
	e.hints = nil
	e.doc.Hints = nil
}

// checkHintPage requests the byte range of a page and of every shared group
// it uses, as recorded in the hint tables. Groups stored in the first page
// section were received with it.
func (e *Engine) checkHintPage(index int) error {
	h := e.hints
	if index == h.FirstPageNo {
		return nil
	}
	off, length, _, ok := h.PagePos(index)
	if !ok {
		return raw.Malformed(0, "no hint entry for page %d", index)
	}
	if length <= 0 {
		return raw.Malformed(off, "page %d has an empty hint range", index)
	}
	var missing error
	if !e.checkRange(off, length) {
		missing = e.notAvailable(off, length)
	}
	for _, id := range h.SharedIDs(index) {
		if id >= len(h.Shared) || h.InFirstPageSection(id) {
			continue
		}
		_, soff, slen, _ := h.SharedRange(id)
		if slen <= 0 {
			return raw.Malformed(soff, "shared group %d has an empty hint range", id)
		}
		if !e.checkRange(soff, slen) && missing == nil {
			missing = e.notAvailable(soff, slen)
		}
	}
	return missing
}

// inheritedResources returns the /Resources a page inherits from its
// ancestors, or nil when the page has its own or none are found.
func (e *Engine) inheritedResources(pageNum int) (raw.Object, error) {
	obj, err := e.object(pageNum)
	if err != nil {
		return nil, err
	}
	cur := raw.DictOf(obj)
	if cur == nil || cur.Has("Resources") {
		return nil, nil
	}
	for depth := 0; ; depth++ {
		if depth >= e.cfg.Limits.MaxInheritDepth {
			e.log.Warn("resource inheritance chain too long", observability.Int("page", pageNum))
			return nil, nil
		}
		parent, ok := cur.Ref("Parent")
		if !ok {
			return nil, nil
		}
		obj, err := e.object(parent.Num)
		if err != nil {
			return nil, err
		}
		if cur = raw.DictOf(obj); cur == nil {
			return nil, nil
		}
		if res, ok := cur.Get("Resources"); ok {
			return res, nil
		}
	}
}

// IsFormAvail reports whether the interactive form and everything it
// references have been received. Files without /AcroForm return FormNotExist.
func (e *Engine) IsFormAvail(hints source.DownloadHints) FormStatus {
	if e.err != nil {
		return FormError
	}
	if e.formDone {
		return FormAvailable
	}
	defer e.v.WithHints(hints)()
	_, span := e.cfg.Tracer.StartSpan(e.ctx, observability.SpanFormAvail)
	defer span.Finish()

	switch e.checkDoc() {
	case DataError:
		return FormError
	case DataNotAvailable:
		return FormNotAvailable
	}
	root := e.doc.RootDict()
	if root == nil {
		return FormNotExist
	}
	form, ok := root.Get("AcroForm")
	if !ok {
		return FormNotExist
	}
	err := e.checkForm(form)
	switch {
	case err == nil:
		e.formDone = true
		return FormAvailable
	case source.IsNotAvailable(err):
		return FormNotAvailable
	}
	span.SetError(err)
	e.fail(fmt.Errorf("form: %w", err))
	return FormError
}

func (e *Engine) checkForm(form raw.Object) error {
	if e.lin != nil {
		if err := e.checkLinearizedData(); err != nil {
			return err
		}
	}
	if e.form == nil {
		e.form = e.newObjectAvail(form, 0)
	}
	return e.form.check()
}
