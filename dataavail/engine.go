// Package dataavail answers, for a PDF file that is still being received,
// whether the document, a page or the interactive form can be opened yet, and
// which byte ranges to fetch next when not.
//
// An Engine is a resumable state machine. Every check runs as far as the
// received bytes allow, records the missing ranges with the caller's hints and
// returns DataNotAvailable; calling it again after more data arrived continues
// from the same place. Structural damage that cannot be worked around ends the
// session: every later check returns an error status without doing work.
//
// An Engine is not safe for concurrent use.
package dataavail

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/bits-and-blooms/bitset"

	"github.com/wudi/pdfavail/ir/raw"
	"github.com/wudi/pdfavail/observability"
	"github.com/wudi/pdfavail/pagetree"
	"github.com/wudi/pdfavail/parser"
	"github.com/wudi/pdfavail/recovery"
	"github.com/wudi/pdfavail/source"
	"github.com/wudi/pdfavail/xref"
)

type Engine struct {
	v   *source.Validator
	p   *parser.Parser
	cfg Config
	log observability.Logger
	ctx context.Context

	status Status
	err    error

	doc       *raw.Document
	table     *xref.Table
	xrefAvail *xref.Avail
	startXRef int64
	repaired  bool

	lin       *raw.Linearization
	linStatus LinearizationStatus
	hints     *raw.HintTable

	pagesNum  int
	walker    *pagetree.Walker
	totalLoad bool
	leafCount int

	mainXRefOK bool
	loaded     *bitset.BitSet
	pages      map[int]*pageCheck
	form       *objectAvail
	formDone   bool

	// loading holds the objects being parsed. An indirect /Length or an
	// object stream container may lead back into one of them.
	loading map[int]bool
}

// pageCheck is the progress of one page: located (Page), its object graph
// received (PageLaterLoad) and its inherited resources received (Resources).
type pageCheck struct {
	phase  Status
	objNum int
	graph  *objectAvail
	res    *objectAvail
}

// New returns an engine over a file of the given size. avail reports which
// ranges have been received and r reads them.
func New(avail source.FileAvail, r io.ReaderAt, size int64, cfg Config) *Engine {
	cfg = cfg.withDefaults()
	v := source.NewValidator(avail, r, size)
	v.SetAlignment(cfg.SegmentAlignment)
	e := &Engine{
		v:         v,
		cfg:       cfg,
		log:       cfg.Logger,
		ctx:       context.Background(),
		status:    StatusHeader,
		doc:       raw.NewDocument(),
		linStatus: LinearizationUnknown,
		loaded:    bitset.New(8),
		pages:     make(map[int]*pageCheck),
		loading:   make(map[int]bool),
	}
	e.p = parser.New(v, parser.Config{Limits: cfg.Limits, Recovery: cfg.Recovery})
	e.p.SetLengthResolver(e.streamLength)
	return e
}

func (e *Engine) streamLength(ref raw.ObjectRef) (int64, error) {
	obj, err := e.object(ref.Num)
	if err != nil {
		return 0, err
	}
	n, ok := raw.IntOf(obj)
	if !ok {
		return 0, raw.Malformed(0, "stream length %s is a %s", ref, obj.Type())
	}
	return n, nil
}

// Status returns the current phase of the document check.
func (e *Engine) Status() Status { return e.status }

// Err returns the error that ended the session, if any.
func (e *Engine) Err() error { return e.err }

func (e *Engine) fail(err error) {
	if e.err != nil {
		return
	}
	e.err = err
	e.status = StatusError
	e.log.Error("availability check failed", observability.Error("error", err))
}

// IsDocAvail reports whether the cross-reference data, the catalog, the
// document information and the start of the page tree have been received.
// Missing ranges are added to hints.
func (e *Engine) IsDocAvail(hints source.DownloadHints) DocAvailStatus {
	if e.err != nil {
		return DataError
	}
	if e.status == StatusDone {
		return DataAvailable
	}
	defer e.v.WithHints(hints)()
	_, span := e.cfg.Tracer.StartSpan(e.ctx, observability.SpanDocAvail)
	defer span.Finish()

	st := e.checkDoc()
	span.SetTag("status", e.status.String())
	if st == DataError {
		span.SetError(e.err)
	}
	return st
}

func (e *Engine) checkDoc() DocAvailStatus {
	if e.err != nil {
		return DataError
	}
	for e.status != StatusDone {
		before := e.status
		if err := e.step(); err != nil {
			if source.IsNotAvailable(err) {
				e.log.Debug("waiting for data", observability.String("status", e.status.String()), observability.Error("missing", err))
				return DataNotAvailable
			}
			e.fail(fmt.Errorf("%s: %w", before, err))
			return DataError
		}
	}
	return DataAvailable
}

func (e *Engine) step() error {
	switch e.status {
	case StatusHeader:
		return e.checkHeader()
	case StatusFirstPage:
		return e.checkFirstPage()
	case StatusHintTable:
		return e.checkHintTable()
	case StatusLoadAllCrossRef:
		return e.checkCrossRef()
	case StatusRoot:
		return e.checkRoot()
	case StatusInfo:
		return e.checkInfo()
	case StatusPageTree:
		return e.checkPageTree()
	case StatusPage:
		return e.checkTopLevelKids()
	case StatusPageLaterLoad:
		return e.checkFirstLeaf()
	case StatusLoadAllFile:
		return e.loadAllFile()
	case StatusError:
		return e.err
	}
	return fmt.Errorf("unexpected status %s", e.status)
}

func (e *Engine) checkHeader() error {
	off, err := parser.FindHeader(e.v)
	if err != nil {
		return err
	}
	e.p.SetHeaderOffset(off)
	lin, err := parser.ReadLinearized(e.p)
	if err != nil {
		return err
	}
	if lin != nil {
		e.lin = lin
		e.doc.Linearization = lin
		e.linStatus = Linearized
		e.status = StatusFirstPage
		e.log.Debug("linearized file",
			observability.Int("pages", lin.PageCount), observability.Int64("firstPageEnd", lin.FirstPageEndOffset))
		return nil
	}
	e.linStatus = NotLinearized
	e.status = StatusLoadAllCrossRef
	return nil
}

// checkRange checks a range given in document offsets.
func (e *Engine) checkRange(offset, size int64) bool {
	return e.v.CheckRange(offset+e.p.HeaderOffset(), size)
}

func (e *Engine) notAvailable(offset, size int64) error {
	return &source.NotAvailableError{Offset: offset + e.p.HeaderOffset(), Size: size}
}

func (e *Engine) checkFirstPage() error {
	end := e.lin.FirstPageEndOffset
	if !e.checkRange(0, end) {
		return e.notAvailable(0, end)
	}
	sec, err := xref.ReadSection(e.ctx, e.p, e.lin.FirstPageXRefOffset)
	if err != nil {
		if source.IsNotAvailable(err) {
			return err
		}
		return e.fallback(err)
	}
	if sec.Trailer.Has("Encrypt") {
		return xref.ErrEncrypted
	}
	t := xref.NewTable()
	for num, ent := range sec.Entries {
		t.Add(num, ent)
	}
	t.SetTrailer(sec.Trailer)
	e.table = t
	if e.lin.HasHintTable() && !e.cfg.DisableHintTables {
		e.status = StatusHintTable
	} else {
		e.status = StatusRoot
	}
	return nil
}

func (e *Engine) checkHintTable() error {
	off, length := e.lin.HintOffset, e.lin.HintLength
	if !e.checkRange(off, length) {
		return e.notAvailable(off, length)
	}
	hints, err := e.loadHints()
	if err != nil {
		if source.IsNotAvailable(err) {
			return err
		}
		loc := recovery.Location{ByteOffset: off, Component: "hint stream"}
		if !recovery.Decide(e.cfg.Recovery, err, loc).Tolerated() {
			return err
		}
		e.log.Warn("ignoring hint tables", observability.Error("error", err))
	} else {
		e.hints = hints
		e.doc.Hints = hints
	}
	e.status = StatusRoot
	return nil
}

func (e *Engine) loadHints() (*raw.HintTable, error) {
	obj, err := e.p.ParseIndirectObjectAt(e.lin.HintOffset, 0)
	if err != nil {
		return nil, err
	}
	st, ok := obj.(*raw.StreamObj)
	if !ok {
		return nil, raw.Malformed(e.lin.HintOffset, "hint stream is a %s", obj.Type())
	}
	data, err := parser.DecodeStream(e.ctx, st, e.cfg.Limits)
	if err != nil {
		return nil, raw.Malformed(e.lin.HintOffset, "hint stream: %w", err)
	}
	shared, _ := st.Dict.Int("S")
	return parser.ParseHintStream(data, shared, e.lin, e.cfg.Limits)
}

func (e *Engine) checkCrossRef() error {
	if e.xrefAvail == nil {
		off, err := xref.FindStartXRef(e.p)
		if err != nil {
			if source.IsNotAvailable(err) {
				return err
			}
			return e.fallback(err)
		}
		e.startXRef = off
		e.xrefAvail = xref.NewAvail(e.p, off)
	}
	if err := e.xrefAvail.Check(e.ctx); err != nil {
		if source.IsNotAvailable(err) || hardXRefError(err) {
			return err
		}
		return e.fallback(err)
	}
	t, err := xref.Load(e.ctx, e.p, e.startXRef)
	if err != nil {
		if source.IsNotAvailable(err) || hardXRefError(err) {
			return err
		}
		return e.fallback(err)
	}
	e.table = t
	e.mainXRefOK = true
	e.status = StatusRoot
	return nil
}

func hardXRefError(err error) bool {
	return errors.Is(err, xref.ErrCycle) || errors.Is(err, xref.ErrEncrypted)
}

// fallback switches to rebuilding the cross-reference table from the whole
// file. A file that was already rebuilt has nothing to fall back to.
func (e *Engine) fallback(cause error) error {
	if e.repaired {
		return cause
	}
	if !recovery.Decide(e.cfg.Recovery, cause, recovery.Location{Component: e.status.String()}).Tolerated() {
		return cause
	}
	e.log.Warn("cross-reference data unusable, scanning the whole file", observability.Error("cause", cause))
	e.status = StatusLoadAllFile
	return nil
}

func (e *Engine) loadAllFile() error {
	if !e.v.CheckWholeFile() {
		return &source.NotAvailableError{Offset: 0, Size: e.v.Size()}
	}
	t, err := xref.Repair(e.ctx, e.p)
	if err != nil {
		return err
	}
	if t.Trailer().Has("Encrypt") {
		return xref.ErrEncrypted
	}
	e.table = t
	e.repaired = true
	e.mainXRefOK = true
	// offsets from the linearization dictionary no longer apply
	e.doc = raw.NewDocument()
	e.dropHints()
	e.walker = nil
	e.lin = nil
	e.pages = make(map[int]*pageCheck)
	e.status = StatusRoot
	return nil
}

func (e *Engine) checkRoot() error {
	trailer := e.table.Trailer()
	if trailer == nil {
		return e.fallback(raw.Malformed(0, "no trailer"))
	}
	if trailer.Has("Encrypt") {
		return xref.ErrEncrypted
	}
	e.doc.Trailer = trailer
	ref, ok := trailer.Ref("Root")
	if !ok {
		return e.fallback(raw.Malformed(0, "trailer has no /Root reference"))
	}
	obj, err := e.object(ref.Num)
	if err != nil {
		if source.IsNotAvailable(err) {
			return err
		}
		return e.fallback(err)
	}
	root, ok := obj.(*raw.DictObj)
	if !ok {
		return e.fallback(raw.Malformed(0, "catalog %s is a %s", ref, obj.Type()))
	}
	pages, ok := root.Ref("Pages")
	if !ok {
		return e.fallback(raw.Malformed(0, "catalog has no /Pages reference"))
	}
	e.doc.Root = ref
	e.pagesNum = pages.Num
	if info, ok := trailer.Ref("Info"); ok {
		e.doc.Info = info
	}
	e.status = StatusInfo
	return nil
}

func (e *Engine) checkInfo() error {
	if e.doc.Info.Num != 0 {
		if _, err := e.object(e.doc.Info.Num); err != nil {
			if source.IsNotAvailable(err) {
				return err
			}
			e.log.Warn("unreadable document information", observability.Error("error", err))
			e.doc.Info = raw.ObjectRef{}
		}
	}
	if e.lin != nil {
		e.status = StatusDone
		return nil
	}
	e.status = StatusPageTree
	return nil
}

func (e *Engine) pageWalker() *pagetree.Walker {
	if e.walker == nil {
		e.walker = pagetree.NewWalker(e.pagesNum, resolverFunc(e.object), pagetree.Config{
			Limits: e.cfg.Limits,
			Logger: e.log,
			OnPage: e.doc.SetPageObjNum,
		})
	}
	return e.walker
}

type resolverFunc func(int) (raw.Object, error)

func (f resolverFunc) Object(num int) (raw.Object, error) { return f(num) }

func (e *Engine) checkPageTree() error {
	w := e.pageWalker()
	root := w.Root()
	if root.Type == pagetree.Unknown {
		if err := w.ClassifyUnknown(root); err != nil {
			return e.treeError(err)
		}
	}
	if root.Type != pagetree.Pages {
		return e.fallback(raw.Malformed(0, "page tree root %d is a %s node", root.ObjNum, root.Type))
	}
	e.totalLoad = root.Count <= 0
	if e.totalLoad {
		e.log.Warn("page tree root has no usable /Count, counting leaves", observability.Int("obj", root.ObjNum))
	}
	e.status = StatusPage
	return nil
}

func (e *Engine) treeError(err error) error {
	if source.IsNotAvailable(err) || errors.Is(err, pagetree.ErrTooDeep) {
		return err
	}
	return e.fallback(err)
}

// checkTopLevelKids loads the direct kids of the page tree root.
func (e *Engine) checkTopLevelKids() error {
	w := e.pageWalker()
	for _, kid := range w.Root().Children {
		if kid.Type != pagetree.Unknown {
			continue
		}
		if err := w.ClassifyUnknown(kid); err != nil {
			return e.treeError(err)
		}
	}
	e.status = StatusPageLaterLoad
	return nil
}

// checkFirstLeaf locates the first page, or every page when the root's
// /Count cannot be trusted.
func (e *Engine) checkFirstLeaf() error {
	w := e.pageWalker()
	if e.totalLoad {
		n, err := w.CountLeaves()
		if err != nil {
			return e.treeError(err)
		}
		e.leafCount = n
	} else if _, err := w.Resolve(0); err != nil {
		if errors.Is(err, pagetree.ErrPageNotFound) {
			e.log.Warn("page tree has no pages")
		} else {
			return e.treeError(err)
		}
	}
	e.status = StatusDone
	return nil
}

// object returns indirect object num, loading it through the cross-reference
// table if needed. Free and unknown objects are null.
func (e *Engine) object(num int) (raw.Object, error) {
	if obj, ok := e.doc.Object(num); ok {
		return obj, nil
	}
	if e.table == nil {
		return nil, raw.Malformed(0, "object %d requested before the cross-reference table", num)
	}
	ent, ok := e.table.Lookup(num)
	if !ok && e.lin != nil && !e.mainXRefOK && e.status == StatusDone {
		// only the first page section is known so far
		if err := e.checkLinearizedData(); err != nil {
			return nil, err
		}
		ent, ok = e.table.Lookup(num)
	}
	if !ok {
		return raw.NullObj{}, nil
	}
	if e.loading[num] {
		return nil, raw.Malformed(ent.Offset, "object %d refers back to itself while loading", num)
	}
	if len(e.loading) >= e.cfg.Limits.MaxIndirectDepth {
		return nil, raw.Malformed(ent.Offset, "object %d: more than %d nested lookups", num, e.cfg.Limits.MaxIndirectDepth)
	}
	e.loading[num] = true
	defer delete(e.loading, num)

	switch ent.Type {
	case xref.EntryInUse:
		obj, err := e.p.ParseIndirectObjectAt(ent.Offset, num)
		if err != nil {
			return nil, err
		}
		return e.doc.Add(num, obj), nil
	case xref.EntryCompressed:
		return e.compressedObject(num, ent)
	}
	return raw.NullObj{}, nil
}

func (e *Engine) compressedObject(num int, ent xref.Entry) (raw.Object, error) {
	obj, err := e.object(ent.StreamNum)
	if err != nil {
		return nil, err
	}
	st, ok := obj.(*raw.StreamObj)
	if !ok {
		return nil, raw.Malformed(0, "object %d: container %d is a %s", num, ent.StreamNum, obj.Type())
	}
	objs, err := parser.LoadObjectStream(e.ctx, st, parser.Config{Limits: e.cfg.Limits, Recovery: e.cfg.Recovery})
	if err != nil {
		return nil, err
	}
	for n, o := range objs {
		if other, ok := e.table.Lookup(n); ok && other.Type == xref.EntryCompressed && other.StreamNum == ent.StreamNum {
			e.doc.Add(n, o)
		}
	}
	if obj, ok := e.doc.Object(num); ok {
		return obj, nil
	}
	return raw.NullObj{}, nil
}

// IsLinearized reports whether the file carries a valid linearization
// dictionary. It returns LinearizationUnknown until the start of the file has
// been received and requests nothing.
func (e *Engine) IsLinearized() LinearizationStatus {
	if e.linStatus != LinearizationUnknown || e.err != nil {
		return e.linStatus
	}
	defer e.v.WithHints(nil)()
	_, span := e.cfg.Tracer.StartSpan(e.ctx, observability.SpanLinearized)
	defer span.Finish()
	if e.status == StatusHeader {
		if err := e.checkHeader(); err != nil && !source.IsNotAvailable(err) {
			span.SetError(err)
			e.fail(err)
		}
	}
	span.SetTag("status", e.linStatus.String())
	return e.linStatus
}

// PageCount returns the number of pages, or 0 before the document check has
// got far enough to know.
func (e *Engine) PageCount() int {
	if e.lin != nil {
		return e.lin.PageCount
	}
	if e.totalLoad {
		return e.leafCount
	}
	if e.pagesNum == 0 {
		return 0
	}
	obj, ok := e.doc.Object(e.pagesNum)
	if !ok {
		return 0
	}
	if d := raw.DictOf(obj); d != nil {
		if n, ok := d.Int("Count"); ok && n > 0 && n <= int64(e.cfg.Limits.MaxPages) {
			return int(n)
		}
	}
	return 0
}

// Page returns the dictionary of page index when it can be located with the
// data received so far, nil otherwise. It requests nothing.
func (e *Engine) Page(index int) *raw.DictObj {
	if p := e.doc.Page(index); p != nil {
		return p
	}
	if e.status != StatusDone || index < 0 || index >= e.PageCount() {
		return nil
	}
	defer e.v.WithHints(nil)()
	num, err := e.locatePage(index)
	if err != nil {
		return nil
	}
	obj, err := e.object(num)
	if err != nil {
		return nil
	}
	page, ok := obj.(*raw.DictObj)
	if !ok {
		return nil
	}
	e.doc.SetPageObjNum(index, num)
	return page
}

// Root returns the document catalog once the document check passed it.
func (e *Engine) Root() *raw.DictObj { return e.doc.RootDict() }

// Info returns the document information dictionary, if there is one.
func (e *Engine) Info() *raw.DictObj { return e.doc.InfoDict() }

// HintTables returns the decoded hint tables of a linearized file.
func (e *Engine) HintTables() *raw.HintTable { return e.hints }

// Linearization returns the linearization parameters, nil for other files.
func (e *Engine) Linearization() *raw.Linearization { return e.lin }

// Document returns the objects loaded so far.
func (e *Engine) Document() *raw.Document { return e.doc }
