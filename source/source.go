// Package source is the byte-range boundary of the availability analysis: it
// answers whether a range of the file has been received and records the ranges
// the caller should fetch next.
package source

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

// FileAvail reports whether a byte range of the file has been received.
type FileAvail interface {
	IsDataAvail(offset, size int64) bool
}

// DownloadHints collects byte ranges the caller should fetch before retrying.
type DownloadHints interface {
	AddSegment(offset, size int64)
}

// ErrNotAvailable is returned, possibly wrapped, whenever an operation needs
// bytes that have not been received yet. It is not a failure: the caller
// supplies more data and retries.
var ErrNotAvailable = errors.New("data not yet available")

// NotAvailableError carries the range that was missing.
type NotAvailableError struct {
	Offset int64
	Size   int64
}

func (e *NotAvailableError) Error() string {
	return fmt.Sprintf("bytes %d..%d not yet available", e.Offset, e.Offset+e.Size)
}

func (e *NotAvailableError) Is(target error) bool { return target == ErrNotAvailable }

// IsNotAvailable reports whether err signals missing data.
func IsNotAvailable(err error) bool { return errors.Is(err, ErrNotAvailable) }

// Validator guards every read of the underlying file with the availability
// oracle. Reads of missing ranges fail with ErrNotAvailable and record a
// download request with the current hints.
type Validator struct {
	r     io.ReaderAt
	avail FileAvail
	size  int64
	hints DownloadHints
	align int64
}

// NewValidator wraps r, whose total length is size, with the oracle avail.
func NewValidator(avail FileAvail, r io.ReaderAt, size int64) *Validator {
	return &Validator{r: r, avail: avail, size: size}
}

// SetAlignment makes download requests start and end on multiples of n bytes
// (clamped to the file). Zero requests exact ranges.
func (v *Validator) SetAlignment(n int64) {
	if n < 0 {
		n = 0
	}
	v.align = n
}

// Size returns the total file length.
func (v *Validator) Size() int64 { return v.size }

// WithHints installs h as the request collector and returns a function that
// restores the previous one.
func (v *Validator) WithHints(h DownloadHints) func() {
	prev := v.hints
	v.hints = h
	return func() { v.hints = prev }
}

// IsDataAvail asks the oracle without recording a request. The range is
// clamped to the file.
func (v *Validator) IsDataAvail(offset, size int64) bool {
	if offset < 0 {
		return false
	}
	if offset >= v.size || size <= 0 {
		return true
	}
	if offset+size > v.size || offset+size < offset {
		size = v.size - offset
	}
	return v.avail.IsDataAvail(offset, size)
}

// ScheduleDownload records a request for the given range.
func (v *Validator) ScheduleDownload(offset, size int64) {
	if v.hints == nil || size <= 0 || offset >= v.size {
		return
	}
	if offset < 0 {
		offset = 0
	}
	end := offset + size
	if end > v.size || end < offset {
		end = v.size
	}
	if v.align > 0 {
		offset -= offset % v.align
		if rem := end % v.align; rem != 0 {
			end += v.align - rem
		}
		if end > v.size {
			end = v.size
		}
	}
	v.hints.AddSegment(offset, end-offset)
}

// CheckRange reports whether a range is available and requests it if not.
// Ranges starting past the end of the file count as available.
func (v *Validator) CheckRange(offset, size int64) bool {
	if offset > v.size {
		return true
	}
	if v.IsDataAvail(offset, size) {
		return true
	}
	v.ScheduleDownload(offset, size)
	return false
}

// CheckWholeFile reports whether every byte is available and requests the
// whole file if not.
func (v *Validator) CheckWholeFile() bool {
	return v.CheckRange(0, v.size)
}

// ReadAt reads len(p) bytes at off if they are available. Reads reaching past
// the end of the file return the available prefix and io.EOF.
func (v *Validator) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("read at negative offset %d", off)
	}
	if off >= v.size {
		return 0, io.EOF
	}
	want := int64(len(p))
	if off+want > v.size {
		want = v.size - off
	}
	if !v.IsDataAvail(off, want) {
		v.ScheduleDownload(off, want)
		return 0, &NotAvailableError{Offset: off, Size: want}
	}
	n, err := v.r.ReadAt(p[:want], off)
	if err != nil && !(errors.Is(err, io.EOF) && int64(n) == want) {
		return n, err
	}
	if want < int64(len(p)) {
		return n, io.EOF
	}
	return n, nil
}

type complete struct{}

func (complete) IsDataAvail(int64, int64) bool { return true }

// FromBytes returns a validator over data that is entirely available, used for
// decoded stream contents.
func FromBytes(data []byte) *Validator {
	return NewValidator(complete{}, bytes.NewReader(data), int64(len(data)))
}
