package dataavail

import "fmt"

// DocAvailStatus is the answer to a document or page check.
type DocAvailStatus int

const (
	DataError        DocAvailStatus = -1
	DataNotAvailable DocAvailStatus = 0
	DataAvailable    DocAvailStatus = 1
)

func (s DocAvailStatus) String() string {
	switch s {
	case DataError:
		return "error"
	case DataNotAvailable:
		return "not available"
	case DataAvailable:
		return "available"
	}
	return fmt.Sprintf("DocAvailStatus(%d)", int(s))
}

type LinearizationStatus int

const (
	LinearizationUnknown LinearizationStatus = -1
	NotLinearized        LinearizationStatus = 0
	Linearized           LinearizationStatus = 1
)

func (s LinearizationStatus) String() string {
	switch s {
	case LinearizationUnknown:
		return "unknown"
	case NotLinearized:
		return "not linearized"
	case Linearized:
		return "linearized"
	}
	return fmt.Sprintf("LinearizationStatus(%d)", int(s))
}

// FormStatus is the answer to a form check.
type FormStatus int

const (
	FormError        FormStatus = -1
	FormNotAvailable FormStatus = 0
	FormAvailable    FormStatus = 1
	FormNotExist     FormStatus = 2
)

func (s FormStatus) String() string {
	switch s {
	case FormError:
		return "error"
	case FormNotAvailable:
		return "not available"
	case FormAvailable:
		return "available"
	case FormNotExist:
		return "no form"
	}
	return fmt.Sprintf("FormStatus(%d)", int(s))
}

// Status is the phase of the document check.
type Status int

const (
	StatusHeader Status = iota
	StatusFirstPage
	StatusHintTable
	StatusLoadAllCrossRef
	StatusRoot
	StatusInfo
	StatusPageTree
	StatusPage
	StatusPageLaterLoad
	StatusResources
	StatusDone
	StatusError
	StatusLoadAllFile
)

var statusNames = [...]string{
	StatusHeader:          "header",
	StatusFirstPage:       "first page",
	StatusHintTable:       "hint table",
	StatusLoadAllCrossRef: "load all cross-references",
	StatusRoot:            "root",
	StatusInfo:            "info",
	StatusPageTree:        "page tree",
	StatusPage:            "page",
	StatusPageLaterLoad:   "page later load",
	StatusResources:       "resources",
	StatusDone:            "done",
	StatusError:           "error",
	StatusLoadAllFile:     "load all file",
}

func (s Status) String() string {
	if s >= 0 && int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("Status(%d)", int(s))
}
