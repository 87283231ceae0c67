// Package recovery decides what happens when malformed input is met at a point
// where the analysis could either stop or carry on with a fallback.
package recovery

type Strategy interface {
	OnError(ctx Context, err error, location Location) Action
}

// Location identifies where a problem was found.
type Location struct {
	ByteOffset int64
	ObjectNum  int
	ObjectGen  int
	Component  string
}

type Action int

const (
	ActionFail Action = iota
	ActionSkip
	ActionFix
	ActionWarn
)

func (a Action) String() string {
	switch a {
	case ActionFail:
		return "fail"
	case ActionSkip:
		return "skip"
	case ActionFix:
		return "fix"
	case ActionWarn:
		return "warn"
	default:
		return "unknown"
	}
}

// Tolerated reports whether the action lets processing continue.
func (a Action) Tolerated() bool { return a != ActionFail }

type Context interface{ Done() <-chan struct{} }

// Decide asks s about err and returns ActionFail when s is nil.
func Decide(s Strategy, err error, loc Location) Action {
	if s == nil {
		return ActionFail
	}
	return s.OnError(nil, err, loc)
}
