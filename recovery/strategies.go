package recovery

import "fmt"

// StrictStrategy turns every recoverable problem into a failure.
type StrictStrategy struct{}

func NewStrictStrategy() *StrictStrategy {
	return &StrictStrategy{}
}

func (s *StrictStrategy) OnError(ctx Context, err error, location Location) Action {
	return ActionFail
}

// LenientStrategy keeps going wherever a fallback exists and remembers what
// it tolerated.
type LenientStrategy struct {
	Errors []error
	// Limit caps the number of remembered errors; 0 means 100.
	Limit int
}

func NewLenientStrategy() *LenientStrategy {
	return &LenientStrategy{}
}

func (s *LenientStrategy) OnError(ctx Context, err error, location Location) Action {
	limit := s.Limit
	if limit == 0 {
		limit = 100
	}
	if len(s.Errors) < limit {
		s.Errors = append(s.Errors, fmt.Errorf("[%s] offset %d: %w", location.Component, location.ByteOffset, err))
	}
	return ActionWarn
}
