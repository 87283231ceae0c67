package dataavail

import (
	"github.com/wudi/pdfavail/observability"
	"github.com/wudi/pdfavail/recovery"
	"github.com/wudi/pdfavail/security"
)

// Config controls an availability session. The zero value is usable.
type Config struct {
	Limits security.Limits
	Logger observability.Logger
	Tracer observability.Tracer
	// Recovery decides whether tolerable damage (a broken hint stream, a
	// missing delimiter) is worked around or ends the session. Nil means
	// lenient.
	Recovery recovery.Strategy
	// DisableHintTables makes linearized files go through the cross-reference
	// table and page tree for every page but the first.
	DisableHintTables bool
	// SegmentAlignment rounds download requests out to multiples of this many
	// bytes. Zero requests exact ranges.
	SegmentAlignment int64
}

func (c Config) withDefaults() Config {
	c.Limits = c.Limits.OrDefault()
	if c.Logger == nil {
		c.Logger = observability.NopLogger{}
	}
	if c.Tracer == nil {
		c.Tracer = observability.NopTracer()
	}
	if c.Recovery == nil {
		c.Recovery = recovery.NewLenientStrategy()
	}
	return c
}
