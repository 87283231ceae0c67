package security

// Limits defines security boundaries for analysing untrusted PDFs.
// These limits keep hostile structures (deep trees, cyclic chains, huge
// counts) from exhausting the stack or memory.
type Limits struct {
	// Maximum decompressed stream size (prevent zip bombs). Default: 100 MB.
	MaxDecompressedSize int64

	// Maximum nesting of arrays and dictionaries inside one object. Default: 100.
	MaxNestingDepth int

	// Maximum chain of indirect lookups while loading one object
	// (indirect /Length, object streams). Default: 16.
	MaxIndirectDepth int

	// Maximum XRef chain depth (Prev entries). Default: 50.
	MaxXRefDepth int

	// Maximum page tree depth. Default: 1024.
	MaxPageTreeDepth int

	// Maximum /Parent hops when looking up inherited resources. Default: 64.
	MaxInheritDepth int

	// Upper bound (exclusive) on page counts. Default: 0xFFFFF.
	MaxPages int

	// Upper bound (exclusive) on object numbers. Default: 4M.
	MaxObjectNumber int

	// Maximum array size (number of elements). Default: 100,000.
	MaxArraySize int

	// Maximum dictionary size (number of entries). Default: 10,000.
	MaxDictSize int

	// Maximum string length (bytes). Default: 10 MB.
	MaxStringLength int64

	// Maximum raw stream length (bytes). Default: 50 MB.
	MaxStreamLength int64
}

// DefaultLimits returns a Limits struct with safe default values.
func DefaultLimits() Limits {
	return Limits{
		MaxDecompressedSize: 100 * 1024 * 1024, // 100 MB
		MaxNestingDepth:     100,
		MaxIndirectDepth:    16,
		MaxXRefDepth:        50,
		MaxPageTreeDepth:    1024,
		MaxInheritDepth:     64,
		MaxPages:            0xFFFFF,
		MaxObjectNumber:     4 * 1024 * 1024,
		MaxArraySize:        100000,
		MaxDictSize:         10000,
		MaxStringLength:     10 * 1024 * 1024, // 10 MB
		MaxStreamLength:     50 * 1024 * 1024, // 50 MB
	}
}

// OrDefault returns l with every zero field replaced by its default.
func (l Limits) OrDefault() Limits {
	d := DefaultLimits()
	if l.MaxDecompressedSize == 0 {
		l.MaxDecompressedSize = d.MaxDecompressedSize
	}
	if l.MaxNestingDepth == 0 {
		l.MaxNestingDepth = d.MaxNestingDepth
	}
	if l.MaxIndirectDepth == 0 {
		l.MaxIndirectDepth = d.MaxIndirectDepth
	}
	if l.MaxXRefDepth == 0 {
		l.MaxXRefDepth = d.MaxXRefDepth
	}
	if l.MaxPageTreeDepth == 0 {
		l.MaxPageTreeDepth = d.MaxPageTreeDepth
	}
	if l.MaxInheritDepth == 0 {
		l.MaxInheritDepth = d.MaxInheritDepth
	}
	if l.MaxPages == 0 {
		l.MaxPages = d.MaxPages
	}
	if l.MaxObjectNumber == 0 {
		l.MaxObjectNumber = d.MaxObjectNumber
	}
	if l.MaxArraySize == 0 {
		l.MaxArraySize = d.MaxArraySize
	}
	if l.MaxDictSize == 0 {
		l.MaxDictSize = d.MaxDictSize
	}
	if l.MaxStringLength == 0 {
		l.MaxStringLength = d.MaxStringLength
	}
	if l.MaxStreamLength == 0 {
		l.MaxStreamLength = d.MaxStreamLength
	}
	return l
}
