package scanner

import (
	"bytes"
	"errors"
	"io"
	"strconv"

	"github.com/wudi/pdfavail/ir/raw"
	"github.com/wudi/pdfavail/recovery"
	"github.com/wudi/pdfavail/source"
)

type TokenType int

const (
	TokenDict    TokenType = iota // '<<'
	TokenArray                    // '['
	TokenName                     // '/Name'
	TokenString                   // literal or hex string
	TokenNumber                   // numeric value
	TokenBoolean                  // true/false
	TokenNull                     // null
	TokenKeyword                  // other keywords (obj, endobj, stream, R, >>, ], etc.)
)

type Token struct {
	Type  TokenType
	Pos   int64
	Str   string // names and keywords
	Bytes []byte // string payloads
	Hex   bool
	Int   int64
	Float float64
	IsInt bool
	Bool  bool
}

// IsKeyword reports whether the token is the keyword kw.
func (t Token) IsKeyword(kw string) bool { return t.Type == TokenKeyword && t.Str == kw }

// Source supplies bytes to the scanner. *source.Validator implements it.
type Source interface {
	Size() int64
	IsDataAvail(offset, size int64) bool
	ScheduleDownload(offset, size int64)
	ReadAt(p []byte, off int64) (int, error)
}

type Config struct {
	// WindowSize is the read-ahead buffer size. Default: 512.
	WindowSize      int
	MaxStringLength int64
	Recovery        recovery.Strategy
}

// ErrNotFound is returned by Search when the needle does not occur within the limit.
var ErrNotFound = errors.New("scanner: not found")

// Scanner is a pull tokenizer over a partially received file. It never
// produces a token from bytes that are not available: when the bytes needed
// to finish a token are missing it returns an error matching
// source.ErrNotAvailable and leaves its position unchanged.
type Scanner struct {
	src      Source
	cfg      Config
	window   []byte
	buf      []byte
	bufStart int64
	pos      int64
}

func New(src Source, cfg Config) *Scanner {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 512
	}
	return &Scanner{src: src, cfg: cfg, window: make([]byte, cfg.WindowSize)}
}

func (s *Scanner) Position() int64 { return s.pos }
func (s *Scanner) Size() int64     { return s.src.Size() }

func (s *Scanner) Seek(offset int64) error {
	if offset < 0 || offset > s.src.Size() {
		return raw.Malformed(offset, "seek out of range")
	}
	s.pos = offset
	return nil
}

// Next returns the next token. At the end of the file it returns io.EOF.
func (s *Scanner) Next() (Token, error) {
	start := s.pos
	tok, err := s.next()
	if err != nil {
		s.pos = start
		return Token{}, err
	}
	return tok, nil
}

// Peek returns the next token without consuming it.
func (s *Scanner) Peek() (Token, error) {
	start := s.pos
	tok, err := s.Next()
	s.pos = start
	return tok, err
}

func (s *Scanner) next() (Token, error) {
	if err := s.skipSpace(); err != nil {
		return Token{}, err
	}
	start := s.pos
	c, err := s.byteAt(s.pos)
	if err != nil {
		return Token{}, err
	}
	switch c {
	case '<':
		c2, err := s.byteAt(s.pos + 1)
		if err != nil && !errors.Is(err, io.EOF) {
			return Token{}, err
		}
		if err == nil && c2 == '<' {
			s.pos += 2
			return Token{Type: TokenDict, Str: "<<", Pos: start}, nil
		}
		return s.scanHexString()
	case '>':
		c2, err := s.byteAt(s.pos + 1)
		if err != nil && !errors.Is(err, io.EOF) {
			return Token{}, err
		}
		if err == nil && c2 == '>' {
			s.pos += 2
			return Token{Type: TokenKeyword, Str: ">>", Pos: start}, nil
		}
		s.pos++
		return Token{Type: TokenKeyword, Str: ">", Pos: start}, nil
	case '[':
		s.pos++
		return Token{Type: TokenArray, Str: "[", Pos: start}, nil
	case ']', '{', '}', ')':
		s.pos++
		return Token{Type: TokenKeyword, Str: string(c), Pos: start}, nil
	case '(':
		return s.scanLiteralString()
	case '/':
		return s.scanName()
	}
	word, err := s.readRegular()
	if err != nil {
		return Token{}, err
	}
	if len(word) == 0 {
		// a stray delimiter such as '%' inside a broken construct
		s.pos++
		return Token{Type: TokenKeyword, Str: string(c), Pos: start}, nil
	}
	if isNumberStart(word[0]) {
		if tok, ok := parseNumber(word); ok {
			tok.Pos = start
			return tok, nil
		}
	}
	switch string(word) {
	case "true":
		return Token{Type: TokenBoolean, Bool: true, Str: "true", Pos: start}, nil
	case "false":
		return Token{Type: TokenBoolean, Bool: false, Str: "false", Pos: start}, nil
	case "null":
		return Token{Type: TokenNull, Str: "null", Pos: start}, nil
	}
	return Token{Type: TokenKeyword, Str: string(word), Pos: start}, nil
}

// byteAt returns the byte at p, refilling the window when p lies outside it.
func (s *Scanner) byteAt(p int64) (byte, error) {
	if p >= s.src.Size() {
		return 0, io.EOF
	}
	if p >= s.bufStart && p < s.bufStart+int64(len(s.buf)) {
		return s.buf[p-s.bufStart], nil
	}
	if err := s.fill(p); err != nil {
		return 0, err
	}
	return s.buf[0], nil
}

// fill loads the window at p. When the full window is not available it
// shrinks to the largest available prefix; when not even one byte is
// available the window is requested and ErrNotAvailable returned.
func (s *Scanner) fill(p int64) error {
	want := int64(len(s.window))
	if rem := s.src.Size() - p; rem < want {
		want = rem
	}
	if want <= 0 {
		return io.EOF
	}
	for n := want; n > 0; n /= 2 {
		if !s.src.IsDataAvail(p, n) {
			continue
		}
		got, err := s.src.ReadAt(s.window[:n], p)
		if err != nil && !(errors.Is(err, io.EOF) && int64(got) == n) {
			return err
		}
		s.buf = s.window[:n]
		s.bufStart = p
		return nil
	}
	s.src.ScheduleDownload(p, want)
	return &source.NotAvailableError{Offset: p, Size: want}
}

func (s *Scanner) skipSpace() error {
	for {
		c, err := s.byteAt(s.pos)
		if err != nil {
			return err
		}
		if isWhitespace(c) {
			s.pos++
			continue
		}
		if c != '%' {
			return nil
		}
		for {
			s.pos++
			c, err := s.byteAt(s.pos)
			if err != nil {
				return err
			}
			if c == '\n' || c == '\r' {
				break
			}
		}
	}
}

// readRegular reads a run of regular characters. The run ends at whitespace,
// a delimiter or the end of the file.
func (s *Scanner) readRegular() ([]byte, error) {
	var out []byte
	for {
		c, err := s.byteAt(s.pos)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		if isWhitespace(c) || isDelimiter(c) {
			return out, nil
		}
		out = append(out, c)
		s.pos++
		if s.cfg.MaxStringLength > 0 && int64(len(out)) > s.cfg.MaxStringLength {
			return nil, raw.Malformed(s.pos, "token too long")
		}
	}
}

func parseNumber(word []byte) (Token, bool) {
	str := string(word)
	if bytes.IndexByte(word, '.') < 0 {
		if i, err := strconv.ParseInt(str, 10, 64); err == nil {
			return Token{Type: TokenNumber, Int: i, IsInt: true, Float: float64(i)}, true
		}
	}
	f, err := strconv.ParseFloat(str, 64)
	if err != nil {
		return Token{}, false
	}
	return Token{Type: TokenNumber, Float: f}, true
}

func (s *Scanner) scanName() (Token, error) {
	start := s.pos
	s.pos++ // skip '/'
	var out bytes.Buffer
	for {
		c, err := s.byteAt(s.pos)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Token{}, err
		}
		if isWhitespace(c) || isDelimiter(c) {
			break
		}
		if c == '#' {
			h1, err1 := s.byteAt(s.pos + 1)
			h2, err2 := s.byteAt(s.pos + 2)
			for _, e := range []error{err1, err2} {
				if e != nil && !errors.Is(e, io.EOF) {
					return Token{}, e
				}
			}
			if err1 == nil && err2 == nil && isHex(h1) && isHex(h2) {
				out.WriteByte(fromHex(h1)<<4 | fromHex(h2))
				s.pos += 3
				continue
			}
		}
		out.WriteByte(c)
		s.pos++
	}
	return Token{Type: TokenName, Str: out.String(), Pos: start}, nil
}

func (s *Scanner) scanLiteralString() (Token, error) {
	start := s.pos
	s.pos++ // skip '('
	var buf bytes.Buffer
	depth := 1
	for depth > 0 {
		c, err := s.byteAt(s.pos)
		if errors.Is(err, io.EOF) {
			if rerr := s.recover(raw.Malformed(start, "unterminated literal string"), "literal"); rerr != nil {
				return Token{}, rerr
			}
			break
		}
		if err != nil {
			return Token{}, err
		}
		s.pos++
		switch c {
		case '\\':
			if err := s.scanEscape(&buf); err != nil {
				return Token{}, err
			}
			continue
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				continue
			}
		}
		buf.WriteByte(c)
		if s.cfg.MaxStringLength > 0 && int64(buf.Len()) > s.cfg.MaxStringLength {
			return Token{}, raw.Malformed(start, "literal string too long")
		}
	}
	return Token{Type: TokenString, Bytes: buf.Bytes(), Pos: start}, nil
}

// scanEscape handles the character after a backslash (PDF 7.3.4.2).
func (s *Scanner) scanEscape(buf *bytes.Buffer) error {
	esc, err := s.byteAt(s.pos)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return err
	}
	s.pos++
	switch {
	case esc == '\r':
		next, err := s.byteAt(s.pos)
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		if err == nil && next == '\n' {
			s.pos++
		}
	case esc == '\n':
	case esc >= '0' && esc <= '7':
		val := int(esc - '0')
		for k := 0; k < 2; k++ {
			d, err := s.byteAt(s.pos)
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return err
			}
			if d < '0' || d > '7' {
				break
			}
			val = val<<3 + int(d-'0')
			s.pos++
		}
		buf.WriteByte(byte(val))
	default:
		buf.WriteByte(translateEscape(esc))
	}
	return nil
}

func translateEscape(c byte) byte {
	switch c {
	case 'n':
		return '\n'
	case 'r':
		return '\r'
	case 't':
		return '\t'
	case 'b':
		return '\b'
	case 'f':
		return '\f'
	default:
		return c
	}
}

func (s *Scanner) scanHexString() (Token, error) {
	start := s.pos
	s.pos++ // skip '<'
	var nibbles []byte
	for {
		c, err := s.byteAt(s.pos)
		if errors.Is(err, io.EOF) {
			if rerr := s.recover(raw.Malformed(start, "unterminated hex string"), "hex"); rerr != nil {
				return Token{}, rerr
			}
			break
		}
		if err != nil {
			return Token{}, err
		}
		s.pos++
		if c == '>' {
			break
		}
		if isWhitespace(c) {
			continue
		}
		if !isHex(c) {
			if rerr := s.recover(raw.Malformed(s.pos-1, "invalid hex digit %q", c), "hex"); rerr != nil {
				return Token{}, rerr
			}
			continue
		}
		nibbles = append(nibbles, c)
		if s.cfg.MaxStringLength > 0 && int64(len(nibbles)/2) > s.cfg.MaxStringLength {
			return Token{}, raw.Malformed(start, "hex string too long")
		}
	}
	if len(nibbles)%2 == 1 {
		nibbles = append(nibbles, '0')
	}
	out := make([]byte, 0, len(nibbles)/2)
	for i := 0; i < len(nibbles); i += 2 {
		out = append(out, fromHex(nibbles[i])<<4|fromHex(nibbles[i+1]))
	}
	return Token{Type: TokenString, Bytes: out, Hex: true, Pos: start}, nil
}

// SkipStreamEOL consumes the end-of-line marker that follows the stream keyword.
func (s *Scanner) SkipStreamEOL() error {
	start := s.pos
	c, err := s.byteAt(s.pos)
	if err != nil {
		return err
	}
	switch c {
	case '\r':
		next, err := s.byteAt(s.pos + 1)
		if err != nil && !errors.Is(err, io.EOF) {
			s.pos = start
			return err
		}
		s.pos++
		if err == nil && next == '\n' {
			s.pos++
		}
	case '\n':
		s.pos++
	default:
		return s.recover(raw.Malformed(s.pos, "stream keyword not followed by EOL"), "stream")
	}
	return nil
}

// ReadRaw returns the next n bytes verbatim. When fewer than n bytes remain in
// the file it returns them with io.ErrUnexpectedEOF.
func (s *Scanner) ReadRaw(n int64) ([]byte, error) {
	if n < 0 {
		return nil, raw.Malformed(s.pos, "negative length %d", n)
	}
	short := false
	if rem := s.src.Size() - s.pos; n > rem {
		n = rem
		short = true
	}
	if !s.src.IsDataAvail(s.pos, n) {
		s.src.ScheduleDownload(s.pos, n)
		return nil, &source.NotAvailableError{Offset: s.pos, Size: n}
	}
	out := make([]byte, n)
	got, err := s.src.ReadAt(out, s.pos)
	if err != nil && !(errors.Is(err, io.EOF) && int64(got) == n) {
		return nil, err
	}
	s.pos += n
	if short {
		return out, io.ErrUnexpectedEOF
	}
	return out, nil
}

// Search returns the offset of the next occurrence of needle at or after the
// current position, looking at most limit bytes ahead (0 means no limit).
// The position is not changed.
func (s *Scanner) Search(needle []byte, limit int64) (int64, error) {
	n := int64(len(needle))
	if n == 0 {
		return s.pos, nil
	}
	p := s.pos
	for {
		if limit > 0 && p-s.pos > limit {
			return -1, ErrNotFound
		}
		if p+n > s.src.Size() {
			return -1, io.EOF
		}
		if err := s.fill(p); err != nil {
			return -1, err
		}
		if int64(len(s.buf)) < n {
			ok, err := s.matchAt(p, needle)
			if err != nil {
				return -1, err
			}
			if ok {
				return p, nil
			}
			p++
			continue
		}
		if i := bytes.Index(s.buf, needle); i >= 0 {
			return p + int64(i), nil
		}
		p += int64(len(s.buf)) - n + 1
	}
}

func (s *Scanner) matchAt(p int64, needle []byte) (bool, error) {
	for k, want := range needle {
		c, err := s.byteAt(p + int64(k))
		if err != nil {
			return false, err
		}
		if c != want {
			return false, nil
		}
	}
	return true, nil
}

func (s *Scanner) recover(err error, component string) error {
	action := recovery.Decide(s.cfg.Recovery, err, recovery.Location{
		ByteOffset: s.pos,
		Component:  "scanner:" + component,
	})
	if action.Tolerated() {
		return nil
	}
	return err
}

func isWhitespace(c byte) bool {
	return c == 0x00 || c == 0x09 || c == 0x0A || c == 0x0C || c == 0x0D || c == 0x20
}

func isDelimiter(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

func isNumberStart(c byte) bool { return c == '+' || c == '-' || c == '.' || (c >= '0' && c <= '9') }

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func fromHex(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	default:
		return 0
	}
}
