package raw

import (
	"bytes"

	"golang.org/x/text/encoding/charmap"
	xunicode "golang.org/x/text/encoding/unicode"
)

// pdfDocDiffs lists the PDFDocEncoding code points that differ from Latin-1.
var pdfDocDiffs = map[rune]rune{
	0x80: '•', 0x81: '†', 0x82: '‡', 0x83: '…',
	0x84: '—', 0x85: '–', 0x86: 'ƒ', 0x87: '⁄',
	0x88: '‹', 0x89: '›', 0x8a: '−', 0x8b: '‰',
	0x8c: '„', 0x8d: '“', 0x8e: '”', 0x8f: '‘',
	0x90: '’', 0x91: '‚', 0x92: '™', 0x93: 'ﬁ',
	0x94: 'ﬂ', 0x95: 'Ł', 0x96: 'Œ', 0x97: 'Š',
	0x98: 'Ÿ', 0x99: 'Ž', 0x9a: 'ı', 0x9b: 'ł',
	0x9c: 'œ', 0x9d: 'š', 0x9e: 'ž', 0xa0: '€',
}

var (
	bomUTF16BE = []byte{0xfe, 0xff}
	bomUTF16LE = []byte{0xff, 0xfe}
	bomUTF8    = []byte{0xef, 0xbb, 0xbf}
)

// DecodeTextString decodes a PDF text string (UTF-16 with byte order mark,
// UTF-8 with byte order mark, or PDFDocEncoding).
func DecodeTextString(b []byte) string {
	switch {
	case bytes.HasPrefix(b, bomUTF16BE), bytes.HasPrefix(b, bomUTF16LE):
		out, err := xunicode.UTF16(xunicode.BigEndian, xunicode.UseBOM).NewDecoder().Bytes(b)
		if err == nil {
			return string(out)
		}
	case bytes.HasPrefix(b, bomUTF8):
		return string(b[len(bomUTF8):])
	}
	latin, err := charmap.ISO8859_1.NewDecoder().Bytes(b)
	if err != nil {
		return string(b)
	}
	rs := []rune(string(latin))
	for i, r := range rs {
		if d, ok := pdfDocDiffs[r]; ok {
			rs[i] = d
		}
	}
	return string(rs)
}

// TextOf decodes o when it is a string object.
func TextOf(o Object) (string, bool) {
	s, ok := o.(StringObj)
	if !ok {
		return "", false
	}
	return DecodeTextString(s.Bytes), true
}
