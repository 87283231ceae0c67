package filters

import (
	"errors"
	"fmt"

	"github.com/wudi/pdfavail/ir/raw"
)

// applyPredictor undoes the /Predictor transform described by params (PDF 7.4.4.4).
func applyPredictor(data []byte, params *raw.DictObj) ([]byte, error) {
	predictor, _ := params.Int("Predictor")
	if predictor <= 1 {
		return data, nil
	}
	colors := intParam(params, "Colors", 1)
	bpc := intParam(params, "BitsPerComponent", 8)
	columns := intParam(params, "Columns", 1)
	if colors < 1 || colors > 32 || columns < 1 || columns > 1<<20 {
		return nil, fmt.Errorf("bad predictor parameters colors=%d columns=%d", colors, columns)
	}
	switch bpc {
	case 1, 2, 4, 8, 16:
	default:
		return nil, fmt.Errorf("bad predictor bits per component %d", bpc)
	}
	bpp := (colors*bpc + 7) / 8
	rowLen := (colors*bpc*columns + 7) / 8

	switch {
	case predictor == 2:
		return tiffPredict(data, rowLen, bpp, bpc), nil
	case predictor >= 10:
		return pngPredict(data, rowLen, bpp)
	}
	return nil, fmt.Errorf("unknown predictor %d", predictor)
}

func intParam(params *raw.DictObj, key string, def int) int {
	if v, ok := params.Int(key); ok {
		return int(v)
	}
	return def
}

// pngPredict reverses PNG row filters; every row is prefixed by its filter type.
func pngPredict(data []byte, rowLen, bpp int) ([]byte, error) {
	stride := rowLen + 1
	out := make([]byte, 0, len(data)/stride*rowLen)
	prev := make([]byte, rowLen)
	cur := make([]byte, rowLen)
	for off := 0; off < len(data); off += stride {
		end := off + stride
		if end > len(data) {
			// a truncated last row is kept as far as it goes
			end = len(data)
		}
		row := data[off:end]
		if len(row) == 0 {
			break
		}
		ft := row[0]
		n := copy(cur, row[1:])
		for i := n; i < rowLen; i++ {
			cur[i] = 0
		}
		for i := 0; i < rowLen; i++ {
			var left, upLeft byte
			if i >= bpp {
				left = cur[i-bpp]
				upLeft = prev[i-bpp]
			}
			up := prev[i]
			switch ft {
			case 0:
			case 1:
				cur[i] += left
			case 2:
				cur[i] += up
			case 3:
				cur[i] += byte((int(left) + int(up)) / 2)
			case 4:
				cur[i] += paeth(left, up, upLeft)
			default:
				return nil, errors.New("unknown PNG filter type")
			}
		}
		out = append(out, cur[:n]...)
		prev, cur = cur, prev
	}
	return out, nil
}

func paeth(a, b, c byte) byte {
	p := int(a) + int(b) - int(c)
	pa, pb, pc := abs(p-int(a)), abs(p-int(b)), abs(p-int(c))
	switch {
	case pa <= pb && pa <= pc:
		return a
	case pb <= pc:
		return b
	}
	return c
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// tiffPredict reverses TIFF predictor 2 for 8 and 16 bit components.
// Sub-byte components are returned unchanged.
func tiffPredict(data []byte, rowLen, bpp, bpc int) []byte {
	out := append([]byte(nil), data...)
	for off := 0; off+rowLen <= len(out); off += rowLen {
		row := out[off : off+rowLen]
		switch bpc {
		case 8:
			for i := bpp; i < rowLen; i++ {
				row[i] += row[i-bpp]
			}
		case 16:
			for i := bpp; i+1 < rowLen; i += 2 {
				v := uint16(row[i])<<8 | uint16(row[i+1])
				p := uint16(row[i-bpp])<<8 | uint16(row[i-bpp+1])
				v += p
				row[i], row[i+1] = byte(v>>8), byte(v)
			}
		}
	}
	return out
}
