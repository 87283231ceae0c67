package filters

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/hhrutter/lzw"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zlib"

	"github.com/wudi/pdfavail/ir/raw"
)

func TestFlateDecode(t *testing.T) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	w.Write([]byte("hello world"))
	w.Close()

	dec := NewFlateDecoder()
	out, err := dec.Decode(context.Background(), buf.Bytes(), nil)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if string(out) != "hello world" {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestFlateDecodeRawDeflate(t *testing.T) {
	var buf bytes.Buffer
	w, _ := flate.NewWriter(&buf, flate.BestSpeed)
	w.Write([]byte("no zlib header"))
	w.Close()

	out, err := NewFlateDecoder().Decode(context.Background(), buf.Bytes(), nil)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if string(out) != "no zlib header" {
		t.Fatalf("unexpected output: %q", out)
	}
}

func pngParams(columns int64) *raw.DictObj {
	params := raw.Dict()
	params.Set("Predictor", raw.NumberInt(12))
	params.Set("Colors", raw.NumberInt(1))
	params.Set("BitsPerComponent", raw.NumberInt(8))
	params.Set("Columns", raw.NumberInt(columns))
	return params
}

func TestFlateDecodeWithPredictor(t *testing.T) {
	var comp bytes.Buffer
	w := zlib.NewWriter(&comp)
	// PNG predictor row: filter byte 1 (Sub), then row bytes.
	w.Write([]byte{1, 10, 12, 20})
	w.Close()

	dec := NewFlateDecoder()
	out, err := dec.Decode(context.Background(), comp.Bytes(), pngParams(3))
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	want := []byte{10, 22, 42}
	if !bytes.Equal(out, want) {
		t.Fatalf("predictor output mismatch: got %v want %v", out, want)
	}
}

func TestPNGPredictorUp(t *testing.T) {
	// two rows: None then Up
	data := []byte{0, 1, 2, 3, 2, 1, 1, 1}
	out, err := applyPredictor(data, pngParams(3))
	if err != nil {
		t.Fatalf("predictor: %v", err)
	}
	if want := []byte{1, 2, 3, 2, 3, 4}; !bytes.Equal(out, want) {
		t.Fatalf("got %v want %v", out, want)
	}
}

func TestTIFFPredictor(t *testing.T) {
	params := raw.Dict()
	params.Set("Predictor", raw.NumberInt(2))
	params.Set("Columns", raw.NumberInt(4))
	out, err := applyPredictor([]byte{5, 1, 1, 1}, params)
	if err != nil {
		t.Fatalf("predictor: %v", err)
	}
	if want := []byte{5, 6, 7, 8}; !bytes.Equal(out, want) {
		t.Fatalf("got %v want %v", out, want)
	}
}

func TestLZWDecode(t *testing.T) {
	var buf bytes.Buffer
	w := lzw.NewWriter(&buf, true)
	input := []byte("hello hello hello")
	if _, err := w.Write(input); err != nil {
		t.Fatalf("write: %v", err)
	}
	w.Close()

	dec := NewLZWDecoder()
	out, err := dec.Decode(context.Background(), buf.Bytes(), nil)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if !bytes.Equal(out, input) {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestLZWDecodeWithPredictor(t *testing.T) {
	// Single PNG row with filter None: [0,1,2,3]
	var buf bytes.Buffer
	w := lzw.NewWriter(&buf, true)
	w.Write([]byte{0, 1, 2, 3})
	w.Close()

	dec := NewLZWDecoder()
	out, err := dec.Decode(context.Background(), buf.Bytes(), pngParams(3))
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if !bytes.Equal(out, []byte{1, 2, 3}) {
		t.Fatalf("unexpected output: %v", out)
	}
}

func TestRunLengthDecode(t *testing.T) {
	// literal run of 3 bytes (len=2), then repeat 'A' 2 times (len=255 => count=2), then EOD 128
	data := []byte{2, 'h', 'i', '!', 255, 'A', 128}
	dec := NewRunLengthDecoder()
	out, err := dec.Decode(context.Background(), data, nil)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if string(out) != "hi!AA" {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestASCII85Decode(t *testing.T) {
	dec := NewASCII85Decoder()
	out, err := dec.Decode(context.Background(), []byte("<~87cURD_*#4DfTZ)+T~>"), nil)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if string(out) != "Hello, World!" {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestASCIIHexDecode(t *testing.T) {
	dec := NewASCIIHexDecoder()
	out, err := dec.Decode(context.Background(), []byte("68 65 6c6c6f20776f726c646>"), nil)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if string(out) != "hello world`" {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestPipelineDecodeStream(t *testing.T) {
	var comp bytes.Buffer
	w := zlib.NewWriter(&comp)
	w.Write([]byte("stream payload"))
	w.Close()
	hexed := bytes.ToUpper([]byte(hexString(comp.Bytes())))
	hexed = append(hexed, '>')

	dict := raw.Dict()
	dict.Set("Filter", raw.NewArray(raw.NameLiteral("AHx"), raw.NameLiteral("FlateDecode")))
	stream := raw.NewStream(dict, hexed)

	p := NewDefaultPipeline(Limits{})
	out, err := p.DecodeStream(context.Background(), stream)
	if err != nil {
		t.Fatalf("decode stream: %v", err)
	}
	if string(out) != "stream payload" {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestPipelineLimit(t *testing.T) {
	var comp bytes.Buffer
	w := zlib.NewWriter(&comp)
	w.Write(bytes.Repeat([]byte{'x'}, 4096))
	w.Close()

	p := NewDefaultPipeline(Limits{MaxDecompressedSize: 1024})
	_, err := p.Decode(context.Background(), comp.Bytes(), []string{"FlateDecode"}, nil)
	if !errors.Is(err, ErrLimitExceeded) {
		t.Fatalf("expected limit error, got %v", err)
	}
}

func TestUnsupportedFilters(t *testing.T) {
	fp := NewDefaultPipeline(Limits{})
	_, err := fp.Decode(context.Background(), []byte{0x00}, []string{"JPXDecode"}, nil)
	var ue UnsupportedError
	if err == nil || !errors.As(err, &ue) || ue.Filter != "JPXDecode" {
		t.Fatalf("expected unsupported error, got %v", err)
	}
}

func TestExtractFiltersKeepsParamSlots(t *testing.T) {
	dict := raw.Dict()
	dict.Set("Filter", raw.NewArray(raw.NameLiteral("ASCII85Decode"), raw.NameLiteral("FlateDecode")))
	dict.Set("DecodeParms", raw.NewArray(raw.NullObj{}, pngParams(5)))
	names, params := ExtractFilters(dict)
	if len(names) != 2 || len(params) != 2 {
		t.Fatalf("names=%v params=%d", names, len(params))
	}
	if params[0] != nil {
		t.Fatalf("null parameter slot should be nil")
	}
	if c, _ := params[1].Int("Columns"); c != 5 {
		t.Fatalf("second parameter slot lost: %v", params[1])
	}
}

func hexString(b []byte) string {
	const digits = "0123456789abcdef"
	out := make([]byte, 0, len(b)*2)
	for _, c := range b {
		out = append(out, digits[c>>4], digits[c&0xf])
	}
	return string(out)
}
