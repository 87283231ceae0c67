package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/wudi/pdfavail/dataavail"
	"github.com/wudi/pdfavail/ir/raw"
	"github.com/wudi/pdfavail/observability"
	"github.com/wudi/pdfavail/recovery"
	"github.com/wudi/pdfavail/source"
	"github.com/wudi/pdfavail/writer"
)

type options struct {
	pdfPath    string
	sequential bool
	chunk      int64
	block      int64
	align      int64
	strict     bool
	noHints    bool
	jsonOut    bool
	verbose    bool
	genPages   int
	genOut     string
}

func main() {
	opts, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "availcheck: %v\n", err)
		os.Exit(2)
	}
	if err := run(opts, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "availcheck: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var opts options
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: availcheck [flags] <pdf>\n       availcheck -gen out.pdf [-pages n]\n")
		flag.PrintDefaults()
	}
	flag.BoolVar(&opts.sequential, "sequential", false, "Receive the file front to back instead of serving requests")
	flag.Int64Var(&opts.chunk, "chunk", 16*1024, "Bytes received per round in sequential mode")
	flag.Int64Var(&opts.block, "block", 1024, "Granularity of received data")
	flag.Int64Var(&opts.align, "align", 0, "Round requests out to multiples of this many bytes")
	flag.BoolVar(&opts.strict, "strict", false, "Treat recoverable damage as an error")
	flag.BoolVar(&opts.noHints, "nohints", false, "Ignore hint tables of linearized files")
	flag.BoolVar(&opts.jsonOut, "json", false, "Print the report as JSON")
	flag.BoolVar(&opts.verbose, "v", false, "Log engine progress to stderr")
	flag.StringVar(&opts.genOut, "gen", "", "Write a linearized sample document to this path and exit")
	flag.IntVar(&opts.genPages, "pages", 10, "Page count of the generated sample")
	flag.Parse()

	if opts.genOut != "" {
		return opts, nil
	}
	if flag.NArg() != 1 {
		flag.Usage()
		return options{}, errors.New("missing pdf path")
	}
	opts.pdfPath = flag.Arg(0)
	if opts.chunk <= 0 || opts.block <= 0 {
		return options{}, errors.New("-chunk and -block must be positive")
	}
	return opts, nil
}

// pageReport is the state of the download when a page became available.
type pageReport struct {
	Page     int    `json:"page"`
	Status   string `json:"status"`
	Received int64  `json:"received"`
	Rounds   int    `json:"rounds"`
}

type report struct {
	File       string       `json:"file"`
	Size       int64        `json:"size"`
	Linearized string       `json:"linearized"`
	Title      string       `json:"title,omitempty"`
	Pages      int          `json:"pages"`
	Document   pageReport   `json:"document"`
	PageList   []pageReport `json:"pageList"`
	Form       string       `json:"form"`
	Error      string       `json:"error,omitempty"`
}

func run(opts options, out io.Writer) error {
	if opts.genOut != "" {
		return generate(opts)
	}
	data, err := os.ReadFile(opts.pdfPath)
	if err != nil {
		return err
	}
	cfg := dataavail.Config{
		DisableHintTables: opts.noHints,
		SegmentAlignment:  opts.align,
	}
	if opts.strict {
		cfg.Recovery = recovery.NewStrictStrategy()
	}
	if opts.verbose {
		cfg.Logger = observability.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	prog := source.NewProgressive(data, opts.block)
	e := dataavail.New(prog, prog, int64(len(data)), cfg)
	sim := &simulator{prog: prog, sequential: opts.sequential, chunk: opts.chunk}

	rep := report{File: opts.pdfPath, Size: int64(len(data))}
	rep.Document = sim.until(-1, e.IsDocAvail)
	rep.Linearized = e.IsLinearized().String()
	if info := e.Info(); info != nil {
		if v, ok := info.Get("Title"); ok {
			rep.Title, _ = raw.TextOf(v)
		}
	}
	if rep.Document.Status == dataavail.DataAvailable.String() {
		rep.Pages = e.PageCount()
		for i := 0; i < rep.Pages; i++ {
			pr := sim.until(i, func(h source.DownloadHints) dataavail.DocAvailStatus { return e.IsPageAvail(i, h) })
			rep.PageList = append(rep.PageList, pr)
			if pr.Status == dataavail.DataError.String() {
				break
			}
		}
		rep.Form = sim.form(e)
	}
	if err := e.Err(); err != nil {
		rep.Error = err.Error()
	}

	if opts.jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}
	printReport(out, rep)
	return nil
}

// simulator plays the server. In request mode it delivers exactly the ranges
// the engine asks for; in sequential mode it delivers the next chunk of the
// file whatever was asked.
type simulator struct {
	prog       *source.Progressive
	sequential bool
	chunk      int64
	next       int64
	rounds     int
}

func (s *simulator) deliver(hints source.Segments) bool {
	if s.sequential {
		if s.next >= s.prog.Size() {
			return false
		}
		s.prog.Add(s.next, s.chunk)
		s.next += s.chunk
	} else {
		if len(hints) == 0 {
			return false
		}
		s.prog.AddSegments(hints.Normalize())
	}
	s.rounds++
	return true
}

func (s *simulator) until(page int, check func(source.DownloadHints) dataavail.DocAvailStatus) pageReport {
	var hints source.Segments
	start := s.rounds
	for {
		hints.Reset()
		st := check(&hints)
		if st != dataavail.DataNotAvailable || !s.deliver(hints) {
			return pageReport{Page: page, Status: st.String(), Received: s.prog.Received(), Rounds: s.rounds - start}
		}
	}
}

func (s *simulator) form(e *dataavail.Engine) string {
	var hints source.Segments
	for {
		hints.Reset()
		st := e.IsFormAvail(&hints)
		if st != dataavail.FormNotAvailable || !s.deliver(hints) {
			return st.String()
		}
	}
}

func printReport(out io.Writer, rep report) {
	width := 80
	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		if w, _, err := term.GetSize(int(f.Fd())); err == nil && w > 20 {
			width = w
		}
	}
	rule := strings.Repeat("-", min(width, 60))
	fmt.Fprintf(out, "%s (%d bytes, %s)\n", rep.File, rep.Size, rep.Linearized)
	if rep.Title != "" {
		fmt.Fprintf(out, "title: %s\n", rep.Title)
	}
	fmt.Fprintln(out, rule)
	fmt.Fprintf(out, "document  %-14s %10d bytes %4d rounds\n", rep.Document.Status, rep.Document.Received, rep.Document.Rounds)
	for _, p := range rep.PageList {
		fmt.Fprintf(out, "page %-4d %-14s %10d bytes %4d rounds %s\n", p.Page+1, p.Status, p.Received, p.Rounds, bar(p.Received, rep.Size, width-60))
	}
	if rep.Form != "" {
		fmt.Fprintf(out, "form      %s\n", rep.Form)
	}
	if rep.Error != "" {
		fmt.Fprintf(out, "error: %s\n", rep.Error)
	}
}

// bar draws the received share of the file in n cells.
func bar(received, size int64, n int) string {
	if n < 5 || size == 0 {
		return ""
	}
	filled := int(received * int64(n) / size)
	return "[" + strings.Repeat("#", filled) + strings.Repeat(".", n-filled) + "]"
}

func generate(opts options) error {
	if opts.genPages < 1 {
		return errors.New("-pages must be at least 1")
	}
	doc := writer.Document{
		Fonts:      []string{"Helvetica", "Times-Roman", "Courier"},
		Info:       map[string]string{"Title": "availcheck sample", "Producer": "availcheck"},
		FormFields: []string{"name"},
		Compress:   true,
	}
	for i := 0; i < opts.genPages; i++ {
		var content strings.Builder
		for line := 0; line < 40; line++ {
			fmt.Fprintf(&content, "BT /F%d 11 Tf 72 %d Td (Page %d, line %d) Tj ET\n", i%3, 760-line*18, i+1, line+1)
		}
		doc.Pages = append(doc.Pages, writer.Page{Content: []byte(content.String()), Fonts: []int{0, i % 3}})
	}
	data, _, err := writer.Linearize(doc)
	if err != nil {
		return err
	}
	return os.WriteFile(opts.genOut, data, 0o644)
}
