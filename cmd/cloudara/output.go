package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"golang.org/x/term"
)

// printer writes a table on a terminal and JSON everywhere else.
type printer struct {
	w    io.Writer
	json bool
}

func newPrinter(w io.Writer, mode string) printer {
	switch mode {
	case "json":
		return printer{w: w, json: true}
	case "table":
		return printer{w: w}
	}
	return printer{w: w, json: !isTerminal(w)}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// emit prints v as JSON, or header and rows as an aligned table.
func (p printer) emit(v any, header []string, rows [][]string) error {
	if p.json {
		enc := json.NewEncoder(p.w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(header, "\t"))
	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}

// line prints a log line. JSON mode wraps it so the stream stays parseable.
func (p printer) line(text string) {
	if p.json {
		data, _ := json.Marshal(struct {
			Log string `json:"log"`
		}{Log: text})
		fmt.Fprintln(p.w, string(data))
		return
	}
	fmt.Fprintln(p.w, text)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
