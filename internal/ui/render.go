package ui

import (
	"FlowSpectra/internal/model"
	"fmt"
	"io"
	"strings"
	"time"
)

// Lines renders an output table as fixed width text, header first.
func Lines(out model.Output) []string {
	lines := make([]string, 0, len(out.Rows)+1)
	lines = append(lines, strings.TrimRight(strings.Join(out.KeyHeaders, "")+strings.Join(out.ValueHeaders, ""), " "))
	for _, row := range out.Rows {
		lines = append(lines, strings.TrimRight(strings.Join(row.Keys, "")+strings.Join(row.Values, ""), " "))
	}
	return lines
}

// Printer writes every export as plain text, for terminals without curses
// and for logs.
type Printer struct {
	w      io.Writer
	status func() string
	// MaxRows caps the rows printed per collector; zero prints all.
	MaxRows int
}

// NewPrinter creates a printer. status may be nil.
func NewPrinter(w io.Writer, status func() string) *Printer {
	return &Printer{w: w, status: status}
}

// Print writes one block per snapshot.
func (p *Printer) Print(snapshots []*model.Snapshot) {
	if len(snapshots) == 0 {
		return
	}
	fmt.Fprintf(p.w, "==== %s ====\n", snapshots[0].Timestamp.Format(time.DateTime))
	if p.status != nil {
		if s := p.status(); s != "" {
			fmt.Fprintln(p.w, s)
		}
	}
	for _, s := range snapshots {
		fmt.Fprintf(p.w, "-- %s --\n", s.Collector)
		lines := Lines(s.Output)
		if p.MaxRows > 0 && len(lines) > p.MaxRows+1 {
			lines = lines[:p.MaxRows+1]
		}
		for _, l := range lines {
			fmt.Fprintln(p.w, l)
		}
	}
}
