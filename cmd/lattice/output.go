package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/muesli/termenv"
	"golang.org/x/term"

	"github.com/aretw0/lattice/pkg/domain"
)

// printer writes command output, colouring it only when w is a terminal.
type printer struct {
	w       io.Writer
	profile termenv.Profile
}

func newPrinter(w io.Writer) *printer {
	p := &printer{w: w, profile: termenv.Ascii}
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		p.profile = termenv.ColorProfile()
	}
	return p
}

var statusColors = map[domain.MutationStatus]string{
	domain.MutationPending: "#facc15",
	domain.MutationSyncing: "#38bdf8",
	domain.MutationFailed:  "#f87171",
	domain.MutationSynced:  "#4ade80",
}

func (p *printer) status(s domain.MutationStatus) string {
	c, ok := statusColors[s]
	if !ok {
		return string(s)
	}
	return termenv.String(string(s)).Foreground(p.profile.Color(c)).String()
}

func (p *printer) faint(s string) string {
	if p.profile == termenv.Ascii {
		return s
	}
	return termenv.String(s).Faint().String()
}

func (p *printer) println(a ...any) {
	fmt.Fprintln(p.w, a...)
}

func (p *printer) printf(format string, a ...any) {
	fmt.Fprintf(p.w, format, a...)
}

// json pretty-prints v.
func (p *printer) json(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("error marshaling output: %w", err)
	}
	fmt.Fprintln(p.w, string(data))
	return nil
}
