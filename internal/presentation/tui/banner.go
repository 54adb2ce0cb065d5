package tui

import (
	"fmt"
	"io"

	"github.com/muesli/termenv"
)

var bannerLines = []struct {
	text  string
	color string
}{
	{" _          _   _   _          ", "#38bdf8"},
	{"| |    __ _| |_| |_(_) ___ ___ ", "#22d3ee"},
	{"| |   / _` | __| __| |/ __/ _ \\", "#2dd4bf"},
	{"| |__| (_| | |_| |_| | (_|  __/", "#34d399"},
	{"|_____\\__,_|\\__|\\__|_|\\___\\___|", "#4ade80"},
}

// PrintBanner writes the Lattice banner to w using the given color profile.
func PrintBanner(w io.Writer, p termenv.Profile) {
	fmt.Fprintln(w)
	for _, l := range bannerLines {
		fmt.Fprintln(w, termenv.String(l.text).Foreground(p.Color(l.color)))
	}
	fmt.Fprintln(w)
}
