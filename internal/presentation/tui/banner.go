package tui

import (
	"fmt"
	"io"
	"os"

	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// PrintBanner outputs the replayfuzz banner with the version.
func PrintBanner(w io.Writer, version string) {
	p := termenv.EnvColorProfile()
	lines := []struct {
		text  string
		color string
	}{
		{`                 _             __`, "#818cf8"},
		{` _ __ ___ _ __ | | __ _ _   _ / _|_   _ ________`, "#a78bfa"},
		{`| '__/ _ \ '_ \| |/ _' | | | | |_| | | |_  /_  /`, "#c084fc"},
		{`| | |  __/ |_) | | (_| | |_| |  _| |_| |/ / / /`, "#e879f9"},
		{`|_|  \___| .__/|_|\__,_|\__, |_|  \__,_/___/___|`, "#f472b6"},
		{`         |_|            |___/`, "#fb7185"},
	}

	fmt.Fprintln(w)
	for _, l := range lines {
		fmt.Fprintln(w, termenv.String(l.text).Foreground(p.Color(l.color)))
	}
	fmt.Fprintln(w, termenv.String("  "+version).Faint())
	fmt.Fprintln(w)
}
