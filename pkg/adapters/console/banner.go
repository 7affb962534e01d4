package console

import (
	"fmt"
	"io"

	"github.com/muesli/termenv"
)

// PrintBanner writes the startup banner.
func PrintBanner(w io.Writer, version string) {
	out := termenv.NewOutput(w)
	lines := []struct {
		text  string
		color string
	}{
		{`  _                                _`, "#818cf8"},
		{` | |_ _____ ___ _ ___ _ _  __| |___ _ _`, "#a78bfa"},
		{` |  _/ -_) \ / '_/ -_) ' \/ _` + "`" + ` / -_) '_|`, "#c084fc"},
		{`  \__\___/_\_\_| \___|_||_\__,_\___|_|`, "#e879f9"},
	}

	fmt.Fprintln(out)
	for _, l := range lines {
		fmt.Fprintln(out, out.String(l.text).Foreground(out.Color(l.color)))
	}
	fmt.Fprintln(out, out.String("  "+version).Faint())
	fmt.Fprintln(out)
}
