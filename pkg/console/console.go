// Package console prints the user-facing progress banners of the mu CLI.
package console

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// DefaultWidth is used when the output is not a terminal.
const DefaultWidth = 80

// Printer writes full-width progress banners.
type Printer struct {
	out   io.Writer
	style lipgloss.Style
	width func() int
}

// New returns a printer that writes to out.
func New(out io.Writer) *Printer {
	r := lipgloss.NewRenderer(out)
	return &Printer{
		out: out,
		style: r.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("2")),
		width: func() int { return terminalWidth(out) },
	}
}

// Discard returns a printer that writes nothing.
func Discard() *Printer {
	return New(io.Discard)
}

// Banner prints "[μ]: message" padded to the terminal width.
func (p *Printer) Banner(message string) {
	line := fmt.Sprintf("[μ]: %s ", message)
	width := p.width()
	if w := lipgloss.Width(line); w > width {
		width = w
	}
	fmt.Fprintln(p.out, p.style.Width(width).Render(line))
}

// Bannerf formats and prints a banner.
func (p *Printer) Bannerf(format string, args ...interface{}) {
	p.Banner(fmt.Sprintf(format, args...))
}

func terminalWidth(w io.Writer) int {
	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return DefaultWidth
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil || width <= 0 {
		return DefaultWidth
	}
	return width
}
