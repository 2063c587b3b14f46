package render

import (
	"os"

	"github.com/charmbracelet/glamour"
	"github.com/pkg/errors"
	"golang.org/x/term"
)

const DefaultWidth = 80

// TerminalWidth returns the width of the terminal on f, or fallback when f is
// not a terminal.
func TerminalWidth(f *os.File, fallback int) int {
	if f == nil {
		return fallback
	}
	w, _, err := term.GetSize(int(f.Fd()))
	if err != nil || w <= 0 {
		return fallback
	}
	return w
}

// Styled renders markdown for a dark terminal, wrapped at width.
func Styled(md string, width int) (string, error) {
	if width <= 0 {
		width = DefaultWidth
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", errors.Wrap(err, "create markdown renderer")
	}
	out, err := r.Render(md)
	if err != nil {
		return "", errors.Wrap(err, "render markdown")
	}
	return out, nil
}
