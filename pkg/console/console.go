// Package console renders status panels for humans watching a run. It always
// writes to a caller-supplied writer (stderr in practice) so it never mixes
// with JSON-RPC traffic on stdout.
package console

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

// Tone selects the border colour of a panel.
type Tone int

const (
	Info Tone = iota
	Success
	Warning
	Failure
)

var (
	toneColors = map[Tone]lipgloss.Color{
		Info:    lipgloss.Color("6"), // cyan
		Success: lipgloss.Color("2"), // green
		Warning: lipgloss.Color("3"), // yellow
		Failure: lipgloss.Color("1"), // red
	}

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(0, 1)

	titleStyle = lipgloss.NewStyle().Bold(true)
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8")) // gray
)

// Console writes panels to w. A nil *Console discards everything.
type Console struct {
	mu sync.Mutex
	w  io.Writer
}

// New returns a Console writing to w.
func New(w io.Writer) *Console {
	return &Console{w: w}
}

// Panel renders body inside a bordered box. An empty title omits the header.
func (c *Console) Panel(title, body string, tone Tone) {
	if c == nil || c.w == nil {
		return
	}

	content := body
	if title != "" {
		content = titleStyle.Render(title) + "\n" + body
	}

	out := panelStyle.BorderForeground(toneColors[tone]).Render(content)

	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintln(c.w, out)
}

// Line writes a single dim status line.
func (c *Console) Line(format string, args ...any) {
	if c == nil || c.w == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintln(c.w, dimStyle.Render(fmt.Sprintf(format, args...)))
}
