package tui

import (
	"bytes"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/vito/midterm"
)

// LogPane shows the output of one request. Commands run under a PTY, so output passes through
// a midterm virtual terminal that applies cursor movement and colors as a real one would.
//
// A following pane keeps its last row visible as output arrives. Scrolling away stops
// following; scrolling back to the bottom resumes it.
type LogPane struct {
	mu     sync.Mutex
	vt     *midterm.Terminal
	top    int
	height int
	follow bool
	buf    bytes.Buffer
}

// NewLogPane creates a following pane. A zero width lets the terminal grow with its output.
func NewLogPane(width, height int) *LogPane {
	p := &LogPane{vt: midterm.NewAutoResizingTerminal(), follow: true}
	p.Resize(width, height)
	return p
}

// Write feeds request output to the terminal.
func (p *LogPane) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n, err := p.vt.Write(b)
	if p.follow {
		p.top = p.bottom()
	}
	return n, err
}

// Resize sets the visible area. The height is at least one row.
func (p *LogPane) Resize(width, height int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if width > 0 {
		p.vt.ResizeX(width)
	}
	p.height = max(height, 1)
	if p.follow {
		p.scrollTo(p.bottom())
		return
	}
	p.scrollTo(p.top)
}

// Follow scrolls to the bottom and keeps following new output.
func (p *LogPane) Follow() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scrollTo(p.bottom())
}

// Following reports whether the pane tracks new output.
func (p *LogPane) Following() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.follow
}

// Top returns the first visible row.
func (p *LogPane) Top() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.top
}

// Lines returns the number of rows written so far.
func (p *LogPane) Lines() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.vt.UsedHeight()
}

// View renders the visible rows.
func (p *LogPane) View() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.buf.Reset()
	end := min(p.top+p.height, p.vt.UsedHeight())
	for row := p.top; row < end; row++ {
		if row > p.top {
			_ = p.buf.WriteByte('\n')
		}
		_ = p.vt.RenderLine(&p.buf, row)
	}
	return p.buf.String()
}

// Update applies the scrolling keys. Arrow keys belong to the request list, so the pane
// scrolls by line with J and K.
func (p *LogPane) Update(msg tea.Msg) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	switch key.String() {
	case "K":
		p.scrollTo(p.top - 1)
	case "J":
		p.scrollTo(p.top + 1)
	case "pgup", "ctrl+u":
		p.scrollTo(p.top - p.height)
	case "pgdown", "ctrl+d":
		p.scrollTo(p.top + p.height)
	case "home", "g":
		p.scrollTo(0)
	case "end", "G":
		p.scrollTo(p.bottom())
	}
}

// scrollTo clamps row into the scrollable range. Reaching the bottom resumes following.
func (p *LogPane) scrollTo(row int) {
	p.top = max(min(row, p.bottom()), 0)
	p.follow = p.top == p.bottom()
}

// bottom is the first row of the last full page.
func (p *LogPane) bottom() int {
	return max(p.vt.UsedHeight()-p.height, 0)
}
