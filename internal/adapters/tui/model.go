package tui

import (
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"go.trai.ch/kiln/internal/core/domain"
)

const (
	taskListWidthRatio = 0.35
	logPaneBorderWidth = 4
	footerHeight       = 1
	// defaultLogHeight sizes request terminals created before the first window size is known.
	defaultLogHeight = 24
)

// RequestStatus represents the current state of a request.
type RequestStatus string

const (
	// StatusRunning indicates the request is currently executing.
	StatusRunning RequestStatus = "Running"
	// StatusDone indicates the request completed successfully.
	StatusDone RequestStatus = "Done"
	// StatusError indicates the request failed.
	StatusError RequestStatus = "Error"
)

// RequestNode represents a single request in the request tree.
type RequestNode struct {
	SpanID    string
	Name      string
	Status    RequestStatus
	Cached    bool
	Err       error
	StartTime time.Time
	EndTime   time.Time
	Log       *LogPane

	Depth      int
	Parent     *RequestNode
	Children   []*RequestNode
	IsExpanded bool
	// Hidden is set on bookkeeping requests until they fail.
	Hidden bool
}

// Model represents the main TUI state.
type Model struct {
	Epoch     uint64
	Roots     []string
	TreeRoots []*RequestNode
	FlatList  []*RequestNode
	SpanMap   map[string]*RequestNode
	Output    *termenv.Output

	SelectedIdx int
	ListOffset  int
	ListHeight  int
	LogWidth    int
	LogHeight   int
	// FollowMode moves the selection to each request that starts.
	FollowMode bool

	spinner spinner.Model
}

// Init starts the spinner.
func (m *Model) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m *Model) ensureVisible() {
	if m.ListHeight <= 0 {
		return
	}
	if m.SelectedIdx < m.ListOffset {
		m.ListOffset = m.SelectedIdx
	} else if m.SelectedIdx >= m.ListOffset+m.ListHeight {
		m.ListOffset = m.SelectedIdx - m.ListHeight + 1
	}
}

// Selected returns the selected request, or nil.
func (m *Model) Selected() *RequestNode {
	if m.SelectedIdx >= 0 && m.SelectedIdx < len(m.FlatList) {
		return m.FlatList[m.SelectedIdx]
	}
	return nil
}

func (m *Model) selectNode(node *RequestNode) {
	for i, n := range m.FlatList {
		if n == node {
			m.SelectedIdx = i
			break
		}
	}
	m.ensureVisible()
	if m.FollowMode {
		node.Log.Follow()
	}
}

// refresh rebuilds the flat list and keeps the selection on the same node.
func (m *Model) refresh() {
	selected := m.Selected()
	m.FlatList = flattenTree(m.TreeRoots)
	if selected != nil {
		m.selectNode(selected)
	}
	if m.SelectedIdx >= len(m.FlatList) {
		m.SelectedIdx = max(len(m.FlatList)-1, 0)
	}
}

func (m *Model) newLogPane() *LogPane {
	if m.LogWidth > 0 && m.LogHeight > 0 {
		return NewLogPane(m.LogWidth, m.LogHeight)
	}
	return NewLogPane(0, defaultLogHeight)
}

// Update handles incoming messages and updates the model state.
//
//nolint:cyclop // one case per message type
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		listWidth := int(float64(msg.Width) * taskListWidthRatio)
		m.LogWidth = msg.Width - listWidth - logPaneBorderWidth

		headerHeight := lipgloss.Height(titleStyle.Render("REQUESTS") + "\n\n")
		m.LogHeight = msg.Height - headerHeight - footerHeight
		m.ListHeight = msg.Height - headerHeight - footerHeight
		m.ensureVisible()

		for _, node := range m.SpanMap {
			node.Log.Resize(m.LogWidth, m.LogHeight)
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case MsgBuildStart:
		m.Epoch = msg.Epoch
		m.Roots = msg.Roots
		m.TreeRoots = m.TreeRoots[:0]
		m.FlatList = m.FlatList[:0]
		m.SpanMap = make(map[string]*RequestNode)
		m.SelectedIdx = 0
		m.ListOffset = 0

	case MsgRequestStart:
		node := &RequestNode{
			SpanID:     msg.SpanID,
			Name:       msg.Name,
			Status:     StatusRunning,
			StartTime:  msg.StartTime,
			Log:        m.newLogPane(),
			IsExpanded: true,
			Hidden:     domain.IsBookkeeping(msg.Name),
		}
		m.attach(node, msg.ParentID)
		m.SpanMap[msg.SpanID] = node
		m.refresh()
		if m.FollowMode && !node.Hidden {
			m.selectNode(node)
		}

	case MsgRequestLog:
		if node, ok := m.SpanMap[msg.SpanID]; ok {
			_, _ = node.Log.Write(msg.Data)
		}

	case MsgRequestComplete:
		node, ok := m.SpanMap[msg.SpanID]
		if !ok {
			break
		}
		node.EndTime = msg.EndTime
		node.Cached = msg.Cached
		node.Err = msg.Err
		if msg.Err != nil {
			node.Status = StatusError
			reveal(node)
			m.refresh()
		} else {
			node.Status = StatusDone
		}
	}

	return m, nil
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "k", "up":
		if m.SelectedIdx > 0 {
			m.SelectedIdx--
			m.FollowMode = false
			m.ensureVisible()
		}
	case "j", "down":
		if m.SelectedIdx < len(m.FlatList)-1 {
			m.SelectedIdx++
			m.FollowMode = false
			m.ensureVisible()
		}
	case "enter", " ":
		if node := m.Selected(); node != nil && len(node.Children) > 0 {
			node.IsExpanded = !node.IsExpanded
			m.refresh()
		}
	case "esc":
		m.FollowMode = true
		// Jump to the most recently started running request.
		for i := len(m.FlatList) - 1; i >= 0; i-- {
			if m.FlatList[i].Status == StatusRunning {
				m.selectNode(m.FlatList[i])
				break
			}
		}
	default:
		// Scrolling keys go to the selected request's log pane.
		if node := m.Selected(); node != nil {
			node.Log.Update(msg)
		}
	}
	return m, nil
}

// Counts returns the number of running, done, cached and failed requests, excluding hidden
// bookkeeping requests.
func (m *Model) Counts() (running, done, cached, failed int) {
	for _, node := range m.SpanMap {
		if node.Hidden {
			continue
		}
		switch {
		case node.Status == StatusRunning:
			running++
		case node.Status == StatusError:
			failed++
		case node.Cached:
			cached++
		default:
			done++
		}
	}
	return running, done, cached, failed
}
