package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"go.trai.ch/kiln/internal/ui/style"
)

// View renders the UI.
func (m *Model) View() string {
	if m.ListHeight == 0 {
		return "Initializing..."
	}

	body := lipgloss.JoinHorizontal(
		lipgloss.Top,
		m.requestList(),
		m.logPane(),
	)
	return lipgloss.JoinVertical(lipgloss.Left, body, m.footer())
}

func (m *Model) requestList() string {
	var s strings.Builder

	s.WriteString(titleStyle.Render(fmt.Sprintf("REQUESTS · build %d", m.Epoch)) + "\n\n")

	start := m.ListOffset
	end := min(m.ListOffset+m.ListHeight, len(m.FlatList))
	start = min(start, end)

	for i := start; i < end; i++ {
		s.WriteString(m.renderRow(i, m.FlatList[i]) + "\n")
	}

	return listStyle.Render(s.String())
}

func (m *Model) renderRow(index int, node *RequestNode) string {
	style := m.rowStyle(node)

	cursor := "  "
	if index == m.SelectedIdx {
		cursor = selectedStyle.Render("> ")
		if node.Status == StatusRunning {
			style = selectedStyle
		}
	}

	fold := " "
	if len(node.Children) > 0 {
		fold = "▾"
		if !node.IsExpanded {
			fold = "▸"
		}
	}

	content := fmt.Sprintf("%s%s %s %s", strings.Repeat("  ", node.Depth), fold, m.icon(node), node.Name)
	if node.Status != StatusRunning && !node.Cached {
		content += " " + durationStyle.Render(node.EndTime.Sub(node.StartTime).Round(time.Millisecond).String())
	}
	return cursor + style.Render(content)
}

func (m *Model) icon(node *RequestNode) string {
	switch {
	case node.Status == StatusRunning:
		return m.spinner.View()
	default:
		return style.Outcome(node.Status == StatusError, node.Cached)
	}
}

func (m *Model) rowStyle(node *RequestNode) lipgloss.Style {
	switch {
	case node.Status == StatusRunning:
		return taskRunningStyle
	case node.Status == StatusError:
		return taskErrorStyle
	case node.Cached:
		return taskCachedStyle
	default:
		return taskDoneStyle
	}
}

func (m *Model) logPane() string {
	var header, content string

	if node := m.Selected(); node != nil {
		status := " (Manual)"
		if m.FollowMode {
			status = " (Following)"
		}
		titled := titleStyle
		if node.Status == StatusError {
			titled = failureTitleStyle
		}
		header = titled.Render("LOGS: " + node.Name + status)
		content = node.Log.View()
		if node.Err != nil && content == "" {
			content = taskErrorStyle.Render(node.Err.Error())
		}
	} else {
		header = titleStyle.Render("LOGS (Waiting...)")
	}

	return logStyle.Render(lipgloss.JoinVertical(lipgloss.Left, header, content))
}

func (m *Model) footer() string {
	running, done, cached, failed := m.Counts()
	parts := []string{
		fmt.Sprintf("%d running", running),
		fmt.Sprintf("%d done", done),
		fmt.Sprintf("%d cached", cached),
	}
	if failed > 0 {
		parts = append(parts, taskErrorStyle.Render(fmt.Sprintf("%d failed", failed)))
	}
	return footerStyle.Render(strings.Join(parts, " · ") + "   q quit · ↑/↓ select · enter fold · esc follow")
}
