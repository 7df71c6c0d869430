package tui_test

import (
	"io"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.trai.ch/kiln/internal/adapters/tui"
	"go.trai.ch/zerr"
)

func names(nodes []*tui.RequestNode) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.Name
	}
	return out
}

func send(m *tui.Model, msgs ...tea.Msg) {
	for _, msg := range msgs {
		m.Update(msg)
	}
}

func start(span, parent, name string) tui.MsgRequestStart {
	return tui.MsgRequestStart{SpanID: span, ParentID: parent, Name: name, StartTime: time.Unix(0, 0)}
}

func done(span string, err error, cached bool) tui.MsgRequestComplete {
	return tui.MsgRequestComplete{SpanID: span, EndTime: time.Unix(1, 0), Err: err, Cached: cached}
}

func key(s string) tea.KeyMsg {
	switch s {
	case "up":
		return tea.KeyMsg{Type: tea.KeyUp}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	default:
		return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
	}
}

func TestModel_BuildsTreeFromSpans(t *testing.T) {
	m := tui.NewModel(io.Discard)
	send(m,
		tui.MsgBuildStart{Epoch: 1, Roots: []string{"build"}},
		start("1", "", "build"),
		start("2", "1", "target:app"),
		start("3", "2", "target:lib"),
		start("4", "1", "target:docs"),
	)

	assert.Equal(t, []string{"build", "target:app", "target:lib", "target:docs"}, names(m.FlatList))
	assert.Equal(t, 2, m.SpanMap["3"].Depth)
	assert.Same(t, m.SpanMap["2"], m.SpanMap["3"].Parent)
}

func TestModel_HidesBookkeepingUntilFailure(t *testing.T) {
	m := tui.NewModel(io.Discard)
	send(m,
		start("1", "", "target:app"),
		start("2", "1", "resolve:./foo.js"),
		start("3", "1", "file:main.c"),
	)
	assert.Equal(t, []string{"target:app"}, names(m.FlatList))

	send(m, done("3", nil, false), done("2", zerr.New("input not found"), false))
	assert.Equal(t, []string{"target:app", "resolve:./foo.js"}, names(m.FlatList))
	assert.Equal(t, tui.StatusError, m.SpanMap["2"].Status)
}

func TestModel_FollowModeSelectsNewRequests(t *testing.T) {
	m := tui.NewModel(io.Discard)
	send(m, start("1", "", "build"), start("2", "1", "target:lib"))
	require.NotNil(t, m.Selected())
	assert.Equal(t, "target:lib", m.Selected().Name)

	// Manual navigation leaves follow mode.
	send(m, key("up"))
	assert.False(t, m.FollowMode)
	assert.Equal(t, "build", m.Selected().Name)

	send(m, start("3", "1", "target:app"))
	assert.Equal(t, "build", m.Selected().Name)

	// esc jumps to the most recent running request.
	send(m, key("esc"))
	assert.True(t, m.FollowMode)
	assert.Equal(t, "target:app", m.Selected().Name)
}

func TestModel_Navigation_Bounds(t *testing.T) {
	m := tui.NewModel(io.Discard)
	send(m, start("1", "", "a"), start("2", "", "b"))

	send(m, key("down"), key("j"))
	assert.Equal(t, 1, m.SelectedIdx)
	send(m, key("up"), key("k"), key("up"))
	assert.Equal(t, 0, m.SelectedIdx)
}

func TestModel_ToggleExpansion(t *testing.T) {
	m := tui.NewModel(io.Discard)
	send(m, start("1", "", "build"), start("2", "1", "target:lib"))
	send(m, key("up"), key("enter"))
	assert.Equal(t, []string{"build"}, names(m.FlatList))

	send(m, key("enter"))
	assert.Equal(t, []string{"build", "target:lib"}, names(m.FlatList))
}

func TestModel_BuildStartResets(t *testing.T) {
	m := tui.NewModel(io.Discard)
	send(m, start("1", "", "build"), done("1", nil, false))
	send(m, tui.MsgBuildStart{Epoch: 2})

	assert.Equal(t, uint64(2), m.Epoch)
	assert.Empty(t, m.FlatList)
	assert.Empty(t, m.SpanMap)
	assert.Nil(t, m.Selected())
}

func TestModel_Counts(t *testing.T) {
	m := tui.NewModel(io.Discard)
	send(m,
		start("1", "", "build"),
		start("2", "1", "target:a"),
		start("3", "1", "target:b"),
		start("4", "1", "target:c"),
		start("5", "1", "file:x"),
		done("2", nil, true),
		done("3", zerr.New("boom"), false),
		done("5", nil, false),
	)

	running, finished, cached, failed := m.Counts()
	assert.Equal(t, 2, running)
	assert.Equal(t, 0, finished)
	assert.Equal(t, 1, cached)
	assert.Equal(t, 1, failed)
}

func TestModel_LogsGoToRequestTerminal(t *testing.T) {
	m := tui.NewModel(io.Discard)
	send(m,
		tea.WindowSizeMsg{Width: 120, Height: 30},
		start("1", "", "target:lib"),
		tui.MsgRequestLog{SpanID: "1", Data: []byte("hello from lib\n")},
		tui.MsgRequestLog{SpanID: "unknown", Data: []byte("dropped\n")},
	)

	assert.Contains(t, m.SpanMap["1"].Log.View(), "hello from lib")
	assert.Positive(t, m.LogWidth)
	assert.Positive(t, m.ListHeight)
}

func TestModel_Quit(t *testing.T) {
	m := tui.NewModel(io.Discard)
	_, cmd := m.Update(key("q"))
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}
