package dashboard

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/yikf/shuffletrack/metrics"
)

// PollFunc samples the current counters. Called once at startup and again
// on every tick.
type PollFunc func() metrics.Snapshot

type tickMsg time.Time

// MonitorModel is a Bubble Tea model polling a running authority's
// metrics.Collector and re-rendering its Snapshot every interval.
type MonitorModel struct {
	poll     PollFunc
	interval time.Duration
	snap     metrics.Snapshot
	width    int
	height   int
	quitting bool
}

// NewMonitorModel creates a monitor model sampling poll every interval.
func NewMonitorModel(poll PollFunc, interval time.Duration) MonitorModel {
	return MonitorModel{poll: poll, interval: interval, snap: poll()}
}

func (m MonitorModel) Init() tea.Cmd {
	return m.tickCmd()
}

func (m MonitorModel) tickCmd() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m MonitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tickMsg:
		m.snap = m.poll()
		return m, m.tickCmd()

	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			m.quitting = true
			return m, tea.Quit
		}
	}

	return m, nil
}

func (m MonitorModel) View() string {
	if m.quitting {
		return ""
	}

	var b []string
	b = append(b, TitleStyle.Render("Shuffle Tracker — Live Metrics"))

	dispatcherBoxes := []string{
		m.statBox("Requests Served", m.snap.RequestsServed, highlightColor),
		m.statBox("Epoch Bumps", m.snap.EpochBumps, warningColor),
		m.statBox("Broadcast Switches", m.snap.BroadcastSwitches, primaryColor),
		m.statBox("Queue Length", m.snap.DispatcherQueueLen, mutedColor),
	}
	b = append(b, lipgloss.JoinHorizontal(lipgloss.Top, dispatcherBoxes...))

	cacheBoxes := []string{
		m.statBox("Cache Hits", m.snap.CacheHits, successColor),
		m.statBox("Cache Misses", m.snap.CacheMisses, warningColor),
		m.statBox("Coalesced Fetches", m.snap.CoalescedFetches, highlightColor),
		m.statBox("Fetch Failures", m.snap.MetadataFetchFail, errorColor),
	}
	b = append(b, lipgloss.JoinVertical(lipgloss.Left, "", lipgloss.JoinHorizontal(lipgloss.Top, cacheBoxes...)))

	content := lipgloss.JoinVertical(lipgloss.Left, b...)
	help := HelpStyle.Render("Press q or Ctrl+C to quit")
	return content + "\n" + help
}

func (m MonitorModel) statBox(label string, value int64, color lipgloss.Color) string {
	boxStyle := StatBoxStyle.BorderForeground(color)
	valueStr := StatValueStyle.Foreground(color).Render(fmt.Sprintf("%d", value))
	labelStr := StatLabelStyle.Render(label)
	content := lipgloss.JoinVertical(lipgloss.Center, valueStr, labelStr)
	return boxStyle.Render(content)
}

// RunMonitorTUI runs the monitor dashboard until the user quits.
func RunMonitorTUI(poll PollFunc, interval time.Duration) error {
	model := NewMonitorModel(poll, interval)
	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// RenderSnapshotStatic renders one Snapshot as a single frame, without the
// interactive program loop; `trackerd stats --tui` prints its output.
func RenderSnapshotStatic(snap metrics.Snapshot) string {
	model := NewMonitorModel(func() metrics.Snapshot { return snap }, time.Hour)
	model.width = 80
	model.height = 24
	return lipgloss.NewStyle().Padding(1, 2).Render(model.View())
}
