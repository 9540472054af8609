// Package tui renders the live monitoring dashboard for a running alerting
// service. It consumes metrics snapshots from a Feed, which may be the
// in-process collector or a remote connection.
package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/careflow/akimon/internal/metrics"
)

// Feed supplies snapshot updates and recent log lines to the dashboard.
// *metrics.Collector satisfies it directly.
type Feed interface {
	Subscribe() chan metrics.Snapshot
	Unsubscribe(chan metrics.Snapshot)
	Logs() []metrics.LogEntry
}

// snapshotMsg carries a new snapshot into the Bubble Tea update loop.
type snapshotMsg metrics.Snapshot

// Model is the main Bubble Tea model for the dashboard.
type Model struct {
	feed     Feed
	sub      chan metrics.Snapshot
	snapshot metrics.Snapshot

	width  int
	height int
	ready  bool
}

// NewModel creates a dashboard model connected to the given feed.
func NewModel(feed Feed) Model {
	return Model{feed: feed, sub: feed.Subscribe()}
}

// Init starts waiting for snapshot updates.
func (m Model) Init() tea.Cmd {
	return waitForSnapshot(m.sub)
}

func waitForSnapshot(sub chan metrics.Snapshot) tea.Cmd {
	return func() tea.Msg {
		snap, ok := <-sub
		if !ok {
			return nil
		}
		return snapshotMsg(snap)
	}
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			if m.sub != nil {
				m.feed.Unsubscribe(m.sub)
			}
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true

	case snapshotMsg:
		m.snapshot = metrics.Snapshot(msg)
		return m, waitForSnapshot(m.sub)
	}

	return m, nil
}

// View renders the full dashboard.
func (m Model) View() string {
	if !m.ready {
		return "Initializing..."
	}

	w := m.width
	snap := m.snapshot

	var sections []string

	title := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#FFFFFF")).
		Background(colorPrimary).
		Width(w).
		Padding(0, 1).
		Render(" akimon")
	sections = append(sections, title)

	sections = append(sections, boxStyle.Width(w-2).Render(renderHeader(snap)))
	sections = append(sections, boxStyle.Width(w-2).Render(renderFlow(snap)))
	sections = append(sections, boxStyle.Width(w-2).Render(renderDetections(snap)))
	sections = append(sections, boxStyle.Width(w-2).Render(renderLogs(m.feed.Logs(), 8)))

	help := helpStyle.Render("  q: quit")
	sections = append(sections, help)

	return strings.Join(sections, "\n")
}

func renderHeader(snap metrics.Snapshot) string {
	elapsed := time.Duration(snap.ElapsedSec * float64(time.Second)).Truncate(time.Second)
	parts := []string{
		labelStyle.Render("Phase ") + phaseStyle.Render(snap.Phase),
		labelStyle.Render("Up ") + valueStyle.Render(elapsed.String()),
		labelStyle.Render("Reconnects ") + valueStyle.Render(fmt.Sprintf("%d", snap.Reconnections)),
		labelStyle.Render("Msg/s ") + valueStyle.Render(fmt.Sprintf("%.1f", snap.MessagesPerSec)),
	}
	if snap.ErrorCount > 0 {
		parts = append(parts, alertStyle.Render(fmt.Sprintf("Errors %d", snap.ErrorCount)))
	}
	return strings.Join(parts, "   ")
}

func renderFlow(snap metrics.Snapshot) string {
	lines := []string{
		labelStyle.Render("Messages   ") + valueStyle.Render(fmt.Sprintf("%d", snap.Messages)),
		labelStyle.Render("Admissions ") + valueStyle.Render(fmt.Sprintf("%d", snap.Admissions)) +
			labelStyle.Render("   Discharges ") + valueStyle.Render(fmt.Sprintf("%d", snap.Discharges)),
		labelStyle.Render("Blood tests ") + valueStyle.Render(fmt.Sprintf("%d", snap.BloodTests)) +
			labelStyle.Render("  avg creatinine ") + valueStyle.Render(fmt.Sprintf("%.2f", snap.BloodTestAverage)),
	}
	return strings.Join(lines, "\n")
}

func renderDetections(snap metrics.Snapshot) string {
	rate := fmt.Sprintf("%.1f%%", snap.PositiveAKIRate*100)
	positives := okStyle.Render(fmt.Sprintf("%d", snap.PositiveAKIs))
	if snap.PositiveAKIs > 0 {
		positives = warnStyle.Render(fmt.Sprintf("%d", snap.PositiveAKIs))
	}

	backlog := okStyle.Render(fmt.Sprintf("%d", snap.PagerBacklog))
	if snap.PagerBacklog > 0 {
		backlog = alertStyle.Render(fmt.Sprintf("%d", snap.PagerBacklog))
	}

	latency := okStyle.Render(fmt.Sprintf("%.3fs", snap.LatencyAvgSec))
	if snap.LatencyAvgSec > 3 {
		latency = alertStyle.Render(fmt.Sprintf("%.3fs", snap.LatencyAvgSec))
	}

	lines := []string{
		labelStyle.Render("Positive AKIs ") + positives + labelStyle.Render("  rate ") + valueStyle.Render(rate),
		labelStyle.Render("Pager backlog ") + backlog,
		labelStyle.Render("Latency avg ") + latency +
			labelStyle.Render("  over 3s ") + valueStyle.Render(fmt.Sprintf("%d", snap.LatencySlowMsg)),
	}
	return strings.Join(lines, "\n")
}

func renderLogs(entries []metrics.LogEntry, max int) string {
	if len(entries) == 0 {
		return labelStyle.Render("no logs yet")
	}
	if len(entries) > max {
		entries = entries[len(entries)-max:]
	}
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		ts := labelStyle.Render(e.Time.Format("15:04:05"))
		lvl := logLevelStyle(e.Level).Render(strings.ToUpper(e.Level))
		lines = append(lines, fmt.Sprintf("%s %s %s", ts, lvl, e.Message))
	}
	return strings.Join(lines, "\n")
}

// Run starts the dashboard in fullscreen mode.
func Run(feed Feed) error {
	model := NewModel(feed)
	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err := p.Run()
	if err != nil {
		return fmt.Errorf("tui: %w", err)
	}
	return nil
}
