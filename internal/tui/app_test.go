package tui

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/careflow/akimon/internal/metrics"
)

func TestModel_SnapshotUpdate(t *testing.T) {
	c := metrics.NewCollector(metrics.NewRegistry())
	defer c.Close()

	m := NewModel(c)
	updated, _ := m.Update(tea.WindowSizeMsg{Width: 80, Height: 24})
	m = updated.(Model)

	snap := metrics.Snapshot{Phase: metrics.PhaseListening, Messages: 7}
	updated, cmd := m.Update(snapshotMsg(snap))
	m = updated.(Model)

	if m.snapshot.Messages != 7 {
		t.Errorf("snapshot.Messages = %d, want 7", m.snapshot.Messages)
	}
	if cmd == nil {
		t.Error("expected a follow-up wait command after a snapshot")
	}
}

func TestModel_ViewBeforeReady(t *testing.T) {
	c := metrics.NewCollector(metrics.NewRegistry())
	defer c.Close()

	m := NewModel(c)
	if got := m.View(); got != "Initializing..." {
		t.Errorf("View() = %q before first resize", got)
	}
}

func TestModel_ViewShowsCounts(t *testing.T) {
	c := metrics.NewCollector(metrics.NewRegistry())
	defer c.Close()

	m := NewModel(c)
	updated, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	m = updated.(Model)
	updated, _ = m.Update(snapshotMsg(metrics.Snapshot{
		Phase:        metrics.PhaseListening,
		Messages:     42,
		PositiveAKIs: 3,
	}))
	m = updated.(Model)

	view := m.View()
	if !strings.Contains(view, "42") {
		t.Error("view should show the message count")
	}
	if !strings.Contains(view, metrics.PhaseListening) {
		t.Error("view should show the phase")
	}
}

func TestRenderLogs_Truncates(t *testing.T) {
	entries := make([]metrics.LogEntry, 20)
	for i := range entries {
		entries[i] = metrics.LogEntry{Time: time.Now(), Level: "info", Message: "line"}
	}
	out := renderLogs(entries, 5)
	if got := strings.Count(out, "\n") + 1; got != 5 {
		t.Errorf("rendered %d log lines, want 5", got)
	}
}
