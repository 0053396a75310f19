// Package diagview is a live terminal view of a running pipeline, refreshed
// from its diagnostics server.
package diagview

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Iron-Ham/ppline/internal/diagserver"
	"github.com/Iron-Ham/ppline/internal/pipeline"
	"github.com/Iron-Ham/ppline/internal/tui/styles"
	"github.com/Iron-Ham/ppline/internal/util"
)

// Snapshot is everything the view shows at one refresh.
type Snapshot struct {
	Diag      diagserver.DiagResponse
	Sequences []pipeline.TopStat
	Peaks     []pipeline.TopStat
	Usage     diagserver.UsageResponse
	At        time.Time
}

// FetchFunc loads a fresh snapshot.
type FetchFunc func(ctx context.Context) (Snapshot, error)

// Tab selects the ranking shown in the table.
type Tab int

const (
	TabSequences Tab = iota
	TabPeaks
)

func (t Tab) String() string {
	if t == TabPeaks {
		return "Peak references"
	}
	return "Sequences"
}

type keyMap struct {
	Quit    key.Binding
	Switch  key.Binding
	Refresh key.Binding
	Up      key.Binding
	Down    key.Binding
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Switch, k.Refresh, k.Up, k.Down, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}

var keys = keyMap{
	Quit:    key.NewBinding(key.WithKeys("q", "ctrl+c", "esc"), key.WithHelp("q", "quit")),
	Switch:  key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "sequences/peaks")),
	Refresh: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh")),
	Up:      key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
	Down:    key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
}

// tickMsg triggers a refresh
type tickMsg time.Time

// snapshotMsg carries the result of a fetch
type snapshotMsg struct {
	snap Snapshot
	err  error
}

// usageBarWidth is the width of the per-worker usage bars.
const usageBarWidth = 20

// Model is the bubbletea model of the view.
type Model struct {
	fetch    FetchFunc
	interval time.Duration

	tab   Tab
	table table.Model
	help  help.Model

	snap   Snapshot
	loaded bool
	err    error
	width  int
	height int
}

// New creates a view refreshing every interval.
func New(fetch FetchFunc, interval time.Duration) Model {
	t := table.New(
		table.WithColumns(columns(40)),
		table.WithFocused(true),
		table.WithHeight(10),
	)
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(styles.BorderColor).
		BorderBottom(true).
		Bold(true).
		Foreground(styles.PrimaryColor)
	s.Selected = s.Selected.
		Foreground(styles.TextColor).
		Background(styles.PrimaryColor).
		Bold(false)
	t.SetStyles(s)

	return Model{
		fetch:    fetch,
		interval: interval,
		table:    t,
		help:     help.New(),
	}
}

func columns(width int) []table.Column {
	rank := 6
	tasks := 12
	item := max(width-rank-tasks-6, 10)
	return []table.Column{
		{Title: "#", Width: rank},
		{Title: "Item", Width: item},
		{Title: "Tasks", Width: tasks},
	}
}

// Init starts the first fetch and the refresh timer.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.fetchCmd(), m.tick())
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) fetchCmd() tea.Cmd {
	fetch := m.fetch
	timeout := m.interval
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		snap, err := fetch(ctx)
		return snapshotMsg{snap: snap, err: err}
	}
}

// Update handles key presses, refreshes and resizes.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, keys.Switch):
			m.tab = (m.tab + 1) % 2
			m.table.SetCursor(0)
			m.setRows()
			return m, nil
		case key.Matches(msg, keys.Refresh):
			return m, m.fetchCmd()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		m.table.SetColumns(columns(msg.Width))
		m.table.SetHeight(max(msg.Height-m.fixedHeight(), 3))
		return m, nil

	case tickMsg:
		return m, tea.Batch(m.fetchCmd(), m.tick())

	case snapshotMsg:
		m.err = msg.err
		if msg.err == nil {
			m.snap = msg.snap
			m.loaded = true
			m.setRows()
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

// fixedHeight is the number of lines the view uses outside the table.
func (m Model) fixedHeight() int {
	return 10 + len(m.snap.Usage.Workers)
}

func (m *Model) setRows() {
	stats := m.snap.Sequences
	if m.tab == TabPeaks {
		stats = m.snap.Peaks
	}
	rows := make([]table.Row, 0, len(stats))
	for i, s := range stats {
		rows = append(rows, table.Row{
			strconv.Itoa(i + 1),
			strconv.FormatUint(s.ItemID, 10),
			util.FormatCount(int64(s.Tasks)),
		})
	}
	m.table.SetRows(rows)
}

// Tab returns the ranking currently shown.
func (m Model) Tab() Tab { return m.tab }

// View renders the screen.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(styles.Title.Render("ppline diagnostics"))
	if m.loaded {
		b.WriteString(styles.Muted.Render("  updated " + m.snap.At.Format("15:04:05")))
	}
	b.WriteString("\n\n")

	if m.err != nil {
		b.WriteString(styles.ErrorMsg.Render("error: " + m.err.Error()))
		b.WriteString("\n\n")
	}
	if !m.loaded {
		b.WriteString(styles.Muted.Render("connecting..."))
		b.WriteString("\n")
		b.WriteString(m.help.View(keys))
		return b.String()
	}

	b.WriteString(m.renderQueue())
	b.WriteString("\n\n")
	b.WriteString(m.renderUsage())
	b.WriteString("\n")
	b.WriteString(styles.Header.Render(m.tab.String()))
	b.WriteString("\n")
	b.WriteString(m.table.View())
	b.WriteString("\n")
	b.WriteString(styles.HelpBar.Render(m.help.View(keys)))
	return b.String()
}

func (m Model) renderQueue() string {
	d := m.snap.Diag
	cells := []string{
		stat("items", d.Items),
		stat("pending", d.Pending),
		stat("processing", d.Processing),
		stat("finished", d.Finished),
		stat("sequences", d.Sequences),
		stat("workers", d.Workers),
	}
	line := strings.Join(cells, styles.Muted.Render(" │ "))
	if tp := d.Throughput; tp != nil {
		line += "\n" + styles.Muted.Render(fmt.Sprintf("last period: %s queued, %s direct, %s processed",
			util.FormatCount(int64(tp.Queued)), util.FormatCount(int64(tp.Direct)), util.FormatCount(int64(tp.Processed))))
	}
	return line
}

func stat(name string, n int) string {
	return styles.Muted.Render(name+" ") + styles.Primary.Render(util.FormatCount(int64(n)))
}

func (m Model) renderUsage() string {
	var b strings.Builder
	b.WriteString(styles.Header.Render("Worker usage"))
	b.WriteString(" ")
	b.WriteString(styles.Load(m.snap.Usage.Average).Render(util.FormatPercent(m.snap.Usage.Average)))
	b.WriteString("\n")
	for _, w := range m.snap.Usage.Workers {
		fmt.Fprintf(&b, "  %3d %s %s\n", w.Worker, styles.Bar(w.Usage, usageBarWidth), util.FormatPercent(w.Usage))
	}
	return b.String()
}

// Run shows the view until the user quits or ctx is done.
func Run(ctx context.Context, fetch FetchFunc, interval time.Duration) error {
	p := tea.NewProgram(New(fetch, interval), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}
