package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ldi/fieldops/internal/dataset"
	"github.com/ldi/fieldops/internal/ui/components"
	"github.com/ldi/fieldops/internal/views"
	"github.com/ldi/fieldops/pkg/models"
)

var (
	orbStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	headerTextStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")).
			Padding(0, 1)

	focusedSiteStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("12")).
				Bold(true)

	mutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))
)

// TaskSource is the read side of the tracker the dashboard polls.
type TaskSource interface {
	Tasks(ctx context.Context) ([]*models.FieldTask, error)
}

type refreshMsg struct {
	tasks []*models.FieldTask
	at    time.Time
}

type refreshErrMsg struct{ err error }

type tickMsg time.Time

type dashboardKeys struct {
	Down    key.Binding
	Up      key.Binding
	Toggle  key.Binding
	Refresh key.Binding
	Quit    key.Binding
}

func defaultDashboardKeys() dashboardKeys {
	return dashboardKeys{
		Down: key.NewBinding(
			key.WithKeys("j", "down"),
			key.WithHelp("j/↓", "next site"),
		),
		Up: key.NewBinding(
			key.WithKeys("k", "up"),
			key.WithHelp("k/↑", "previous site"),
		),
		Toggle: key.NewBinding(
			key.WithKeys("e", "enter"),
			key.WithHelp("e/enter", "expand/collapse"),
		),
		Refresh: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "refresh"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}

func (k dashboardKeys) ShortHelp() []key.Binding {
	return []key.Binding{k.Down, k.Up, k.Toggle, k.Refresh, k.Quit}
}

func (k dashboardKeys) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}

// DashboardModel shows live per-site progress. One site is focused at a
// time and can be expanded to list its tasks.
type DashboardModel struct {
	source   TaskSource
	dataset  *dataset.Dataset
	interval time.Duration

	sites       []views.SiteSummary
	tasksBySite map[string][]*models.FieldTask
	total       views.Summary
	refreshedAt time.Time
	err         error

	keys     dashboardKeys
	help     help.Model
	viewport viewport.Model

	focused  int
	expanded bool
	width    int
	height   int
	ready    bool
	quitting bool
}

func NewDashboardModel(src TaskSource, ds *dataset.Dataset, interval time.Duration) *DashboardModel {
	if ds == nil {
		ds = &dataset.Dataset{}
	}
	return &DashboardModel{
		source:      src,
		dataset:     ds,
		interval:    interval,
		tasksBySite: map[string][]*models.FieldTask{},
		sites:       views.SiteSummaries(ds, nil),
		keys:        defaultDashboardKeys(),
		help:        help.New(),
	}
}

func (m *DashboardModel) Init() tea.Cmd {
	return tea.Batch(m.refresh(), m.tick())
}

func (m *DashboardModel) refresh() tea.Cmd {
	return func() tea.Msg {
		tasks, err := m.source.Tasks(context.Background())
		if err != nil {
			return refreshErrMsg{err}
		}
		return refreshMsg{tasks: tasks, at: time.Now()}
	}
}

func (m *DashboardModel) tick() tea.Cmd {
	if m.interval <= 0 {
		return nil
	}
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *DashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, m.keys.Down):
			m.moveFocus(1)
		case key.Matches(msg, m.keys.Up):
			m.moveFocus(-1)
		case key.Matches(msg, m.keys.Toggle):
			m.expanded = !m.expanded
			m.syncViewport()
		case key.Matches(msg, m.keys.Refresh):
			return m, m.refresh()
		default:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		m.resize()

	case refreshMsg:
		m.apply(msg)

	case refreshErrMsg:
		m.err = msg.err
		if m.ready {
			m.resize()
		}

	case tickMsg:
		return m, tea.Batch(m.refresh(), m.tick())
	}

	return m, nil
}

// resize fits the viewport between the header and the help line.
func (m *DashboardModel) resize() {
	height := m.height - lipgloss.Height(m.renderHeader()) - 2
	if height < 5 {
		height = 5
	}
	if !m.ready {
		m.viewport = viewport.New(m.width, height)
		m.viewport.KeyMap = viewport.KeyMap{
			PageDown: key.NewBinding(key.WithKeys("pgdown", " ")),
			PageUp:   key.NewBinding(key.WithKeys("pgup", "b")),
		}
		m.ready = true
	} else {
		m.viewport.Width = m.width
		m.viewport.Height = height
	}
	m.syncViewport()
}

func (m *DashboardModel) apply(msg refreshMsg) {
	m.err = nil
	m.refreshedAt = msg.at
	m.sites = views.SiteSummaries(m.dataset, msg.tasks)
	m.total = views.Summarize(msg.tasks)

	m.tasksBySite = make(map[string][]*models.FieldTask)
	for _, g := range views.GroupBySite(msg.tasks) {
		m.tasksBySite[g.SiteID] = g.Tasks
	}
	if m.focused >= len(m.sites) {
		m.focused = 0
	}
	if m.ready {
		m.resize()
	}
}

// moveFocus wraps around at both ends.
func (m *DashboardModel) moveFocus(direction int) {
	n := len(m.sites)
	if n == 0 {
		return
	}
	m.focused = ((m.focused+direction)%n + n) % n
	m.syncViewport()
}

func (m *DashboardModel) syncViewport() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(m.renderSites())
}

// FocusedSite returns the id of the focused site, or "" when there are none.
func (m *DashboardModel) FocusedSite() string {
	if len(m.sites) == 0 {
		return ""
	}
	return m.sites[m.focused].Site.ID
}

func (m *DashboardModel) View() string {
	if m.quitting {
		return ""
	}
	if !m.ready {
		return "Loading sites..."
	}
	return m.renderHeader() + "\n" + m.viewport.View() + "\n" + m.help.View(m.keys)
}

func (m *DashboardModel) renderSites() string {
	var b strings.Builder

	boardWidth := m.width - 2
	if boardWidth > 80 {
		boardWidth = 80
	}
	if boardWidth < 30 {
		boardWidth = 30
	}

	for i, site := range m.sites {
		board := components.NewSiteBoard(boardWidth)
		board.Title = ""
		board.Sites = []views.SiteSummary{site}
		marker := "  "
		if i == m.focused {
			marker = focusedSiteStyle.Render("▸ ")
		}
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, marker, board.View()))
		b.WriteString("\n")

		if i == m.focused && m.expanded {
			b.WriteString(m.renderTasks(site.Site.ID))
		}
	}
	return b.String()
}

func (m *DashboardModel) renderHeader() string {
	updated := "never"
	if !m.refreshedAt.IsZero() {
		updated = m.refreshedAt.Format("15:04:05")
	}
	text := fmt.Sprintf("FieldOps | Sites: %d | Tasks: %d/%d done | Blocked: %d | Flagged: %d | Updated: %s",
		len(m.sites), m.total.Done, m.total.Total, m.total.Blocked, m.total.Flagged, updated)
	header := lipgloss.JoinHorizontal(lipgloss.Center, orbStyle.Render("⬤"), " ", headerTextStyle.Render(text))
	if m.err != nil {
		header += "\n" + errorStyle.Render(fmt.Sprintf("refresh failed: %v", m.err))
	}
	return header
}

func (m *DashboardModel) renderTasks(siteID string) string {
	tasks := m.tasksBySite[siteID]
	if len(tasks) == 0 {
		return mutedStyle.Render("    no tasks") + "\n"
	}
	var b strings.Builder
	for _, t := range tasks {
		b.WriteString("    ")
		b.WriteString(components.TaskLine(t))
		b.WriteString("\n")
	}
	return b.String()
}

// RunDashboard runs the dashboard until the user quits or ctx is done.
func RunDashboard(ctx context.Context, src TaskSource, ds *dataset.Dataset, interval time.Duration) error {
	m := NewDashboardModel(src, ds, interval)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}
