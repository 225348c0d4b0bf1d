package components

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/ldi/fieldops/internal/views"
	"github.com/ldi/fieldops/pkg/models"
)

var (
	siteBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("12")).
			Padding(0, 1)

	doneSiteBoxStyle = siteBoxStyle.BorderForeground(lipgloss.Color("42"))

	boardHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("252")).
				Padding(0, 1)

	siteNameStyle = lipgloss.NewStyle().Bold(true)

	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))

	flagStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))

	placeholderStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("240")).
				Italic(true).
				Padding(0, 1)
)

// SiteBoard renders one box per site with status counts and a progress bar.
type SiteBoard struct {
	Sites []views.SiteSummary
	Width int
	Title string
}

func NewSiteBoard(width int) *SiteBoard {
	return &SiteBoard{
		Width: width,
		Title: "Sites",
	}
}

func (b *SiteBoard) View() string {
	var content string
	if len(b.Sites) == 0 {
		content = placeholderStyle.Render("No sites yet")
	} else {
		boxes := make([]string, 0, len(b.Sites))
		for _, s := range b.Sites {
			boxes = append(boxes, b.renderSite(s))
		}
		content = strings.Join(boxes, "\n")
	}

	if b.Title == "" {
		return content
	}
	return boardHeaderStyle.Render(b.Title) + "\n" + content
}

func (b *SiteBoard) renderSite(s views.SiteSummary) string {
	// Two columns of border and two of padding.
	innerWidth := b.Width - 4
	if innerWidth < 0 {
		innerWidth = 0
	}

	name := s.Site.Name
	if name == "" {
		name = s.Site.ID
	}

	lines := []string{
		siteNameStyle.Render(name),
		mutedStyle.Render(fmt.Sprintf("%d rooms, %d tasks", s.Rooms, s.Total)),
		fmt.Sprintf("%s %d  %s %d  %s %d  %s %d",
			StatusIcon(models.TaskStatusDone), s.Done,
			StatusIcon(models.TaskStatusInProgress), s.InProgress,
			StatusIcon(models.TaskStatusBlocked), s.Blocked,
			StatusIcon(models.TaskStatusNotStarted), s.NotStarted,
		),
	}
	if s.Flagged > 0 || s.OnHold > 0 {
		lines = append(lines, flagStyle.Render(fmt.Sprintf("⚑ %d flagged  ⏸ %d on hold", s.Flagged, s.OnHold)))
	}
	lines = append(lines, ProgressBar(innerWidth-7, s.Completion)+fmt.Sprintf(" %5.1f%%", s.Completion))

	style := siteBoxStyle
	if s.Total > 0 && s.Done == s.Total {
		style = doneSiteBoxStyle
	}
	return style.Width(b.Width - 2).Render(strings.Join(lines, "\n"))
}

// ProgressBar draws a bar of the given width filled to percent.
func ProgressBar(width int, percent float64) string {
	if width < 1 {
		width = 1
	}
	filled := int(float64(width) * percent / 100)
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}
