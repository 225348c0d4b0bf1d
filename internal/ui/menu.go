package ui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	logoStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	itemStyle         = lipgloss.NewStyle().PaddingLeft(2)
	selectedItemStyle = lipgloss.NewStyle().PaddingLeft(2).Foreground(lipgloss.Color("12")).Bold(true)
	descriptionStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

const logo = `
  __ _      _     _
 / _(_) ___| | __| | ___  _ __  ___
| |_| |/ _ \ |/ _` + "`" + ` |/ _ \| '_ \/ __|
|  _| |  __/ | (_| | (_) | |_) \__ \
|_| |_|\___|_|\__,_|\___/| .__/|___/
                         |_|
`

// MenuModel lets the user pick a command when fieldops runs without arguments.
type MenuModel struct {
	choices  []menuChoice
	cursor   int
	selected string
	quitting bool
}

type menuChoice struct {
	command     string
	description string
}

func NewMenuModel() MenuModel {
	return MenuModel{
		choices: []menuChoice{
			{"status", "site progress overview"},
			{"watch", "live site dashboard"},
			{"list-tasks", "list field tasks"},
			{"serve", "start the HTTP API"},
			{"mcp", "serve tools over stdio"},
			{"generate", "preview tasks generated from the BOQ"},
			{"snapshot export", "write the task snapshot"},
			{"init", "create .fieldops with a default config"},
		},
	}
}

func (m MenuModel) Init() tea.Cmd {
	return nil
}

func (m MenuModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit

		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}

		case "down", "j":
			if m.cursor < len(m.choices)-1 {
				m.cursor++
			}

		case "enter":
			m.selected = m.choices[m.cursor].command
			return m, tea.Quit
		}
	}

	return m, nil
}

func (m MenuModel) View() string {
	if m.quitting {
		return ""
	}

	var s strings.Builder

	s.WriteString(logoStyle.Render(logo))
	s.WriteString("\n\n")

	for i, choice := range m.choices {
		line := fmt.Sprintf("%-16s %s", choice.command, descriptionStyle.Render(choice.description))
		if m.cursor == i {
			s.WriteString(selectedItemStyle.Render("> " + line))
		} else {
			s.WriteString(itemStyle.Render("  " + line))
		}
		s.WriteString("\n")
	}

	s.WriteString("\n(use arrow keys or j/k to navigate, enter to select, q to quit)\n")

	return s.String()
}

// Selected is the chosen command line, or "" when the user quit.
func (m MenuModel) Selected() string {
	return m.selected
}

func RunMenu() (string, error) {
	m := NewMenuModel()
	p := tea.NewProgram(m)
	finalModel, err := p.Run()
	if err != nil {
		return "", err
	}
	return finalModel.(MenuModel).Selected(), nil
}
