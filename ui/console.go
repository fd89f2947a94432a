package ui

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/veldt/anancus/ui/audit"
	"github.com/veldt/anancus/ui/common"
	"github.com/veldt/anancus/util"
)

// Model is the root model of the SSH console. It hosts the audit view
// and owns session-level keys.
type Model struct {
	Audit  audit.Model
	Width  int
	Height int
}

func NewModel(width, height int) Model {
	return Model{
		Audit:  audit.InitialModel(common.DefaultWindowWidth(width), common.DefaultWindowHeight(height)),
		Width:  width,
		Height: height,
	}
}

func (m Model) Init() tea.Cmd {
	return m.Audit.Init()
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
	}

	var cmd tea.Cmd
	m.Audit, cmd = m.Audit.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	header := fmt.Sprintf(" %s\n", util.GetNameAndVersion())
	return header + m.Audit.View()
}
