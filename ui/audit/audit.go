package audit

import (
	"fmt"
	"log"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/veldt/anancus/db"
	"github.com/veldt/anancus/domain"
	"github.com/veldt/anancus/ui/common"
)

const pageSize = 50

// View selects which audit table is shown.
type View uint

const (
	DeliveriesView View = iota
	ActivitiesView
	InstancesView
)

func (v View) String() string {
	switch v {
	case DeliveriesView:
		return "deliveries"
	case ActivitiesView:
		return "activities"
	case InstancesView:
		return "instances"
	}
	return "unknown"
}

var tableStyle = func() table.Styles {
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color(common.COLOR_GREY)).
		BorderBottom(true).
		Bold(true)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color(common.COLOR_GREEN)).
		Bold(true)
	return s
}()

// Model is the read-only audit console over delivery records, recent
// activities and endpoint health. It never mutates federation state.
type Model struct {
	CurrentView View
	Table       table.Model
	Width       int
	Height      int
	Error       string
}

type deliveriesLoadedMsg struct {
	records []domain.DeliveryRecord
}

type activitiesLoadedMsg struct {
	activities []domain.Activity
}

type instancesLoadedMsg struct {
	instances []domain.InstanceHealth
}

type loadFailedMsg struct {
	err error
}

func InitialModel(width, height int) Model {
	m := Model{
		CurrentView: DeliveriesView,
		Width:       width,
		Height:      height,
	}
	m.Table = newTable(m.columns(), nil, height)
	return m
}

func (m Model) Init() tea.Cmd {
	return loadDeliveries()
}

func newTable(cols []table.Column, rows []table.Row, height int) table.Model {
	t := table.New(
		table.WithColumns(cols),
		table.WithRows(rows),
		table.WithFocused(true),
		table.WithHeight(tableHeight(height)),
	)
	t.SetStyles(tableStyle)
	return t
}

func tableHeight(height int) int {
	h := height - 8
	if h < 5 {
		h = 5
	}
	return h
}

func (m Model) columns() []table.Column {
	switch m.CurrentView {
	case ActivitiesView:
		return []table.Column{
			{Title: "Kind", Width: 10},
			{Title: "Actor", Width: 40},
			{Title: "Object", Width: 40},
			{Title: "Local", Width: 6},
			{Title: "Created", Width: 20},
		}
	case InstancesView:
		return []table.Column{
			{Title: "Inbox", Width: 50},
			{Title: "Exhausted", Width: 10},
			{Title: "Unreachable", Width: 12},
			{Title: "Updated", Width: 20},
		}
	default:
		return []table.Column{
			{Title: "Inbox", Width: 36},
			{Title: "State", Width: 18},
			{Title: "Att", Width: 4},
			{Title: "Next attempt", Width: 20},
			{Title: "Last error", Width: 30},
		}
	}
}

func loadDeliveries() tea.Cmd {
	return func() tea.Msg {
		err, records := db.GetDB().ReadRecentDeliveries(pageSize)
		if err != nil {
			log.Printf("Audit console: Failed to load deliveries: %v", err)
			return loadFailedMsg{err: err}
		}
		return deliveriesLoadedMsg{records: *records}
	}
}

func loadActivities() tea.Cmd {
	return func() tea.Msg {
		err, activities := db.GetDB().ReadRecentActivities(pageSize)
		if err != nil {
			log.Printf("Audit console: Failed to load activities: %v", err)
			return loadFailedMsg{err: err}
		}
		return activitiesLoadedMsg{activities: *activities}
	}
}

func loadInstances() tea.Cmd {
	return func() tea.Msg {
		err, instances := db.GetDB().ReadUnreachableInstances()
		if err != nil {
			log.Printf("Audit console: Failed to load instances: %v", err)
			return loadFailedMsg{err: err}
		}
		return instancesLoadedMsg{instances: *instances}
	}
}

func (m Model) refresh() tea.Cmd {
	switch m.CurrentView {
	case ActivitiesView:
		return loadActivities()
	case InstancesView:
		return loadInstances()
	default:
		return loadDeliveries()
	}
}

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case deliveriesLoadedMsg:
		rows := make([]table.Row, 0, len(msg.records))
		for _, rec := range msg.records {
			next := ""
			if !rec.State.Terminal() {
				next = rec.NextAttemptAt.Format(time.DateTime)
			}
			rows = append(rows, table.Row{
				rec.InboxURI,
				string(rec.State),
				fmt.Sprintf("%d", rec.Attempts),
				next,
				rec.LastError,
			})
		}
		m.Table = newTable(m.columns(), rows, m.Height)
		m.Error = ""
		return m, nil

	case activitiesLoadedMsg:
		rows := make([]table.Row, 0, len(msg.activities))
		for _, activity := range msg.activities {
			local := "no"
			if activity.Local {
				local = "yes"
			}
			rows = append(rows, table.Row{
				string(activity.Kind),
				activity.ActorURI,
				activity.ObjectURI,
				local,
				activity.CreatedAt.Format(time.DateTime),
			})
		}
		m.Table = newTable(m.columns(), rows, m.Height)
		m.Error = ""
		return m, nil

	case instancesLoadedMsg:
		rows := make([]table.Row, 0, len(msg.instances))
		for _, instance := range msg.instances {
			unreachable := "no"
			if instance.Unreachable {
				unreachable = "yes"
			}
			rows = append(rows, table.Row{
				instance.InboxURI,
				fmt.Sprintf("%d", instance.ConsecutiveExhausted),
				unreachable,
				instance.UpdatedAt.Format(time.DateTime),
			})
		}
		m.Table = newTable(m.columns(), rows, m.Height)
		m.Error = ""
		return m, nil

	case loadFailedMsg:
		m.Error = msg.err.Error()
		return m, nil

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		m.Table.SetHeight(tableHeight(msg.Height))
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "tab":
			m.CurrentView = (m.CurrentView + 1) % 3
			m.Table = newTable(m.columns(), nil, m.Height)
			return m, m.refresh()
		case "r":
			return m, m.refresh()
		}
	}

	var cmd tea.Cmd
	m.Table, cmd = m.Table.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	var view string
	view += common.CaptionStyle.Render(fmt.Sprintf("federation audit: %s", m.CurrentView))
	view += "\n"
	view += m.Table.View()
	view += "\n"
	view += common.HelpStyle.Render("tab: switch view  r: refresh  ↑/↓: navigate  q: quit")
	if m.Error != "" {
		view += "\n"
		view += common.ErrorStyle.Render("Error: " + m.Error)
	}
	return view
}
