package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"concept-rag/internal/helper"
	"concept-rag/internal/models"
	"concept-rag/internal/rag"
)

const (
	browseLimit    = 200
	requestTimeout = 2 * time.Minute
)

// Pipeline is the dashboard-facing subset of the RAG service.
type Pipeline interface {
	Query(ctx context.Context, req rag.Request) (*rag.Response, error)
}

type Catalog interface {
	List(ctx context.Context, limit int) ([]*models.ConceptNote, error)
}

type mode int

const (
	modeGenerate mode = iota
	modeBrowse
	modeDetail
)

type queryDoneMsg struct {
	resp *rag.Response
	err  error
}

type notesLoadedMsg struct {
	notes []*models.ConceptNote
	err   error
}

// Model is the dashboard: a generate tab and a browse tab over the cache.
type Model struct {
	pipeline Pipeline
	catalog  Catalog

	mode         mode
	input        textinput.Model
	viewport     viewport.Model
	spinner      spinner.Model
	forceRefresh bool
	busy         bool
	status       string

	notes  []*models.ConceptNote
	cursor int

	width int
	ready bool
}

func New(p Pipeline, c Catalog) Model {
	ti := textinput.New()
	ti.Prompt = "concept> "
	ti.Placeholder = "e.g. Sharpe Ratio"
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return Model{
		pipeline: p,
		catalog:  c,
		input:    ti,
		viewport: viewport.New(80, 20),
		spinner:  sp,
		status:   "Enter a concept. tab: browse · ctrl+r: force refresh · ctrl+c: quit",
	}
}

func (m Model) Init() tea.Cmd { return textinput.Blink }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		m.width = msg.Width
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, msg.Height-6)
		return m, nil

	case spinner.TickMsg:
		if !m.busy {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case queryDoneMsg:
		m.busy = false
		if msg.err != nil {
			m.status = errorStyle.Render("Error: " + msg.err.Error())
			m.viewport.SetContent("")
			return m, nil
		}
		m.status = fmt.Sprintf("Generated %q", msg.resp.Note.ConceptName)
		if msg.resp.Cached {
			m.status = fmt.Sprintf("Served %q from cache", msg.resp.Note.ConceptName)
		}
		m.viewport.SetContent(RenderResponse(msg.resp, m.cardWidth()))
		m.viewport.GotoTop()
		return m, nil

	case notesLoadedMsg:
		m.busy = false
		if msg.err != nil {
			m.status = errorStyle.Render("Error: " + msg.err.Error())
			return m, nil
		}
		m.notes = msg.notes
		m.cursor = min(m.cursor, max(len(m.notes)-1, 0))
		m.status = fmt.Sprintf("%d cached notes. enter: open · r: reload · tab: generate", len(m.notes))
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit
	case "tab":
		if m.mode == modeGenerate {
			m.mode = modeBrowse
			m.input.Blur()
			return m.load()
		}
		m.mode = modeGenerate
		m.input.Focus()
		return m, textinput.Blink
	}

	switch m.mode {
	case modeGenerate:
		switch msg.String() {
		case "ctrl+r":
			m.forceRefresh = !m.forceRefresh
			return m, nil
		case "enter":
			return m.submit()
		case "pgup", "pgdown":
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd

	case modeBrowse:
		switch msg.String() {
		case "up", "k":
			if len(m.notes) > 0 {
				m.cursor = (m.cursor - 1 + len(m.notes)) % len(m.notes)
			}
		case "down", "j":
			if len(m.notes) > 0 {
				m.cursor = (m.cursor + 1) % len(m.notes)
			}
		case "r":
			return m.load()
		case "enter":
			if len(m.notes) > 0 {
				m.mode = modeDetail
				m.viewport.SetContent(RenderNote(m.notes[m.cursor], m.cardWidth()))
				m.viewport.GotoTop()
			}
		case "esc", "q":
			return m, tea.Quit
		}
		return m, nil

	case modeDetail:
		if s := msg.String(); s == "esc" || s == "backspace" || s == "q" {
			m.mode = modeBrowse
			return m, nil
		}
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) submit() (tea.Model, tea.Cmd) {
	concept := strings.TrimSpace(m.input.Value())
	if concept == "" || m.busy {
		return m, nil
	}
	m.busy = true
	m.status = fmt.Sprintf("Generating %q...", concept)
	req := rag.Request{Concept: concept, ForceRefresh: m.forceRefresh}
	p := m.pipeline
	return m, tea.Batch(m.spinner.Tick, func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		resp, err := p.Query(ctx, req)
		return queryDoneMsg{resp: resp, err: err}
	})
}

func (m Model) load() (tea.Model, tea.Cmd) {
	m.busy = true
	m.status = "Loading cached notes..."
	c := m.catalog
	return m, tea.Batch(m.spinner.Tick, func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		notes, err := c.List(ctx, browseLimit)
		return notesLoadedMsg{notes: notes, err: err}
	})
}

func (m Model) cardWidth() int {
	if m.width <= 4 {
		return 0
	}
	return m.width - 4
}

var (
	headerStyle   = lipgloss.NewStyle().Bold(true)
	activeTab     = lipgloss.NewStyle().Bold(true).Underline(true).Foreground(lipgloss.Color("12"))
	inactiveTab   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	selectedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	inputBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	var b strings.Builder
	b.WriteString(headerStyle.Render("Financial Concept Notes") + "  " + m.tabs() + "\n\n")

	switch m.mode {
	case modeGenerate:
		refresh := "off"
		if m.forceRefresh {
			refresh = "on"
		}
		b.WriteString(inputBoxStyle.Render(m.input.View()) + "\n")
		b.WriteString(mutedStyle.Render("force refresh: "+refresh) + "\n\n")
		b.WriteString(m.viewport.View() + "\n")
	case modeBrowse:
		b.WriteString(m.renderList() + "\n")
	case modeDetail:
		b.WriteString(m.viewport.View() + "\n" + mutedStyle.Render("esc: back") + "\n")
	}

	status := m.status
	if m.busy {
		status = m.spinner.View() + " " + status
	}
	b.WriteString(status)
	return b.String()
}

func (m Model) tabs() string {
	gen, browse := inactiveTab, activeTab
	if m.mode == modeGenerate {
		gen, browse = activeTab, inactiveTab
	}
	return gen.Render("Generate") + " " + browse.Render("Browse")
}

func (m Model) renderList() string {
	if len(m.notes) == 0 {
		return mutedStyle.Render("No cached notes.")
	}
	var b strings.Builder
	for i, n := range m.notes {
		line := fmt.Sprintf("%-32s %-16s %s", clip(n.ConceptName, 32), clip(n.Source, 16), n.UpdatedAt.Format("2006-01-02 15:04"))
		if i == m.cursor {
			b.WriteString(selectedStyle.Render("> "+line) + "\n")
			continue
		}
		b.WriteString("  " + line + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func clip(s string, n int) string {
	if len([]rune(s)) <= n {
		return s
	}
	return helper.Truncate(s, n-1) + "…"
}

// Run starts the dashboard on the alternate screen.
func Run(p Pipeline, c Catalog) error {
	_, err := tea.NewProgram(New(p, c), tea.WithAltScreen()).Run()
	return err
}
