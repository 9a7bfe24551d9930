// Command vivid-play is a terminal playground for vivid markup. It shows a
// markup editor, a YAML state editor, and a live preview of the rendered
// document. Tab moves focus, ctrl+r renders, ctrl+c quits.
//
// An optional positional argument preloads a page file; its sidecar YAML
// (page.yaml next to page.html) preloads the state editor, matching the
// convention the vivid serve command uses.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"

	"github.com/livefir/vivid"
)

const defaultMarkup = `<html><body>
  <h1>{{title}}</h1>
  <ul><v-for loopid="fruits" array="fruits"><li>${index+1}. ${value}</li></v-for></ul>
  <v-if ifid="auth" value="loggedIn" elseid="guest"><p>Welcome back.</p></v-if>
  <v-else elseid="guest"><p>Please log in.</p></v-else>
</body></html>
`

const defaultState = `title: Fruit stand
loggedIn: true
fruits:
  - Apple
  - Banana
  - Cherry
`

const renderWait = 2 * time.Second

type pane int

const (
	paneMarkup pane = iota
	paneState
	panePreview
)

var (
	focusedBorder = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62"))
	blurredBorder = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240"))
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62"))
	statusStyle = lipgloss.NewStyle().Faint(true)
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

type playModel struct {
	markup  textarea.Model
	state   textarea.Model
	preview viewport.Model
	focus   pane
	status  string
	width   int
	height  int
	ready   bool
}

func newPlayModel(markup, state string) playModel {
	me := textarea.New()
	me.Placeholder = "markup"
	me.CharLimit = 0
	me.SetValue(markup)
	me.Focus()

	se := textarea.New()
	se.Placeholder = "state YAML"
	se.CharLimit = 0
	se.SetValue(state)

	m := playModel{
		markup:  me,
		state:   se,
		preview: viewport.New(0, 0),
		focus:   paneMarkup,
		status:  "ctrl+r to render",
	}
	return m
}

func (m playModel) Init() tea.Cmd {
	return textarea.Blink
}

func (m playModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.layout()
		if !m.ready {
			m.ready = true
			m.render()
		}
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit
		case "tab":
			return m, m.setFocus((m.focus + 1) % 3)
		case "shift+tab":
			return m, m.setFocus((m.focus + 2) % 3)
		case "ctrl+r":
			m.render()
			return m, nil
		}
		// anything else belongs to the focused pane
		var cmd tea.Cmd
		switch m.focus {
		case paneMarkup:
			m.markup, cmd = m.markup.Update(msg)
		case paneState:
			m.state, cmd = m.state.Update(msg)
		case panePreview:
			m.preview, cmd = m.preview.Update(msg)
		}
		return m, cmd
	}

	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.markup, cmd = m.markup.Update(msg)
	cmds = append(cmds, cmd)
	m.state, cmd = m.state.Update(msg)
	cmds = append(cmds, cmd)
	m.preview, cmd = m.preview.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m *playModel) setFocus(p pane) tea.Cmd {
	m.markup.Blur()
	m.state.Blur()
	m.focus = p
	switch p {
	case paneMarkup:
		return m.markup.Focus()
	case paneState:
		return m.state.Focus()
	}
	return nil
}

// layout splits the window: editors side by side on top, preview below,
// one status line at the bottom. Border boxes eat two cells per axis.
func (m *playModel) layout() {
	if m.width < 20 || m.height < 12 {
		return
	}
	editorH := m.height * 2 / 5
	if editorH < 5 {
		editorH = 5
	}
	previewH := m.height - editorH - 2 - 2 - 1 // editor borders, preview borders, status
	if previewH < 3 {
		previewH = 3
	}
	half := (m.width - 4) / 2

	m.markup.SetWidth(half)
	m.markup.SetHeight(editorH)
	m.state.SetWidth(m.width - 4 - half)
	m.state.SetHeight(editorH)
	m.preview.Width = m.width - 2
	m.preview.Height = previewH
}

// render parses the state editor as YAML, seeds a fresh document, mounts
// the markup editor's content, and shows the rendered HTML.
func (m *playModel) render() {
	start := time.Now()

	seeds := map[string]interface{}{}
	if src := strings.TrimSpace(m.state.Value()); src != "" {
		if err := yaml.Unmarshal([]byte(src), &seeds); err != nil {
			m.status = errStyle.Render(fmt.Sprintf("state: %v", err))
			return
		}
	}

	st := vivid.NewState()
	for k, v := range seeds {
		if err := st.Set(k, v); err != nil {
			m.status = errStyle.Render(fmt.Sprintf("state %q: %v", k, err))
			return
		}
	}

	d := vivid.New(st, vivid.WithLogger(log.New(io.Discard, "", 0)))
	defer d.Close()
	if err := d.Mount(m.markup.Value()); err != nil {
		m.status = errStyle.Render(fmt.Sprintf("mount: %v", err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), renderWait)
	defer cancel()
	if err := d.WaitIdle(ctx); err != nil {
		m.status = errStyle.Render("render timed out waiting on includes")
		return
	}

	m.preview.SetContent(d.HTML())
	m.preview.GotoTop()

	snap := d.Metrics().Snapshot()
	m.status = fmt.Sprintf("rendered in %s · loops %d · conditionals %d · eval errors %d · authoring errors %d",
		time.Since(start).Round(time.Microsecond),
		snap.LoopsRendered, snap.ConditionalsResolved, snap.EvalErrors, snap.AuthoringErrors)
}

func (m playModel) View() string {
	if !m.ready {
		return "loading..."
	}
	border := func(p pane) lipgloss.Style {
		if m.focus == p {
			return focusedBorder
		}
		return blurredBorder
	}
	editors := lipgloss.JoinHorizontal(lipgloss.Top,
		border(paneMarkup).Render(m.markup.View()),
		border(paneState).Render(m.state.View()),
	)
	head := lipgloss.JoinHorizontal(lipgloss.Top,
		titleStyle.Render(" vivid play "),
		statusStyle.Render(" tab: focus · ctrl+r: render · ctrl+c: quit"),
	)
	return lipgloss.JoinVertical(lipgloss.Left,
		head,
		editors,
		border(panePreview).Render(m.preview.View()),
		statusStyle.Render(m.status),
	)
}

func main() {
	markup, state := defaultMarkup, defaultState
	if len(os.Args) > 1 {
		file := os.Args[1]
		raw, err := os.ReadFile(file)
		if err != nil {
			fmt.Fprintf(os.Stderr, "vivid-play: %v\n", err)
			os.Exit(1)
		}
		markup = string(raw)
		state = ""
		if side, err := os.ReadFile(sidecarFor(file)); err == nil {
			state = string(side)
		}
	}

	p := tea.NewProgram(newPlayModel(markup, state), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "vivid-play: %v\n", err)
		os.Exit(1)
	}
}

// sidecarFor maps page.html to page.yaml.
func sidecarFor(file string) string {
	if i := strings.LastIndex(file, "."); i > 0 {
		return file[:i] + ".yaml"
	}
	return file + ".yaml"
}
